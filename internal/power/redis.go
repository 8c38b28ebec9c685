package power

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis keys shared with the board-support services.
const (
	BatteryKey         = "aux-battery"
	BatteryVoltField   = "voltage" // millivolts
	CameraKey          = "camera"
	CameraQualityField = "quality"
)

// RedisSampler reads the battery voltage published by the battery service.
type RedisSampler struct {
	client *redis.Client
	key    string
	field  string
}

// NewRedisSampler creates a sampler reading BatteryKey/BatteryVoltField.
func NewRedisSampler(client *redis.Client) *RedisSampler {
	return &RedisSampler{client: client, key: BatteryKey, field: BatteryVoltField}
}

// Sample returns the battery voltage in volts.
func (s *RedisSampler) Sample(ctx context.Context) (float64, error) {
	raw, err := s.client.HGet(ctx, s.key, s.field).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%s %s not set", s.key, s.field)
	}
	if err != nil {
		return 0, fmt.Errorf("hget %s %s: %w", s.key, s.field, err)
	}
	mv, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s %s %q: %w", s.key, s.field, raw, err)
	}
	return float64(mv) / 1000, nil
}

// RedisCaptureSignal writes the requested frame quality to the camera hash
// and notifies subscribers on the camera channel.
type RedisCaptureSignal struct {
	client *redis.Client
}

// NewRedisCaptureSignal creates a capture signal over client.
func NewRedisCaptureSignal(client *redis.Client) *RedisCaptureSignal {
	return &RedisCaptureSignal{client: client}
}

// SetQuality implements CaptureSignal.
func (c *RedisCaptureSignal) SetQuality(q Quality) error {
	ctx := context.Background()
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, CameraKey, CameraQualityField, string(q))
	pipe.Publish(ctx, CameraKey, CameraQualityField)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("signal capture quality %s: %w", q, err)
	}
	return nil
}
