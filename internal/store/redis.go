package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweeney/camnode/internal/upload"
)

// Redis keys shared with the capture service.
//
//	records:pending   ZSET  id scored by capture time (unix ms)
//	records:uploaded  SET   ids already uploaded
//	record:<id>       HASH  path, kind, captured_at (RFC 3339), size
const (
	PendingKey  = "records:pending"
	UploadedKey = "records:uploaded"
	recordKey   = "record:"
)

// RedisIndex is the Index kept in redis.
type RedisIndex struct {
	client *redis.Client
}

// NewRedisIndex creates an index over client.
func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

// Add indexes a record. The capture service normally does this; it is here
// for tooling and tests against a live server.
func (r *RedisIndex) Add(ctx context.Context, e Entry) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, recordKey+e.Record.ID,
		"path", e.Path,
		"kind", e.Record.Kind,
		"captured_at", e.Record.CapturedAt.UTC().Format(time.RFC3339Nano),
		"size", e.Record.Size,
	)
	pipe.ZAdd(ctx, PendingKey, redis.Z{
		Score:  float64(e.Record.CapturedAt.UnixMilli()),
		Member: e.Record.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index %s: %w", e.Record.ID, err)
	}
	return nil
}

// Pending implements Index.
func (r *RedisIndex) Pending(ctx context.Context, limit int) ([]Entry, error) {
	ids, err := r.client.ZRange(ctx, PendingKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange %s: %w", PendingKey, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, recordKey+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read record metadata: %w", err)
	}

	hashes := make([]map[string]string, len(ids))
	for i := range ids {
		hashes[i] = cmds[i].Val()
	}
	return entriesFromHashes(ids, hashes), nil
}

// entriesFromHashes keeps every indexed ID, so the result never looks
// shorter than the pending set. An ID whose metadata hash is missing gets
// an empty Path, which Store reports as unreadable.
func entriesFromHashes(ids []string, hashes []map[string]string) []Entry {
	entries := make([]Entry, 0, len(ids))
	for i, id := range ids {
		entries = append(entries, entryFromHash(id, hashes[i]))
	}
	return entries
}

// Remove implements Index.
func (r *RedisIndex) Remove(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, PendingKey, id)
	pipe.SAdd(ctx, UploadedKey, id)
	pipe.HSet(ctx, recordKey+id, "uploaded_at", time.Now().UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark %s uploaded: %w", id, err)
	}
	return nil
}

// Count implements Index.
func (r *RedisIndex) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, PendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard %s: %w", PendingKey, err)
	}
	return int(n), nil
}

func entryFromHash(id string, fields map[string]string) Entry {
	e := Entry{
		Record: upload.Record{ID: id, Kind: fields["kind"]},
		Path:   fields["path"],
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["captured_at"]); err == nil {
		e.Record.CapturedAt = t
	}
	if n, err := strconv.ParseInt(fields["size"], 10, 64); err == nil {
		e.Record.Size = n
	}
	return e
}
