package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// RealClient talks to an actual MQTT broker. Reconnection is left to the
// caller's backoff policy, so paho's own retry loop is disabled.
//
// The mutex only guards the fields; it is never held while waiting on the
// broker, so Disconnect returns at once even during a pending Connect.
type RealClient struct {
	mu            sync.Mutex
	opts          *paho.ClientOptions
	client        paho.Client
	cancelConnect context.CancelFunc
}

// NewRealClient creates a client for broker. No connection is made until Connect.
func NewRealClient(broker, clientID string) *RealClient {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(false)
	return &RealClient{opts: opts}
}

// errDisconnected is returned by a Connect interrupted by Disconnect.
var errDisconnected = errors.New("disconnected during connect")

// Connect opens a session, bounded by ctx. A concurrent Disconnect aborts it.
func (c *RealClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client != nil && c.client.IsConnectionOpen() {
		c.mu.Unlock()
		return nil
	}
	if c.cancelConnect != nil {
		c.mu.Unlock()
		return errors.New("connect already in progress")
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.opts.SetConnectTimeout(timeUntil(deadline))
	}
	client := paho.NewClient(c.opts)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.client = client
	c.cancelConnect = cancel
	c.mu.Unlock()

	err := wait(ctx, client.Connect())

	c.mu.Lock()
	current := c.client == client
	if current {
		c.cancelConnect = nil
		if err != nil {
			c.client = nil
		}
	}
	c.mu.Unlock()

	if !current {
		return fmt.Errorf("connect to broker: %w", errDisconnected)
	}
	if err != nil {
		go client.Disconnect(0)
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// IsConnected reports whether the session is open.
func (c *RealClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Publish sends msg and waits for completion or ctx.
func (c *RealClient) Publish(ctx context.Context, msg Message) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return errors.New("not connected")
	}
	if err := wait(ctx, client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Disconnect closes the session without blocking: a pending Connect is
// aborted and the broker goodbye is sent in the background.
func (c *RealClient) Disconnect() {
	c.mu.Lock()
	client := c.client
	cancel := c.cancelConnect
	c.client = nil
	c.cancelConnect = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		go client.Disconnect(250)
	}
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}

func timeUntil(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < time.Second {
		return time.Second
	}
	return d
}
