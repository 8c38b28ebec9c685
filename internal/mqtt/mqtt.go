// Package mqtt provides the broker uplink with abstraction for testing.
package mqtt

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Topic suffixes under camnode/<node-id>/.
const (
	KindRecords = "records"
	KindStatus  = "status"
)

// Topic returns the topic for a node and message kind.
func Topic(nodeID, kind string) string {
	return fmt.Sprintf("camnode/%s/%s", nodeID, kind)
}

// Message is a single publish.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Client is the broker uplink.
type Client interface {
	// Connect opens the session. It returns when ctx is done.
	Connect(ctx context.Context) error

	// IsConnected reports whether the session is currently open.
	IsConnected() bool

	// Publish sends msg and waits for the broker to acknowledge it (QoS > 0)
	// or for ctx to be done.
	Publish(ctx context.Context, msg Message) error

	// Disconnect closes the session.
	Disconnect()
}

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 64

// Buffered publishes through a Client, holding messages in a ring buffer
// while the client is disconnected and replaying them in order once it is
// back. Only the newest messages are kept when the buffer overflows.
type Buffered struct {
	client Client

	mu  sync.Mutex
	buf *ringBuffer
}

// NewBuffered wraps client with a buffer of the given capacity.
func NewBuffered(client Client, capacity int) *Buffered {
	if capacity < 1 {
		capacity = DefaultBufferSize
	}
	return &Buffered{client: client, buf: newRingBuffer(capacity)}
}

// Publish sends msg, or buffers it if the client is down or the publish fails.
// Buffering is not an error.
func (b *Buffered) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.client.IsConnected() {
		b.buf.push(msg)
		return nil
	}
	if err := b.flushLocked(ctx); err != nil {
		log.Printf("mqtt: %v", err)
		b.buf.push(msg)
		return nil
	}
	if err := b.client.Publish(ctx, msg); err != nil {
		log.Printf("mqtt: publish %s failed, buffered: %v", msg.Topic, err)
		b.buf.push(msg)
	}
	return nil
}

// Flush replays buffered messages if the client is connected.
func (b *Buffered) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.client.IsConnected() {
		return nil
	}
	return b.flushLocked(ctx)
}

// Pending returns the number of buffered messages.
func (b *Buffered) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.len()
}

// Dropped returns the number of messages lost to buffer overflow.
func (b *Buffered) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.dropped
}

func (b *Buffered) flushLocked(ctx context.Context) error {
	msgs := b.buf.drainAll()
	for i, m := range msgs {
		if err := b.client.Publish(ctx, m); err != nil {
			// Put back what was not sent, oldest first.
			for _, rest := range msgs[i:] {
				b.buf.push(rest)
			}
			return fmt.Errorf("replay buffered %s: %w", m.Topic, err)
		}
	}
	return nil
}
