package mqtt

import "context"

// FakeClient records published messages for test assertions.
type FakeClient struct {
	// Messages contains all messages that were published.
	Messages []Message

	// ConnectError, if set, will be returned by Connect.
	ConnectError error

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Connected controls the return value of IsConnected.
	Connected bool

	// Connects and Disconnects count calls.
	Connects    int
	Disconnects int
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

// Connect marks the client connected unless ConnectError is set.
func (f *FakeClient) Connect(ctx context.Context) error {
	f.Connects++
	if f.ConnectError != nil {
		return f.ConnectError
	}
	f.Connected = true
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	return f.Connected
}

// Publish records the message.
func (f *FakeClient) Publish(ctx context.Context, msg Message) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, msg)
	return nil
}

// Disconnect marks the client disconnected.
func (f *FakeClient) Disconnect() {
	f.Disconnects++
	f.Connected = false
}

// Reset clears recorded messages and errors.
func (f *FakeClient) Reset() {
	f.Messages = nil
	f.ConnectError = nil
	f.PublishError = nil
	f.Connected = false
	f.Connects = 0
	f.Disconnects = 0
}
