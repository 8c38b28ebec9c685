package link

import "context"

// FakeDriver is a scripted radio driver for tests.
type FakeDriver struct {
	// ConnectResults is consumed one per Connect call. Once exhausted,
	// Connect succeeds.
	ConnectResults []error

	// Calls counts Connect invocations.
	Calls int

	// Connected controls IsConnected. A successful Connect sets it.
	Connected bool

	// LinkInfo is returned by Info.
	LinkInfo Info

	// Deadlines records whether each Connect call carried a deadline.
	Deadlines []bool
}

// Connect returns the next scripted result.
func (f *FakeDriver) Connect(ctx context.Context) error {
	_, ok := ctx.Deadline()
	f.Deadlines = append(f.Deadlines, ok)
	f.Calls++

	var err error
	if len(f.ConnectResults) > 0 {
		err = f.ConnectResults[0]
		f.ConnectResults = f.ConnectResults[1:]
	}
	if err == nil {
		f.Connected = true
	}
	return err
}

// IsConnected reports the scripted link status.
func (f *FakeDriver) IsConnected() bool {
	return f.Connected
}

// Info returns LinkInfo.
func (f *FakeDriver) Info() Info {
	return f.LinkInfo
}
