package gpio

// FakeLine is a test double that records driven values.
type FakeLine struct {
	// History contains every value passed to Set, in order.
	History []bool

	// value is the current driven state
	value bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// NewFakeLine creates a FakeLine with the given initial value.
func NewFakeLine(initial bool) *FakeLine {
	return &FakeLine{value: initial}
}

// Set records the value.
func (f *FakeLine) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.History = append(f.History, on)
	f.value = on
	return nil
}

// Value returns the current driven state.
func (f *FakeLine) Value() bool {
	return f.value
}

// Close marks the line as closed.
func (f *FakeLine) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded history.
func (f *FakeLine) Reset() {
	f.History = nil
	f.Closed = false
	f.SetError = nil
}
