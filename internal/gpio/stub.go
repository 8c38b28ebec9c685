//go:build !linux

package gpio

import "errors"

// RealLine is not available on non-Linux platforms.
type RealLine struct{}

// NewRealLine returns an error on non-Linux platforms.
func NewRealLine(chipName string, pin int, initial bool) (*RealLine, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (r *RealLine) Set(on bool) error {
	return errors.New("gpio: not supported")
}

// Value is not implemented on non-Linux platforms.
func (r *RealLine) Value() bool {
	return false
}

// Close is not implemented on non-Linux platforms.
func (r *RealLine) Close() error {
	return nil
}
