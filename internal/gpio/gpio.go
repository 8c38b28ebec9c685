// Package gpio drives digital output lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Line is a single digital output, e.g. the radio module's power enable.
type Line interface {
	// Set drives the line high (true) or low (false).
	Set(on bool) error

	// Value returns the last value driven.
	Value() bool

	// Close releases the line.
	Close() error
}

// Default pin definitions (BCM numbering).
const (
	DefaultChip     = "gpiochip0"
	DefaultRadioPin = 17 // radio module power enable
)
