//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealLine drives an output from actual hardware using the Linux GPIO character device.
type RealLine struct {
	chip  *gpiocdev.Chip
	line  *gpiocdev.Line
	value bool
}

// NewRealLine requests pin on chip as an output, initially driven to initial.
func NewRealLine(chipName string, pin int, initial bool) (*RealLine, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(boolToInt(initial)))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request pin %d: %w", pin, err)
	}

	return &RealLine{
		chip:  chip,
		line:  line,
		value: initial,
	}, nil
}

// Set drives the line.
func (r *RealLine) Set(on bool) error {
	if err := r.line.SetValue(boolToInt(on)); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	r.value = on
	return nil
}

// Value returns the last value driven.
func (r *RealLine) Value() bool {
	return r.value
}

// Close releases GPIO resources.
// The pin is reconfigured as an input with pull-down (matching Pi boot
// defaults) before closing so the radio is left unpowered across reboots.
func (r *RealLine) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
