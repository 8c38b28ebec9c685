// Package power contains the battery-driven power-state controller.
//
// Time is always passed in by the caller. Hardware side effects go through
// the small interfaces below; fakes live in fake.go.
package power

import (
	"context"
	"time"
)

// Mode is the operating profile selected by the controller.
type Mode string

const (
	ModeNormal    Mode = "NORMAL"
	ModePowerSave Mode = "POWER_SAVE"
)

// Quality is the frame quality requested from the capture subsystem.
type Quality string

const (
	QualityFull    Quality = "full"
	QualityReduced Quality = "reduced"
)

// Sampler reads the battery voltage in volts.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// CPU changes the processor clock ceiling.
type CPU interface {
	SetFrequency(hz uint32) error
}

// RadioSwitch enables or disables the primary radio link.
type RadioSwitch interface {
	SetEnabled(on bool) error
}

// CaptureSignal asks the capture subsystem to change frame quality.
type CaptureSignal interface {
	SetQuality(q Quality) error
}

// Actuators groups the side effects of a transition. Nil members are skipped.
type Actuators struct {
	CPU     CPU
	Radio   RadioSwitch
	Capture CaptureSignal
}

// Thresholds configures the hysteresis band and sample validity.
type Thresholds struct {
	LowVolts      float64       // Normal -> PowerSave strictly below this
	HighVolts     float64       // PowerSave -> Normal strictly above this
	MinValidVolts float64
	MaxValidVolts float64
	MaxAge        time.Duration // 0 disables the staleness check
}
