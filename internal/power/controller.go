package power

import (
	"fmt"
	"math"
	"time"

	"github.com/sweeney/camnode/internal/fault"
	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/state"
)

// Controller flips the device between Normal and PowerSave with hysteresis.
// It is the only writer of the operating profile in state.Shared.
type Controller struct {
	th        Thresholds
	normal    state.Profile
	powerSave state.Profile
	shared    *state.Shared
	act       Actuators
	log       *logging.Logger

	transitions int
}

// NewController validates the thresholds and publishes the Normal profile.
// Inconsistent thresholds are refused: the controller is never enabled with a
// band that could oscillate.
func NewController(th Thresholds, normal, powerSave state.Profile, shared *state.Shared, act Actuators, log *logging.Logger) (*Controller, error) {
	if th.HighVolts <= th.LowVolts {
		return nil, fmt.Errorf("%w: high threshold %.2fV must exceed low threshold %.2fV",
			fault.ErrConfigInconsistent, th.HighVolts, th.LowVolts)
	}
	normal.PowerSave = false
	powerSave.PowerSave = true
	shared.SetProfile(normal)
	return &Controller{
		th:        th,
		normal:    normal,
		powerSave: powerSave,
		shared:    shared,
		act:       act,
		log:       log.With("power"),
	}, nil
}

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode {
	if c.shared.PowerSaveActive() {
		return ModePowerSave
	}
	return ModeNormal
}

// Transitions returns how many transitions have been applied since start.
func (c *Controller) Transitions() int {
	return c.transitions
}

// Evaluate applies the hysteresis rule to the latest battery sample and
// returns the resulting mode. A sample that is stale or out of range forces
// PowerSave until a fresh valid reading crosses the high threshold.
func (c *Controller) Evaluate(now time.Time) Mode {
	b := c.shared.Battery()

	if err := c.validate(b, now); err != nil {
		if !c.shared.PowerSaveActive() {
			c.log.Warnf("%v, assuming low power", err)
			c.enterPowerSave(b.Volts)
		}
		return ModePowerSave
	}

	switch {
	case b.Volts < c.th.LowVolts:
		if !c.shared.PowerSaveActive() {
			c.enterPowerSave(b.Volts)
		}
	case b.Volts > c.th.HighVolts:
		if c.shared.PowerSaveActive() {
			c.exitPowerSave(b.Volts)
		}
	}
	return c.Mode()
}

func (c *Controller) validate(b state.BatterySample, now time.Time) error {
	if b.SampledAt.IsZero() || math.IsNaN(b.Volts) {
		return fmt.Errorf("%w: no battery sample", fault.ErrStaleBattery)
	}
	if c.th.MaxAge > 0 && now.Sub(b.SampledAt) > c.th.MaxAge {
		return fmt.Errorf("%w: last sample %v old", fault.ErrStaleBattery, now.Sub(b.SampledAt).Truncate(time.Second))
	}
	if c.th.MaxValidVolts > c.th.MinValidVolts && (b.Volts < c.th.MinValidVolts || b.Volts > c.th.MaxValidVolts) {
		return fmt.Errorf("%w: %.3fV", fault.ErrVoltageOutOfRange, b.Volts)
	}
	return nil
}

// enterPowerSave publishes the profile first so the network loop stops
// attempting links on its next tick, then drives the hardware down.
func (c *Controller) enterPowerSave(volts float64) {
	c.shared.SetProfile(c.powerSave)
	c.transitions++
	c.log.Infof("battery %.3fV: entering power save (cpu=%dHz sleep=%v)",
		volts, c.powerSave.CPUFrequencyHz, c.powerSave.SleepDuration)

	if c.act.Radio != nil {
		if err := c.act.Radio.SetEnabled(false); err != nil {
			c.log.Errorf("disable radio: %v", err)
		}
	}
	if c.act.CPU != nil {
		if err := c.act.CPU.SetFrequency(c.powerSave.CPUFrequencyHz); err != nil {
			c.log.Errorf("set cpu frequency: %v", err)
		}
	}
	if c.act.Capture != nil {
		if err := c.act.Capture.SetQuality(QualityReduced); err != nil {
			c.log.Errorf("reduce capture quality: %v", err)
		}
	}
}

// exitPowerSave restores the hardware before publishing the Normal profile.
func (c *Controller) exitPowerSave(volts float64) {
	c.log.Infof("battery %.3fV: leaving power save (cpu=%dHz sleep=%v)",
		volts, c.normal.CPUFrequencyHz, c.normal.SleepDuration)

	if c.act.CPU != nil {
		if err := c.act.CPU.SetFrequency(c.normal.CPUFrequencyHz); err != nil {
			c.log.Errorf("set cpu frequency: %v", err)
		}
	}
	if c.act.Radio != nil {
		if err := c.act.Radio.SetEnabled(true); err != nil {
			c.log.Errorf("enable radio: %v", err)
		}
	}
	if c.act.Capture != nil {
		if err := c.act.Capture.SetQuality(QualityFull); err != nil {
			c.log.Errorf("restore capture quality: %v", err)
		}
	}

	c.shared.SetProfile(c.normal)
	c.transitions++
}
