package power

import (
	"context"
	"time"

	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/state"
)

// Task is one tick of the power context: sample the battery, then evaluate.
// It is the only writer of the battery sample in state.Shared.
type Task struct {
	sampler Sampler
	ctrl    *Controller
	shared  *state.Shared
	timeout time.Duration
	log     *logging.Logger
}

// NewTask creates a power task. A zero timeout means no bound beyond ctx.
func NewTask(sampler Sampler, ctrl *Controller, shared *state.Shared, timeout time.Duration, log *logging.Logger) *Task {
	return &Task{
		sampler: sampler,
		ctrl:    ctrl,
		shared:  shared,
		timeout: timeout,
		log:     log.With("power"),
	}
}

// Step takes one sample and applies the controller. A failed sample leaves
// the previous reading in place; the controller treats it as stale once it
// exceeds the configured age.
func (t *Task) Step(ctx context.Context, now time.Time) Mode {
	sctx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	volts, err := t.sampler.Sample(sctx)
	if err != nil {
		t.log.Warnf("battery sample failed: %v", err)
	} else {
		t.shared.SetBattery(volts, now)
		t.log.Debugf("battery %.3fV", volts)
	}
	return t.ctrl.Evaluate(now)
}

// SleepDuration is the interval until the next Step, taken from the active profile.
func (t *Task) SleepDuration() time.Duration {
	return t.shared.Profile().SleepDuration
}
