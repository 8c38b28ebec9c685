package power

import (
	"context"
	"errors"
)

// FakeSampler returns scripted voltages. Each call consumes the next value;
// once exhausted the last value repeats.
type FakeSampler struct {
	Volts []float64
	index int

	// Err, if set, is returned instead of a value.
	Err error
}

// NewFakeSampler creates a FakeSampler with the given readings.
func NewFakeSampler(volts ...float64) *FakeSampler {
	return &FakeSampler{Volts: volts}
}

// Sample returns the next scripted voltage.
func (f *FakeSampler) Sample(ctx context.Context) (float64, error) {
	if f.Err != nil {
		return 0, f.Err
	}
	if len(f.Volts) == 0 {
		return 0, errors.New("no samples configured")
	}
	v := f.Volts[f.index]
	if f.index < len(f.Volts)-1 {
		f.index++
	}
	return v, nil
}

// FakeActuators records every side effect in order.
type FakeActuators struct {
	Calls []string

	Frequencies []uint32
	Radio       []bool
	Qualities   []Quality

	// Err, if set, is returned by every call (after recording it).
	Err error
}

// Actuators returns an Actuators wired to f.
func (f *FakeActuators) Actuators() Actuators {
	return Actuators{CPU: fakeCPU{f}, Radio: fakeRadio{f}, Capture: fakeCapture{f}}
}

type fakeCPU struct{ f *FakeActuators }

func (c fakeCPU) SetFrequency(hz uint32) error {
	c.f.Calls = append(c.f.Calls, "cpu")
	c.f.Frequencies = append(c.f.Frequencies, hz)
	return c.f.Err
}

type fakeRadio struct{ f *FakeActuators }

func (r fakeRadio) SetEnabled(on bool) error {
	r.f.Calls = append(r.f.Calls, "radio")
	r.f.Radio = append(r.f.Radio, on)
	return r.f.Err
}

type fakeCapture struct{ f *FakeActuators }

func (c fakeCapture) SetQuality(q Quality) error {
	c.f.Calls = append(c.f.Calls, "capture")
	c.f.Qualities = append(c.f.Qualities, q)
	return c.f.Err
}
