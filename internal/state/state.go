// Package state holds the device state shared between the power loop and the
// network loop.
//
// Every field has exactly one writer:
//
//	battery sample             power sampler
//	operating profile          power controller
//	retry count, last attempt  link manager
//	last upload                upload queue
//	last OTA check             OTA checker
//	last mesh check            mesh monitor
//
// All accesses are atomic, so no global lock is needed. The operating
// profile is published as a single pointer so a reader never observes a
// half-applied power transition.
package state

import (
	"math"
	"sync/atomic"
	"time"
)

// Profile is the operating profile derived from the power-save flag.
type Profile struct {
	PowerSave      bool
	CPUFrequencyHz uint32
	SleepDuration  time.Duration
}

// BatterySample is the latest battery reading.
type BatterySample struct {
	Volts     float64
	SampledAt time.Time // zero if no sample has been taken
}

// stamp is an atomically replaced time.Time. The monotonic reading is kept.
type stamp struct {
	p atomic.Pointer[time.Time]
}

func (s *stamp) load() time.Time {
	if t := s.p.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

func (s *stamp) store(t time.Time) {
	s.p.Store(&t)
}

// Shared is the process-wide device state. The zero value is usable; the
// profile reads as Normal with zero parameters until the controller sets it.
type Shared struct {
	battery atomic.Pointer[BatterySample]
	profile atomic.Pointer[Profile]

	wifiRetryCount atomic.Uint32

	lastWifiAttempt stamp
	lastUpload      stamp
	lastOTACheck    stamp
	lastMeshCheck   stamp
}

// New returns a Shared with the given initial profile.
func New(initial Profile) *Shared {
	s := &Shared{}
	s.profile.Store(&initial)
	return s
}

// Battery returns the latest battery sample.
func (s *Shared) Battery() BatterySample {
	if b := s.battery.Load(); b != nil {
		return *b
	}
	return BatterySample{Volts: math.NaN()}
}

// SetBattery records a battery sample. Written only by the power sampler.
func (s *Shared) SetBattery(volts float64, at time.Time) {
	s.battery.Store(&BatterySample{Volts: volts, SampledAt: at})
}

// Profile returns the current operating profile.
func (s *Shared) Profile() Profile {
	if p := s.profile.Load(); p != nil {
		return *p
	}
	return Profile{}
}

// PowerSaveActive reports whether the PowerSave profile is in effect.
func (s *Shared) PowerSaveActive() bool {
	return s.Profile().PowerSave
}

// SetProfile publishes a new operating profile. Written only by the power controller.
func (s *Shared) SetProfile(p Profile) {
	s.profile.Store(&p)
}

// WifiRetryCount returns the number of consecutive failed connect attempts.
func (s *Shared) WifiRetryCount() uint32 { return s.wifiRetryCount.Load() }

// SetWifiRetryCount is written only by the link manager.
func (s *Shared) SetWifiRetryCount(n uint32) { s.wifiRetryCount.Store(n) }

func (s *Shared) LastWifiAttempt() time.Time     { return s.lastWifiAttempt.load() }
func (s *Shared) SetLastWifiAttempt(t time.Time) { s.lastWifiAttempt.store(t) }

func (s *Shared) LastUpload() time.Time     { return s.lastUpload.load() }
func (s *Shared) SetLastUpload(t time.Time) { s.lastUpload.store(t) }

func (s *Shared) LastOTACheck() time.Time     { return s.lastOTACheck.load() }
func (s *Shared) SetLastOTACheck(t time.Time) { s.lastOTACheck.store(t) }

func (s *Shared) LastMeshCheck() time.Time     { return s.lastMeshCheck.load() }
func (s *Shared) SetLastMeshCheck(t time.Time) { s.lastMeshCheck.store(t) }

// Snapshot is a point-in-time copy of Shared. Individual fields are each
// consistent; the copy as a whole is not taken under a lock.
type Snapshot struct {
	Battery         BatterySample
	Profile         Profile
	WifiRetryCount  uint32
	LastWifiAttempt time.Time
	LastUpload      time.Time
	LastOTACheck    time.Time
	LastMeshCheck   time.Time
}

// Snapshot returns a copy of all fields.
func (s *Shared) Snapshot() Snapshot {
	return Snapshot{
		Battery:         s.Battery(),
		Profile:         s.Profile(),
		WifiRetryCount:  s.WifiRetryCount(),
		LastWifiAttempt: s.LastWifiAttempt(),
		LastUpload:      s.LastUpload(),
		LastOTACheck:    s.LastOTACheck(),
		LastMeshCheck:   s.LastMeshCheck(),
	}
}

// Due reports whether interval has elapsed since last. A zero last is always due.
func Due(last, now time.Time, interval time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= interval
}
