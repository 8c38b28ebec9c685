// Package link owns the primary radio link lifecycle: connect attempts,
// exponential backoff and passive disconnect detection.
package link

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/camnode/internal/fault"
	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/state"
)

// State is the link state.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting   State = "Connecting"
	StateConnected    State = "Connected"
	StateBackoff      State = "Backoff"
)

// MaxRetryCount bounds the retry counter. The delay is already capped long
// before this; the bound only keeps the counter meaningful.
const MaxRetryCount = 32

// Info describes the current link.
type Info struct {
	Address string
	RSSI    int // dBm
	HasRSSI bool
}

// Driver is the radio driver consumed by the manager.
type Driver interface {
	// Connect brings the link up. It must return when ctx is done.
	Connect(ctx context.Context) error

	// IsConnected queries the current link status without side effects.
	IsConnected() bool

	// Info returns address and signal strength for the current link.
	Info() Info
}

// Config configures a Manager.
type Config struct {
	Enabled        bool
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	ConnectTimeout time.Duration
}

// Delay returns the backoff delay after the given number of consecutive
// failures (1 for the first): min(base * 2^(failures-1), max).
func Delay(base, max time.Duration, failures uint32) time.Duration {
	if failures == 0 {
		return 0
	}
	d := base
	for i := uint32(1); i < failures; i++ {
		if d >= max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Status is a point-in-time view of the manager.
type Status struct {
	State       State
	Info        Info
	RetryCount  uint32
	NextAttempt time.Time
}

// Manager runs the link state machine. Tick is called once per network tick
// from a single goroutine; it owns the retry count and last-attempt fields of
// state.Shared.
type Manager struct {
	cfg    Config
	drv    Driver
	shared *state.Shared
	log    *logging.Logger

	state       State
	nextAttempt time.Time
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg Config, drv Driver, shared *state.Shared, log *logging.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		drv:    drv,
		shared: shared,
		log:    log.With("link"),
		state:  StateDisconnected,
	}
}

// State returns the current state.
func (m *Manager) State() State { return m.state }

// Connected reports whether the link is up as of the last tick.
func (m *Manager) Connected() bool { return m.state == StateConnected }

// NextAttempt returns the earliest time of the next connect attempt while in
// Backoff, or the zero time otherwise.
func (m *Manager) NextAttempt() time.Time { return m.nextAttempt }

// Status returns a snapshot for reporting.
func (m *Manager) Status() Status {
	s := Status{
		State:       m.state,
		RetryCount:  m.shared.WifiRetryCount(),
		NextAttempt: m.nextAttempt,
	}
	if m.state == StateConnected {
		s.Info = m.drv.Info()
	}
	return s
}

// Tick advances the state machine. It returns an error wrapping
// fault.ErrTransientLink when a connect attempt fails; the failure is already
// accounted for in the backoff schedule.
func (m *Manager) Tick(ctx context.Context, now time.Time) error {
	switch m.state {
	case StateConnected:
		if m.drv.IsConnected() {
			return nil
		}
		// Loss of link keeps the retry count; only a successful connect clears it.
		m.state = StateDisconnected
		m.log.Warnf("link lost (retry count %d)", m.shared.WifiRetryCount())
		return nil
	case StateBackoff:
		if now.Before(m.nextAttempt) {
			return nil
		}
		m.state = StateDisconnected
		m.nextAttempt = time.Time{}
	}

	if !m.cfg.Enabled {
		return nil
	}
	if m.shared.PowerSaveActive() {
		m.log.Debugf("power save active, not connecting")
		return nil
	}
	return m.attempt(ctx, now)
}

func (m *Manager) attempt(ctx context.Context, now time.Time) error {
	m.state = StateConnecting
	m.shared.SetLastWifiAttempt(now)

	cctx := ctx
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	err := m.drv.Connect(cctx)
	if err == nil {
		prev := m.shared.WifiRetryCount()
		m.shared.SetWifiRetryCount(0)
		m.state = StateConnected
		m.nextAttempt = time.Time{}
		info := m.drv.Info()
		m.log.Infof("connected addr=%s after %d failed attempts", orDash(info.Address), prev)
		return nil
	}

	n := m.shared.WifiRetryCount() + 1
	if n > MaxRetryCount {
		n = MaxRetryCount
	}
	m.shared.SetWifiRetryCount(n)
	delay := Delay(m.cfg.BaseDelay, m.cfg.MaxDelay, n)
	m.nextAttempt = now.Add(delay)
	m.state = StateBackoff
	m.log.Warnf("connect failed (attempt %d): %v; next attempt in %v", n, err, delay)
	return fmt.Errorf("%w: %v", fault.ErrTransientLink, err)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
