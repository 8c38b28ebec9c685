// Package ota checks the update server for newer firmware and, when
// allowed, installs it into the inactive slot after verifying its digest
// and signature.
package ota

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/sweeney/camnode/internal/fault"
	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/state"
)

// Config configures a Checker.
type Config struct {
	Enabled        bool
	Interval       time.Duration
	Timeout        time.Duration
	RunningVersion string
	AutoApply      bool
	StagingDir     string // "" uses os.TempDir
}

// Status is a point-in-time view of the checker.
type Status struct {
	Enabled         bool
	UpdateAvailable bool
	Running         string
	Latest          string
	Installed       string // staged for next boot
	LastCheck       time.Time
	LastError       string
}

// Checker runs the periodic update check. It owns state.Shared's
// lastOTACheck field.
type Checker struct {
	cfg       Config
	transport Transport
	verifier  *Verifier
	flasher   Flasher
	shared    *state.Shared
	log       *logging.Logger

	mu        sync.Mutex
	available bool
	latest    string
	installed string
	lastErr   string
}

// NewChecker creates a Checker. A nil verifier disables installation.
func NewChecker(cfg Config, transport Transport, verifier *Verifier, flasher Flasher, shared *state.Shared, log *logging.Logger) *Checker {
	return &Checker{
		cfg:       cfg,
		transport: transport,
		verifier:  verifier,
		flasher:   flasher,
		shared:    shared,
		log:       log.With("ota"),
	}
}

// Tick performs a check if enabled, connected and due. The check time
// advances even when the server is unreachable; the next scheduled check
// retries.
func (c *Checker) Tick(ctx context.Context, now time.Time, connected bool) error {
	if !c.cfg.Enabled || !connected {
		return nil
	}
	if !state.Due(c.shared.LastOTACheck(), now, c.cfg.Interval) {
		return nil
	}
	c.shared.SetLastOTACheck(now)

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	err := c.check(ctx)
	c.mu.Lock()
	if err != nil {
		c.lastErr = err.Error()
	} else {
		c.lastErr = ""
	}
	c.mu.Unlock()
	if err != nil {
		c.log.Warnf("%v", err)
	}
	return err
}

func (c *Checker) check(ctx context.Context) error {
	d, err := c.transport.FetchDescriptor(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", fault.ErrRemoteUnavailable, err)
	}
	offered := canonical(d.Version)
	if !semver.IsValid(offered) {
		return fmt.Errorf("%w: invalid version %q", fault.ErrRemoteUnavailable, d.Version)
	}

	current := c.baseline()
	c.mu.Lock()
	c.latest = offered
	c.available = semver.Compare(offered, current) > 0
	available := c.available
	c.mu.Unlock()

	if !available {
		c.log.Debugf("up to date (%s, offered %s)", current, offered)
		return nil
	}
	c.log.Infof("update available: %s -> %s", current, offered)

	if !c.cfg.AutoApply {
		return nil
	}
	if c.verifier == nil {
		c.log.Warnf("no verification key configured, not applying %s", offered)
		return nil
	}
	if err := c.apply(ctx, d); err != nil {
		return err
	}

	c.mu.Lock()
	c.installed = offered
	c.available = false
	c.mu.Unlock()
	c.log.Infof("installed %s, active after reboot", offered)
	return nil
}

// apply downloads, verifies and installs d. Staging data is removed on every
// path; the flasher never sees an unverified image.
func (c *Checker) apply(ctx context.Context, d Descriptor) error {
	f, err := os.CreateTemp(c.cfg.StagingDir, "camnode-ota-*")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	staging := f.Name()
	defer os.Remove(staging)

	h := sha256.New()
	if err := c.transport.Download(ctx, d, io.MultiWriter(f, h)); err != nil {
		f.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: download timed out", fault.ErrRemoteUnavailable)
		}
		return fmt.Errorf("%w: download: %v", fault.ErrRemoteUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}

	if err := c.verifier.Verify(h.Sum(nil), d); err != nil {
		return err
	}
	if err := c.flasher.Install(staging, canonical(d.Version)); err != nil {
		return fmt.Errorf("install %s: %w", d.Version, err)
	}
	return nil
}

// baseline is the newest of the running and staged versions.
func (c *Checker) baseline() string {
	running := canonical(c.cfg.RunningVersion)
	c.mu.Lock()
	installed := c.installed
	c.mu.Unlock()
	if installed != "" && semver.Compare(installed, running) > 0 {
		return installed
	}
	return running
}

// Status returns a snapshot for reporting.
func (c *Checker) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Enabled:         c.cfg.Enabled,
		UpdateAvailable: c.available,
		Running:         canonical(c.cfg.RunningVersion),
		Latest:          c.latest,
		Installed:       c.installed,
		LastCheck:       c.shared.LastOTACheck(),
		LastError:       c.lastErr,
	}
}

// canonical adds the "v" prefix semver expects.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
