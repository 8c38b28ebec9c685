// Package task is the network loop body: one Tick runs the link manager,
// the upload queue, the update checker and the mesh monitor in that order,
// then emits the status report when it is due.
package task

import (
	"context"
	"strings"
	"time"

	"github.com/sweeney/camnode/internal/link"
	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/mesh"
	"github.com/sweeney/camnode/internal/mqtt"
	"github.com/sweeney/camnode/internal/ota"
	"github.com/sweeney/camnode/internal/state"
	"github.com/sweeney/camnode/internal/status"
	"github.com/sweeney/camnode/internal/upload"
)

// Report events published on the status topic.
const (
	EventStartup  = "STARTUP"
	EventReport   = "REPORT"
	EventShutdown = "SHUTDOWN"
)

// Linker is the link manager.
type Linker interface {
	Tick(ctx context.Context, now time.Time) error
	Connected() bool
	Status() link.Status
}

// Uploader is the upload queue.
type Uploader interface {
	Tick(ctx context.Context, now time.Time, connected bool) error
	Refresh(ctx context.Context)
	Status() upload.Status
}

// Updater is the firmware update checker.
type Updater interface {
	Tick(ctx context.Context, now time.Time, connected bool) error
	Status() ota.Status
}

// MeshMonitor is the mesh health monitor.
type MeshMonitor interface {
	Tick(ctx context.Context, now time.Time) error
	Status() mesh.Status
}

// Publisher carries status reports to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg mqtt.Message) error
	Flush(ctx context.Context) error
}

// Config configures a Task.
type Config struct {
	NodeID         string
	StatusInterval time.Duration
}

// Deps are the components driven by a Task.
type Deps struct {
	Link    Linker
	Upload  Uploader
	OTA     Updater
	Mesh    MeshMonitor
	Tracker *status.Tracker
	Pub     Publisher // nil disables report publishing
}

// Task runs one network tick at a time. It is not safe for concurrent use.
type Task struct {
	cfg    Config
	deps   Deps
	shared *state.Shared
	log    *logging.Logger

	lastReport time.Time
	failures   map[string]int
}

// New creates a Task.
func New(cfg Config, deps Deps, shared *state.Shared, log *logging.Logger) *Task {
	return &Task{
		cfg:      cfg,
		deps:     deps,
		shared:   shared,
		log:      log.With("task"),
		failures: make(map[string]int),
	}
}

// Tick runs every sub-manager once. A failure or panic in one does not stop
// the others. It reports whether a status report was emitted.
func (t *Task) Tick(ctx context.Context, now time.Time) bool {
	t.guard("link", func() error { return t.deps.Link.Tick(ctx, now) })
	connected := t.deps.Link.Connected()

	if connected && t.deps.Pub != nil {
		t.guard("flush", func() error { return t.deps.Pub.Flush(ctx) })
	}
	t.guard("upload", func() error { return t.deps.Upload.Tick(ctx, now, connected) })
	t.guard("ota", func() error { return t.deps.OTA.Tick(ctx, now, connected) })
	t.guard("mesh", func() error { return t.deps.Mesh.Tick(ctx, now) })

	if !state.Due(t.lastReport, now, t.cfg.StatusInterval) {
		return false
	}
	t.lastReport = now
	t.Emit(ctx, now, EventReport, "")
	return true
}

// Failures returns the number of failed ticks per sub-manager.
func (t *Task) Failures() map[string]int {
	out := make(map[string]int, len(t.failures))
	for k, v := range t.failures {
		out[k] = v
	}
	return out
}

// Report builds the consolidated status as of now.
func (t *Task) Report(now time.Time) status.Report {
	ls := t.deps.Link.Status()
	us := t.deps.Upload.Status()
	uv := t.deps.OTA.Status()
	ms := t.deps.Mesh.Status()
	snap := t.shared.Snapshot()

	return status.Report{
		Now:             now,
		Link:            string(ls.State),
		IP:              ls.Info.Address,
		RSSI:            ls.Info.RSSI,
		HasRSSI:         ls.Info.HasRSSI,
		RetryCount:      ls.RetryCount,
		NextAttempt:     ls.NextAttempt,
		LastUpload:      us.LastUpload,
		PendingUploads:  us.Pending,
		UploadError:     us.LastError,
		OTAEnabled:      uv.Enabled,
		UpdateAvailable: uv.UpdateAvailable,
		LastOTACheck:    uv.LastCheck,
		RunningVersion:  uv.Running,
		LatestVersion:   uv.Latest,
		MeshActive:      ms.Active,
		MeshKnown:       ms.Known,
		LastMeshCheck:   ms.LastCheck,
		BatteryVolts:    snap.Battery.Volts,
		PowerSave:       snap.Profile.PowerSave,
		CPUFrequencyHz:  snap.Profile.CPUFrequencyHz,
		SleepDuration:   snap.Profile.SleepDuration,
	}
}

// Emit logs the status report, stores it in the tracker and publishes it on
// the status topic. Publishing is buffered while the link is down.
func (t *Task) Emit(ctx context.Context, now time.Time, event, reason string) {
	t.guard("report", func() error {
		t.deps.Upload.Refresh(ctx)
		r := t.Report(now)

		t.log.Infof("status report (%s)", strings.ToLower(event))
		for _, line := range strings.Split(strings.TrimSuffix(status.FormatText(r), "\n"), "\n") {
			t.log.Infof("  %s", line)
		}

		if t.deps.Tracker == nil {
			return nil
		}
		t.deps.Tracker.Update(r)
		t.deps.Tracker.SetMQTTConnected(t.deps.Link.Connected())
		if t.deps.Pub == nil {
			return nil
		}
		snap := t.deps.Tracker.Snapshot()
		return t.deps.Pub.Publish(ctx, mqtt.Message{
			Topic:    mqtt.Topic(t.cfg.NodeID, mqtt.KindStatus),
			Payload:  status.FormatStatusEvent(snap, event, reason),
			QoS:      1,
			Retained: true,
		})
	})
}

// guard runs fn, logging its error and recovering a panic.
func (t *Task) guard(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			t.failures[name]++
			t.log.Errorf("%s panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		t.failures[name]++
		t.log.Debugf("%s: %v", name, err)
	}
}
