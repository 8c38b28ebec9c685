// Package status provides a thread-safe status tracker for the camnode daemon.
// It is written by the network loop and read by HTTP handlers.
package status

import (
	"sync"
	"time"
)

// Report is the consolidated status emitted at the status interval. It is a
// local copy of the sub-manager views so status does not import them.
type Report struct {
	Now time.Time

	Link        string
	IP          string
	RSSI        int
	HasRSSI     bool
	RetryCount  uint32
	NextAttempt time.Time

	LastUpload     time.Time
	PendingUploads int
	UploadError    string

	OTAEnabled      bool
	UpdateAvailable bool
	LastOTACheck    time.Time
	RunningVersion  string
	LatestVersion   string

	MeshActive    int
	MeshKnown     int
	LastMeshCheck time.Time

	BatteryVolts   float64 // NaN before the first sample
	PowerSave      bool
	CPUFrequencyHz uint32
	SleepDuration  time.Duration
}

// Config contains daemon configuration for display.
type Config struct {
	NodeID      string
	Broker      string
	HTTPAddr    string
	NetworkTick time.Duration
	StatusLog   time.Duration
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Report        Report
	HasReport     bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update stores the latest report.
func (t *Tracker) Update(r Report) {
	t.mu.Lock()
	t.snap.Report = r
	t.snap.HasReport = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
