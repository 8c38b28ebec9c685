package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Node          string     `json:"node"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Link          LinkJSON   `json:"link"`
	Upload        UploadJSON `json:"upload"`
	OTA           OTAJSON    `json:"ota"`
	Mesh          MeshJSON   `json:"mesh"`
	Power         PowerJSON  `json:"power"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// LinkJSON is the JSON representation of the radio link.
type LinkJSON struct {
	State       string `json:"state"`
	IP          string `json:"ip,omitempty"`
	RSSI        *int   `json:"rssi_dbm,omitempty"`
	RetryCount  uint32 `json:"retry_count"`
	NextAttempt string `json:"next_attempt,omitempty"`
}

// UploadJSON is the JSON representation of the upload queue.
type UploadJSON struct {
	Pending       int    `json:"pending"`
	LastUploadAge *int64 `json:"last_upload_age_seconds"`
	LastError     string `json:"last_error,omitempty"`
}

// OTAJSON is the JSON representation of the update checker.
type OTAJSON struct {
	Enabled         bool   `json:"enabled"`
	UpdateAvailable bool   `json:"update_available"`
	Running         string `json:"running,omitempty"`
	Latest          string `json:"latest,omitempty"`
	LastCheckAge    *int64 `json:"last_check_age_seconds"`
}

// MeshJSON is the JSON representation of mesh health.
type MeshJSON struct {
	Active       int    `json:"active_nodes"`
	Known        int    `json:"known_nodes"`
	LastCheckAge *int64 `json:"last_check_age_seconds"`
}

// PowerJSON is the JSON representation of the operating profile.
type PowerJSON struct {
	BatteryVolts   *float64 `json:"battery_volts"`
	PowerSave      bool     `json:"power_save"`
	CPUFrequencyHz uint32   `json:"cpu_hz"`
	SleepSeconds   int64    `json:"sleep_seconds"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker             string `json:"broker"`
	HTTPAddr           string `json:"http_addr"`
	NetworkTickSeconds int64  `json:"network_tick_seconds"`
	StatusLogSeconds   int64  `json:"status_log_seconds"`
}

func buildInner(snap Snapshot) StatusInner {
	r := snap.Report
	inner := StatusInner{
		Node:          snap.Config.NodeID,
		Ready:         snap.HasReport,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Link: LinkJSON{
			State:      r.Link,
			IP:         r.IP,
			RetryCount: r.RetryCount,
		},
		Upload: UploadJSON{
			Pending:       r.PendingUploads,
			LastUploadAge: ageSeconds(r.LastUpload, r.Now),
			LastError:     r.UploadError,
		},
		OTA: OTAJSON{
			Enabled:         r.OTAEnabled,
			UpdateAvailable: r.UpdateAvailable,
			Running:         r.RunningVersion,
			Latest:          r.LatestVersion,
			LastCheckAge:    ageSeconds(r.LastOTACheck, r.Now),
		},
		Mesh: MeshJSON{
			Active:       r.MeshActive,
			Known:        r.MeshKnown,
			LastCheckAge: ageSeconds(r.LastMeshCheck, r.Now),
		},
		Power: PowerJSON{
			PowerSave:      r.PowerSave,
			CPUFrequencyHz: r.CPUFrequencyHz,
			SleepSeconds:   int64(r.SleepDuration / time.Second),
		},
		Config: ConfigJSON{
			Broker:             snap.Config.Broker,
			HTTPAddr:           snap.Config.HTTPAddr,
			NetworkTickSeconds: int64(snap.Config.NetworkTick / time.Second),
			StatusLogSeconds:   int64(snap.Config.StatusLog / time.Second),
		},
	}
	if inner.Link.State == "" {
		inner.Link.State = "UNKNOWN"
	}
	if r.HasRSSI {
		rssi := r.RSSI
		inner.Link.RSSI = &rssi
	}
	if !r.NextAttempt.IsZero() {
		inner.Link.NextAttempt = r.NextAttempt.UTC().Format(time.RFC3339)
	}
	if snap.HasReport && !math.IsNaN(r.BatteryVolts) {
		v := r.BatteryVolts
		inner.Power.BatteryVolts = &v
	}
	return inner
}

// ageSeconds is nil for the zero time, which renders as null.
func ageSeconds(t, now time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	s := int64(now.Sub(t) / time.Second)
	if s < 0 {
		s = 0
	}
	return &s
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT status message.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
