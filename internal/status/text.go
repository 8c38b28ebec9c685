package status

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatText renders the report in its line-oriented form. Other tooling
// parses this output; keep field names and order stable.
func FormatText(r Report) string {
	var b strings.Builder
	line := func(key, value string) {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	line("link", orDash(r.Link))
	line("ip", orDash(r.IP))
	if r.HasRSSI {
		line("rssi", strconv.Itoa(r.RSSI)+" dBm")
	} else {
		line("rssi", "- dBm")
	}
	line("retry_count", strconv.FormatUint(uint64(r.RetryCount), 10))
	line("last_upload_age", age(r.LastUpload, r.Now))
	line("pending_uploads", strconv.Itoa(r.PendingUploads))
	line("ota_enabled", strconv.FormatBool(r.OTAEnabled))
	line("update_available", strconv.FormatBool(r.UpdateAvailable))
	line("last_ota_check_age", age(r.LastOTACheck, r.Now))
	line("mesh_active_nodes", strconv.Itoa(r.MeshActive))
	line("last_mesh_check_age", age(r.LastMeshCheck, r.Now))
	line("battery_volts", volts(r.BatteryVolts))
	line("power_save", strconv.FormatBool(r.PowerSave))
	return b.String()
}

// age renders whole seconds since t, or "never" for the zero time.
func age(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return strconv.FormatInt(int64(d/time.Second), 10)
}

func volts(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
