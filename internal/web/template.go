package web

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"time"

	"github.com/sweeney/camnode/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"ago": func(t, now time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return now.Sub(t).Truncate(time.Second).String() + " ago"
	},
	"volts": func(v float64) string {
		if math.IsNaN(v) {
			return "-"
		}
		return fmt.Sprintf("%.2f V", v)
	},
	"mhz": func(hz uint32) string {
		return fmt.Sprintf("%d MHz", hz/1000000)
	},
	"orDash": func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>camnode {{.Config.NodeID}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.connected { color: green; }
.disconnected { color: red; }
.save { color: orange; font-weight: bold; }
</style>
</head>
<body>
<h1>camnode {{.Config.NodeID}}</h1>
{{with .Report}}{{if $.HasReport}}
<h2>Power</h2>
<table>
<tr><th>Battery</th><td>{{volts .BatteryVolts}}</td></tr>
<tr><th>Profile</th><td{{if .PowerSave}} class="save"{{end}}>{{if .PowerSave}}power save{{else}}normal{{end}}</td></tr>
<tr><th>CPU</th><td>{{mhz .CPUFrequencyHz}}</td></tr>
<tr><th>Sleep</th><td>{{.SleepDuration}}</td></tr>
</table>

<h2>Link</h2>
<table>
<tr><th>State</th><td class="{{if eq .Link "Connected"}}connected{{else}}disconnected{{end}}">{{.Link}}</td></tr>
<tr><th>IP</th><td>{{orDash .IP}}</td></tr>
<tr><th>Signal</th><td>{{if .HasRSSI}}{{.RSSI}} dBm{{else}}-{{end}}</td></tr>
<tr><th>Retries</th><td>{{.RetryCount}}</td></tr>
<tr><th>MQTT</th><td class="{{if $.MQTTConnected}}connected{{else}}disconnected{{end}}">{{if $.MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{$.Config.Broker}}</td></tr>
</table>

<h2>Uploads</h2>
<table>
<tr><th>Pending</th><td>{{.PendingUploads}}</td></tr>
<tr><th>Last upload</th><td>{{ago .LastUpload .Now}}</td></tr>
{{if .UploadError}}<tr><th>Last error</th><td>{{.UploadError}}</td></tr>{{end}}
</table>

<h2>Firmware</h2>
<table>
<tr><th>Updates</th><td>{{if .OTAEnabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Running</th><td>{{orDash .RunningVersion}}</td></tr>
<tr><th>Offered</th><td>{{orDash .LatestVersion}}{{if .UpdateAvailable}} (update available){{end}}</td></tr>
<tr><th>Last check</th><td>{{ago .LastOTACheck .Now}}</td></tr>
</table>

<h2>Mesh</h2>
<table>
<tr><th>Active peers</th><td>{{.MeshActive}} of {{.MeshKnown}}</td></tr>
<tr><th>Last check</th><td>{{ago .LastMeshCheck .Now}}</td></tr>
</table>
{{else}}
<p>Waiting for the first status report.</p>
{{end}}{{end}}
<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Network tick</th><td>{{.Config.NetworkTick}}</td></tr>
<tr><th>Status interval</th><td>{{.Config.StatusLog}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/status.txt">text</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
