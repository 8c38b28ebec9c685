package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sweeney/camnode/internal/gpio"
	"github.com/sweeney/camnode/internal/link"
	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/mesh"
	"github.com/sweeney/camnode/internal/mqtt"
	"github.com/sweeney/camnode/internal/ota"
	"github.com/sweeney/camnode/internal/power"
	"github.com/sweeney/camnode/internal/radio"
	"github.com/sweeney/camnode/internal/state"
	"github.com/sweeney/camnode/internal/status"
	"github.com/sweeney/camnode/internal/task"
	"github.com/sweeney/camnode/internal/upload"
)

var t0 = time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)

const nodeID = "cam-07"

// node wires the real components together over fake hardware and a fake
// broker, the same way cmd/camnode does over the real ones.
type node struct {
	shared  *state.Shared
	line    *gpio.FakeLine
	client  *mqtt.FakeClient
	sampler *power.FakeSampler
	power   *power.Task
	store   *upload.FakeStore
	peers   *mesh.FakeDriver
	pub     *mqtt.Buffered
	task    *task.Task
}

func newNode(t *testing.T, recs int, volts ...float64) *node {
	t.Helper()

	normal := state.Profile{CPUFrequencyHz: 1_200_000_000, SleepDuration: 10 * time.Second}
	saving := state.Profile{PowerSave: true, CPUFrequencyHz: 600_000_000, SleepDuration: time.Minute}
	shared := state.New(normal)
	log := logging.Discard()

	line := gpio.NewFakeLine(true)
	client := mqtt.NewFakeClient()
	rad := radio.New(line, client, nodeID, "")

	acts := &power.FakeActuators{}
	a := acts.Actuators()
	a.Radio = rad
	ctrl, err := power.NewController(power.Thresholds{
		LowVolts:      3.0,
		HighVolts:     3.4,
		MinValidVolts: 2.5,
		MaxValidVolts: 4.5,
		MaxAge:        2 * time.Minute,
	}, normal, saving, shared, a, log)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	sampler := power.NewFakeSampler(volts...)

	var records []upload.Record
	for i := 0; i < recs; i++ {
		records = append(records, upload.Record{
			ID:         fmt.Sprintf("img-%d", i),
			Kind:       "image",
			CapturedAt: t0.Add(-time.Duration(recs-i) * time.Minute),
		})
	}
	store := upload.NewFakeStore(records...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ota.Descriptor{Version: "1.3.0", URL: "/firmware.bin"})
	}))
	t.Cleanup(srv.Close)

	slots, err := ota.NewSlotFlasher(t.TempDir())
	if err != nil {
		t.Fatalf("NewSlotFlasher: %v", err)
	}

	peers := &mesh.FakeDriver{Peers: []mesh.Peer{
		{ID: "cam-03", LastSeen: t0},
		{ID: "cam-11", LastSeen: t0.Add(-10 * time.Minute)},
	}}

	tracker := status.NewTracker(t0, status.Config{
		NodeID:      nodeID,
		Broker:      "tcp://broker:1883",
		NetworkTick: 10 * time.Second,
		StatusLog:   time.Minute,
	})
	pub := mqtt.NewBuffered(client, 8)

	tk := task.New(task.Config{NodeID: nodeID, StatusInterval: time.Minute}, task.Deps{
		Link: link.NewManager(link.Config{
			Enabled:        true,
			BaseDelay:      10 * time.Second,
			MaxDelay:       80 * time.Second,
			ConnectTimeout: time.Second,
		}, rad, shared, log),
		Upload: upload.NewQueue(upload.Config{
			Enabled:   true,
			NodeID:    nodeID,
			Interval:  5 * time.Minute,
			Timeout:   time.Second,
			BatchSize: 10,
		}, store, rad, shared, log),
		OTA: ota.NewChecker(ota.Config{
			Enabled:        true,
			Interval:       time.Hour,
			Timeout:        time.Second,
			RunningVersion: "1.2.0",
			AutoApply:      true,
		}, ota.NewHTTPTransport(srv.Client(), srv.URL+"/descriptor.json"), nil, slots, shared, log),
		Mesh: mesh.NewMonitor(mesh.Config{
			Enabled:   true,
			Interval:  time.Minute,
			Heartbeat: 30 * time.Second,
			Timeout:   time.Second,
		}, peers, shared, log),
		Tracker: tracker,
		Pub:     pub,
	}, shared, log)

	return &node{
		shared:  shared,
		line:    line,
		client:  client,
		sampler: sampler,
		power:   power.NewTask(sampler, ctrl, shared, time.Second, log),
		store:   store,
		peers:   peers,
		pub:     pub,
		task:    tk,
	}
}

func (n *node) messages(kind string) []mqtt.Message {
	topic := mqtt.Topic(nodeID, kind)
	var out []mqtt.Message
	for _, m := range n.client.Messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func decodeStatus(t *testing.T, m mqtt.Message) status.StatusInner {
	t.Helper()
	var s status.StatusJSON
	if err := json.Unmarshal(m.Payload, &s); err != nil {
		t.Fatalf("invalid status JSON: %v\n%s", err, m.Payload)
	}
	return s.Status
}

func TestIntegrationFullFlow(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, 3, 3.7)

	if mode := n.power.Step(ctx, t0); mode != power.ModeNormal {
		t.Fatalf("mode: got %s, want NORMAL", mode)
	}

	// Startup report goes out before the link is up, so it is buffered.
	n.task.Emit(ctx, t0, task.EventStartup, "")
	if len(n.client.Messages) != 0 || n.pub.Pending() != 1 {
		t.Fatalf("startup should be buffered: published=%d pending=%d", len(n.client.Messages), n.pub.Pending())
	}

	if !n.task.Tick(ctx, t0) {
		t.Error("first tick should emit a report")
	}

	// Buffered startup first, then the uploads, then the report.
	msgs := n.client.Messages
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if got := decodeStatus(t, msgs[0]); got.Event != task.EventStartup {
		t.Errorf("first message: got event %q, want STARTUP", got.Event)
	}
	for i := 1; i <= 3; i++ {
		if msgs[i].Topic != mqtt.Topic(nodeID, mqtt.KindRecords) {
			t.Errorf("message %d: got topic %q, want records", i, msgs[i].Topic)
		}
	}
	env, err := upload.Decode(msgs[1].Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.ID != "img-0" || env.Node != nodeID {
		t.Errorf("first upload: got %+v", env)
	}
	if len(n.store.Marked) != 3 {
		t.Errorf("marked: got %v", n.store.Marked)
	}

	report := decodeStatus(t, msgs[4])
	if !msgs[4].Retained {
		t.Error("status report should be retained")
	}
	if report.Event != task.EventReport || !report.Ready {
		t.Errorf("report: event=%q ready=%v", report.Event, report.Ready)
	}
	if report.Link.State != string(link.StateConnected) || !report.MQTT.Connected {
		t.Errorf("link: got %+v mqtt=%+v", report.Link, report.MQTT)
	}
	if report.Upload.Pending != 0 {
		t.Errorf("pending: got %d, want 0", report.Upload.Pending)
	}
	if !report.OTA.UpdateAvailable {
		t.Error("1.3.0 should be offered over 1.2.0")
	}
	if report.Mesh.Active != 1 || report.Mesh.Known != 2 {
		t.Errorf("mesh: got %+v, want 1 active of 2", report.Mesh)
	}
	if report.Power.PowerSave {
		t.Error("power save should be off at 3.7V")
	}
	if f := n.task.Failures(); len(f) != 0 {
		t.Errorf("unexpected failures: %v", f)
	}
}

func TestIntegrationPowerSaveDropsLinkUntilRecovery(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, 0, 3.7, 2.9, 3.2, 3.5)

	n.power.Step(ctx, t0)
	n.task.Tick(ctx, t0)
	if !n.client.Connected {
		t.Fatal("expected connected after first tick")
	}
	published := len(n.client.Messages)

	// Battery drops: the radio is powered down and the session closed.
	if mode := n.power.Step(ctx, t0.Add(10*time.Second)); mode != power.ModePowerSave {
		t.Fatalf("mode: got %s, want POWER_SAVE", mode)
	}
	if n.line.Value() || n.client.Connected {
		t.Fatal("radio should be off in power save")
	}

	n.task.Tick(ctx, t0.Add(20*time.Second))
	n.task.Tick(ctx, t0.Add(30*time.Second))
	if n.client.Connects != 1 {
		t.Errorf("no reconnect attempts in power save, got %d connects", n.client.Connects)
	}

	n.task.Emit(ctx, t0.Add(35*time.Second), task.EventReport, "")
	if n.pub.Pending() != 1 {
		t.Fatalf("report should be buffered while offline, pending=%d", n.pub.Pending())
	}

	// Inside the hysteresis band nothing changes.
	n.power.Step(ctx, t0.Add(40*time.Second))
	if !n.shared.PowerSaveActive() {
		t.Fatal("3.2V should keep power save")
	}

	// Recovery above the high threshold restores the radio; the next tick
	// reconnects and flushes the buffered report.
	if mode := n.power.Step(ctx, t0.Add(45*time.Second)); mode != power.ModeNormal {
		t.Fatalf("mode: got %s, want NORMAL", mode)
	}
	n.task.Tick(ctx, t0.Add(50*time.Second))
	if !n.client.Connected {
		t.Fatal("expected reconnect after recovery")
	}
	if got := len(n.client.Messages) - published; got != 1 {
		t.Fatalf("expected the buffered report to be flushed, got %d new messages", got)
	}
	flushed := decodeStatus(t, n.client.Messages[len(n.client.Messages)-1])
	if !flushed.Power.PowerSave || flushed.Link.State != string(link.StateDisconnected) {
		t.Errorf("flushed report should describe the offline period: %+v %+v", flushed.Power, flushed.Link)
	}
	if n.shared.WifiRetryCount() != 0 {
		t.Errorf("retry count: got %d, want 0", n.shared.WifiRetryCount())
	}
}

func TestIntegrationBrokerDownBacksOff(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, 2, 3.7)
	n.client.ConnectError = errors.New("connection refused")

	n.power.Step(ctx, t0)
	n.task.Tick(ctx, t0)
	n.task.Tick(ctx, t0.Add(5*time.Second))
	if n.client.Connects != 1 {
		t.Errorf("second tick is inside the backoff window, got %d connects", n.client.Connects)
	}
	n.task.Tick(ctx, t0.Add(10*time.Second))
	if n.client.Connects != 2 {
		t.Errorf("expected a retry once the delay elapsed, got %d connects", n.client.Connects)
	}
	if n.shared.WifiRetryCount() != 2 {
		t.Errorf("retry count: got %d, want 2", n.shared.WifiRetryCount())
	}
	if f := n.task.Failures()["link"]; f != 2 {
		t.Errorf("link failures: got %d, want 2", f)
	}
	if len(n.client.Messages) != 0 || len(n.store.Marked) != 0 {
		t.Error("nothing should be sent while the link is down")
	}

	// Second delay is doubled.
	n.client.ConnectError = nil
	n.task.Tick(ctx, t0.Add(25*time.Second))
	if n.client.Connects != 2 {
		t.Errorf("attempt inside the 20s window: got %d connects", n.client.Connects)
	}
	n.task.Tick(ctx, t0.Add(30*time.Second))
	if !n.client.Connected {
		t.Fatal("expected connected once the broker is back")
	}
	if n.shared.WifiRetryCount() != 0 {
		t.Errorf("retry count should reset on success, got %d", n.shared.WifiRetryCount())
	}
	if len(n.store.Marked) != 2 {
		t.Errorf("uploads should drain after reconnect, marked %v", n.store.Marked)
	}
	if len(n.messages(mqtt.KindStatus)) != 1 {
		t.Errorf("the report buffered at t0 should be flushed, got %d status messages", len(n.messages(mqtt.KindStatus)))
	}
}

func TestIntegrationMissingBatteryForcesPowerSave(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, 1)
	n.sampler.Err = errors.New("redis: nil")

	if mode := n.power.Step(ctx, t0); mode != power.ModePowerSave {
		t.Fatalf("mode: got %s, want POWER_SAVE", mode)
	}
	if n.line.Value() {
		t.Error("radio should be off without a battery reading")
	}
	n.task.Tick(ctx, t0)
	if n.client.Connects != 0 {
		t.Errorf("no connect attempts in power save, got %d", n.client.Connects)
	}

	// A fresh reading inside the band is not enough to leave power save.
	n.sampler.Err = nil
	n.sampler.Volts = []float64{3.3}
	n.power.Step(ctx, t0.Add(time.Minute))
	if !n.shared.PowerSaveActive() {
		t.Error("3.3V should not leave conservative power save")
	}
}
