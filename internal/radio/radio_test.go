package radio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sweeney/camnode/internal/gpio"
	"github.com/sweeney/camnode/internal/mqtt"
)

const wirelessTable = `Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
 wlan0: 0000   54.  -56.  -256        0      0      0      0     12        0
`

func TestParseWireless(t *testing.T) {
	rssi, ok := parseWireless(strings.NewReader(wirelessTable), "wlan0")
	if !ok {
		t.Fatal("expected wlan0 to be found")
	}
	if rssi != -56 {
		t.Errorf("rssi: got %d, want -56", rssi)
	}

	if _, ok := parseWireless(strings.NewReader(wirelessTable), "wlan1"); ok {
		t.Error("wlan1 should not be found")
	}
	if _, ok := parseWireless(strings.NewReader(" wlan0: 0000 54."), "wlan0"); ok {
		t.Error("short row should not parse")
	}
}

func TestSetEnabledDrivesLineAndDropsSession(t *testing.T) {
	line := gpio.NewFakeLine(true)
	client := mqtt.NewFakeClient()
	client.Connected = true
	r := New(line, client, "cam-07", "")

	if err := r.SetEnabled(false); err != nil {
		t.Fatalf("SetEnabled(false): %v", err)
	}
	if line.Value() {
		t.Error("line should be low")
	}
	if client.Disconnects != 1 {
		t.Errorf("Disconnects: got %d, want 1", client.Disconnects)
	}
	if r.IsConnected() {
		t.Error("IsConnected should be false while powered off")
	}

	if err := r.SetEnabled(true); err != nil {
		t.Fatalf("SetEnabled(true): %v", err)
	}
	if !line.Value() {
		t.Error("line should be high")
	}
}

func TestSetEnabledLineError(t *testing.T) {
	line := gpio.NewFakeLine(true)
	line.SetError = errors.New("busy")
	r := New(line, mqtt.NewFakeClient(), "cam-07", "")
	if err := r.SetEnabled(false); err == nil {
		t.Error("expected error from line")
	}
}

func TestConnectRequiresPower(t *testing.T) {
	client := mqtt.NewFakeClient()
	r := New(gpio.NewFakeLine(false), client, "cam-07", "")

	if err := r.Connect(context.Background()); !errors.Is(err, ErrPoweredOff) {
		t.Errorf("got %v, want ErrPoweredOff", err)
	}
	if client.Connects != 0 {
		t.Error("client should not be asked to connect while powered off")
	}
}

func TestConnectAndSend(t *testing.T) {
	client := mqtt.NewFakeClient()
	r := New(gpio.NewFakeLine(true), client, "cam-07", "")

	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !r.IsConnected() {
		t.Error("expected connected")
	}
	if err := r.Send(context.Background(), []byte{0xa1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(client.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.Messages))
	}
	m := client.Messages[0]
	if m.Topic != "camnode/cam-07/records" || m.QoS != 1 || m.Retained {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestInfoReadsWirelessTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wireless")
	if err := os.WriteFile(path, []byte(wirelessTable), 0644); err != nil {
		t.Fatal(err)
	}
	r := New(gpio.NewFakeLine(true), mqtt.NewFakeClient(), "cam-07", "wlan0")
	r.wirelessPath = path

	info := r.Info()
	if !info.HasRSSI || info.RSSI != -56 {
		t.Errorf("Info: got %+v, want RSSI -56", info)
	}
}

func TestInfoWithoutInterface(t *testing.T) {
	r := New(gpio.NewFakeLine(true), mqtt.NewFakeClient(), "cam-07", "")
	if info := r.Info(); info.Address != "" || info.HasRSSI {
		t.Errorf("expected empty info, got %+v", info)
	}
}
