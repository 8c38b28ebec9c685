// Package radio binds the primary radio hardware to the control loop: the
// module's power-enable GPIO line, the broker session carried over it, and
// the interface's address and signal strength.
//
// Radio satisfies link.Driver, power.RadioSwitch and upload.Sender.
package radio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sweeney/camnode/internal/gpio"
	"github.com/sweeney/camnode/internal/link"
	"github.com/sweeney/camnode/internal/mqtt"
)

// ErrPoweredOff is returned by Connect and Send while the radio is disabled.
var ErrPoweredOff = errors.New("radio powered off")

// WirelessPath is the kernel's per-interface wireless statistics table.
const WirelessPath = "/proc/net/wireless"

// Radio is the real radio driver.
type Radio struct {
	mu     sync.Mutex
	line   gpio.Line
	client mqtt.Client
	topic  string

	iface        string
	wirelessPath string
}

// New creates a Radio. iface names the network interface to report on
// (e.g. "wlan0"); empty disables address and signal reporting.
func New(line gpio.Line, client mqtt.Client, nodeID, iface string) *Radio {
	return &Radio{
		line:         line,
		client:       client,
		topic:        mqtt.Topic(nodeID, mqtt.KindRecords),
		iface:        iface,
		wirelessPath: WirelessPath,
	}
}

// SetEnabled powers the radio module up or down. Powering down closes the
// broker session first.
func (r *Radio) SetEnabled(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !on {
		r.client.Disconnect()
	}
	if err := r.line.Set(on); err != nil {
		return fmt.Errorf("radio power %v: %w", on, err)
	}
	return nil
}

// Enabled reports whether the module is powered.
func (r *Radio) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.line.Value()
}

// Connect opens the broker session over the radio.
func (r *Radio) Connect(ctx context.Context) error {
	if !r.Enabled() {
		return ErrPoweredOff
	}
	return r.client.Connect(ctx)
}

// IsConnected reports whether the radio is powered and the session is open.
func (r *Radio) IsConnected() bool {
	return r.Enabled() && r.client.IsConnected()
}

// Send publishes one record payload at QoS 1.
func (r *Radio) Send(ctx context.Context, payload []byte) error {
	if !r.Enabled() {
		return ErrPoweredOff
	}
	return r.client.Publish(ctx, mqtt.Message{Topic: r.topic, Payload: payload, QoS: 1})
}

// Info returns the interface address and signal strength. Missing values
// are left empty rather than reported as errors.
func (r *Radio) Info() link.Info {
	var info link.Info
	if r.iface == "" {
		return info
	}
	info.Address = interfaceAddress(r.iface)

	f, err := os.Open(r.wirelessPath)
	if err != nil {
		return info
	}
	defer f.Close()
	info.RSSI, info.HasRSSI = parseWireless(f, r.iface)
	return info
}

func interfaceAddress(name string) string {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return ""
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}
	var fallback string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
		if fallback == "" && !ipnet.IP.IsLinkLocalUnicast() {
			fallback = ipnet.IP.String()
		}
	}
	return fallback
}

// parseWireless extracts the signal level (dBm) for iface from the
// /proc/net/wireless table:
//
//	Inter-| sta-|   Quality        |   Discarded packets ...
//	 face | tus | link level noise |  nwid  crypt ...
//	 wlan0: 0000   54.  -56.  -256        0      0 ...
func parseWireless(r io.Reader, iface string) (int, bool) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		name, rest, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) != iface {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			return 0, false
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			return 0, false
		}
		return int(level), true
	}
	return 0, false
}
