package mesh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Domain is the mDNS domain peers advertise in.
const Domain = "local."

// ZeroconfDriver discovers peers by browsing for their mDNS advertisement and
// advertises this node in turn. A peer's lastSeen is the time of its most
// recent answer.
type ZeroconfDriver struct {
	nodeID  string
	service string
	port    int
	ifaces  []net.Interface
	now     func() time.Time

	mu     sync.Mutex
	seen   map[string]time.Time
	server *zeroconf.Server
	cancel context.CancelFunc
}

// NewZeroconfDriver creates a driver for service (e.g. "_camnode._udp").
// A nil ifaces means all interfaces.
func NewZeroconfDriver(nodeID, service string, port int, ifaces []net.Interface) *ZeroconfDriver {
	return &ZeroconfDriver{
		nodeID:  nodeID,
		service: service,
		port:    port,
		ifaces:  ifaces,
		now:     time.Now,
		seen:    make(map[string]time.Time),
	}
}

// Start advertises this node and begins browsing. Browsing stops when ctx is
// done or Close is called.
func (d *ZeroconfDriver) Start(ctx context.Context) error {
	server, err := zeroconf.Register(
		d.nodeID,
		d.service,
		Domain,
		d.port,
		[]string{"node=" + d.nodeID},
		d.ifaces,
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", d.service, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.server = server
	d.cancel = cancel
	d.mu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				d.observe(entry.Instance)
			case <-removed:
				// Goodbye packets are ignored; staleness covers departures.
			case <-ctx.Done():
				return
			}
		}
	}()

	var opts []zeroconf.ClientOption
	if len(d.ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(d.ifaces))
	}
	go func() {
		_ = zeroconf.Browse(ctx, d.service, Domain, entries, removed, opts...)
	}()
	return nil
}

// ListPeers implements Driver.
func (d *ZeroconfDriver) ListPeers(ctx context.Context) ([]Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers := make([]Peer, 0, len(d.seen))
	for id, at := range d.seen {
		peers = append(peers, Peer{ID: id, LastSeen: at})
	}
	return peers, nil
}

// Close stops browsing and withdraws the advertisement.
func (d *ZeroconfDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.server != nil {
		d.server.Shutdown()
		d.server = nil
	}
}

func (d *ZeroconfDriver) observe(instance string) {
	if instance == "" || instance == d.nodeID {
		return
	}
	d.mu.Lock()
	d.seen[instance] = d.now()
	d.mu.Unlock()
}
