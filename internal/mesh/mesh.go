// Package mesh tracks the liveness of peer nodes on the secondary radio.
// Peers are never forgotten: a node not heard from for three heartbeats is
// reported stale, and counts as active again as soon as it is seen.
package mesh

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/camnode/internal/fault"
	"github.com/sweeney/camnode/internal/logging"
	"github.com/sweeney/camnode/internal/state"
)

// StaleAfter is the number of missed heartbeats after which a peer is stale.
const StaleAfter = 3

// Peer is a node reported by the driver.
type Peer struct {
	ID       string
	LastSeen time.Time
}

// Driver lists peers heard on the mesh radio.
type Driver interface {
	ListPeers(ctx context.Context) ([]Peer, error)
}

// Config configures a Monitor.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	Heartbeat time.Duration
	Timeout   time.Duration
}

// Node is a known peer with its classification at the last check.
type Node struct {
	ID       string
	LastSeen time.Time
	Alive    bool
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Active    int
	Known     int
	LastCheck time.Time
	Nodes     []Node
}

// Monitor runs the periodic health check. It owns state.Shared's
// lastMeshCheck field.
type Monitor struct {
	cfg    Config
	drv    Driver
	shared *state.Shared
	log    *logging.Logger

	mu     sync.Mutex
	known  map[string]time.Time
	nodes  []Node
	active int
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config, drv Driver, shared *state.Shared, log *logging.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		drv:    drv,
		shared: shared,
		log:    log.With("mesh"),
		known:  make(map[string]time.Time),
	}
}

// Tick runs a health check if enabled and due. A driver failure still
// reclassifies the known set against now.
func (m *Monitor) Tick(ctx context.Context, now time.Time) error {
	if !m.cfg.Enabled {
		return nil
	}
	if !state.Due(m.shared.LastMeshCheck(), now, m.cfg.Interval) {
		return nil
	}
	m.shared.SetLastMeshCheck(now)

	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	peers, err := m.drv.ListPeers(ctx)

	m.mu.Lock()
	if err == nil {
		m.merge(peers)
	}
	prev := m.active
	m.classify(now)
	active, known := m.active, len(m.known)
	m.mu.Unlock()

	if err != nil {
		m.log.Warnf("list peers: %v", err)
		return fmt.Errorf("%w: mesh: %v", fault.ErrTransientLink, err)
	}
	if active != prev {
		m.log.Infof("%d of %d peers active", active, known)
	}
	return nil
}

// merge adds new peers and moves lastSeen forward. It never removes.
func (m *Monitor) merge(peers []Peer) {
	for _, p := range peers {
		if p.ID == "" {
			continue
		}
		seen, ok := m.known[p.ID]
		if !ok {
			m.log.Infof("discovered peer %s", p.ID)
		}
		if !ok || p.LastSeen.After(seen) {
			m.known[p.ID] = p.LastSeen
		}
	}
}

func (m *Monitor) classify(now time.Time) {
	threshold := StaleAfter * m.cfg.Heartbeat
	nodes := make([]Node, 0, len(m.known))
	active := 0
	for id, seen := range m.known {
		alive := now.Sub(seen) <= threshold
		if alive {
			active++
		}
		nodes = append(nodes, Node{ID: id, LastSeen: seen, Alive: alive})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	m.nodes = nodes
	m.active = active
}

// Status returns a snapshot for reporting.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := make([]Node, len(m.nodes))
	copy(nodes, m.nodes)
	return Status{
		Active:    m.active,
		Known:     len(m.known),
		LastCheck: m.shared.LastMeshCheck(),
		Nodes:     nodes,
	}
}
