// Package bridge is the boundary between the daemon and the rendering front
// end. Renderers connect over a websocket, receive set_webview commands and
// report the live connector set; observers receive session state.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/maypaper/maypaper/internal/mailbox"
	"github.com/maypaper/maypaper/internal/metrics"
	"github.com/maypaper/maypaper/internal/session"
	"github.com/maypaper/maypaper/internal/topology"
)

// outbound is one message waiting in the hub outbox. A nil target fans out
// to every client with role.
type outbound struct {
	data   []byte
	role   Role
	target *client
}

type HubOptions struct {
	// PingInterval is how often each client is pinged.
	PingInterval time.Duration
	// Throttle batches session changes into one delta per window.
	Throttle time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Hub fans daemon output out to connected clients. Outbound messages pass
// through an unbounded FIFO outbox so callers never block on slow sockets.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	outbox *mailbox.Mailbox[outbound]
	cell   *topology.Cell

	pingInterval time.Duration
	throttle     time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger

	flushMu    sync.Mutex
	pending    map[string]session.Entry
	flushTimer clockwork.Timer
}

func NewHub(cell *topology.Cell, opts HubOptions) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		clients:      make(map[*client]struct{}),
		outbox:       mailbox.New[outbound](),
		cell:         cell,
		pingInterval: opts.PingInterval,
		throttle:     opts.Throttle,
		clock:        opts.Clock,
		logger:       opts.Logger,
		pending:      make(map[string]session.Entry),
	}
}

// SetWebview tells every renderer to display address on connector.
func (h *Hub) SetWebview(connector, address string) {
	h.enqueue(RoleRenderer, nil, Message{
		Type:    MsgSetWebview,
		Payload: SetWebviewPayload{Connector: connector, Address: address},
	})
}

// PublishTopology replaces the connector snapshot. The hub is the topology
// cell's only writer.
func (h *Hub) PublishTopology(connectors []string) topology.Snapshot {
	snap := h.cell.Publish(connectors)
	metrics.TopologyUpdatesTotal.Inc()
	h.logger.Info("renderer reported connectors",
		"version", snap.Version(),
		"connectors", snap.Connectors(),
	)
	return snap
}

// ObserveSession queues a session change for observers. It is registered as
// the session store's change callback and only buffers.
func (h *Hub) ObserveSession(ev session.Event) {
	h.flushMu.Lock()
	defer h.flushMu.Unlock()

	h.pending[ev.Entry.Connector] = ev.Entry
	if h.throttle <= 0 {
		h.flushLocked()
		return
	}
	if h.flushTimer == nil {
		h.flushTimer = h.clock.AfterFunc(h.throttle, h.flush)
	}
}

func (h *Hub) flush() {
	h.flushMu.Lock()
	defer h.flushMu.Unlock()
	h.flushTimer = nil
	h.flushLocked()
}

func (h *Hub) flushLocked() {
	if len(h.pending) == 0 {
		return
	}
	updates := make([]session.Entry, 0, len(h.pending))
	for _, entry := range h.pending {
		updates = append(updates, entry)
	}
	clear(h.pending)
	h.enqueue(RoleObserver, nil, Message{Type: MsgDelta, Payload: DeltaPayload{Updates: updates}})
}

func (h *Hub) enqueue(role Role, target *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshaling bridge message", "type", msg.Type, "error", err)
		return
	}
	h.outbox.Put(outbound{data: data, role: role, target: target})
}

// sendTo queues msg for a single client, behind everything already queued.
func (h *Hub) sendTo(c *client, msg Message) {
	h.enqueue(c.role, c, msg)
}

// AddClient registers conn and starts its writer.
func (h *Hub) AddClient(conn *websocket.Conn, role Role) *client {
	c := newClient(conn, role, h.clock, h.pingInterval)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.stop()
		return c
	}
	h.clients[c] = struct{}{}
	metrics.BridgeClients.WithLabelValues(string(role)).Inc()
	return c
}

func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.stop()
		metrics.BridgeClients.WithLabelValues(string(c.role)).Dec()
	}
}

// ClientCount returns the number of connected clients with role.
func (h *Hub) ClientCount(role Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.role == role {
			n++
		}
	}
	return n
}

// Run delivers queued messages and announces topology changes to observers
// until ctx is cancelled. On return every client is disconnected.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	changed := h.cell.Changed()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.outbox.Ready():
			for _, out := range h.outbox.Drain() {
				h.deliver(out)
			}
		case <-changed:
			changed = h.cell.Changed()
			snap := h.cell.Load()
			h.enqueue(RoleObserver, nil, Message{
				Type:    MsgTopology,
				Payload: TopologyPayload{Version: snap.Version(), Connectors: snap.Connectors()},
			})
		}
	}
}

func (h *Hub) deliver(out outbound) {
	var slow []*client

	h.mu.RLock()
	if out.target != nil {
		if _, ok := h.clients[out.target]; ok && !out.target.enqueue(out.data) {
			slow = append(slow, out.target)
		}
	} else {
		for c := range h.clients {
			if c.role == out.role && !c.enqueue(out.data) {
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("bridge client too slow, disconnecting", "role", c.role)
		h.RemoveClient(c)
	}
}

func (h *Hub) closeAll() {
	h.outbox.Close()

	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		delete(h.clients, c)
		c.stop()
		metrics.BridgeClients.WithLabelValues(string(c.role)).Dec()
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.flushMu.Lock()
	if h.flushTimer != nil {
		h.flushTimer.Stop()
		h.flushTimer = nil
	}
	h.flushMu.Unlock()

	for _, c := range clients {
		<-c.done
	}
}
