// Package router serializes every state transition of the daemon.
//
// A single goroutine (Run) owns all writes to the session store and every
// acquire and release on the lease manager. IPC connections, lease start
// tasks and state queries reach it only through an unbounded inbox; topology
// changes arrive through the topology cell. Nothing on the router goroutine
// blocks: server starts run on their own goroutines and report back as
// lease-ready events.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/maypaper/maypaper/internal/ipc"
	"github.com/maypaper/maypaper/internal/lease"
	"github.com/maypaper/maypaper/internal/mailbox"
	"github.com/maypaper/maypaper/internal/metrics"
	"github.com/maypaper/maypaper/internal/session"
	"github.com/maypaper/maypaper/internal/topology"
)

// ErrStopped is returned by State once the router has exited.
var ErrStopped = errors.New("router stopped")

// LeaseManager is the subset of *lease.Manager the router drives.
type LeaseManager interface {
	Acquire(path, connector string) <-chan lease.Result
	Release(path, connector string) bool
	Leases() []lease.Info
}

// Renderer receives display commands. SetWebview is called on the router
// goroutine and must not block.
type Renderer interface {
	SetWebview(connector, address string)
}

// event is anything the router goroutine processes from its inbox.
type event interface{ isEvent() }

type baseEvent struct{}

func (baseEvent) isEvent() {}

type commandEvent struct {
	baseEvent
	cmd ipc.Command
}

type leaseReadyEvent struct {
	baseEvent
	connector  string
	generation uint64
	result     lease.Result
}

type stateQuery struct {
	baseEvent
	reply chan State
}

type withStateEvent struct {
	baseEvent
	fn func(State)
}

// State is a consistent view taken on the router goroutine.
type State struct {
	TopologyVersion uint64            `json:"topologyVersion"`
	Connectors      []string          `json:"connectors"`
	Entries         []session.Entry   `json:"entries"`
	Leases          []lease.Info      `json:"leases"`
	Pending         map[string]string `json:"pending"`
	InFlight        int               `json:"inFlight"`
}

type Router struct {
	inbox    *mailbox.Mailbox[event]
	store    *session.Store
	leases   LeaseManager
	renderer Renderer
	topology *topology.Cell
	logger   *slog.Logger

	// Owned by the Run goroutine.
	generations map[string]uint64
	pending     map[string]string
	inFlight    int
}

func New(store *session.Store, leases LeaseManager, renderer Renderer, cell *topology.Cell, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		inbox:       mailbox.New[event](),
		store:       store,
		leases:      leases,
		renderer:    renderer,
		topology:    cell,
		logger:      logger,
		generations: make(map[string]uint64),
		pending:     make(map[string]string),
	}
}

// Submit queues cmd for processing and never blocks. It reports false if the
// router has already stopped; the command is dropped.
func (r *Router) Submit(cmd ipc.Command) bool {
	return r.inbox.Put(commandEvent{cmd: cmd})
}

// State asks the router goroutine for a consistent view of sessions, leases
// and the topology.
func (r *Router) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if !r.inbox.Put(stateQuery{reply: reply}) {
		return State{}, ErrStopped
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// WithState runs fn on the router goroutine with the current state. fn must
// not block. Anything fn hands to the renderer is ordered after the output of
// every command committed before it and before the output of every later
// one. It reports false if the router has stopped, in which case fn never
// runs.
func (r *Router) WithState(fn func(State)) bool {
	return r.inbox.Put(withStateEvent{fn: fn})
}

// Run processes events until ctx is cancelled. Pending events and lease
// releases are not drained on exit.
func (r *Router) Run(ctx context.Context) error {
	defer r.inbox.Close()

	changed := r.topology.Changed()
	r.handleTopology(r.topology.Load())

	r.logger.Info("router started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("router stopped", "dropped", r.inbox.Len())
			return nil
		case <-changed:
			changed = r.topology.Changed()
			r.handleTopology(r.topology.Load())
		case <-r.inbox.Ready():
			batch := r.inbox.Drain()
			metrics.RouterQueueDepth.Set(float64(len(batch)))
			for _, ev := range batch {
				if ctx.Err() != nil {
					break
				}
				r.dispatch(ev)
			}
		}
	}
}

func (r *Router) dispatch(ev event) {
	switch e := ev.(type) {
	case commandEvent:
		r.handleCommand(e.cmd)
	case leaseReadyEvent:
		r.handleLeaseReady(e)
	case stateQuery:
		e.reply <- r.state()
	case withStateEvent:
		e.fn(r.state())
	default:
		r.logger.Error("unknown router event", "type", fmt.Sprintf("%T", ev))
	}
}

// targets resolves the connectors a command applies to. Broadcasts copy the
// snapshot current at arrival; later topology changes do not affect them.
func (r *Router) targets(cmd ipc.Command) []string {
	snap := r.topology.Load()
	if monitor := cmd.Monitor(); monitor != "" {
		if !snap.Contains(monitor) {
			r.logger.Debug("connector not in current topology",
				"connector", monitor,
				"version", snap.Version(),
			)
		}
		return []string{monitor}
	}
	if snap.Len() == 0 {
		return nil
	}
	return snap.Connectors()
}

func (r *Router) handleCommand(cmd ipc.Command) {
	targets := r.targets(cmd)
	if len(targets) == 0 {
		r.logger.Warn("no connectors known; command dropped", "kind", cmd.Kind())
		return
	}

	switch {
	case cmd.SetURL != nil:
		for _, connector := range targets {
			r.setURL(connector, cmd.SetURL.URL)
		}
	case cmd.SetPath != nil:
		path := lease.Key(cmd.SetPath.Path)
		for _, connector := range targets {
			r.setPath(connector, path)
		}
	}
}

// supersede starts a new generation for connector. Acquisitions issued under
// an older generation are stale when they complete.
func (r *Router) supersede(connector string) uint64 {
	r.store.Ensure(connector)
	r.generations[connector]++
	delete(r.pending, connector)
	return r.generations[connector]
}

func (r *Router) setURL(connector, url string) {
	r.supersede(connector)

	previous := r.store.Set(connector, session.URLReference(url))
	r.renderer.SetWebview(connector, url)
	metrics.RenderCommandsTotal.Inc()
	r.logger.Info("connector set", "connector", connector, "url", url)

	if previous.IsLocal() {
		r.leases.Release(previous.Path, connector)
	}
}

func (r *Router) setPath(connector, path string) {
	generation := r.supersede(connector)
	r.pending[connector] = path
	r.inFlight++

	results := r.leases.Acquire(path, connector)
	go func() {
		res := <-results
		// Dropped after shutdown.
		r.inbox.Put(leaseReadyEvent{connector: connector, generation: generation, result: res})
	}()
	r.logger.Debug("lease requested", "connector", connector, "path", path, "generation", generation)
}

func (r *Router) handleLeaseReady(e leaseReadyEvent) {
	r.inFlight--
	res := e.result
	current := r.generations[e.connector] == e.generation

	if res.Err != nil {
		metrics.FailedAcquisitionsTotal.Inc()
		if current {
			delete(r.pending, e.connector)
		}
		previous, _ := r.store.Get(e.connector)
		r.logger.Warn("lease acquisition failed; keeping previous content",
			"connector", e.connector,
			"path", res.Path,
			"previous", previous.String(),
			"error", res.Err,
		)
		return
	}

	if !current {
		metrics.StaleAcquisitionsTotal.Inc()
		r.leases.Release(res.Path, e.connector)
		r.logger.Debug("discarding superseded lease",
			"connector", e.connector,
			"path", res.Path,
			"generation", e.generation,
		)
		return
	}

	delete(r.pending, e.connector)
	previous := r.store.Set(e.connector, session.PathReference(res.Path, res.Address))
	r.renderer.SetWebview(e.connector, res.Address)
	metrics.RenderCommandsTotal.Inc()
	r.logger.Info("connector set",
		"connector", e.connector,
		"path", res.Path,
		"address", res.Address,
	)

	// The old lease may still be serving while the new one is live; it is
	// released only after the new reference is committed.
	if previous.IsLocal() {
		removed := r.leases.Release(previous.Path, e.connector)
		r.logger.Debug("released superseded lease",
			"connector", e.connector,
			"path", previous.Path,
			"removed", removed,
		)
	}
}

func (r *Router) handleTopology(snap topology.Snapshot) {
	for _, connector := range snap.Connectors() {
		r.store.Ensure(connector)
	}
	r.logger.Info("topology changed",
		"version", snap.Version(),
		"connectors", snap.Connectors(),
	)
}

func (r *Router) state() State {
	snap := r.topology.Load()
	return State{
		TopologyVersion: snap.Version(),
		Connectors:      snap.Connectors(),
		Entries:         r.store.All(),
		Leases:          r.leases.Leases(),
		Pending:         maps.Clone(r.pending),
		InFlight:        r.inFlight,
	}
}
