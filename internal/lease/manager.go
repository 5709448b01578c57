// Package lease manages reference-counted local content servers.
//
// A lease exists for each filesystem path some connector displays. It holds
// the address of an HTTP server exposing the path and one hold per connector
// reference. The server starts on the first acquisition and is shut down when
// the last hold is released.
package lease

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/maypaper/maypaper/internal/metrics"
)

var (
	// ErrReleased is returned to waiters when the manager is closed while a
	// server is still starting.
	ErrReleased = errors.New("lease released before its server started")

	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("lease manager closed")
)

// Server is a running local content server.
type Server interface {
	// Address is the URL a renderer loads to display the leased path.
	Address() string
	Shutdown(ctx context.Context) error
}

// Starter starts a server exposing path. Start returns once the server is
// accepting connections.
type Starter interface {
	Start(ctx context.Context, path string) (Server, error)
}

// Result is delivered once per Acquire.
type Result struct {
	Path      string
	Connector string
	Address   string
	Err       error
}

// Info describes a registered lease.
type Info struct {
	ID         string         `json:"id"`
	Path       string         `json:"path"`
	Address    string         `json:"address,omitempty"`
	Count      int            `json:"count"`
	Holders    map[string]int `json:"holders"`
	Ready      bool           `json:"ready"`
	CreatedAt  time.Time      `json:"createdAt"`
	ReadySince time.Time      `json:"readySince,omitempty"`
}

type lease struct {
	id        string
	path      string
	holders   map[string]int
	count     int
	server    Server
	address   string
	createdAt time.Time
	readyAt   time.Time
}

func (l *lease) hold(connector string) {
	l.holders[connector]++
	l.count++
}

// drop removes one hold by connector. It reports false if connector held
// nothing.
func (l *lease) drop(connector string) bool {
	n := l.holders[connector]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(l.holders, connector)
	} else {
		l.holders[connector] = n - 1
	}
	l.count--
	return true
}

type Options struct {
	// ShutdownTimeout bounds each server's graceful shutdown.
	ShutdownTimeout time.Duration
	Clock           clockwork.Clock
	Logger          *slog.Logger
}

type Manager struct {
	mu      sync.Mutex
	leases  map[string]*lease
	closed  bool
	starts  singleflight.Group
	starter Starter

	ctx    context.Context
	cancel context.CancelFunc

	shutdownTimeout time.Duration
	clock           clockwork.Clock
	logger          *slog.Logger
	teardowns       sync.WaitGroup
}

func NewManager(starter Starter, opts Options) *Manager {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		leases:          make(map[string]*lease),
		starter:         starter,
		ctx:             ctx,
		cancel:          cancel,
		shutdownTimeout: opts.ShutdownTimeout,
		clock:           opts.Clock,
		logger:          opts.Logger,
	}
}

// Key is the registry key for path.
func Key(path string) string {
	return filepath.Clean(path)
}

// Acquire adds a hold for connector on path and returns a channel that
// receives exactly one Result. The hold is recorded before Acquire returns.
//
// If the lease is already serving, the existing address is delivered
// immediately. Otherwise the caller joins the lease's start task: concurrent
// acquisitions for one path start a single server and all observe its
// result. On failure the caller's hold is withdrawn before the error is
// delivered.
func (m *Manager) Acquire(path, connector string) <-chan Result {
	key := Key(path)
	out := make(chan Result, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		out <- Result{Path: key, Connector: connector, Err: ErrClosed}
		return out
	}
	l, ok := m.leases[key]
	if !ok {
		l = &lease{
			id:        uuid.NewString(),
			path:      key,
			holders:   make(map[string]int),
			createdAt: m.clock.Now(),
		}
		m.leases[key] = l
		metrics.LeasesActive.Inc()
	}
	l.hold(connector)
	count := l.count
	if l.address != "" {
		address := l.address
		m.mu.Unlock()
		m.logger.Debug("lease joined", "path", key, "connector", connector, "count", count)
		out <- Result{Path: key, Connector: connector, Address: address}
		return out
	}
	m.mu.Unlock()

	started := m.starts.DoChan(key, func() (any, error) {
		return m.start(key, l)
	})
	go func() {
		res := <-started
		if res.Err != nil {
			m.withdraw(key, l, connector)
			out <- Result{Path: key, Connector: connector, Err: res.Err}
			return
		}
		out <- Result{Path: key, Connector: connector, Address: res.Val.(string)}
	}()
	return out
}

// start runs inside the singleflight call for key.
func (m *Manager) start(key string, l *lease) (string, error) {
	m.mu.Lock()
	if l.address != "" {
		address := l.address
		m.mu.Unlock()
		return address, nil
	}
	m.mu.Unlock()

	begin := m.clock.Now()
	srv, err := m.starter.Start(m.ctx, key)
	if err != nil {
		metrics.LeaseStartsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("starting server for %s: %w", key, err)
	}
	metrics.LeaseStartsTotal.WithLabelValues("ok").Inc()
	metrics.LeaseStartDuration.Observe(m.clock.Since(begin).Seconds())

	m.mu.Lock()
	if m.closed || m.leases[key] != l {
		m.mu.Unlock()
		m.shutdown(l, srv)
		return "", ErrReleased
	}
	address := srv.Address()
	l.server = srv
	l.address = address
	l.readyAt = m.clock.Now()
	count := l.count
	m.mu.Unlock()

	m.logger.Info("lease server started",
		"path", key,
		"address", address,
		"lease", l.id,
		"count", count,
	)
	return address, nil
}

// withdraw drops a hold whose acquisition failed.
func (m *Manager) withdraw(key string, l *lease, connector string) {
	m.mu.Lock()
	if m.leases[key] != l || !l.drop(connector) {
		m.mu.Unlock()
		return
	}
	m.removeIfUnheldLocked(key, l)
}

// Release drops one hold by connector on path. When the count reaches zero
// the lease is removed and its server shut down in the background. Release
// reports whether the lease was removed. Unknown paths and connectors are
// ignored.
func (m *Manager) Release(path, connector string) bool {
	key := Key(path)

	m.mu.Lock()
	l, ok := m.leases[key]
	if !ok || !l.drop(connector) {
		m.mu.Unlock()
		m.logger.Debug("release without matching hold", "path", key, "connector", connector)
		return false
	}
	if l.count > 0 {
		count := l.count
		m.mu.Unlock()
		m.logger.Debug("lease released", "path", key, "connector", connector, "count", count)
		return false
	}
	return m.removeIfUnheldLocked(key, l)
}

// removeIfUnheldLocked is called with m.mu held and releases it.
func (m *Manager) removeIfUnheldLocked(key string, l *lease) bool {
	if l.count > 0 {
		m.mu.Unlock()
		return false
	}
	delete(m.leases, key)
	srv := l.server
	m.mu.Unlock()

	metrics.LeasesActive.Dec()
	m.logger.Info("lease removed", "path", key, "lease", l.id)
	if srv != nil {
		m.teardowns.Add(1)
		go func() {
			defer m.teardowns.Done()
			m.shutdown(l, srv)
		}()
	}
	return true
}

func (m *Manager) shutdown(l *lease, srv Server) {
	begin := m.clock.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		m.logger.Warn("lease server shutdown failed", "path", l.path, "error", err)
	}
	metrics.LeaseTeardownDuration.Observe(m.clock.Since(begin).Seconds())
	m.logger.Debug("lease server stopped", "path", l.path, "lease", l.id)
}

// Count returns the number of holds on path, zero if no lease exists.
func (m *Manager) Count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[Key(path)]; ok {
		return l.count
	}
	return 0
}

// Leases returns a description of every registered lease, sorted by path.
func (m *Manager) Leases() []Info {
	m.mu.Lock()
	result := make([]Info, 0, len(m.leases))
	for _, l := range m.leases {
		holders := make(map[string]int, len(l.holders))
		for c, n := range l.holders {
			holders[c] = n
		}
		result = append(result, Info{
			ID:         l.id,
			Path:       l.path,
			Address:    l.address,
			Count:      l.count,
			Holders:    holders,
			Ready:      l.address != "",
			CreatedAt:  l.createdAt,
			ReadySince: l.readyAt,
		})
	}
	m.mu.Unlock()

	slices.SortFunc(result, func(a, b Info) int { return cmp.Compare(a.Path, b.Path) })
	return result
}

// Close shuts down every registered server and refuses further
// acquisitions. Starts still in flight are cancelled. Close waits for
// background teardowns until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	leases := m.leases
	m.leases = make(map[string]*lease)
	m.mu.Unlock()

	m.cancel()

	var errs []error
	for key, l := range leases {
		metrics.LeasesActive.Dec()
		if l.server == nil {
			continue
		}
		if err := l.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down %s: %w", key, err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.teardowns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
