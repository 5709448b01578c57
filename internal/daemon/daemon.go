// Package daemon wires the control socket, router, lease manager and bridge
// into one process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/maypaper/maypaper/internal/bridge"
	"github.com/maypaper/maypaper/internal/config"
	"github.com/maypaper/maypaper/internal/ipc"
	"github.com/maypaper/maypaper/internal/lease"
	"github.com/maypaper/maypaper/internal/router"
	"github.com/maypaper/maypaper/internal/session"
	"github.com/maypaper/maypaper/internal/topology"
)

type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store  *session.Store
	cell   *topology.Cell
	hub    *bridge.Hub
	leases *lease.Manager
	router *router.Router
	server *bridge.Server

	control  *ipc.Listener
	bridgeLn net.Listener
}

// New binds the control socket and, when configured, the bridge listener.
// Nothing is served until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	control, err := ipc.Listen(cfg.Socket, ipc.Options{
		ReadTimeout:     cfg.IPC.ReadTimeout,
		MaxMessageBytes: cfg.IPC.MaxMessageBytes,
		AllowOtherUsers: cfg.IPC.AllowOtherUsers,
		Logger:          logger.With("component", "ipc"),
	})
	if err != nil {
		return nil, err
	}

	var bridgeLn net.Listener
	if cfg.Bridge.Listen != "" {
		bridgeLn, err = net.Listen("tcp", cfg.Bridge.Listen)
		if err != nil {
			control.Close()
			return nil, fmt.Errorf("bridge listen on %s: %w", cfg.Bridge.Listen, err)
		}
	}

	store := session.NewStore(nil)
	cell := topology.NewCell()
	hub := bridge.NewHub(cell, bridge.HubOptions{
		PingInterval: cfg.Bridge.PingInterval,
		Throttle:     cfg.Bridge.Throttle,
		Logger:       logger.With("component", "bridge"),
	})
	store.OnChange(hub.ObserveSession)

	leases := lease.NewManager(
		lease.FileServerStarter{Host: cfg.Lease.Host, Logger: logger.With("component", "fileserver")},
		lease.Options{
			ShutdownTimeout: cfg.Lease.ShutdownTimeout,
			Logger:          logger.With("component", "lease"),
		},
	)
	r := router.New(store, leases, hub, cell, logger.With("component", "router"))

	return &Daemon{
		cfg:    cfg,
		logger: logger,
		store:  store,
		cell:   cell,
		hub:    hub,
		leases: leases,
		router: r,
		server: bridge.NewServer(hub, r, bridge.ServerOptions{
			AllowedOrigins: cfg.Bridge.AllowedOrigins,
			Token:          cfg.Bridge.Token,
			Logger:         logger.With("component", "bridge"),
		}),
		control:  control,
		bridgeLn: bridgeLn,
	}, nil
}

// BridgeAddr returns the bound bridge address, or "" if the bridge is off.
func (d *Daemon) BridgeAddr() string {
	if d.bridgeLn == nil {
		return ""
	}
	return d.bridgeLn.Addr().String()
}

func (d *Daemon) SocketPath() string { return d.control.Path() }

// Router exposes the router for status queries.
func (d *Daemon) Router() *router.Router { return d.router }

// Run serves until ctx is cancelled or a component fails, then stops every
// lease server.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.router.Run(gctx) })
	g.Go(func() error {
		d.hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return d.control.Serve(gctx, d.submit) })
	if d.bridgeLn != nil {
		g.Go(func() error { return bridge.Serve(gctx, d.bridgeLn, d.server.Routes(), d.logger) })
	}

	d.logger.Info("maypaper running",
		"socket", d.control.Path(),
		"bridge", d.BridgeAddr(),
	)
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Lease.ShutdownTimeout)
	defer cancel()
	if cerr := d.leases.Close(shutdownCtx); cerr != nil {
		d.logger.Warn("lease shutdown incomplete", "error", cerr)
	}
	d.logger.Info("maypaper stopped")
	return err
}

func (d *Daemon) submit(cmd ipc.Command) {
	if !d.router.Submit(cmd) {
		d.logger.Warn("router stopped; command dropped", "kind", cmd.Kind())
	}
}
