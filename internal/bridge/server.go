package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maypaper/maypaper/internal/router"
)

const stateTimeout = 2 * time.Second

// StateSource provides a consistent view of daemon state.
type StateSource interface {
	State(ctx context.Context) (router.State, error)
	// WithState runs fn serialized with state changes, so anything fn
	// queues lands between the output of earlier and later commands.
	WithState(fn func(router.State)) bool
}

type ServerOptions struct {
	// AllowedOrigins restricts websocket origins. Empty allows same-host and
	// loopback origins.
	AllowedOrigins []string
	// Token, when set, is required on every request.
	Token  string
	Logger *slog.Logger
}

type Server struct {
	hub            *Hub
	state          StateSource
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	token          string
	logger         *slog.Logger
	upgrader       websocket.Upgrader
}

func NewServer(hub *Hub, state StateSource, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:            hub,
		state:          state,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		token:          opts.Token,
		logger:         logger,
	}
	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Routes returns the bridge HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.authorize)
		r.Get("/bridge", s.handleRenderer)
		r.Get("/ws", s.handleObserver)
		r.Get("/api/state", s.handleState)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"renderers": s.hub.ClientCount(RoleRenderer),
		"observers": s.hub.ClientCount(RoleObserver),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stateTimeout)
	defer cancel()

	st, err := s.state.State(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

// handleRenderer serves the rendering front end. On connect the current
// content of every connector is replayed so a restarted renderer repaints.
func (s *Server) handleRenderer(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("renderer upgrade failed", "error", err)
		return
	}
	c := s.hub.AddClient(conn, RoleRenderer)
	s.logger.Info("renderer connected", "remote", r.RemoteAddr)

	replayed := s.state.WithState(func(st router.State) {
		for _, entry := range st.Entries {
			if target := entry.Reference.Target(); target != "" {
				s.hub.sendTo(c, Message{
					Type:    MsgSetWebview,
					Payload: SetWebviewPayload{Connector: entry.Connector, Address: target},
				})
			}
		}
	})
	if !replayed {
		s.logger.Warn("renderer replay skipped", "error", router.ErrStopped)
	}

	go func() {
		defer func() {
			s.hub.RemoveClient(c)
			s.logger.Info("renderer disconnected", "remote", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleRendererMessage(c, data)
		}
	}()
}

func (s *Server) handleRendererMessage(c *client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.hub.sendTo(c, errorMessage("invalid message: %v", err))
		return
	}

	switch env.Type {
	case MsgConnectors:
		var p ConnectorsPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.hub.sendTo(c, errorMessage("invalid %s payload: %v", env.Type, err))
			return
		}
		s.hub.PublishTopology(p.Connectors)
	default:
		s.logger.Debug("ignoring renderer message", "type", env.Type)
	}
}

// handleObserver serves status watchers: a snapshot on connect, then deltas.
func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("observer upgrade failed", "error", err)
		return
	}
	c := s.hub.AddClient(conn, RoleObserver)
	s.logger.Debug("observer connected", "remote", r.RemoteAddr)

	snapshotted := s.state.WithState(func(st router.State) {
		s.hub.sendTo(c, Message{Type: MsgSnapshot, Payload: SnapshotPayload{State: st}})
	})
	if !snapshotted {
		s.hub.sendTo(c, errorMessage("state unavailable: %v", router.ErrStopped))
	}

	go func() {
		defer s.hub.RemoveClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func errorMessage(format string, args ...any) Message {
	return Message{Type: MsgError, Payload: ErrorPayload{Message: fmt.Sprintf(format, args...)}}
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" ||
			r.URL.Query().Get("token") == s.token ||
			r.Header.Get("X-Maypaper-Token") == s.token ||
			strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") == s.token {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	// Renderer shells run from file:// pages.
	if parsed.Scheme == "file" {
		return true
	}
	if parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Serve serves handler on ln until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
