package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// FileServerStarter serves leased paths over HTTP on an ephemeral loopback
// port. A directory is served as is; a file is served from its containing
// directory and the address points at the file. Each server mounts its
// content under a random token so addresses are not guessable across leases.
type FileServerStarter struct {
	Host   string
	Logger *slog.Logger
}

type fileServer struct {
	srv     *http.Server
	address string
}

func (f *fileServer) Address() string { return f.address }

func (f *fileServer) Shutdown(ctx context.Context) error {
	return f.srv.Shutdown(ctx)
}

func (s FileServerStarter) Start(ctx context.Context, path string) (Server, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("path %q is not absolute", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	root, file := path, ""
	if !info.IsDir() {
		root, file = filepath.Dir(path), filepath.Base(path)
	}

	host := s.Host
	if host == "" {
		host = "127.0.0.1"
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", host, err)
	}

	prefix := "/" + uuid.NewString()
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(noStore)
	r.Mount(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(root))))

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("lease server stopped unexpectedly", "root", root, "error", err)
		}
	}()

	address := (&url.URL{
		Scheme: "http",
		Host:   listener.Addr().String(),
		Path:   prefix + "/" + file,
	}).String()
	return &fileServer{srv: srv, address: address}, nil
}

// noStore keeps renderers from caching content across leases of the same
// path, which can be replaced on disk between leases.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
