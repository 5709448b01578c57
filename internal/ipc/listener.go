package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/maypaper/maypaper/internal/metrics"
)

// ErrDaemonRunning is returned by Listen when another process is already
// accepting connections on the socket path.
var ErrDaemonRunning = errors.New("daemon already listening on socket")

const (
	defaultReadTimeout     = 5 * time.Second
	defaultMaxMessageBytes = 64 * 1024
	staleDialTimeout       = 500 * time.Millisecond

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Options tunes a Listener. Zero values select defaults.
type Options struct {
	// ReadTimeout bounds how long a client may take to send its message.
	ReadTimeout time.Duration
	// MaxMessageBytes caps a single message, newline included.
	MaxMessageBytes int64
	// AllowOtherUsers disables the peer uid check.
	AllowOtherUsers bool
	Logger          *slog.Logger
}

// Listener accepts control connections on a unix socket. Each connection
// carries exactly one command.
type Listener struct {
	path     string
	listener *net.UnixListener
	opts     Options
	logger   *slog.Logger
	uid      int

	active sync.WaitGroup
}

// Listen binds the socket at path. A socket file left behind by a dead
// process is removed first; if a live process still answers on it, Listen
// returns ErrDaemonRunning instead of stealing the path.
func Listen(path string, opts Options) (*Listener, error) {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := removeStale(path); err != nil {
		return nil, err
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}

	return &Listener{
		path:     path,
		listener: ln,
		opts:     opts,
		logger:   logger,
		uid:      os.Getuid(),
	}, nil
}

func removeStale(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, staleDialTimeout)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%s: %w", path, ErrDaemonRunning)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	return nil
}

// Path returns the socket path.
func (l *Listener) Path() string { return l.path }

// Serve accepts connections until ctx is cancelled and passes each decoded
// command to handler. handler must not block; it runs on the connection's
// goroutine. Serve waits for active connections before returning and
// removes the socket file.
func (l *Listener) Serve(ctx context.Context, handler func(Command)) error {
	stop := context.AfterFunc(ctx, func() { l.listener.Close() })
	defer stop()
	defer l.listener.Close()

	l.logger.Info("control socket listening", "path", l.path)

	var backoff acceptBackoff
accept:
	for {
		conn, err := l.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			delay := backoff.next()
			l.logger.Error("accept failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				break accept
			case <-time.After(delay):
			}
			continue
		}
		backoff.reset()

		l.active.Add(1)
		go func() {
			defer l.active.Done()
			l.handle(conn, handler)
		}()
	}

	l.active.Wait()
	return nil
}

// acceptBackoff spaces out retries after accept errors such as EMFILE that
// persist until some connection closes.
type acceptBackoff struct {
	delay time.Duration
}

func (b *acceptBackoff) next() time.Duration {
	if b.delay == 0 {
		b.delay = minAcceptBackoff
	} else {
		b.delay = min(2*b.delay, maxAcceptBackoff)
	}
	return b.delay
}

func (b *acceptBackoff) reset() {
	b.delay = 0
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	return l.listener.Close()
}

func (l *Listener) handle(conn *net.UnixConn, handler func(Command)) {
	defer conn.Close()

	if !l.opts.AllowOtherUsers {
		uid, err := peerUID(conn)
		if err != nil {
			l.logger.Warn("reading peer credentials failed", "error", err)
			metrics.IPCRejectedTotal.Inc()
			return
		}
		if uid >= 0 && uid != l.uid {
			l.logger.Warn("rejected connection from other user", "uid", uid)
			metrics.IPCRejectedTotal.Inc()
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(l.opts.ReadTimeout))

	line, err := readLine(conn, l.opts.MaxMessageBytes)
	if err != nil {
		if isExpectedClose(err) && len(line) == 0 {
			// Connected and sent nothing.
			return
		}
		metrics.IPCDecodeErrorsTotal.Inc()
		l.logger.Warn("reading command failed", "error", err)
		return
	}

	cmd, err := Decode(line)
	if err != nil {
		metrics.IPCDecodeErrorsTotal.Inc()
		l.logger.Warn("discarding malformed command", "error", err, "bytes", len(line))
		return
	}

	metrics.CommandsTotal.WithLabelValues(cmd.Kind()).Inc()
	l.logger.Debug("command received", "kind", cmd.Kind(), "monitor", cmd.Monitor())
	handler(cmd)
}

var errTooLarge = errors.New("message exceeds size limit")

// readLine reads up to and including the first newline. A message that ends
// at EOF without a newline is accepted.
func readLine(r io.Reader, limit int64) ([]byte, error) {
	br := bufio.NewReader(io.LimitReader(r, limit+1))
	line, err := br.ReadBytes('\n')
	if int64(len(line)) > limit {
		return nil, errTooLarge
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		return line, err
	}
	return line, nil
}

// isExpectedClose reports normal connection termination: EOF, a closed
// connection, a reset or a broken pipe.
func isExpectedClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
