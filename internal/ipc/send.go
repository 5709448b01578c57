package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SocketName is the file name of the control socket.
const SocketName = "maypaper.sock"

// DefaultSocketPath returns the per-user socket location:
// $XDG_RUNTIME_DIR/maypaper.sock, else /run/user/<uid>/maypaper.sock when
// that directory exists, else maypaper-<uid>.sock in the temp directory.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, SocketName)
	}
	uid := strconv.Itoa(os.Getuid())
	runDir := filepath.Join("/run/user", uid)
	if info, err := os.Stat(runDir); err == nil && info.IsDir() {
		return filepath.Join(runDir, SocketName)
	}
	return filepath.Join(os.TempDir(), "maypaper-"+uid+".sock")
}

// Send delivers cmd to the daemon listening on socketPath. It returns once
// the message is written; the daemon sends no reply.
func Send(ctx context.Context, socketPath string, cmd Command) error {
	msg, err := Encode(cmd)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	conn.SetWriteDeadline(deadline)

	if _, err := conn.Write(msg); err != nil {
		return fmt.Errorf("writing to %s: %w", socketPath, err)
	}
	return nil
}
