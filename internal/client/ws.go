package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/maypaper/maypaper/internal/bridge"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var errNotConnected = errors.New("not connected")

// WSClient follows the bridge observer stream.
type WSClient struct {
	url    string
	token  string
	dialer *websocket.Dialer

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	pingCtx context.CancelFunc
}

func NewWSClient(url, token string) *WSClient {
	return &WSClient{url: url, token: token, dialer: websocket.DefaultDialer}
}

// --- Bubble Tea messages ---

type ConnectedMsg struct{}

type DisconnectedMsg struct{ Err error }

type SnapshotMsg struct{ Payload bridge.SnapshotPayload }

type DeltaMsg struct{ Payload bridge.DeltaPayload }

type TopologyMsg struct{ Payload bridge.TopologyPayload }

type ErrorMsg struct{ Payload bridge.ErrorPayload }

// Listen returns a command that connects, retrying with backoff until ctx is
// done.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			err := c.Connect(ctx)
			if err == nil {
				return ConnectedMsg{}
			}
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
		}
	}
}

// Connect dials once and starts the ping loop for the new connection.
func (c *WSClient) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.pingCtx != nil {
		c.pingCtx()
	}
	pingCtx, pingCancel := context.WithCancel(ctx)
	c.conn = conn
	c.pingCtx = pingCancel
	c.mu.Unlock()

	go c.pingLoop(pingCtx, conn)
	return nil
}

// ReadLoop returns a command that yields the next decoded message. Start it
// after ConnectedMsg and again after each message it returns.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		return c.Next(ctx)
	}
}

// Next blocks until the next recognised message or a disconnect.
func (c *WSClient) Next(ctx context.Context) tea.Msg {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return DisconnectedMsg{Err: errNotConnected}
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn)
			return DisconnectedMsg{Err: err}
		}

		var env bridge.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if msg := dispatch(env); msg != nil {
			return msg
		}
		if ctx.Err() != nil {
			c.drop(conn)
			return DisconnectedMsg{Err: ctx.Err()}
		}
	}
}

// Close drops the current connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drop(conn)
	}
}

func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.pingCtx != nil {
			c.pingCtx()
			c.pingCtx = nil
		}
	}
	c.mu.Unlock()
	conn.Close()
}

// pingLoop exits when ctx is cancelled or the connection is replaced.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func dispatch(env bridge.Envelope) tea.Msg {
	switch env.Type {
	case bridge.MsgSnapshot:
		var p bridge.SnapshotPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return SnapshotMsg{Payload: p}
		}
	case bridge.MsgDelta:
		var p bridge.DeltaPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return DeltaMsg{Payload: p}
		}
	case bridge.MsgTopology:
		var p bridge.TopologyPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return TopologyMsg{Payload: p}
		}
	case bridge.MsgError:
		var p bridge.ErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return ErrorMsg{Payload: p}
		}
	}
	return nil
}
