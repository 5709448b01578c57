package bridge

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/maypaper/maypaper/internal/mailbox"
)

const (
	writeWait       = 5 * time.Second
	maxInboundBytes = 64 * 1024
	// maxObserverBacklog is how many messages an observer may leave unsent
	// before the hub drops it.
	maxObserverBacklog = 64
)

// Role separates renderers, which receive display commands and report the
// topology, from observers, which only watch session state.
type Role string

const (
	RoleRenderer Role = "renderer"
	RoleObserver Role = "observer"
)

type client struct {
	conn  *websocket.Conn
	role  Role
	queue *mailbox.Mailbox[[]byte]
	quit  chan struct{}

	clock        clockwork.Clock
	pingInterval time.Duration
	done         chan struct{}
}

func newClient(conn *websocket.Conn, role Role, clock clockwork.Clock, pingInterval time.Duration) *client {
	c := &client{
		conn:         conn,
		role:         role,
		queue:        mailbox.New[[]byte](),
		quit:         make(chan struct{}),
		clock:        clock,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
	c.conn.SetReadLimit(maxInboundBytes)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
	go c.writePump()
	return c
}

// enqueue hands data to the writer. Renderers are never refused, so no
// set_webview is lost to a slow socket. An observer with maxObserverBacklog
// messages still waiting is refused.
func (c *client) enqueue(data []byte) bool {
	if c.role == RoleObserver && c.queue.Len() >= maxObserverBacklog {
		return false
	}
	return c.queue.Put(data)
}

// stop asks the writer to flush what is queued, send a close frame and exit.
// The hub calls it exactly once, after the client stops receiving messages.
func (c *client) stop() {
	close(c.quit)
}

// writePump is the only writer on conn. It exits after stop or when a write
// fails, closing the connection so the read loop ends too.
func (c *client) writePump() {
	ticker := c.clock.NewTicker(c.pingInterval)
	defer func() {
		c.queue.Close()
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case <-c.quit:
			if !c.write(c.queue.Drain()) {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.queue.Ready():
			if !c.write(c.queue.Drain()) {
				return
			}
		case <-ticker.Chan():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(msgs [][]byte) bool {
	for _, msg := range msgs {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return false
		}
	}
	return true
}

// extendReadDeadline allows two missed pings before the read loop gives up.
func (c *client) extendReadDeadline() {
	c.conn.SetReadDeadline(time.Now().Add(2*c.pingInterval + writeWait))
}
