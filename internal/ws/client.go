package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// Client delivers deployment progress frames over a websocket connection.
// Writes are serialized and bounded by a deadline so one stalled client
// cannot wedge the hub's broadcast loop.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu     sync.Mutex
	once   sync.Once
	closed bool
}

// NewClient constructs a client wrapper around an upgraded connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send writes one progress frame as a text message. A write error marks
// the client dead and closes the underlying connection.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		c.closed = true
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close performs the closing handshake once and tears the connection down.
func (c *Client) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.closed {
			deadline := time.Now().Add(closeWait)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		}
		c.closed = true
		_ = c.conn.Close()
	})
}
