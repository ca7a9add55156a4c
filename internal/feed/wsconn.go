package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("transport not connected")

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 5 * time.Second
)

// wsConn is a minimal thread-safe wrapper around a websocket connection.
// Reads stay single-threaded in the owning connection task; writes are
// serialized because subscribe commands and pongs can interleave.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

// connGuard holds a transport's current connection. The owning connection
// task replaces it on every reconnect while Manager.Stop calls Close from
// another goroutine, so the field needs a lock.
type connGuard struct {
	mu   sync.Mutex
	conn *wsConn
}

func (g *connGuard) set(c *wsConn) {
	g.mu.Lock()
	g.conn = c
	g.mu.Unlock()
}

func (g *connGuard) get() *wsConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn
}

// closeConn closes the current connection, if any.
func (g *connGuard) closeConn() error {
	if c := g.get(); c != nil {
		return c.Close()
	}
	return nil
}

// dialWS establishes a websocket connection.
func dialWS(ctx context.Context, url string) (*wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// ReadMessage blocks for the next frame.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteJSON marshals and sends one frame under a write deadline.
func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// Close sends a close frame and tears down the socket. Idempotent; unblocks
// a concurrent ReadMessage.
func (c *wsConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
