package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
	readWindow       = 60 * time.Second
	pingInterval     = 30 * time.Second
)

// clientConn wraps a gorilla connection with a per-connection writer lock,
// since broadcast fan-out and the reply path write to the same socket from
// different goroutines. It is the session.Conn handed to the registry.
type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newClientConn(conn *websocket.Conn) *clientConn {
	return &clientConn{conn: conn}
}

// WriteJSON marshals v and writes a single text frame under the writer lock.
func (c *clientConn) WriteJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *clientConn) Close() error {
	return c.conn.Close()
}

// writeClose sends a close control frame with the given code and reason.
func (c *clientConn) writeClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
}

// ping sends a control ping under the writer lock.
func (c *clientConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(ctrlTimeout))
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
}
