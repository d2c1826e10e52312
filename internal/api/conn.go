package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// wsConn adapts a gorilla websocket connection to registry.Conn. Gorilla
// allows one concurrent writer per connection, so writes are serialized on a
// mutex; messages to one player are therefore delivered in send order.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
