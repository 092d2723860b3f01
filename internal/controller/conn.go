package controller

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn serializes writes to a websocket. gorilla connections allow one
// concurrent reader and one concurrent writer, and fan-out writes come from
// other peers' goroutines.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration

	mu sync.Mutex
}

func newWSConn(conn *websocket.Conn, writeTimeout, readTimeout time.Duration) *wsConn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout, readTimeout: readTimeout}
}

func (c *wsConn) ReadJSON(v any) error {
	if c.readTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	return c.conn.ReadJSON(v)
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
