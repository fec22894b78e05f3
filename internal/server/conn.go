package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame write to a client.
const writeWait = 10 * time.Second

var errConnClosed = errors.New("websocket connection closed")

// wsChannel delivers console output to one WebSocket client. The relay
// goroutine and the connection's read loop both write, so writes are
// serialized.
type wsChannel struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

// Send writes text as a console_output frame.
func (c *wsChannel) Send(text string) error {
	frame, err := EncodeOutput(text)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// ping sends a WebSocket ping. WriteControl may run concurrently with Send.
func (c *wsChannel) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// close marks the channel closed; later sends fail fast.
func (c *wsChannel) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
