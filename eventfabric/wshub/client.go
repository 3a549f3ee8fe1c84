package wshub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geniusboywonder/bmad-core/telemetry"
)

// client owns one WebSocket connection. All writes to conn happen on
// writePump's goroutine; enqueue is the only thread-safe entry point from
// other goroutines (the Fabric delivery goroutine, Replay, and drop
// signaling), mirroring the teacher-adjacent single-writer-goroutine
// convention used for gorilla/websocket connections.
type client struct {
	conn   *websocket.Conn
	send   chan any
	logger telemetry.Logger
}

func newClient(conn *websocket.Conn, queueSize int, logger telemetry.Logger) *client {
	return &client{conn: conn, send: make(chan any, queueSize), logger: logger}
}

// enqueue is best-effort: a full send channel means the connection itself
// is the bottleneck, not the Fabric subscriber queue (which already
// enforces its own high-water mark upstream), so enqueue drops rather
// than blocking the caller.
func (c *client) enqueue(v any) {
	select {
	case c.send <- v:
	default:
	}
}

func (c *client) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		cancel()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				if c.logger != nil {
					c.logger.Warn(context.Background(), "wshub: write failed", "error", err.Error())
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so gorilla/websocket's control-frame
// handling (pong replies) runs, and exits on any read error or client
// close. Application-level messages from the client are not part of the
// wire contract and are discarded.
func (c *client) readPump(cancel context.CancelFunc) {
	defer cancel()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) close() {
	_ = c.conn.Close()
}
