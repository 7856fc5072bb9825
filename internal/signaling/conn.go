package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaahochat/signalcore/internal/metrics"
)

const wsWriteWait = 1 * time.Second

// wsConn pairs a WebSocket with its bounded outbound queue and a single
// writer goroutine. It is the registry's Sender for the connection: Send
// enqueues, the writer drains.
type wsConn struct {
	id      string
	ws      *websocket.Conn
	queue   *sendQueue
	metrics *metrics.Metrics

	closeOnce sync.Once
	writeDone chan struct{}
}

func newWSConn(id string, ws *websocket.Conn, maxFrames, maxBytes int, m *metrics.Metrics) *wsConn {
	c := &wsConn{
		id:        id,
		ws:        ws,
		queue:     newSendQueue(maxFrames, maxBytes),
		metrics:   m,
		writeDone: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send implements registry.Sender.
func (c *wsConn) Send(frame []byte, critical bool) bool {
	ok := c.queue.Enqueue(frame, critical)
	if !ok {
		c.metrics.Inc(metrics.DropReasonQueueFull)
	}
	return ok
}

func (c *wsConn) writeLoop() {
	defer close(c.writeDone)
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			// Writer is dead; stop draining and let the read loop tear down.
			c.queue.Close()
			return
		}
	}
}

// Close shuts the queue, waits for the writer to drain what it already
// dequeued, and closes the underlying socket.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		c.queue.Close()
		select {
		case <-c.writeDone:
		case <-time.After(wsWriteWait):
		}
		_ = c.ws.Close()
	})
}
