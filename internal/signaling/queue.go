package signaling

import (
	"sync"
	"sync/atomic"
)

// sendQueue buffers outbound wire frames for one connection so publishers
// never block on a slow WebSocket writer. It is bounded by frame count and
// total bytes; critical frames (terminal call events) bypass the budget
// because a client must learn its call ended even when its queue is saturated
// with presence noise.
type sendQueue struct {
	mu     sync.Mutex
	wake   *sync.Cond
	closed bool

	maxFrames int
	maxBytes  int

	frames  [][]byte
	head    int
	pending int // bytes buffered across frames[head:]

	drops atomic.Uint64
}

func newSendQueue(maxFrames, maxBytes int) *sendQueue {
	q := &sendQueue{maxFrames: maxFrames, maxBytes: maxBytes}
	q.wake = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) DropCount() uint64 { return q.drops.Load() }

// Enqueue appends frame if it fits within the budget, or unconditionally when
// critical. It never blocks. A closed queue refuses everything.
func (q *sendQueue) Enqueue(frame []byte, critical bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.drops.Add(1)
		return false
	}
	if !critical && (q.queuedLocked() >= q.maxFrames || q.pending+len(frame) > q.maxBytes) {
		q.drops.Add(1)
		return false
	}

	q.frames = append(q.frames, frame)
	q.pending += len(frame)
	q.wake.Signal()
	return true
}

func (q *sendQueue) queuedLocked() int { return len(q.frames) - q.head }

// Dequeue blocks until a frame is available or the queue is closed and
// drained.
func (q *sendQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.queuedLocked() == 0 {
		if q.closed {
			return nil, false
		}
		q.wake.Wait()
	}

	frame := q.frames[q.head]
	q.frames[q.head] = nil
	q.head++
	q.pending -= len(frame)

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head*2 >= len(q.frames) {
		q.frames = append(q.frames[:0], q.frames[q.head:]...)
		q.head = 0
	}
	return frame, true
}

// Close discards buffered frames and unblocks the consumer. Frames already
// accepted are dropped, critical or not; a closing connection has nowhere to
// deliver them.
func (q *sendQueue) Close() {
	q.mu.Lock()
	clear(q.frames)
	q.frames = nil
	q.head = 0
	q.pending = 0
	q.closed = true
	q.mu.Unlock()
	q.wake.Broadcast()
}
