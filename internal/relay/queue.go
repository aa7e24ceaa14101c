package relay

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	errQueueFull   = errors.New("outbound queue full")
	errQueueClosed = errors.New("outbound queue closed")
)

// outboundQueue is a byte-bounded FIFO of encoded frames waiting for a
// connection's writer.
type outboundQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxBytes int
	curBytes int
	frames   [][]byte

	drops atomic.Uint64
}

func newOutboundQueue(maxBytes int) *outboundQueue {
	q := &outboundQueue{maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *outboundQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Push appends frame if it fits within the byte budget. It never blocks.
// Only frames refused for lack of space count as drops.
func (q *outboundQueue) Push(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	if q.curBytes+len(frame) > q.maxBytes {
		q.drops.Add(1)
		return errQueueFull
	}
	q.frames = append(q.frames, frame)
	q.curBytes += len(frame)
	q.notEmpty.Signal()
	return nil
}

// Pop blocks until a frame is available or the queue is closed. Frames still
// queued at close are discarded.
func (q *outboundQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	q.curBytes -= len(frame)
	return frame, true
}

func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *outboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.curBytes = 0
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
