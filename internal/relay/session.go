package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

// DefaultSendQueueBytes bounds the frames buffered for one slow client.
const DefaultSendQueueBytes = 1 << 20

// Session binds one authenticated Identity to one transport connection. The
// identity is fixed for the session's lifetime.
type Session struct {
	id          string
	identity    model.Identity
	connectedAt time.Time

	queue  *outboundQueue
	onDrop func(*Session)

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(identity model.Identity, connectedAt time.Time, queueBytes int, onDrop func(*Session)) *Session {
	if queueBytes <= 0 {
		queueBytes = DefaultSendQueueBytes
	}
	return &Session{
		id:          uuid.NewString(),
		identity:    identity,
		connectedAt: connectedAt,
		queue:       newOutboundQueue(queueBytes),
		onDrop:      onDrop,
		done:        make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Identity() model.Identity { return s.identity }

func (s *Session) Username() string { return s.identity.Username }

func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Send enqueues an encoded frame for the connection writer. It reports false
// when the queue is full or the session is closed; only the former is
// reported to onDrop.
func (s *Session) Send(frame []byte) bool {
	switch err := s.queue.Push(frame); {
	case err == nil:
		return true
	case errors.Is(err, errQueueFull) && s.onDrop != nil:
		s.onDrop(s)
	}
	return false
}

// Next blocks until a frame is queued. It returns false once the session is
// closed.
func (s *Session) Next() ([]byte, bool) {
	return s.queue.Pop()
}

// Pending reports how many frames are queued.
func (s *Session) Pending() int { return s.queue.Len() }

// Dropped reports how many frames were discarded.
func (s *Session) Dropped() uint64 { return s.queue.DropCount() }

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.queue.Close()
		close(s.done)
	})
}

// Done is closed by Close.
func (s *Session) Done() <-chan struct{} { return s.done }
