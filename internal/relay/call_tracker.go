package relay

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallConnected
	CallEnded
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRinging:
		return "ringing"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type callKey struct{ a, b string }

func newCallKey(x, y string) callKey {
	if x > y {
		x, y = y, x
	}
	return callKey{x, y}
}

type callAttempt struct {
	caller string
	callee string
	state  CallState
	timer  *clock.Timer
}

func (c *callAttempt) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *callAttempt) party(username string) bool {
	return username == c.caller || username == c.callee
}

// callTracker holds one attempt per unordered user pair. Ended and failed
// attempts are removed, so an absent pair is Idle.
type callTracker struct {
	clock       clock.Clock
	ringTimeout time.Duration
	onTimeout   func(caller, callee string)

	mu       sync.Mutex
	attempts map[callKey]*callAttempt
}

func newCallTracker(clk clock.Clock, ringTimeout time.Duration, onTimeout func(caller, callee string)) *callTracker {
	return &callTracker{
		clock:       clk,
		ringTimeout: ringTimeout,
		onTimeout:   onTimeout,
		attempts:    make(map[callKey]*callAttempt),
	}
}

func (t *callTracker) state(a, b string) CallState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.attempts[newCallKey(a, b)]; ok {
		return c.state
	}
	return CallIdle
}

// initiate starts ringing caller→callee. A repeated offer from the same
// caller restarts the ring timer; an offer while connected is a
// renegotiation.
func (t *callTracker) initiate(caller, callee string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := newCallKey(caller, callee)
	c, ok := t.attempts[key]
	if ok {
		switch c.state {
		case CallConnected:
			return nil
		case CallRinging:
			if c.caller != caller {
				return ErrCallConflict
			}
			c.stopTimer()
		}
	} else {
		c = &callAttempt{caller: caller, callee: callee}
		t.attempts[key] = c
	}
	c.state = CallRinging
	c.timer = t.armLocked(key, c)
	return nil
}

func (t *callTracker) armLocked(key callKey, c *callAttempt) *clock.Timer {
	var timer *clock.Timer
	timer = t.clock.AfterFunc(t.ringTimeout, func() {
		t.mu.Lock()
		cur, ok := t.attempts[key]
		if !ok || cur != c || cur.timer != timer || cur.state != CallRinging {
			t.mu.Unlock()
			return
		}
		cur.state = CallFailed
		cur.timer = nil
		delete(t.attempts, key)
		t.mu.Unlock()

		if t.onTimeout != nil {
			t.onTimeout(c.caller, c.callee)
		}
	})
	return timer
}

// answer accepts the callee's answer to a ringing attempt. While connected
// either party may answer a renegotiation.
func (t *callTracker) answer(from, to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.attempts[newCallKey(from, to)]
	if !ok {
		return ErrNoActiveCall
	}
	switch c.state {
	case CallRinging:
		if from != c.callee {
			return ErrNotCallParty
		}
		c.stopTimer()
		c.state = CallConnected
		return nil
	case CallConnected:
		return nil
	default:
		return ErrNoActiveCall
	}
}

func (t *callTracker) candidate(from, to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.attempts[newCallKey(from, to)]
	if !ok || (c.state != CallRinging && c.state != CallConnected) {
		return ErrNoActiveCall
	}
	if !c.party(from) {
		return ErrNotCallParty
	}
	return nil
}

func (t *callTracker) end(from, to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := newCallKey(from, to)
	c, ok := t.attempts[key]
	if !ok {
		return ErrNoActiveCall
	}
	c.stopTimer()
	c.state = CallEnded
	delete(t.attempts, key)
	return nil
}

// abandon ends every attempt involving username and returns the other
// parties.
func (t *callTracker) abandon(username string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var peers []string
	for key, c := range t.attempts {
		if !c.party(username) {
			continue
		}
		c.stopTimer()
		c.state = CallEnded
		delete(t.attempts, key)
		if c.caller == username {
			peers = append(peers, c.callee)
		} else {
			peers = append(peers, c.caller)
		}
	}
	return peers
}
