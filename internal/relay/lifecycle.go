package relay

import (
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/protocol"
)

// Connect creates and registers a session for identity, then tells every
// registered session, the new one included, that identity is online. The
// new session additionally receives one online event per other connected
// identity.
func (r *Relay) Connect(identity model.Identity) *Session {
	s := newSession(identity, r.clock.Now(), r.sendQueueBytes, r.onDrop)

	// Presence frames are queued under the registry lock so no session sees
	// a connect and a disconnect out of order. The new session hears its own
	// online event first.
	var online int
	replaced := r.registry.register(s, func(sessions []*Session) {
		online = len(sessions)
		frame := protocol.EncodePresenceChanged(identity.Username, true)
		s.Send(frame)
		for _, peer := range sessions {
			if peer == s {
				continue
			}
			peer.Send(frame)
			s.Send(protocol.EncodePresenceChanged(peer.Username(), true))
		}
	})
	r.metrics.SessionOpened()
	if replaced != nil {
		r.log.Info("session replaced by reconnect",
			"username", identity.Username,
			"session_id", s.ID(),
			"replaced_session_id", replaced.ID(),
		)
	}

	r.log.Debug("session connected", "username", identity.Username, "session_id", s.ID(), "online", online)
	return s
}

// Disconnect closes s. If s is still its identity's registered session it
// is removed and every remaining session is told the identity went offline;
// a session already replaced by a reconnect leaves presence untouched.
func (r *Relay) Disconnect(s *Session) {
	released := r.registry.release(s, func(sessions []*Session) {
		offline := protocol.EncodePresenceChanged(s.Username(), false)
		for _, peer := range sessions {
			peer.Send(offline)
		}
	})
	s.Close()
	r.metrics.SessionClosed()

	if !released {
		r.log.Debug("stale session disconnected", "username", s.Username(), "session_id", s.ID())
		return
	}

	if r.calls != nil {
		for _, peer := range r.calls.abandon(s.Username()) {
			r.sendTo(peer, protocol.EncodeCallEnd(s.Username()))
		}
	}

	r.log.Debug("session disconnected", "username", s.Username(), "session_id", s.ID())
}

// sendTo delivers frame to username's registered session, if any.
func (r *Relay) sendTo(username string, frame []byte) bool {
	target, ok := r.registry.Lookup(username)
	if !ok {
		return false
	}
	return target.Send(frame)
}
