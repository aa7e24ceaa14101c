package relay

import (
	"sort"
	"sync"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

// Registry maps each username to at most one live Session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts s, replacing any session already held by the same
// identity. The replaced session is returned and is otherwise untouched.
func (r *Registry) Register(s *Session) *Session {
	return r.register(s, nil)
}

// register inserts s and, before unlocking, hands announce every registered
// session sorted by username. Frames queued by announce are therefore ordered
// consistently with registry mutations.
func (r *Registry) register(s *Session, announce func([]*Session)) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := r.sessions[s.Username()]
	r.sessions[s.Username()] = s
	if announce != nil {
		announce(r.sortedLocked())
	}
	return replaced
}

// Unregister removes whatever session username holds. It is a no-op for an
// absent username.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	delete(r.sessions, username)
	r.mu.Unlock()
}

// Release removes s only if it is still the registered session for its
// identity.
func (r *Registry) Release(s *Session) bool {
	return r.release(s, nil)
}

// release is Release with announce run under the lock on the remaining
// sessions, only when s was removed.
func (r *Registry) release(s *Session, announce func([]*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.Username()] != s {
		return false
	}
	delete(r.sessions, s.Username())
	if announce != nil {
		announce(r.sortedLocked())
	}
	return true
}

func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[username]
	return s, ok
}

func (r *Registry) Online(username string) bool {
	_, ok := r.Lookup(username)
	return ok
}

// Snapshot returns the registered identities sorted by username.
func (r *Registry) Snapshot() []model.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Identity, 0, len(r.sessions))
	for _, s := range r.sortedLocked() {
		out = append(out, s.Identity())
	}
	return out
}

// Sessions returns the registered sessions sorted by username.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sortedLocked() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username() < out[j].Username() })
	return out
}
