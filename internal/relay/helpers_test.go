package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

type testFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (f testFrame) fields(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &out))
	return out
}

// drain returns every frame currently queued on s without blocking.
func drain(t *testing.T, s *Session) []testFrame {
	t.Helper()
	var out []testFrame
	for s.Pending() > 0 {
		raw, ok := s.Next()
		if !ok {
			break
		}
		var f testFrame
		require.NoError(t, json.Unmarshal(raw, &f), "frame %s", raw)
		out = append(out, f)
	}
	return out
}

func drainRaw(s *Session) [][]byte {
	var out [][]byte
	for s.Pending() > 0 {
		raw, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, raw)
	}
	return out
}

func ofEvent(frames []testFrame, event string) []testFrame {
	var out []testFrame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// recordingMessages wraps a MessagePersister and records each call.
type recordingMessages struct {
	next MessagePersister
	fail error

	mu    sync.Mutex
	calls []persistCall
}

type persistCall struct {
	senderID, receiverID int64
	content              string
}

func (m *recordingMessages) PersistMessage(ctx context.Context, senderID, receiverID int64, content string) (model.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, persistCall{senderID, receiverID, content})
	m.mu.Unlock()
	if m.fail != nil {
		return model.Message{}, m.fail
	}
	return m.next.PersistMessage(ctx, senderID, receiverID, content)
}

func (m *recordingMessages) persisted() []persistCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]persistCall(nil), m.calls...)
}

type recordingMetrics struct {
	mu     sync.Mutex
	events map[[2]string]int
	drops  int
	open   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{events: make(map[[2]string]int)}
}

func (m *recordingMetrics) Event(event, outcome string) {
	m.mu.Lock()
	m.events[[2]string{event, outcome}]++
	m.mu.Unlock()
}
func (m *recordingMetrics) SessionOpened() {
	m.mu.Lock()
	m.open++
	m.mu.Unlock()
}

func (m *recordingMetrics) SessionClosed() {
	m.mu.Lock()
	m.open--
	m.mu.Unlock()
}

func (m *recordingMetrics) OutboundDropped() {
	m.mu.Lock()
	m.drops++
	m.mu.Unlock()
}

func (m *recordingMetrics) ConnectionRejected(string)              {}
func (m *recordingMetrics) HTTPRequest(string, int, time.Duration) {}

func (m *recordingMetrics) count(event, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[[2]string{event, outcome}]
}

type harness struct {
	relay    *Relay
	store    *store.Memory
	messages *recordingMessages
	metrics  *recordingMetrics
	clock    *clock.Mock
	users    map[string]model.Identity
}

type harnessOption func(*Config)

func withStrictCalls(timeout time.Duration) harnessOption {
	return func(c *Config) {
		c.CallMode = CallModeStrict
		c.RingTimeout = timeout
	}
}

func withQueueBytes(n int) harnessOption {
	return func(c *Config) { c.SendQueueBytes = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC))

	mem := store.NewMemory(clk)
	h := &harness{
		store:    mem,
		messages: &recordingMessages{next: mem},
		metrics:  newRecordingMetrics(),
		clock:    clk,
		users:    make(map[string]model.Identity),
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := mem.CreateUser(context.Background(), name, "x")
		require.NoError(t, err)
		h.users[name] = u.Identity
	}

	cfg := Config{
		Users:    mem,
		Messages: h.messages,
		Metrics:  h.metrics,
		Clock:    clk,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	h.relay = r
	return h
}

// connect registers name and discards the presence frames it triggers on
// every already-connected session.
func (h *harness) connect(t *testing.T, name string) *Session {
	t.Helper()
	s := h.relay.Connect(h.users[name])
	for _, peer := range h.relay.Registry().Sessions() {
		drain(t, peer)
	}
	return s
}

var errBoom = errors.New("boom")
