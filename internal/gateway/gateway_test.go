package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

const testCookie = "aero_chat_session"

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type env struct {
	t      *testing.T
	srv    *httptest.Server
	gw     *Server
	relay  *relay.Relay
	store  *store.Memory
	tokens *auth.Tokens
	users  map[string]model.Identity
}

type option func(*Config)

func withRateLimit(n int) option { return func(c *Config) { c.MaxMessagesPerSecond = n } }

func withKeepalive(ping, idle time.Duration) option {
	return func(c *Config) {
		c.PingInterval = ping
		c.IdleTimeout = idle
	}
}

func withAllowedOrigins(origins ...string) option {
	return func(c *Config) { c.Origins = origin.Policy{AllowedOrigins: origins} }
}

func newEnv(t *testing.T, opts ...option) *env {
	t.Helper()
	return newEnvWithMessages(t, nil, opts...)
}

// newEnvWithMessages lets wrap interpose on message persistence; nil
// persists straight to the memory store.
func newEnvWithMessages(t *testing.T, wrap func(*store.Memory) relay.MessagePersister, opts ...option) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemory(nil)

	var messages relay.MessagePersister = mem
	if wrap != nil {
		messages = wrap(mem)
	}
	r, err := relay.New(relay.Config{Users: mem, Messages: messages, Logger: log})
	require.NoError(t, err)

	tokens := auth.NewTokens("gateway-test-secret", time.Hour, nil)
	cfg := Config{
		Relay:           r,
		Tokens:          tokens,
		CookieName:      testCookie,
		MaxMessageBytes: 4096,
		Logger:          log,
	}
	for _, o := range opts {
		o(&cfg)
	}
	gw, err := New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})

	e := &env{t: t, srv: srv, gw: gw, relay: r, store: mem, tokens: tokens, users: map[string]model.Identity{}}
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := mem.CreateUser(context.Background(), name, "x")
		require.NoError(t, err)
		e.users[name] = u.Identity
	}
	return e
}

func (e *env) wsURL() string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http")
}

func (e *env) token(name string) string {
	tok, _, err := e.tokens.Issue(e.users[name])
	require.NoError(e.t, err)
	return tok
}

// dial connects as name with a session cookie and consumes the presence
// frames sent on connect.
func (e *env) dial(name string) *websocket.Conn {
	e.t.Helper()
	header := http.Header{}
	header.Set("Cookie", testCookie+"="+e.token(name))
	c, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(e.t, err)
	require.Equal(e.t, http.StatusSwitchingProtocols, resp.StatusCode)
	e.t.Cleanup(func() { _ = c.Close() })

	// The session's own online event comes first; by then it is registered.
	f := readFrame(e.t, c)
	require.Equal(e.t, "presence-changed", f.Event)
	require.Equal(e.t, name, fields(e.t, f)["username"])
	for i := 1; i < e.relay.Registry().Len(); i++ {
		f := readFrame(e.t, c)
		require.Equal(e.t, "presence-changed", f.Event)
	}
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f), "frame %s", data)
	return f
}

func readRaw(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	return data
}

func send(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func fields(t *testing.T, f frame) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &out))
	return out
}

func TestUpgradeRequiresValidToken(t *testing.T) {
	e := newEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(e.wsURL()+"?token=not-a-token", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other := auth.NewTokens("some-other-secret", time.Hour, nil)
	forged, _, err := other.Issue(e.users["alice"])
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(e.wsURL()+"?token="+forged, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Zero(t, e.relay.Registry().Len())
}

func TestUpgradeAcceptsQueryAndBearerTokens(t *testing.T) {
	e := newEnv(t)

	c, _, err := websocket.DefaultDialer.Dial(e.wsURL()+"?token="+e.token("alice"), nil)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "presence-changed", readFrame(t, c).Event)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.token("bob"))
	c2, _, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(t, err)
	defer c2.Close()

	require.Eventually(t, func() bool { return e.relay.Registry().Online("bob") }, 2*time.Second, 10*time.Millisecond)
}

func TestUpgradeRejectsDisallowedOrigin(t *testing.T) {
	e := newEnv(t, withAllowedOrigins("https://chat.example.com"))

	header := http.Header{}
	header.Set("Cookie", testCookie+"="+e.token("alice"))
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://chat.example.com")
	c, _, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(t, err)
	_ = c.Close()
}

func TestMessageDeliveredAndEchoed(t *testing.T) {
	e := newEnv(t)
	alice := e.dial("alice")
	bob := e.dial("bob")

	f := readFrame(t, alice)
	require.Equal(t, "presence-changed", f.Event)
	assert.Equal(t, map[string]any{"username": "bob", "online": true}, fields(t, f))

	send(t, alice, `{"event":"send-message","data":{"receiver":"bob","content":"hi bob"}}`)

	got := readFrame(t, bob)
	require.Equal(t, "receive-message", got.Event)
	body := fields(t, got)
	assert.Equal(t, "alice", body["sender"])
	assert.Equal(t, "hi bob", body["content"])
	assert.Regexp(t, `^\d{2}:\d{2}$`, body["timestamp"])

	echo := readFrame(t, alice)
	require.Equal(t, "receive-message", echo.Event)
	assert.Equal(t, "hi bob", fields(t, echo)["content"])

	conv, err := e.store.Conversation(context.Background(), e.users["alice"].ID, e.users["bob"].ID)
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "hi bob", conv[0].Content)
}

func TestMessageToOfflineUserIsPersistedAndEchoed(t *testing.T) {
	e := newEnv(t)
	alice := e.dial("alice")

	send(t, alice, `{"event":"send-message","data":{"receiver":"carol","content":"are you there"}}`)

	echo := readFrame(t, alice)
	require.Equal(t, "receive-message", echo.Event)
	assert.Equal(t, "alice", fields(t, echo)["sender"])

	conv, err := e.store.Conversation(context.Background(), e.users["alice"].ID, e.users["carol"].ID)
	require.NoError(t, err)
	assert.Len(t, conv, 1)
}

// gatedPersister holds the first PersistMessage call until release is closed.
type gatedPersister struct {
	next    relay.MessagePersister
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedPersister) PersistMessage(ctx context.Context, senderID, receiverID int64, content string) (model.Message, error) {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return p.next.PersistMessage(ctx, senderID, receiverID, content)
}

func TestMessagesReadBeforeCloseArePersisted(t *testing.T) {
	gate := &gatedPersister{entered: make(chan struct{}), release: make(chan struct{})}
	e := newEnvWithMessages(t, func(mem *store.Memory) relay.MessagePersister {
		gate.next = mem
		return gate
	})
	alice := e.dial("alice")

	for _, content := range []string{"one", "two", "three"} {
		send(t, alice, `{"event":"send-message","data":{"receiver":"bob","content":"`+content+`"}}`)
	}
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first message never reached the store")
	}
	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return !e.relay.Registry().Online("alice") }, 2*time.Second, 10*time.Millisecond)
	close(gate.release)

	var conv []model.Message
	require.Eventually(t, func() bool {
		var err error
		conv, err = e.store.Conversation(context.Background(), e.users["alice"].ID, e.users["bob"].ID)
		return err == nil && len(conv) == 3
	}, 2*time.Second, 10*time.Millisecond)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, want, conv[i].Content)
	}
}

func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	e := newEnv(t)
	alice := e.dial("alice")

	send(t, alice, `not json`)
	send(t, alice, `{"event":"teleport","data":{}}`)
	send(t, alice, `{"event":"send-message","data":{"receiver":"bob"}}`)
	send(t, alice, `{"event":"receive-message","data":{"sender":"bob","content":"spoof","timestamp":"00:00"}}`)
	send(t, alice, `{"event":"send-message","data":{"receiver":"alice","content":"still here"}}`)

	echo := readFrame(t, alice)
	require.Equal(t, "receive-message", echo.Event)
	assert.Equal(t, "still here", fields(t, echo)["content"])
}

func TestCallSignalsForwardedByteIdentical(t *testing.T) {
	e := newEnv(t)
	alice := e.dial("alice")
	bob := e.dial("bob")
	readFrame(t, alice) // bob online

	signal := `{"type":"offer",  "sdp":"v=0\r\n<b>"}`
	send(t, alice, `{"event":"call-initiate","data":{"target":"bob","signal":`+signal+`}}`)
	assert.Equal(t, `{"event":"call-initiate","data":{"from":"alice","signal":`+signal+`}}`, string(readRaw(t, bob)))

	cand := `{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host","sdpMid":"0"}`
	send(t, bob, `{"event":"ice-candidate","data":{"target":"alice","candidate":`+cand+`}}`)
	assert.Equal(t, `{"event":"ice-candidate","data":{"from":"bob","candidate":`+cand+`}}`, string(readRaw(t, alice)))

	send(t, bob, `{"event":"call-end","data":{"target":"alice"}}`)
	assert.Equal(t, `{"event":"call-end","data":{"from":"bob"}}`, string(readRaw(t, alice)))
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	e := newEnv(t)
	alice := e.dial("alice")
	bob := e.dial("bob")
	readFrame(t, alice) // bob online

	require.NoError(t, bob.Close())

	f := readFrame(t, alice)
	require.Equal(t, "presence-changed", f.Event)
	assert.Equal(t, map[string]any{"username": "bob", "online": false}, fields(t, f))
	assert.False(t, e.relay.Registry().Online("bob"))
}

func TestReconnectKeepsNewSessionOnline(t *testing.T) {
	e := newEnv(t)
	carol := e.dial("carol")
	first := e.dial("alice")
	readFrame(t, carol) // alice online

	second := e.dial("alice")
	f := readFrame(t, carol)
	assert.Equal(t, map[string]any{"username": "alice", "online": true}, fields(t, f))

	require.NoError(t, first.Close())

	send(t, carol, `{"event":"send-message","data":{"receiver":"alice","content":"ping"}}`)
	got := readFrame(t, second)
	require.Equal(t, "receive-message", got.Event, "the replacement session must still receive messages")
	assert.Equal(t, "ping", fields(t, got)["content"])

	echo := readFrame(t, carol)
	assert.Equal(t, "receive-message", echo.Event, "no offline broadcast for the stale session")
	assert.True(t, e.relay.Registry().Online("alice"))
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	e := newEnv(t)
	alice := e.dial("alice")

	send(t, alice, `{"event":"send-message","data":{"receiver":"bob","content":"`+strings.Repeat("x", 4200)+`"}}`)

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "err=%v", err)
}

func TestBinaryMessageClosesConnection(t *testing.T) {
	e := newEnv(t)
	alice := e.dial("alice")

	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "err=%v", err)
}

func TestRateLimitClosesConnection(t *testing.T) {
	e := newEnv(t, withRateLimit(2))
	alice := e.dial("alice")

	for i := 0; i < 3; i++ {
		if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"event":"call-end","data":{"target":"bob"}}`)); err != nil {
			break
		}
	}

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = alice.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "err=%v", err)

	require.Eventually(t, func() bool { return !e.relay.Registry().Online("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestIdleConnectionWithoutPongsIsClosed(t *testing.T) {
	e := newEnv(t, withKeepalive(20*time.Millisecond, 150*time.Millisecond))
	alice := e.dial("alice")
	alice.SetPingHandler(func(string) error { return nil })

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := alice.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err=%v", err)
	require.Eventually(t, func() bool { return !e.relay.Registry().Online("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestKeepaliveHoldsConnectionOpen(t *testing.T) {
	e := newEnv(t, withKeepalive(20*time.Millisecond, 150*time.Millisecond))
	alice := e.dial("alice")

	// The default ping handler answers with pongs while the client reads.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(400*time.Millisecond)))
	_, _, err := alice.ReadMessage()
	require.Error(t, err)
	assert.False(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "server closed a live connection: %v", err)
	assert.True(t, e.relay.Registry().Online("alice"))
}

func TestShutdownClosesConnections(t *testing.T) {
	e := newEnv(t)
	alice := e.dial("alice")
	require.Equal(t, 1, e.gw.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.gw.Shutdown(ctx))

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err=%v", err)
	assert.Zero(t, e.gw.Len())
	assert.Zero(t, e.relay.Registry().Len())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	mem := store.NewMemory(nil)
	r, err := relay.New(relay.Config{Users: mem, Messages: mem})
	require.NoError(t, err)
	_, err = New(Config{
		Relay:        r,
		Tokens:       auth.NewTokens("x", time.Hour, nil),
		PingInterval: time.Minute,
		IdleTimeout:  time.Second,
	})
	assert.Error(t, err)
}
