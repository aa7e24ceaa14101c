// Package gateway binds authenticated WebSocket connections to relay
// sessions.
//
// Identity is established before the upgrade from the session token (cookie,
// `token` query parameter or bearer header). A connection that fails
// authentication never reaches the relay.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/relay"
)

const (
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultEventTimeout         = 10 * time.Second

	wsWriteWait = 5 * time.Second
	// inboundBuffer bounds decoded events waiting for the dispatcher.
	inboundBuffer = 64
)

// TokenVerifier resolves a session token to its claims.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Relay is the part of the relay core a connection drives.
type Relay interface {
	Connect(identity model.Identity) *relay.Session
	Disconnect(s *relay.Session)
	Dispatch(ctx context.Context, s *relay.Session, ev protocol.Inbound) error
}

type Config struct {
	Relay      Relay
	Tokens     TokenVerifier
	CookieName string
	Origins    origin.Policy

	MaxMessageBytes int64
	// MaxMessagesPerSecond <= 0 disables the per-connection rate limit.
	MaxMessagesPerSecond int
	IdleTimeout          time.Duration
	PingInterval         time.Duration
	// EventTimeout bounds the store work of one inbound event.
	EventTimeout time.Duration

	Metrics metrics.Recorder
	Logger  *slog.Logger
}

type Server struct {
	cfg      Config
	log      *slog.Logger
	metrics  metrics.Recorder
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config) (*Server, error) {
	if cfg.Relay == nil {
		return nil, errors.New("gateway: relay is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("gateway: token verifier is required")
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PingInterval >= cfg.IdleTimeout {
		return nil, errors.New("gateway: ping interval must be shorter than the idle timeout")
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: cfg.Metrics,
		upgrader: websocket.Upgrader{
			// Checked again here so a direct mount without ServeHTTP's
			// pre-check still enforces the policy.
			CheckOrigin: cfg.Origins.CheckOrigin,
		},
		conns: make(map[*conn]struct{}),
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := auth.TokenFromRequest(r, s.cfg.CookieName)
	if err != nil {
		s.reject(w, http.StatusUnauthorized, metrics.RejectUnauthenticated)
		return
	}
	claims, err := s.cfg.Tokens.Verify(token)
	if err != nil {
		s.reject(w, http.StatusUnauthorized, metrics.RejectUnauthenticated)
		return
	}
	if _, ok := s.cfg.Origins.Check(r); !ok {
		s.reject(w, http.StatusForbidden, metrics.RejectOrigin)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.log.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := newConn(s, ws, claims.Identity())
	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = ws.Close()
		return
	}
	defer s.untrack(c)
	c.run(r.Context())
}

func (s *Server) reject(w http.ResponseWriter, status int, reason string) {
	s.metrics.ConnectionRejected(reason)
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Len reports the number of live connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every live connection with CloseGoingAway and waits for
// their handlers to finish or ctx to expire. New upgrades are refused.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.closeTransport()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
