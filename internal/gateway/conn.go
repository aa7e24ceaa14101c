package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/relay"
)

// wsProtocolError is a connection-fatal condition. Code is a stable
// machine-readable name; Message becomes the close reason.
type wsProtocolError struct {
	Code      string
	Message   string
	CloseCode int
}

func (e *wsProtocolError) Error() string { return e.Code + ": " + e.Message }

var (
	errRateLimited = &wsProtocolError{Code: "rate_limited", Message: "rate limit exceeded", CloseCode: websocket.ClosePolicyViolation}
	errTooLarge    = &wsProtocolError{Code: "message_too_large", Message: "message too large", CloseCode: websocket.CloseMessageTooBig}
	errNotText     = &wsProtocolError{Code: "bad_message", Message: "expected text message", CloseCode: websocket.CloseUnsupportedData}
)

type conn struct {
	srv      *Server
	ws       *websocket.Conn
	identity model.Identity
	log      *slog.Logger

	limiter *rate.Limiter
	inbound chan protocol.Inbound

	session *relay.Session

	closeOnce sync.Once
}

func newConn(srv *Server, ws *websocket.Conn, identity model.Identity) *conn {
	c := &conn{
		srv:      srv,
		ws:       ws,
		identity: identity,
		log:      srv.log.With("username", identity.Username),
		inbound:  make(chan protocol.Inbound, inboundBuffer),
	}
	if n := srv.cfg.MaxMessagesPerSecond; n > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(n), n)
	}
	return c
}

// run owns the connection until the peer goes away. The reader runs on the
// calling goroutine; writer, pinger and dispatcher run alongside it.
func (c *conn) run(ctx context.Context) {
	defer c.closeTransport()

	c.ws.SetReadLimit(c.srv.cfg.MaxMessageBytes)
	idle := c.srv.cfg.IdleTimeout
	_ = c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	c.session = c.srv.cfg.Relay.Connect(c.identity)
	c.log = c.log.With("session_id", c.session.ID())
	c.log.Info("websocket connected")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.pingLoop()
	}()
	go func() {
		defer wg.Done()
		c.dispatchLoop(ctx)
	}()

	err := c.readLoop()
	close(c.inbound)

	// Presence changes as soon as the transport is gone. Messages already
	// queued for the dispatcher are still relayed.
	c.srv.cfg.Relay.Disconnect(c.session)

	var protoErr *wsProtocolError
	switch {
	case errors.As(err, &protoErr):
		c.srv.metrics.ConnectionRejected(rejectReason(protoErr))
		c.log.Info("websocket closed", "reason", protoErr.Code)
		c.closeWith(protoErr.CloseCode, protoErr.Message)
	case isTimeout(err):
		c.log.Info("websocket closed", "reason", "idle_timeout")
		c.closeWith(websocket.CloseGoingAway, "idle timeout")
	default:
		c.log.Info("websocket closed", "reason", "peer", "err", err)
	}

	c.closeTransport()
	wg.Wait()
}

func rejectReason(err *wsProtocolError) string {
	if err == errRateLimited {
		return metrics.RejectRateLimited
	}
	return metrics.RejectInvalidFrame
}

func (c *conn) readLoop() error {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return errTooLarge
			}
			return err
		}
		// The limit is applied after the read so bytes already in the socket
		// buffer are consumed and the peer sees the close frame.
		if c.limiter != nil && !c.limiter.Allow() {
			return errRateLimited
		}
		if msgType != websocket.TextMessage {
			return errNotText
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			c.srv.metrics.Event("invalid", metrics.OutcomeRejected)
			c.log.Debug("discarding inbound frame", "err", err)
			continue
		}
		c.inbound <- ev
	}
}

func (c *conn) dispatchLoop(ctx context.Context) {
	// Disconnect does not cancel an event already being relayed.
	base := context.WithoutCancel(ctx)
	for ev := range c.inbound {
		evCtx, cancel := context.WithTimeout(base, c.srv.cfg.EventTimeout)
		err := c.srv.cfg.Relay.Dispatch(evCtx, c.session, ev)
		cancel()
		if err != nil {
			c.logDispatchError(ev, err)
		}
	}
}

func (c *conn) logDispatchError(ev protocol.Inbound, err error) {
	switch {
	case errors.Is(err, protocol.ErrInvalidPayload),
		errors.Is(err, relay.ErrNoActiveCall),
		errors.Is(err, relay.ErrCallConflict),
		errors.Is(err, relay.ErrNotCallParty),
		errors.Is(err, relay.ErrSessionClosed):
		c.log.Debug("inbound event rejected", "event", ev.Event(), "err", err)
	default:
		c.log.Warn("inbound event failed", "event", ev.Event(), "err", err)
	}
}

func (c *conn) writeLoop() {
	for {
		frame, ok := c.session.Next()
		if !ok {
			return
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.log.Debug("websocket write failed", "err", err)
			// Unblocks the reader, which runs the disconnect.
			c.closeTransport()
			return
		}
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.session.Done():
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.closeTransport()
				return
			}
		}
	}
}

// closeWith sends a close frame. WriteControl is safe alongside the writer.
func (c *conn) closeWith(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *conn) closeTransport() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
