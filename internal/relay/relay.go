package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/protocol"
)

// UserLookup resolves a username to a stored user.
type UserLookup interface {
	UserByUsername(ctx context.Context, username string) (model.User, error)
}

// MessagePersister stores an envelope and assigns its timestamp.
type MessagePersister interface {
	PersistMessage(ctx context.Context, senderID, receiverID int64, content string) (model.Message, error)
}

type CallMode string

const (
	// CallModePermissive forwards every signaling step without tracking calls.
	CallModePermissive CallMode = "permissive"
	// CallModeStrict tracks one attempt per user pair and rejects steps that
	// do not belong to an active attempt.
	CallModeStrict CallMode = "strict"
)

const DefaultRingTimeout = 45 * time.Second

type Config struct {
	Registry *Registry
	Users    UserLookup
	Messages MessagePersister

	Metrics metrics.Recorder
	Logger  *slog.Logger
	Clock   clock.Clock

	SendQueueBytes int
	CallMode       CallMode
	RingTimeout    time.Duration
}

type Relay struct {
	registry *Registry
	users    UserLookup
	messages MessagePersister

	metrics metrics.Recorder
	log     *slog.Logger
	clock   clock.Clock

	sendQueueBytes int
	calls          *callTracker
}

func New(cfg Config) (*Relay, error) {
	if cfg.Users == nil {
		return nil, errors.New("relay: user lookup is required")
	}
	if cfg.Messages == nil {
		return nil, errors.New("relay: message store is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}

	r := &Relay{
		registry:       cfg.Registry,
		users:          cfg.Users,
		messages:       cfg.Messages,
		metrics:        cfg.Metrics,
		log:            cfg.Logger,
		clock:          cfg.Clock,
		sendQueueBytes: cfg.SendQueueBytes,
	}

	switch cfg.CallMode {
	case "", CallModePermissive:
	case CallModeStrict:
		r.calls = newCallTracker(cfg.Clock, cfg.RingTimeout, r.ringTimedOut)
	default:
		return nil, fmt.Errorf("relay: unknown call mode %q", cfg.CallMode)
	}
	return r, nil
}

func (r *Relay) Registry() *Registry { return r.registry }

func (r *Relay) CallMode() CallMode {
	if r.calls != nil {
		return CallModeStrict
	}
	return CallModePermissive
}

// Dispatch routes one decoded inbound event from s. Messages read before a
// disconnect are still relayed after it; call signaling from a closed
// session yields ErrSessionClosed.
func (r *Relay) Dispatch(ctx context.Context, s *Session, ev protocol.Inbound) error {
	if msg, ok := ev.(protocol.SendMessage); ok {
		return r.RelayMessage(ctx, s, msg.Receiver, msg.Content)
	}

	select {
	case <-s.Done():
		return ErrSessionClosed
	default:
	}

	switch ev := ev.(type) {
	case protocol.CallInitiate:
		return r.CallInitiate(s, ev.Target, ev.Signal)
	case protocol.CallAnswer:
		return r.CallAnswer(s, ev.Target, ev.Signal)
	case protocol.ICECandidate:
		return r.ICECandidate(s, ev.Target, ev.Candidate)
	case protocol.CallEnd:
		return r.CallEnd(s, ev.Target)
	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownEvent, ev)
	}
}

func (r *Relay) onDrop(s *Session) {
	r.metrics.OutboundDropped()
	r.log.Warn("dropped outbound frame",
		"username", s.Username(),
		"session_id", s.ID(),
		"pending", s.Pending(),
	)
}
