package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/protocol"
)

// RelayMessage persists content from the sender to receiverUsername, delivers
// the envelope to the receiver if connected and echoes it to from.
//
// An unknown receiver is a silent drop. A persistence failure forwards
// nothing.
func (r *Relay) RelayMessage(ctx context.Context, from *Session, receiverUsername, content string) error {
	receiver, err := r.users.UserByUsername(ctx, receiverUsername)
	if errors.Is(err, model.ErrNotFound) {
		r.metrics.Event(protocol.EventSendMessage, metrics.OutcomeDropped)
		r.log.Debug("message to unknown user dropped", "username", from.Username(), "receiver", receiverUsername)
		return nil
	}
	if err != nil {
		r.metrics.Event(protocol.EventSendMessage, metrics.OutcomeFailed)
		return fmt.Errorf("resolve receiver %q: %w", receiverUsername, err)
	}

	msg, err := r.messages.PersistMessage(ctx, from.Identity().ID, receiver.ID, content)
	if err != nil {
		r.metrics.Event(protocol.EventSendMessage, metrics.OutcomeFailed)
		return fmt.Errorf("persist message: %w", err)
	}

	frame := protocol.EncodeReceiveMessage(from.Username(), msg.Content, msg.Clock())

	outcome := metrics.OutcomeEchoed
	if target, ok := r.registry.Lookup(receiver.Username); ok && target != from {
		if target.Send(frame) {
			outcome = metrics.OutcomeDelivered
		}
	}
	from.Send(frame)

	r.metrics.Event(protocol.EventSendMessage, outcome)
	return nil
}
