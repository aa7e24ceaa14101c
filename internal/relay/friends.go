package relay

import (
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/protocol"
)

// NotifyFriendRequest pushes a friend-request event to target if connected.
// The pending relation must already be stored; nothing is queued for an
// offline target.
func (r *Relay) NotifyFriendRequest(target, requester string) bool {
	delivered := r.sendTo(target, protocol.EncodeFriendRequest(requester))
	if delivered {
		r.metrics.Event(protocol.EventFriendRequest, metrics.OutcomeDelivered)
	} else {
		r.metrics.Event(protocol.EventFriendRequest, metrics.OutcomeDropped)
	}
	return delivered
}
