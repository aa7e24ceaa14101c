package relay

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/protocol"
)

// CallInitiate forwards an offer from the caller to target.
func (r *Relay) CallInitiate(from *Session, target string, signal json.RawMessage) error {
	if r.calls != nil {
		if err := protocol.ValidateSessionDescription(signal, webrtc.SDPTypeOffer); err != nil {
			return r.reject(protocol.EventCallInitiate, from, target, err)
		}
		if !r.registry.Online(target) {
			// Target absent: the attempt fails immediately and the caller is
			// told the call ended.
			r.metrics.Event(protocol.EventCallInitiate, metrics.OutcomeDropped)
			from.Send(protocol.EncodeCallEnd(target))
			return nil
		}
		if err := r.calls.initiate(from.Username(), target); err != nil {
			return r.reject(protocol.EventCallInitiate, from, target, err)
		}
	}
	return r.forward(protocol.EventCallInitiate, target, protocol.EncodeCallInitiate(from.Username(), signal))
}

// CallAnswer forwards an answer from the callee back to target, the caller.
func (r *Relay) CallAnswer(from *Session, target string, signal json.RawMessage) error {
	if r.calls != nil {
		if err := protocol.ValidateSessionDescription(signal, webrtc.SDPTypeAnswer); err != nil {
			return r.reject(protocol.EventCallAnswer, from, target, err)
		}
		if err := r.calls.answer(from.Username(), target); err != nil {
			return r.reject(protocol.EventCallAnswer, from, target, err)
		}
	}
	return r.forward(protocol.EventCallAnswer, target, protocol.EncodeCallAnswer(from.Username(), signal))
}

func (r *Relay) ICECandidate(from *Session, target string, candidate json.RawMessage) error {
	if r.calls != nil {
		if err := protocol.ValidateICECandidate(candidate); err != nil {
			return r.reject(protocol.EventICECandidate, from, target, err)
		}
		if err := r.calls.candidate(from.Username(), target); err != nil {
			return r.reject(protocol.EventICECandidate, from, target, err)
		}
	}
	return r.forward(protocol.EventICECandidate, target, protocol.EncodeICECandidate(from.Username(), candidate))
}

func (r *Relay) CallEnd(from *Session, target string) error {
	if r.calls != nil {
		if err := r.calls.end(from.Username(), target); err != nil {
			return r.reject(protocol.EventCallEnd, from, target, err)
		}
	}
	return r.forward(protocol.EventCallEnd, target, protocol.EncodeCallEnd(from.Username()))
}

// CallState reports the tracked state between two users. It is always
// CallIdle in permissive mode.
func (r *Relay) CallState(a, b string) CallState {
	if r.calls == nil {
		return CallIdle
	}
	return r.calls.state(a, b)
}

func (r *Relay) forward(event, target string, frame []byte) error {
	if r.sendTo(target, frame) {
		r.metrics.Event(event, metrics.OutcomeDelivered)
	} else {
		r.metrics.Event(event, metrics.OutcomeDropped)
	}
	return nil
}

func (r *Relay) reject(event string, from *Session, target string, err error) error {
	r.metrics.Event(event, metrics.OutcomeRejected)
	if !errors.Is(err, protocol.ErrInvalidPayload) {
		r.log.Debug("call step rejected", "event", event, "username", from.Username(), "target", target, "err", err)
	}
	return err
}

func (r *Relay) ringTimedOut(caller, callee string) {
	r.metrics.Event(protocol.EventCallInitiate, metrics.OutcomeFailed)
	r.log.Info("call attempt timed out", "caller", caller, "callee", callee)
	r.sendTo(callee, protocol.EncodeCallEnd(caller))
	r.sendTo(caller, protocol.EncodeCallEnd(callee))
}
