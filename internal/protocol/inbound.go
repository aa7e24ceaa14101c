package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound is a decoded client event. The set of implementations is closed.
type Inbound interface {
	Event() string
	inbound()
}

type SendMessage struct {
	Receiver string
	Content  string
}

// CallInitiate carries an opaque offer payload from caller to callee.
type CallInitiate struct {
	Target string
	Signal json.RawMessage
}

// CallAnswer carries an opaque answer payload from callee to caller.
type CallAnswer struct {
	Target string
	Signal json.RawMessage
}

type ICECandidate struct {
	Target    string
	Candidate json.RawMessage
}

type CallEnd struct {
	Target string
}

func (SendMessage) Event() string  { return EventSendMessage }
func (CallInitiate) Event() string { return EventCallInitiate }
func (CallAnswer) Event() string   { return EventCallAnswer }
func (ICECandidate) Event() string { return EventICECandidate }
func (CallEnd) Event() string      { return EventCallEnd }

func (SendMessage) inbound()  {}
func (CallInitiate) inbound() {}
func (CallAnswer) inbound()   {}
func (ICECandidate) inbound() {}
func (CallEnd) inbound()      {}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wirePayload struct {
	Receiver  string          `json:"receiver"`
	Content   *string         `json:"content"`
	Target    string          `json:"target"`
	Signal    json.RawMessage `json:"signal"`
	Candidate json.RawMessage `json:"candidate"`
}

// Decode parses one inbound frame. Malformed frames and missing fields yield
// ErrInvalidPayload; well-formed frames naming an event clients may not send
// yield ErrUnknownEvent.
func Decode(data []byte) (Inbound, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrInvalidPayload)
	}

	switch f.Event {
	case EventSendMessage, EventCallInitiate, EventCallAnswer, EventICECandidate, EventCallEnd:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}

	trimmed := bytes.TrimSpace(f.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: %s data must be an object", ErrInvalidPayload, f.Event)
	}
	var p wirePayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.Event, err)
	}

	switch f.Event {
	case EventSendMessage:
		if p.Receiver == "" {
			return nil, fmt.Errorf("%w: send-message missing receiver", ErrInvalidPayload)
		}
		// An empty string is a valid message; only an absent field is not.
		if p.Content == nil {
			return nil, fmt.Errorf("%w: send-message missing content", ErrInvalidPayload)
		}
		return SendMessage{Receiver: p.Receiver, Content: *p.Content}, nil
	case EventCallInitiate:
		if err := requireTargetAndValue(f.Event, p.Target, "signal", p.Signal); err != nil {
			return nil, err
		}
		return CallInitiate{Target: p.Target, Signal: p.Signal}, nil
	case EventCallAnswer:
		if err := requireTargetAndValue(f.Event, p.Target, "signal", p.Signal); err != nil {
			return nil, err
		}
		return CallAnswer{Target: p.Target, Signal: p.Signal}, nil
	case EventICECandidate:
		if err := requireTargetAndValue(f.Event, p.Target, "candidate", p.Candidate); err != nil {
			return nil, err
		}
		return ICECandidate{Target: p.Target, Candidate: p.Candidate}, nil
	default:
		if p.Target == "" {
			return nil, fmt.Errorf("%w: call-end missing target", ErrInvalidPayload)
		}
		return CallEnd{Target: p.Target}, nil
	}
}

func requireTargetAndValue(event, target, field string, value json.RawMessage) error {
	if target == "" {
		return fmt.Errorf("%w: %s missing target", ErrInvalidPayload, event)
	}
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return fmt.Errorf("%w: %s missing %s", ErrInvalidPayload, event, field)
	}
	return nil
}
