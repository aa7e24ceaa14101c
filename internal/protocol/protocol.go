// Package protocol defines the WebSocket event surface of the chat relay.
//
// Every frame is a single JSON text message of the form
//
//	{"event": "<name>", "data": {...}}
//
// Inbound frames are decoded into a closed set of Inbound variants at the
// connection boundary. Outbound frames are built by Encode* helpers that
// splice opaque signaling payloads into the frame without re-encoding them.
package protocol

import "errors"

const (
	EventSendMessage     = "send-message"
	EventReceiveMessage  = "receive-message"
	EventFriendRequest   = "friend-request"
	EventCallInitiate    = "call-initiate"
	EventCallAnswer      = "call-answer"
	EventICECandidate    = "ice-candidate"
	EventCallEnd         = "call-end"
	EventPresenceChanged = "presence-changed"
)

var (
	ErrInvalidPayload = errors.New("protocol: invalid payload")
	ErrUnknownEvent   = errors.New("protocol: unknown event")
)
