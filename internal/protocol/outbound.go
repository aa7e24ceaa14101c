package protocol

import (
	"encoding/json"
)

// Frames are assembled by hand so that opaque payloads (signal, candidate)
// reach the peer byte-for-byte as the sender wrote them. encoding/json would
// compact and HTML-escape a json.RawMessage.

func appendString(b []byte, s string) []byte {
	// Marshalling a string cannot fail.
	enc, _ := json.Marshal(s)
	return append(b, enc...)
}

func frameStart(event string, sizeHint int) []byte {
	b := make([]byte, 0, len(event)+sizeHint+32)
	b = append(b, `{"event":`...)
	b = appendString(b, event)
	return append(b, `,"data":{`...)
}

func frameEnd(b []byte) []byte {
	return append(b, "}}"...)
}

// EncodeReceiveMessage builds a receive-message frame. timestamp is the
// envelope's HH:MM rendering.
func EncodeReceiveMessage(sender, content, timestamp string) []byte {
	b := frameStart(EventReceiveMessage, len(sender)+len(content)+len(timestamp))
	b = append(b, `"sender":`...)
	b = appendString(b, sender)
	b = append(b, `,"content":`...)
	b = appendString(b, content)
	b = append(b, `,"timestamp":`...)
	b = appendString(b, timestamp)
	return frameEnd(b)
}

func EncodeFriendRequest(sender string) []byte {
	b := frameStart(EventFriendRequest, len(sender))
	b = append(b, `"sender":`...)
	b = appendString(b, sender)
	return frameEnd(b)
}

func EncodePresenceChanged(username string, online bool) []byte {
	b := frameStart(EventPresenceChanged, len(username))
	b = append(b, `"username":`...)
	b = appendString(b, username)
	if online {
		b = append(b, `,"online":true`...)
	} else {
		b = append(b, `,"online":false`...)
	}
	return frameEnd(b)
}

// EncodeCallInitiate forwards signal to the callee unchanged.
func EncodeCallInitiate(from string, signal json.RawMessage) []byte {
	return encodeForward(EventCallInitiate, from, "signal", signal)
}

// EncodeCallAnswer forwards signal to the caller unchanged.
func EncodeCallAnswer(from string, signal json.RawMessage) []byte {
	return encodeForward(EventCallAnswer, from, "signal", signal)
}

func EncodeICECandidate(from string, candidate json.RawMessage) []byte {
	return encodeForward(EventICECandidate, from, "candidate", candidate)
}

func EncodeCallEnd(from string) []byte {
	b := frameStart(EventCallEnd, len(from))
	b = append(b, `"from":`...)
	b = appendString(b, from)
	return frameEnd(b)
}

func encodeForward(event, from, field string, raw json.RawMessage) []byte {
	b := frameStart(event, len(from)+len(field)+len(raw))
	b = append(b, `"from":`...)
	b = appendString(b, from)
	b = append(b, ',', '"')
	b = append(b, field...)
	b = append(b, '"', ':')
	b = append(b, raw...)
	return frameEnd(b)
}
