package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// The validators below are used only in strict call mode. Permissive mode
// treats payloads as opaque.

// ValidateSessionDescription checks that raw is an RTCSessionDescription of
// the wanted type with a parseable SDP body.
func ValidateSessionDescription(raw json.RawMessage, want webrtc.SDPType) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("%w: session description: %v", ErrInvalidPayload, err)
	}
	if desc.Type != want {
		return fmt.Errorf("%w: session description type %q, want %q", ErrInvalidPayload, desc.Type, want)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return fmt.Errorf("%w: session description missing sdp", ErrInvalidPayload)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: sdp: %v", ErrInvalidPayload, err)
	}
	return nil
}

// ValidateICECandidate checks that raw is an RTCIceCandidateInit. An empty
// candidate string is the end-of-candidates marker and is accepted.
func ValidateICECandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("%w: ice candidate: %v", ErrInvalidPayload, err)
	}
	if init.Candidate != "" && !strings.HasPrefix(init.Candidate, "candidate:") {
		return fmt.Errorf("%w: ice candidate %q lacks candidate: prefix", ErrInvalidPayload, init.Candidate)
	}
	return nil
}
