package relay

import "errors"

var (
	ErrSessionClosed = errors.New("session closed")

	// Strict call mode only.
	ErrNoActiveCall = errors.New("no active call attempt")
	ErrCallConflict = errors.New("call attempt already ringing in the other direction")
	ErrNotCallParty = errors.New("sender is not the expected party for this call step")
)
