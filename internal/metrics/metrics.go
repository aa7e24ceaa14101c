// Package metrics records relay activity and exposes it to Prometheus.
package metrics

import "time"

// Event outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeEchoed    = "echoed"
	// OutcomeDropped means the target had no live session.
	OutcomeDropped  = "dropped"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Connection rejection reasons.
const (
	RejectUnauthenticated = "unauthenticated"
	RejectOrigin          = "origin"
	RejectRateLimited     = "rate_limited"
	RejectInvalidFrame    = "invalid_frame"
)

// Recorder is the metrics surface used by the relay core, the gateway and the
// HTTP layer.
type Recorder interface {
	Event(event, outcome string)
	SessionOpened()
	SessionClosed()
	OutboundDropped()
	ConnectionRejected(reason string)
	HTTPRequest(route string, status int, d time.Duration)
}

// Noop discards everything.
type Noop struct{}

func (Noop) Event(string, string)                   {}
func (Noop) SessionOpened()                         {}
func (Noop) SessionClosed()                         {}
func (Noop) OutboundDropped()                       {}
func (Noop) ConnectionRejected(string)              {}
func (Noop) HTTPRequest(string, int, time.Duration) {}
