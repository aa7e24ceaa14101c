// Package relay is the real-time core of the chat relay: the presence
// registry, connection lifecycle, message relay, friend notifications and
// call signaling.
//
// The registry is the only shared mutable state. Every forward is a
// non-blocking enqueue onto the target session's outbound queue; the relay
// never waits for a consumer.
package relay
