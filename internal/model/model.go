// Package model holds the records shared between the relay core, the REST
// API and the stores.
package model

import "time"

// ClockLayout renders message timestamps the way chat clients display them.
const ClockLayout = "15:04"

// Identity is an authenticated principal. It never changes for the lifetime of
// a session.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type User struct {
	Identity
	PasswordHash string
	CreatedAt    time.Time
}

// Message is a persisted envelope. CreatedAt is assigned by the store.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	CreatedAt  time.Time
}

// Clock returns the HH:MM rendering of the message timestamp in UTC.
func (m Message) Clock() string {
	return FormatClock(m.CreatedAt)
}

func FormatClock(t time.Time) string {
	return t.UTC().Format(ClockLayout)
}

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
)

// Friendship is the single relation allowed between two users. RequesterID
// created it; only TargetID may accept it.
type Friendship struct {
	ID          int64
	RequesterID int64
	TargetID    int64
	Status      FriendshipStatus
	CreatedAt   time.Time
}

// PendingRequest is a pending friendship as seen by its target.
type PendingRequest struct {
	ID        int64
	Requester Identity
}

// PairKey orders two user ids so a relation has one key regardless of who
// requested it.
func PairKey(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}
