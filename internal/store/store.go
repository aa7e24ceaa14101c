// Package store persists accounts, friendships and message history.
//
// Three backends share one contract: an in-memory store (tests and
// DATABASE_URL=memory:), SQLite (modernc.org/sqlite) and Postgres (lib/pq).
// Lookups of missing rows return model.ErrNotFound.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (model.User, error)
	UserByUsername(ctx context.Context, username string) (model.User, error)
	UserByID(ctx context.Context, id int64) (model.User, error)
}

type FriendStore interface {
	// CreatePending records a pending relation from requester to target. It
	// fails with model.ErrFriendshipExists when any relation already exists
	// between the two users, in either direction.
	CreatePending(ctx context.Context, requesterID, targetID int64) (model.Friendship, error)
	ListAccepted(ctx context.Context, userID int64) ([]model.Identity, error)
	ListPending(ctx context.Context, userID int64) ([]model.PendingRequest, error)
	// Accept moves a pending relation to accepted. actingID must be the
	// relation's target.
	Accept(ctx context.Context, friendshipID, actingID int64) error
}

type MessageStore interface {
	// PersistMessage stores an envelope and assigns its timestamp.
	PersistMessage(ctx context.Context, senderID, receiverID int64, content string) (model.Message, error)
	// Conversation returns every message between a and b in ascending order.
	Conversation(ctx context.Context, a, b int64) ([]model.Message, error)
}

type Store interface {
	UserStore
	FriendStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}

// Backend names a storage implementation selected by DATABASE_URL.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// ParseBackend maps a DATABASE_URL onto its backend.
func ParseBackend(databaseURL string) (Backend, error) {
	raw := strings.TrimSpace(databaseURL)
	switch {
	case raw == "memory:" || raw == "memory://":
		return BackendMemory, nil
	case strings.HasPrefix(raw, "sqlite://"):
		if strings.TrimPrefix(raw, "sqlite://") == "" {
			return "", fmt.Errorf("sqlite database url %q has no path", databaseURL)
		}
		return BackendSQLite, nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database url %q (expected memory:, sqlite://PATH or postgres://...)", databaseURL)
	}
}

type Options struct {
	Clock clock.Clock
	// SkipMigrations leaves the schema untouched. Used when migrations are run
	// out of band.
	SkipMigrations bool
}

// Open connects to the backend named by databaseURL and applies pending
// migrations.
func Open(ctx context.Context, databaseURL string, opts Options) (Store, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	backend, err := ParseBackend(databaseURL)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendMemory:
		return NewMemory(opts.Clock), nil
	case BackendSQLite:
		return openSQLite(ctx, databaseURL, opts)
	case BackendPostgres:
		return openPostgres(ctx, databaseURL, opts)
	default:
		return nil, fmt.Errorf("unsupported backend %q", backend)
	}
}
