package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

const maxUsernameLen = 32

// ValidateUsername accepts 1-32 ASCII letters, digits, '_', '-' and '.'.
func ValidateUsername(username string) error {
	if username == "" || len(username) > maxUsernameLen {
		return model.ErrInvalidUsername
	}
	for i := 0; i < len(username); i++ {
		c := username[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			return model.ErrInvalidUsername
		}
	}
	return nil
}

// Accounts registers and authenticates users against an identity store.
type Accounts struct {
	users  store.UserStore
	hasher Hasher
	// dummyHash is compared against when the username does not exist so that
	// unknown and known usernames take the same time to reject.
	dummyHash string
}

func NewAccounts(users store.UserStore, hasher Hasher) (*Accounts, error) {
	dummy, err := hasher.Hash("aero-chat-relay-dummy-password")
	if err != nil {
		return nil, err
	}
	return &Accounts{users: users, hasher: hasher, dummyHash: dummy}, nil
}

func (a *Accounts) Register(ctx context.Context, username, password string) (model.Identity, error) {
	if err := ValidateUsername(username); err != nil {
		return model.Identity{}, err
	}
	if password == "" {
		return model.Identity{}, ErrInvalidCredentials
	}
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return model.Identity{}, err
	}
	u, err := a.users.CreateUser(ctx, username, hash)
	if err != nil {
		return model.Identity{}, err
	}
	return u.Identity, nil
}

// Authenticate returns the identity for a valid username/password pair and
// ErrInvalidCredentials otherwise.
func (a *Accounts) Authenticate(ctx context.Context, username, password string) (model.Identity, error) {
	u, err := a.users.UserByUsername(ctx, username)
	if errors.Is(err, model.ErrNotFound) {
		_ = a.hasher.Compare(a.dummyHash, password)
		return model.Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find user: %w", err)
	}
	if err := a.hasher.Compare(u.PasswordHash, password); err != nil {
		return model.Identity{}, err
	}
	return u.Identity, nil
}
