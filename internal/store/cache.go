package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

const DefaultIdentityCacheSize = 4096

// CachedUsers fronts a UserStore with LRU caches keyed by username and id.
//
// Users are never renamed or deleted, so any row read once stays valid.
// Misses are not cached: a username may be registered at any moment.
type CachedUsers struct {
	UserStore

	byName *lru.Cache[string, model.User]
	byID   *lru.Cache[int64, model.User]
}

func NewCachedUsers(next UserStore, size int) (*CachedUsers, error) {
	if size <= 0 {
		size = DefaultIdentityCacheSize
	}
	byName, err := lru.New[string, model.User](size)
	if err != nil {
		return nil, fmt.Errorf("create username cache: %w", err)
	}
	byID, err := lru.New[int64, model.User](size)
	if err != nil {
		return nil, fmt.Errorf("create id cache: %w", err)
	}
	return &CachedUsers{UserStore: next, byName: byName, byID: byID}, nil
}

func (c *CachedUsers) remember(u model.User) {
	c.byName.Add(u.Username, u)
	c.byID.Add(u.ID, u)
}

func (c *CachedUsers) CreateUser(ctx context.Context, username, passwordHash string) (model.User, error) {
	u, err := c.UserStore.CreateUser(ctx, username, passwordHash)
	if err != nil {
		return model.User{}, err
	}
	c.remember(u)
	return u, nil
}

func (c *CachedUsers) UserByUsername(ctx context.Context, username string) (model.User, error) {
	if u, ok := c.byName.Get(username); ok {
		return u, nil
	}
	u, err := c.UserStore.UserByUsername(ctx, username)
	if err != nil {
		return model.User{}, err
	}
	c.remember(u)
	return u, nil
}

func (c *CachedUsers) UserByID(ctx context.Context, id int64) (model.User, error) {
	if u, ok := c.byID.Get(id); ok {
		return u, nil
	}
	u, err := c.UserStore.UserByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	c.remember(u)
	return u, nil
}

func (c *CachedUsers) Len() int { return c.byName.Len() }

// Cached is a Store whose user lookups go through CachedUsers.
type Cached struct {
	Store
	users *CachedUsers
}

// WithIdentityCache wraps s so username and id lookups are served from an LRU
// cache.
func WithIdentityCache(s Store, size int) (*Cached, error) {
	users, err := NewCachedUsers(s, size)
	if err != nil {
		return nil, err
	}
	return &Cached{Store: s, users: users}, nil
}

func (c *Cached) CreateUser(ctx context.Context, username, passwordHash string) (model.User, error) {
	return c.users.CreateUser(ctx, username, passwordHash)
}

func (c *Cached) UserByUsername(ctx context.Context, username string) (model.User, error) {
	return c.users.UserByUsername(ctx, username)
}

func (c *Cached) UserByID(ctx context.Context, id int64) (model.User, error) {
	return c.users.UserByID(ctx, id)
}
