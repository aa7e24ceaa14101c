// Package api serves the chat REST surface: accounts, friendships, message
// history and the per-user ICE configuration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/turnrest"
)

const maxBodyBytes = 16 * 1024

type AccountService interface {
	Register(ctx context.Context, username, password string) (model.Identity, error)
	Authenticate(ctx context.Context, username, password string) (model.Identity, error)
}

type SessionTokens interface {
	Issue(id model.Identity) (string, auth.Claims, error)
	Verify(token string) (auth.Claims, error)
}

// Presence answers whether a username currently holds a live session.
type Presence interface {
	Online(username string) bool
}

// FriendNotifier pushes a friend-request event to a connected target.
type FriendNotifier interface {
	NotifyFriendRequest(target, requester string) bool
}

type Store interface {
	store.UserStore
	store.FriendStore
	store.MessageStore
}

type Config struct {
	Accounts AccountService
	Tokens   SessionTokens
	Store    Store
	Presence Presence
	Notifier FriendNotifier

	CookieName   string
	CookieSecure bool
	SessionTTL   time.Duration

	// LoginLimiter, when set, bounds /login attempts per client IP.
	LoginLimiter *ratelimit.Keyed
	// OriginPolicy wraps every route; nil accepts any origin.
	OriginPolicy func(http.Handler) http.Handler

	ICEServers []webrtc.ICEServer
	// ICEError makes /webrtc/ice answer 503.
	ICEError error
	TURN     *turnrest.Generator

	Logger *slog.Logger
}

type API struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*API, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, errors.New("api: accounts are required")
	case cfg.Tokens == nil:
		return nil, errors.New("api: session tokens are required")
	case cfg.Store == nil:
		return nil, errors.New("api: store is required")
	case cfg.Presence == nil:
		return nil, errors.New("api: presence is required")
	case cfg.Notifier == nil:
		return nil, errors.New("api: friend notifier is required")
	case cfg.CookieName == "":
		return nil, errors.New("api: cookie name is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &API{cfg: cfg, log: log}, nil
}

// Handler returns the routed REST surface. It is meant to be mounted at the
// root of the server so preflight requests reach the origin policy.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	if a.cfg.OriginPolicy != nil {
		r.Use(a.cfg.OriginPolicy)
	}

	r.Post("/register", a.register)
	if a.cfg.LoginLimiter != nil {
		r.With(a.cfg.LoginLimiter.Middleware("login", ratelimit.ClientIP)).Post("/login", a.login)
	} else {
		r.Post("/login", a.login)
	}
	r.Get("/logout", a.logout)
	r.Post("/logout", a.logout)

	r.Group(func(r chi.Router) {
		r.Use(a.requireSession)

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", a.me)
			r.Get("/friends", a.friends)
			r.Get("/friend-requests", a.friendRequests)
			r.Post("/add-friend", a.addFriend)
			r.Post("/accept-friend", a.acceptFriend)
			r.Get("/messages/{friendID:[0-9]+}", a.messages)
		})
		r.Get("/webrtc/ice", a.iceServers)
	})

	return r
}

// decodeBody reads a bounded JSON object into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

type successResponse struct {
	Success bool `json:"success"`
}

var okResponse = successResponse{Success: true}
