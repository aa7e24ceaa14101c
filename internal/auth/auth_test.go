package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/bcrypt"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

func TestTokenFromRequest(t *testing.T) {
	t.Run("cookie wins", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
		r.AddCookie(&http.Cookie{Name: "aero_session", Value: "c"})
		r.Header.Set("Authorization", "Bearer b")
		got, err := TokenFromRequest(r, "aero_session")
		if err != nil || got != "c" {
			t.Fatalf("got=%q err=%v, want %q", got, err, "c")
		}
	})

	t.Run("query before bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
		r.Header.Set("Authorization", "Bearer b")
		got, err := TokenFromRequest(r, "aero_session")
		if err != nil || got != "q" {
			t.Fatalf("got=%q err=%v, want %q", got, err, "q")
		}
	})

	t.Run("bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "bearer  b ")
		got, err := TokenFromRequest(r, "aero_session")
		if err != nil || got != "b" {
			t.Fatalf("got=%q err=%v, want %q", got, err, "b")
		}
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Basic abc")
		if _, err := TokenFromRequest(r, "aero_session"); !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("err=%v, want %v", err, ErrMissingCredentials)
		}
	})
}

func TestAPIKey_VerifyRequest(t *testing.T) {
	k := APIKey{Expected: "k1"}

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	if err := k.VerifyRequest(r); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err=%v, want %v", err, ErrMissingCredentials)
	}

	r.Header.Set("X-API-Key", "k1")
	if err := k.VerifyRequest(r); err != nil {
		t.Fatalf("X-API-Key: %v", err)
	}

	r = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Header.Set("Authorization", "Bearer k2")
	if err := k.VerifyRequest(r); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidCredentials)
	}

	if err := (APIKey{}).Verify(""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty key err=%v, want %v", err, ErrInvalidCredentials)
	}
}

func TestValidateUsername(t *testing.T) {
	for _, ok := range []string{"alice", "Bob_2", "c.d-e"} {
		if err := ValidateUsername(ok); err != nil {
			t.Fatalf("ValidateUsername(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "has space", "ünicode", strings.Repeat("a", maxUsernameLen+1)} {
		if err := ValidateUsername(bad); !errors.Is(err, model.ErrInvalidUsername) {
			t.Fatalf("ValidateUsername(%q) = %v, want %v", bad, err, model.ErrInvalidUsername)
		}
	}
}

func newTestAccounts(t *testing.T) *Accounts {
	t.Helper()
	accounts, err := NewAccounts(store.NewMemory(clock.NewMock()), Hasher{Cost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	return accounts
}

func TestAccounts_RegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	accounts := newTestAccounts(t)

	alice, err := accounts.Register(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := accounts.Register(ctx, "alice", "other"); !errors.Is(err, model.ErrUsernameTaken) {
		t.Fatalf("duplicate err=%v, want %v", err, model.ErrUsernameTaken)
	}

	got, err := accounts.Authenticate(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got != alice {
		t.Fatalf("identity=%+v, want %+v", got, alice)
	}

	if _, err := accounts.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err=%v, want %v", err, ErrInvalidCredentials)
	}
	if _, err := accounts.Authenticate(ctx, "nobody", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err=%v, want %v", err, ErrInvalidCredentials)
	}
}

func TestAccounts_PasswordIsNotStoredInPlaintext(t *testing.T) {
	ctx := context.Background()
	users := store.NewMemory(clock.NewMock())
	accounts, err := NewAccounts(users, Hasher{Cost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	if _, err := accounts.Register(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, err := users.UserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("UserByUsername: %v", err)
	}
	if u.PasswordHash == "hunter2" || !strings.HasPrefix(u.PasswordHash, "$2") {
		t.Fatalf("password hash=%q, want bcrypt hash", u.PasswordHash)
	}
}

func TestHasher_RejectsOverlongPassword(t *testing.T) {
	h := Hasher{Cost: bcrypt.MinCost}
	if _, err := h.Hash(strings.Repeat("x", MaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("err=%v, want %v", err, ErrPasswordTooLong)
	}
}
