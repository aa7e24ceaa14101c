package api

import (
	"context"
	"net/http"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

type contextKey string

var identityContextKey = contextKey("identity")

// requireSession resolves the session token and stores the identity in the
// request context. Requests without a valid token get 401.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.TokenFromRequest(r, a.cfg.CookieName)
		if err != nil {
			httpserver.WriteError(w, http.StatusUnauthorized, "login required")
			return
		}
		claims, err := a.cfg.Tokens.Verify(token)
		if err != nil {
			httpserver.WriteError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), claims.Identity())))
	})
}

// IdentityFromContext returns the identity set by the session middleware.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(model.Identity)
	return id, ok && id.ID != 0
}

func ContextWithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
