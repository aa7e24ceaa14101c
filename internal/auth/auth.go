// Package auth issues and verifies session tokens, hashes passwords and
// authenticates accounts against the identity store.
package auth

import (
	"errors"
	"net/http"
)

var ErrMissingCredentials = errors.New("missing credentials")

// TokenFromRequest extracts a session token from, in order, the session
// cookie, the `token` query parameter and an `Authorization: Bearer` header.
// Browsers cannot set headers on WebSocket upgrades, hence the cookie and
// query forms.
func TokenFromRequest(r *http.Request, cookieName string) (string, error) {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, nil
	}
	return "", ErrMissingCredentials
}
