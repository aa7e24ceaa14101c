package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// APIKey guards operational endpoints with a static shared key.
type APIKey struct {
	Expected string
}

func (k APIKey) Enabled() bool { return k.Expected != "" }

func (k APIKey) Verify(apiKey string) error {
	if apiKey == "" || k.Expected == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(k.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyRequest reads the key from `Authorization: Bearer` or `X-API-Key`.
func (k APIKey) VerifyRequest(r *http.Request) error {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return k.Verify(key)
	}
	if bearer, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return k.Verify(bearer)
	}
	return ErrMissingCredentials
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
