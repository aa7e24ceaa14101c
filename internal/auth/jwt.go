package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/model"
)

var ErrUnsupportedJWT = errors.New("unsupported jwt")

const (
	// HMAC-SHA256 output size in bytes.
	hmacSHA256SigLen = 32
	// base64url-no-pad length of a 32-byte HMAC.
	hmacSHA256SigB64Len = 43
	maxJWTHeaderB64Len  = 1024
	maxJWTPayloadB64Len = 4 * 1024
	maxJWTLen           = maxJWTHeaderB64Len + 1 + maxJWTPayloadB64Len + 1 + hmacSHA256SigB64Len
)

// fixed header: {"alg":"HS256","typ":"JWT"}
var jwtHeaderB64 = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Claims is the payload of a session token.
type Claims struct {
	UserID   int64
	Username string
	IssuedAt time.Time
	Expires  time.Time
}

func (c Claims) Identity() model.Identity {
	return model.Identity{ID: c.UserID, Username: c.Username}
}

type wireClaims struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Iat  int64  `json:"iat"`
	Exp  int64  `json:"exp"`
}

// Tokens issues and verifies HS256 session tokens bound to an identity.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewTokens(secret string, ttl time.Duration, clk clock.Clock) *Tokens {
	if clk == nil {
		clk = clock.New()
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, clock: clk}
}

func (t *Tokens) TTL() time.Duration { return t.ttl }

func (t *Tokens) sign(signingInput string) []byte {
	mac := hmac.New(sha256.New, t.secret)
	_, _ = mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}

// Issue returns a signed token for id valid for the configured TTL.
func (t *Tokens) Issue(id model.Identity) (string, Claims, error) {
	now := t.clock.Now()
	claims := Claims{
		UserID:   id.ID,
		Username: id.Username,
		IssuedAt: time.Unix(now.Unix(), 0),
		Expires:  time.Unix(now.Add(t.ttl).Unix(), 0),
	}
	payload, err := json.Marshal(wireClaims{
		Sub:  strconv.FormatInt(id.ID, 10),
		Name: id.Username,
		Iat:  claims.IssuedAt.Unix(),
		Exp:  claims.Expires.Unix(),
	})
	if err != nil {
		return "", Claims{}, fmt.Errorf("encode claims: %w", err)
	}

	signingInput := jwtHeaderB64 + "." + base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString(t.sign(signingInput))
	return signingInput + "." + sig, claims, nil
}

// Verify checks the signature and lifetime of token and returns its claims.
func (t *Tokens) Verify(token string) (Claims, error) {
	headerB64, payloadB64, sigB64, ok := splitJWTParts(token)
	if !ok {
		return Claims{}, ErrInvalidCredentials
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	var header struct {
		Alg *string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil || header.Alg == nil {
		return Claims{}, ErrInvalidCredentials
	}
	if *header.Alg != "HS256" {
		return Claims{}, ErrUnsupportedJWT
	}

	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(gotSig) != hmacSHA256SigLen {
		return Claims{}, ErrInvalidCredentials
	}
	if !hmac.Equal(gotSig, t.sign(headerB64+"."+payloadB64)) {
		return Claims{}, ErrInvalidCredentials
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	dec := json.NewDecoder(bytes.NewReader(payloadJSON))
	dec.DisallowUnknownFields()
	var wc wireClaims
	if err := dec.Decode(&wc); err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	// Exactly one JSON object.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Claims{}, ErrInvalidCredentials
	}

	userID, err := strconv.ParseInt(wc.Sub, 10, 64)
	if err != nil || userID <= 0 || wc.Name == "" {
		return Claims{}, ErrInvalidCredentials
	}
	if wc.Exp == 0 || t.clock.Now().Unix() >= wc.Exp {
		return Claims{}, ErrInvalidCredentials
	}

	return Claims{
		UserID:   userID,
		Username: wc.Name,
		IssuedAt: time.Unix(wc.Iat, 0),
		Expires:  time.Unix(wc.Exp, 0),
	}, nil
}

func splitJWTParts(token string) (headerB64, payloadB64, sigB64 string, ok bool) {
	if token == "" || len(token) > maxJWTLen {
		return "", "", "", false
	}
	headerB64, rest, found := strings.Cut(token, ".")
	if !found {
		return "", "", "", false
	}
	payloadB64, sigB64, found = strings.Cut(rest, ".")
	if !found || strings.Contains(sigB64, ".") {
		return "", "", "", false
	}
	if len(headerB64) > maxJWTHeaderB64Len || len(payloadB64) > maxJWTPayloadB64Len {
		return "", "", "", false
	}
	if len(sigB64) != hmacSHA256SigB64Len {
		return "", "", "", false
	}
	if !isBase64urlNoPad(headerB64) || !isBase64urlNoPad(payloadB64) || !isBase64urlNoPad(sigB64) {
		return "", "", "", false
	}
	return headerB64, payloadB64, sigB64, true
}

// isBase64urlNoPad accepts only canonical base64url without padding: the
// unused bits of the final quantum must be zero.
func isBase64urlNoPad(raw string) bool {
	if raw == "" || len(raw)%4 == 1 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if _, ok := b64urlValue(raw[i]); !ok {
			return false
		}
	}
	last, _ := b64urlValue(raw[len(raw)-1])
	switch len(raw) % 4 {
	case 2:
		return last&0x0f == 0
	case 3:
		return last&0x03 == 0
	default:
		return true
	}
}

func b64urlValue(b byte) (byte, bool) {
	switch {
	case b >= 'A' && b <= 'Z':
		return b - 'A', true
	case b >= 'a' && b <= 'z':
		return b - 'a' + 26, true
	case b >= '0' && b <= '9':
		return b - '0' + 52, true
	case b == '-':
		return 62, true
	case b == '_':
		return 63, true
	default:
		return 0, false
	}
}
