// Package turnrest issues coturn-compatible TURN REST credentials.
//
//	username   = <unix_expiry>:<prefix>:<subject>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	Clock          clock.Clock
}

type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	clock  clock.Clock
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTL < time.Second {
		return nil, errors.New("turnrest: ttl must be at least 1s")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("turnrest: username prefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("turnrest: username prefix must not contain ':'")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		clock:  cfg.Clock,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

// Generate signs credentials for subject, which must not contain ':'.
func (g *Generator) Generate(subject string) (Credentials, error) {
	if subject == "" {
		return Credentials{}, errors.New("turnrest: subject is required")
	}
	if strings.Contains(subject, ":") {
		return Credentials{}, errors.New("turnrest: subject must not contain ':'")
	}
	expires := g.clock.Now().UTC().Add(g.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), g.prefix, subject)
	return Credentials{
		Username:   username,
		Credential: Sign(g.secret, username),
		Expires:    expires,
	}, nil
}

// ForUser issues credentials unique to one request by a user. The user id is
// kept in the TURN username so allocations can be traced back.
func (g *Generator) ForUser(userID int64) (Credentials, error) {
	return g.Generate(fmt.Sprintf("u%d-%s", userID, uuid.NewString()))
}

func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Apply returns a copy of servers with creds set on every entry that has a
// turn: or turns: URL. STUN-only entries are left as is.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if hasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
