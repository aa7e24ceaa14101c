// Package ratelimit provides per-key token buckets on top of
// golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

const DefaultIdleTTL = 10 * time.Minute

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Keyed holds one limiter per key. Keys idle for longer than the TTL are
// evicted by Run.
type Keyed struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]*entry
}

func NewKeyed(limit rate.Limit, burst int, ttl time.Duration, clk clock.Clock) *Keyed {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	if burst < 1 {
		burst = 1
	}
	return &Keyed{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]*entry),
	}
}

// PerMinute converts an events-per-minute budget to a rate.Limit.
func PerMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// Allow consumes one token for key.
func (k *Keyed) Allow(key string) bool {
	now := k.clock.Now()

	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastAccess = now
	k.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// RetryAfter estimates the seconds until one token refills.
func (k *Keyed) RetryAfter() int {
	if k.limit <= 0 {
		return 60
	}
	secs := int(math.Ceil(1.0 / float64(k.limit)))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Cleanup evicts keys idle for longer than the TTL.
func (k *Keyed) Cleanup() {
	now := k.clock.Now()

	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.entries {
		if now.Sub(e.lastAccess) > k.ttl {
			delete(k.entries, key)
		}
	}
}

// Run evicts idle keys every TTL until ctx is done.
func (k *Keyed) Run(ctx context.Context) error {
	ticker := k.clock.Ticker(k.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.Cleanup()
		}
	}
}

// Middleware rejects requests over budget with 429 and a Retry-After header.
// keyFn selects the bucket; by default the client IP.
func (k *Keyed) Middleware(name string, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if !k.Allow(key) {
				slog.Warn("rate limit exceeded", "limit", name, "key", key)
				writeTooManyRequests(w, k.RetryAfter())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP is the request's remote host without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooManyRequests(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": "too many requests, try again later",
	})
}
