// Copyright 2025 Joseph Cumines
//
// Per-client rate limiting for the HTTP transport. Only the tool-call
// endpoint is limited: health checks, metrics scrapes, and the long-lived
// event streams are not request-shaped traffic, so a burst of tool calls
// from one client must not starve another client's stream setup.

package transport

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// clientIdleEviction is how long an idle client's bucket is retained
// before its state is dropped.
const clientIdleEviction = 10 * time.Minute

// bucket is one client's token-bucket state.
type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter applies a token-bucket limit per client. A client is
// identified by its bearer token when one is presented, else by its remote
// address, so authenticated callers sharing a NAT are limited
// independently.
type RateLimiter struct {
	mu      sync.Mutex
	rate    float64 // tokens added per second
	burst   float64 // bucket capacity
	clients map[string]*bucket
	clock   func() time.Time
	sweep   time.Time
}

// NewRateLimiter creates a per-client rate limiter allowing requestsPerSecond
// sustained, with a burst of 2x (minimum 1). Returns nil if the rate is zero
// or negative, which disables limiting entirely.
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	return NewRateLimiterWithClock(requestsPerSecond, time.Now)
}

// NewRateLimiterWithClock is NewRateLimiter with an injectable clock, used
// by tests to control time progression.
func NewRateLimiterWithClock(requestsPerSecond float64, clock func() time.Time) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	burst := requestsPerSecond * 2
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:    requestsPerSecond,
		burst:   burst,
		clients: make(map[string]*bucket),
		clock:   clock,
		sweep:   clock(),
	}
}

// Allow reports whether client may make a request now, consuming a token if
// so. A nil limiter always allows.
func (r *RateLimiter) Allow(client string) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	b, ok := r.clients[client]
	if !ok {
		b = &bucket{tokens: r.burst, lastUpdate: now}
		r.clients[client] = b
	}

	b.tokens += now.Sub(b.lastUpdate).Seconds() * r.rate
	if b.tokens > r.burst {
		b.tokens = r.burst
	}
	b.lastUpdate = now

	r.maybeSweep(now)

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter returns how long client must wait for its next token, rounded
// up to whole seconds for the Retry-After header. Zero if a token is
// already available or the limiter is disabled.
func (r *RateLimiter) RetryAfter(client string) time.Duration {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.clients[client]
	if !ok || b.tokens >= 1 {
		return 0
	}
	deficit := 1 - b.tokens
	wait := time.Duration(deficit / r.rate * float64(time.Second))
	if rem := wait % time.Second; rem != 0 {
		wait += time.Second - rem
	}
	return wait
}

// Clients returns how many clients currently hold bucket state.
func (r *RateLimiter) Clients() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// maybeSweep drops buckets idle past clientIdleEviction. Called with the
// lock held, at most once per eviction window.
func (r *RateLimiter) maybeSweep(now time.Time) {
	if now.Sub(r.sweep) < clientIdleEviction {
		return
	}
	r.sweep = now
	for client, b := range r.clients {
		if now.Sub(b.lastUpdate) >= clientIdleEviction {
			delete(r.clients, client)
		}
	}
}

// clientKey identifies the caller for rate-limiting purposes: the bearer
// token when presented, else the remote host.
func clientKey(req *http.Request) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		return auth
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// RateLimitMiddleware limits the tool-call endpoint per client. Every
// other endpoint passes through: /health and /metrics serve monitors, and
// /events and /ws are long-lived streams, not request traffic. A nil
// limiter makes the middleware a passthrough.
func RateLimitMiddleware(limiter *RateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/message" {
			next.ServeHTTP(w, req)
			return
		}
		client := clientKey(req)
		if !limiter.Allow(client) {
			retry := limiter.RetryAfter(client)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retry.Seconds())))
			// The client key may be a bearer token; log the address only.
			Logger.Warn().Str("remote", req.RemoteAddr).Dur("retry_after", retry).Msg("rate limit exceeded")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}
