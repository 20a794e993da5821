// Package ratelimit is a per-endpoint-key limiter for the engine's
// external API surface (spec §2, "AuditLog + RateLimiter"), built on
// golang.org/x/time/rate the way the rest of the engine prefers an
// ecosystem primitive over a hand-rolled sliding window.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token-bucket limiter per key, created lazily on first
// use so callers never have to pre-register every endpoint.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New builds a Limiter allowing rps requests per second per key, with the
// given burst.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a request against key is allowed right now,
// consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	return l.bucketFor(key).Allow()
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = b
	}
	return b
}
