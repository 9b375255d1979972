// Package ratelimit provides token-bucket rate limiting keyed by venue
// and weight class, used by the Venue Adapter's REST calls and by the
// REST Poller's weight-budgeted scheduler.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter rate-limits a single (venue, weight class) pair using a
// token-bucket algorithm.
type Limiter struct {
	mu    sync.RWMutex
	inner *rate.Limiter
	rps   float64
	burst int
}

// NewLimiter creates a limiter with the given requests-per-second and
// burst capacity.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		inner: rate.NewLimiter(rate.Limit(rps), burst),
		rps:   rps,
		burst: burst,
	}
}

// Allow reports whether a request may proceed without blocking.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	inner := l.inner
	l.mu.RUnlock()
	return inner.Wait(ctx)
}

// Empty drains all tokens, forcing subsequent callers to wait for a
// full refill — used when a venue signals VenueRateLimit (429/418).
func (l *Limiter) Empty() {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.inner.ReserveN(time.Now(), l.burst)
}

// SetRPS updates the refill rate, e.g. after an adaptive backoff window.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	l.inner.SetLimit(rate.Limit(rps))
}

// Tokens reports the current token count for health/stats reporting.
func (l *Limiter) Tokens() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.Tokens()
}

// Manager owns one Limiter per (venue, weight class) key.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager creates an empty limiter manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// Configure installs (or replaces) the limiter for a venue/weight-class
// key, e.g. "binance:orders" or "okx:market-data".
func (m *Manager) Configure(key string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[key] = NewLimiter(rps, burst)
}

func (m *Manager) get(key string) (*Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[key]
	return l, ok
}

// Wait blocks on the named limiter; unconfigured keys pass through
// immediately so tests and optional weight classes don't need a
// universal default.
func (m *Manager) Wait(ctx context.Context, key string) error {
	l, ok := m.get(key)
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

// OnRateLimited empties the named bucket in response to a venue 429/418,
// per spec.md §4.1: the bucket is emptied and adaptive backoff begins
// in the caller.
func (m *Manager) OnRateLimited(key string) {
	if l, ok := m.get(key); ok {
		l.Empty()
	}
}

// Stats reports outstanding tokens per configured key.
func (m *Manager) Stats() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.limiters))
	for k, l := range m.limiters {
		out[k] = l.Tokens()
	}
	return out
}
