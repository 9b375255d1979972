// Package circuitbreaker wraps github.com/sony/gobreaker per venue so
// that a storm of 5xx/429 responses from one venue doesn't starve REST
// Poller goroutines retrying it indefinitely. Sequence gaps and
// checksum failures in the Order-Book Manager are handled by its own
// state machine, not this breaker — this is for transport failures.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Config tunes a single venue's breaker.
type Config struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenMaxRequests uint32
}

// DefaultConfig opens after 5 consecutive failures and probes again
// after 30s, matching the teacher's provider circuit-breaker defaults.
func DefaultConfig() Config {
	return Config{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second, HalfOpenMaxRequests: 1}
}

// Manager owns one gobreaker.CircuitBreaker per venue.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewManager creates an empty breaker manager.
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Register installs a breaker for a venue name.
func (m *Manager) Register(venue string, cfg Config) {
	settings := gobreaker.Settings{
		Name:        venue,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("venue", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[venue] = gobreaker.NewCircuitBreaker(settings)
}

// Execute runs fn through the named venue's breaker. Unregistered
// venues run fn directly so tests don't need to register every venue.
func (m *Manager) Execute(ctx context.Context, venue string, fn func(ctx context.Context) error) error {
	m.mu.RLock()
	b, ok := m.breakers[venue]
	m.mu.RUnlock()
	if !ok {
		return fn(ctx)
	}
	_, err := b.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// State reports the current breaker state for /health and /stats.
func (m *Manager) State(venue string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[venue]
	if !ok {
		return "", false
	}
	return b.State().String(), true
}
