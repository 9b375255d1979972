package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StubBus is an in-memory EventBus used in tests, local development,
// and as the in-process fallback when no broker is configured.
// Adapted from the teacher's internal/stream StubBus.
type StubBus struct {
	cfg     Config
	mu      sync.RWMutex
	started bool
	stored  map[string][]Message
}

// NewStubBus creates an in-memory bus.
func NewStubBus(cfg Config) (EventBus, error) {
	return &StubBus{cfg: cfg, stored: make(map[string][]Message)}, nil
}

func (s *StubBus) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	log.Info().Str("backend", "stub").Str("client_id", s.cfg.ClientID).Msg("bus started")
	return nil
}

func (s *StubBus) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *StubBus) Publish(ctx context.Context, subject string, payload []byte) error {
	return s.PublishBatch(ctx, []Message{{Subject: subject, Payload: payload, Timestamp: time.Now()}})
}

func (s *StubBus) PublishBatch(ctx context.Context, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		s.stored[m.Subject] = append(s.stored[m.Subject], m)
	}
	return nil
}

func (s *StubBus) Health() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return HealthStatus{Healthy: s.started, Status: "stub", LastCheck: time.Now()}
}

// Stored returns every message published to subject, for test assertions.
func (s *StubBus) Stored(subject string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.stored[subject]))
	copy(out, s.stored[subject])
	return out
}
