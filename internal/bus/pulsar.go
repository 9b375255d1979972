package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PulsarBus is the Pulsar-backed EventBus, mirroring KafkaBus's seam:
// no Pulsar client is wired, so PublishBatch only logs each message at
// debug level and stores nothing.
type PulsarBus struct {
	cfg     Config
	mu      sync.RWMutex
	started bool
	healthy bool
}

// NewPulsarBus creates a Pulsar-targeting bus.
func NewPulsarBus(cfg Config) (EventBus, error) {
	return &PulsarBus{cfg: cfg}, nil
}

func (p *PulsarBus) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	p.healthy = true
	log.Info().Str("backend", "pulsar").Strs("brokers", p.cfg.Brokers).
		Int64("max_bytes", p.cfg.Limits.MaxBytes).Int("replicas", p.cfg.Limits.Replicas).
		Msg("bus started")
	return nil
}

func (p *PulsarBus) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	return nil
}

func (p *PulsarBus) Publish(ctx context.Context, subject string, payload []byte) error {
	return p.PublishBatch(ctx, []Message{{Subject: subject, Payload: payload, Timestamp: time.Now()}})
}

func (p *PulsarBus) PublishBatch(ctx context.Context, messages []Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range messages {
		log.Debug().Str("subject", m.Subject).Int("bytes", len(m.Payload)).Msg("pulsar publish")
	}
	return nil
}

func (p *PulsarBus) Health() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return HealthStatus{Healthy: p.healthy, Status: "pulsar", LastCheck: time.Now()}
}
