package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// KafkaBus is the Kafka-backed EventBus. No Kafka client library is
// wired, so PublishBatch only logs each message at debug level and
// stores nothing, the same seam pattern as the teacher's kafka_bus.go:
// swap the body of PublishBatch for a real producer without touching
// the EventBus contract above it.
type KafkaBus struct {
	cfg     Config
	mu      sync.RWMutex
	started bool
	healthy bool
}

// NewKafkaBus creates a Kafka-targeting bus. Connection happens in Start.
func NewKafkaBus(cfg Config) (EventBus, error) {
	return &KafkaBus{cfg: cfg}, nil
}

func (k *KafkaBus) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.started = true
	k.healthy = true
	log.Info().Str("backend", "kafka").Strs("brokers", k.cfg.Brokers).
		Int64("max_msgs", k.cfg.Limits.MaxMsgs).Dur("max_age", k.cfg.Limits.MaxAge).
		Msg("bus started")
	return nil
}

func (k *KafkaBus) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.started = false
	return nil
}

func (k *KafkaBus) Publish(ctx context.Context, subject string, payload []byte) error {
	return k.PublishBatch(ctx, []Message{{Subject: subject, Payload: payload, Timestamp: time.Now()}})
}

func (k *KafkaBus) PublishBatch(ctx context.Context, messages []Message) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, m := range messages {
		log.Debug().Str("subject", m.Subject).Int("bytes", len(m.Payload)).Msg("kafka publish")
	}
	return nil
}

func (k *KafkaBus) Health() HealthStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return HealthStatus{Healthy: k.healthy, Status: "kafka", LastCheck: time.Now()}
}
