// Package bus is the persistent, JetStream-style pub/sub abstraction
// canonical records are published to (spec.md §4.6, §8): subject
// routing by data type/exchange/market/symbol, at-least-once delivery,
// and per-stream retention limits. Adapted from the teacher's
// internal/stream EventBus interface, which already separates the
// pub/sub contract from its Kafka/Pulsar/stub backends.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/marketpulse/ingestor/internal/types"
)

// EventBus is the transport-agnostic contract every bus backend
// implements.
type EventBus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	PublishBatch(ctx context.Context, messages []Message) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() HealthStatus
}

// Message is one published record, addressed by its bus subject.
type Message struct {
	Subject   string
	Payload   []byte
	Timestamp time.Time
}

// HealthStatus reports backend connectivity for /health.
type HealthStatus struct {
	Healthy   bool
	Status    string
	LastCheck time.Time
}

// StreamLimits configures the persistent stream's retention policy, per
// spec.md's JetStream-style requirements: bounded by count, bytes, and
// age, discarding the oldest messages once a limit is hit, with a
// short-lived dedup window at the broker layer in addition to the
// Publisher's own fingerprint cache.
type StreamLimits struct {
	MaxMsgs    int64
	MaxBytes   int64
	MaxAge     time.Duration
	Discard    DiscardPolicy
	Replicas   int
	DupWindow  time.Duration
}

// DiscardPolicy names what happens when a stream limit is reached.
type DiscardPolicy string

const (
	DiscardOld DiscardPolicy = "old"
	DiscardNew DiscardPolicy = "new"
)

// DefaultStreamLimits matches spec.md's documented bus retention
// policy: 5M messages, 2 GiB, 48h, discard-old, single replica, 2-minute
// broker-side dedup window.
func DefaultStreamLimits() StreamLimits {
	return StreamLimits{
		MaxMsgs:   5_000_000,
		MaxBytes:  2 << 30,
		MaxAge:    48 * time.Hour,
		Discard:   DiscardOld,
		Replicas:  1,
		DupWindow: 2 * time.Minute,
	}
}

// BackendType selects which EventBus implementation to construct.
type BackendType string

const (
	BackendKafka  BackendType = "kafka"
	BackendPulsar BackendType = "pulsar"
	BackendStub   BackendType = "stub"
)

// Config configures a bus backend.
type Config struct {
	Backend  BackendType
	Brokers  []string
	ClientID string
	Limits   StreamLimits
}

var ErrUnsupportedBackend = errors.New("bus: unsupported backend")

// New constructs the configured backend.
func New(cfg Config) (EventBus, error) {
	switch cfg.Backend {
	case BackendKafka:
		return NewKafkaBus(cfg)
	case BackendPulsar:
		return NewPulsarBus(cfg)
	case BackendStub, "":
		return NewStubBus(cfg)
	default:
		return nil, ErrUnsupportedBackend
	}
}

// Subject builds the dot-separated bus subject for a record envelope,
// per spec.md §6's exact templates.
func Subject(env types.Envelope) string {
	return env.Subject()
}
