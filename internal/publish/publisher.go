// Package publish implements the Publisher: fingerprint dedup, batched
// at-least-once delivery to the bus, and bounded retry-then-drop
// (spec.md §4.6).
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/backoff"
	"github.com/marketpulse/ingestor/internal/bus"
	"github.com/marketpulse/ingestor/internal/types"
)

const (
	defaultBatchSize   = 100
	defaultLinger      = 5 * time.Second
	defaultDedupTTL    = 2 * time.Minute
	defaultMaxRetries  = 3
)

// DedupCache tracks recently seen fingerprints within a TTL window so
// at-least-once republishes (e.g. after a supervisor reconnect replays
// a buffered diff) are dropped rather than double-counted downstream.
type DedupCache interface {
	SeenRecently(fingerprint string) bool
	Remember(fingerprint string)
}

// memoryDedup is the default DedupCache: a map with lazy expiry,
// adequate for a single process instance. internal/publish/redis.go
// supplies a Redis-backed cache for multi-instance deployments.
type memoryDedup struct {
	mu  sync.Mutex
	ttl time.Duration
	at  map[string]time.Time
}

// NewMemoryDedup creates an in-process dedup cache with the given TTL.
func NewMemoryDedup(ttl time.Duration) DedupCache {
	return &memoryDedup{ttl: ttl, at: make(map[string]time.Time)}
}

func (m *memoryDedup) SeenRecently(fp string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	_, ok := m.at[fp]
	return ok
}

func (m *memoryDedup) Remember(fp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.at[fp] = time.Now()
}

func (m *memoryDedup) evictLocked() {
	cutoff := time.Now().Add(-m.ttl)
	for fp, seenAt := range m.at {
		if seenAt.Before(cutoff) {
			delete(m.at, fp)
		}
	}
}

// Config tunes the publisher's batching and retry behavior.
type Config struct {
	BatchSize  int
	Linger     time.Duration
	MaxRetries int
	SchemaVersion int
}

// DefaultConfig matches spec.md §4.6: batch 100 / 5s linger, 3 retries.
func DefaultConfig() Config {
	return Config{BatchSize: defaultBatchSize, Linger: defaultLinger, MaxRetries: defaultMaxRetries, SchemaVersion: 1}
}

// item is one record pending publication.
type item struct {
	envelope types.Envelope
	fp       string
}

// Publisher batches canonical records and publishes them to the bus,
// deduplicating on fingerprint and retrying transient failures with
// capped backoff before dropping and counting.
type Publisher struct {
	cfg    Config
	b      bus.EventBus
	dedup  DedupCache
	policy backoff.Policy

	mu      sync.Mutex
	pending []item
	timer   *time.Timer

	dropped  int64
	duplicate int64
	published int64
}

// New creates a publisher over b, using dedup for fingerprint
// suppression.
func New(b bus.EventBus, dedup DedupCache, cfg Config) *Publisher {
	retryPolicy := backoff.Policy{Initial: 200 * time.Millisecond, Max: time.Second, Factor: 2.5}
	return &Publisher{cfg: cfg, b: b, dedup: dedup, policy: retryPolicy}
}

// Publish enqueues one canonical record for batched delivery, silently
// dropping it (and counting it) if its fingerprint was seen within the
// dedup TTL.
func (p *Publisher) Publish(ctx context.Context, exchange string, marketType types.MarketType, dataType types.DataType, symbol, variant string, record types.Record) error {
	fp := record.Fingerprint()
	if p.dedup.SeenRecently(fp) {
		p.mu.Lock()
		p.duplicate++
		p.mu.Unlock()
		return nil
	}
	p.dedup.Remember(fp)

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("publish: marshal record: %w", err)
	}
	env := types.Envelope{
		Exchange: exchange, MarketType: marketType, DataType: dataType,
		Symbol: symbol, Variant: variant, SchemaVersion: p.cfg.SchemaVersion, Body: body,
	}

	p.mu.Lock()
	p.pending = append(p.pending, item{envelope: env, fp: fp})
	flush := len(p.pending) >= p.cfg.BatchSize
	if p.timer == nil {
		p.timer = time.AfterFunc(p.cfg.Linger, func() { p.flush(context.Background()) })
	}
	p.mu.Unlock()

	if flush {
		p.flush(ctx)
	}
	return nil
}

// flush publishes the pending batch, retrying the whole batch up to
// MaxRetries times with capped backoff before dropping it.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	messages := make([]bus.Message, len(batch))
	for i, it := range batch {
		payload, err := json.Marshal(it.envelope)
		if err != nil {
			log.Error().Err(err).Msg("publish: marshal envelope")
			continue
		}
		messages[i] = bus.Message{Subject: it.envelope.Subject(), Payload: payload, Timestamp: time.Now()}
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.policy.Next(attempt - 1))
		}
		if err := p.b.PublishBatch(ctx, messages); err != nil {
			lastErr = err
			continue
		}
		p.mu.Lock()
		p.published += int64(len(messages))
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.dropped += int64(len(messages))
	p.mu.Unlock()
	log.Error().Err(lastErr).Int("count", len(messages)).Msg("publish: batch dropped after exhausting retries")
}

// Flush forces any pending batch out immediately, used on shutdown.
func (p *Publisher) Flush(ctx context.Context) {
	p.flush(ctx)
}

// Stats reports dedup/publish/drop counters for /stats.
func (p *Publisher) Stats() (published, duplicate, dropped int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.duplicate, p.dropped
}
