package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/hotstore"
	"github.com/marketpulse/ingestor/internal/metrics"
	"github.com/marketpulse/ingestor/internal/types"
)

const (
	hotSinkBatchSize = 200
	hotSinkLinger    = 3 * time.Second
)

// hotSink batches canonical records per data type and flushes them to
// the hot store on size or linger, independent of the Publisher's own
// bus-delivery batching (spec.md §7: the hot store is written directly
// from the normalized stream, not replayed off the bus).
type hotSink struct {
	writer  *hotstore.Writer
	metrics *metrics.Registry

	mu      sync.Mutex
	pending map[types.DataType][]json.RawMessage
	timers  map[types.DataType]*time.Timer
}

func newHotSink(w *hotstore.Writer, m *metrics.Registry) *hotSink {
	return &hotSink{
		writer:  w,
		metrics: m,
		pending: make(map[types.DataType][]json.RawMessage),
		timers:  make(map[types.DataType]*time.Timer),
	}
}

func (h *hotSink) write(dataType types.DataType, record interface{}) {
	body, err := json.Marshal(record)
	if err != nil {
		log.Warn().Err(err).Str("data_type", string(dataType)).Msg("hotsink: marshal record failed")
		return
	}

	h.mu.Lock()
	h.pending[dataType] = append(h.pending[dataType], body)
	flush := len(h.pending[dataType]) >= hotSinkBatchSize
	if h.timers[dataType] == nil {
		h.timers[dataType] = time.AfterFunc(hotSinkLinger, func() { h.flush(context.Background(), dataType) })
	}
	h.mu.Unlock()

	if flush {
		h.flush(context.Background(), dataType)
	}
}

func (h *hotSink) flush(ctx context.Context, dataType types.DataType) {
	h.mu.Lock()
	rows := h.pending[dataType]
	h.pending[dataType] = nil
	if t := h.timers[dataType]; t != nil {
		t.Stop()
		h.timers[dataType] = nil
	}
	h.mu.Unlock()

	if len(rows) == 0 {
		return
	}
	if err := h.writer.WriteBatch(ctx, dataType, rows); err != nil {
		log.Error().Err(err).Str("data_type", string(dataType)).Msg("hotsink: write batch failed")
		h.metrics.HotWriteErrors.WithLabelValues(string(dataType)).Inc()
	}
}

// flushAll drains every pending data type, used on shutdown.
func (h *hotSink) flushAll(ctx context.Context) {
	h.mu.Lock()
	dataTypes := make([]types.DataType, 0, len(h.pending))
	for dt := range h.pending {
		dataTypes = append(dataTypes, dt)
	}
	h.mu.Unlock()
	for _, dt := range dataTypes {
		h.flush(ctx, dt)
	}
}
