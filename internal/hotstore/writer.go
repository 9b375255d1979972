// Package hotstore writes canonical records to the hot analytical
// store (spec.md §7: a MergeTree-family columnar store, 3-day hot TTL,
// written via HTTP INSERT batches). No ClickHouse Go client exists in
// the example corpus, so writes go over stdlib net/http the same way
// the teacher's internal/data/cold/parquet_store.go substitutes a raw
// writer where no Arrow/Parquet dependency was available.
package hotstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/types"
)

// Config points the writer at the store's HTTP interface and names the
// table for each record kind.
type Config struct {
	BaseURL string
	Tables  map[types.DataType]string
}

// DefaultTables maps each canonical data type to its hot table name,
// partitioned by month and exchange per spec.md §7.
func DefaultTables() map[types.DataType]string {
	return map[types.DataType]string{
		types.DataTypeOrderBook:   "orderbook_snapshots",
		types.DataTypeTrade:       "trades",
		types.DataTypeFunding:     "funding_rates",
		types.DataTypeOpenInt:     "open_interest",
		types.DataTypeLiquidation: "liquidations",
		types.DataTypeLSR:         "long_short_ratios",
		types.DataTypeVolIndex:    "volatility_index",
	}
}

// DeadLetter receives records that failed their INSERT after retry, for
// durable persistence and later replay.
type DeadLetter interface {
	Record(ctx context.Context, table string, payload []byte, writeErr error) error
}

// Writer batches INSERTs per table and flushes them as a single HTTP
// request against the store's query endpoint.
type Writer struct {
	cfg    Config
	client *http.Client
	dead   DeadLetter
}

// New creates a hot store writer.
func New(cfg Config, dead DeadLetter) *Writer {
	return &Writer{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}, dead: dead}
}

// WriteBatch serializes rows as newline-delimited JSON and issues one
// INSERT per table via HTTP, per spec.md's documented write path. A
// failed INSERT is retried up to three times (100ms, 200ms, 400ms apart)
// before the batch goes to the dead letter.
func (w *Writer) WriteBatch(ctx context.Context, dataType types.DataType, rows []json.RawMessage) error {
	if len(rows) == 0 {
		return nil
	}
	table, ok := w.cfg.Tables[dataType]
	if !ok {
		return fmt.Errorf("hotstore: no table configured for %s", dataType)
	}

	var buf bytes.Buffer
	for _, row := range rows {
		buf.Write(row)
		buf.WriteByte('\n')
	}

	query := fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", table)
	var writeErr error
	for attempt := 0; attempt <= 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(100<<(attempt-1)) * time.Millisecond)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+"/?query="+urlEscape(query), bytes.NewReader(buf.Bytes()))
		if err != nil {
			return fmt.Errorf("hotstore: build request: %w", err)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			writeErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 300 {
			return nil
		}
		writeErr = fmt.Errorf("hotstore: insert into %s failed: status %d", table, resp.StatusCode)
	}
	return w.deadLetter(ctx, table, buf.Bytes(), writeErr)
}

func (w *Writer) deadLetter(ctx context.Context, table string, payload []byte, writeErr error) error {
	log.Error().Err(writeErr).Str("table", table).Msg("hotstore: write failed, recording to dead letter")
	if w.dead == nil {
		return writeErr
	}
	if err := w.dead.Record(ctx, table, payload, writeErr); err != nil {
		return fmt.Errorf("hotstore: dead letter also failed: %w (original: %v)", err, writeErr)
	}
	return nil
}

func urlEscape(s string) string {
	r := strings.NewReplacer(" ", "%20", "\n", "%0A")
	return r.Replace(s)
}
