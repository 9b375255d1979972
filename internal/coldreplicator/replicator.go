// Package coldreplicator performs windowed hot-to-cold replication of
// the analytical store (spec.md §7): INSERT ... SELECT against the
// store's remote(host, ...) table function, a durable per-table
// watermark, and optional hot-side cleanup once data has aged past a
// safety grace period.
//
// The watermark-driven windowing is grounded on the teacher's
// replication Planner, which slices an overall time range into
// tier-sized windows (internal/replication/planner.go's
// createTimeWindows); this package keeps that idea but drives it off a
// single persisted watermark instead of a multi-region plan, since cold
// replication here is a single hot->cold hop, not a fan-out across
// regions.
package coldreplicator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/ingestor/internal/atomicio"
)

// TableConfig names one table's replication window and cleanup grace.
type TableConfig struct {
	Table       string
	WindowSize  time.Duration
	CleanupGrace time.Duration // 0 disables hot-side cleanup for this table
}

// Config configures the replicator's connection to the hot and cold
// store HTTP endpoints and the on-disk watermark directory.
type Config struct {
	HotBaseURL  string
	ColdHost    string // passed to the store's remote(host, ...) function
	ColdDB      string
	StateDir    string
	Tables      []TableConfig
}

// Replicator replicates each configured table's un-replicated window on
// a schedule, advancing and persisting a watermark per table.
type Replicator struct {
	cfg    Config
	client *http.Client
}

// New creates a replicator.
func New(cfg Config) *Replicator {
	return &Replicator{cfg: cfg, client: &http.Client{Timeout: 60 * time.Second}}
}

type watermark struct {
	Table   string    `json:"table"`
	Through time.Time `json:"through"`
}

func (r *Replicator) watermarkPath(table string) string {
	return table + ".watermark.json"
}

// loadWatermark reads the persisted watermark, defaulting to 24h ago
// for a table replicated for the first time.
func (r *Replicator) loadWatermark(table string) (time.Time, error) {
	path := r.cfg.StateDir + "/" + r.watermarkPath(table)
	data, err := readFile(path)
	if err != nil {
		return time.Now().Add(-24 * time.Hour), nil
	}
	var wm watermark
	if err := json.Unmarshal(data, &wm); err != nil {
		return time.Time{}, fmt.Errorf("coldreplicator: decode watermark for %s: %w", table, err)
	}
	return wm.Through, nil
}

func (r *Replicator) saveWatermark(table string, through time.Time) error {
	data, err := json.Marshal(watermark{Table: table, Through: through})
	if err != nil {
		return err
	}
	return atomicio.WriteFileIn(r.cfg.StateDir, r.watermarkPath(table), data, 0o644)
}

// ReplicateOnce runs a single replication pass over every configured
// table, advancing each table's watermark by its window size. A table
// is skipped while its next window would end later than now minus a
// tenth of the window size, so it never races ahead of data that hasn't
// landed yet.
func (r *Replicator) ReplicateOnce(ctx context.Context) error {
	for _, tc := range r.cfg.Tables {
		if err := r.replicateTable(ctx, tc); err != nil {
			log.Error().Err(err).Str("table", tc.Table).Msg("coldreplicator: replication step failed")
			return fmt.Errorf("coldreplicator: %s: %w", tc.Table, err)
		}
	}
	return nil
}

func (r *Replicator) replicateTable(ctx context.Context, tc TableConfig) error {
	from, err := r.loadWatermark(tc.Table)
	if err != nil {
		return err
	}
	to := from.Add(tc.WindowSize)
	safeNow := time.Now().Add(-tc.WindowSize / 10) // small safety lag behind wall clock
	if to.After(safeNow) {
		return nil // not enough new data yet to form a full window
	}

	query := r.buildInsertSelect(tc.Table, from, to)
	if err := r.execColdQuery(ctx, query); err != nil {
		return fmt.Errorf("insert-select failed: %w", err)
	}

	if err := r.saveWatermark(tc.Table, to); err != nil {
		return fmt.Errorf("persist watermark: %w", err)
	}

	if tc.CleanupGrace > 0 && time.Since(to) > tc.CleanupGrace {
		if err := r.cleanupHot(ctx, tc.Table, to); err != nil {
			log.Warn().Err(err).Str("table", tc.Table).Msg("coldreplicator: hot cleanup failed, will retry next pass")
		}
	}
	return nil
}

// buildInsertSelect constructs the cross-instance replication query,
// run against the hot store: it selects the window's rows from the
// local hot table and inserts them into the cold table through the
// store's remote table function, per spec.md §7.
func (r *Replicator) buildInsertSelect(table string, from, to time.Time) string {
	return fmt.Sprintf(
		`INSERT INTO FUNCTION remote('%s', %s, %s) SELECT * FROM %s WHERE event_time >= '%s' AND event_time < '%s'`,
		r.cfg.ColdHost, r.cfg.ColdDB, table, table,
		from.UTC().Format("2006-01-02 15:04:05"), to.UTC().Format("2006-01-02 15:04:05"))
}

func (r *Replicator) cleanupHot(ctx context.Context, table string, through time.Time) error {
	query := fmt.Sprintf(`ALTER TABLE %s DELETE WHERE event_time < '%s'`, table, through.UTC().Format("2006-01-02 15:04:05"))
	return r.execHotQuery(ctx, query)
}

func (r *Replicator) execColdQuery(ctx context.Context, query string) error {
	return r.execQuery(ctx, r.cfg.HotBaseURL, query)
}

func (r *Replicator) execHotQuery(ctx context.Context, query string) error {
	return r.execQuery(ctx, r.cfg.HotBaseURL, query)
}

func (r *Replicator) execQuery(ctx context.Context, baseURL, query string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/?query="+urlEscapeQuery(query), nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("store query failed: status %d", resp.StatusCode)
	}
	return nil
}
