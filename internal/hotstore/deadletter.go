package hotstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresDeadLetter persists write_failures rows for batches the hot
// store rejected after retry, so they can be replayed once the store
// recovers. Grounded on the teacher's sqlx-based persistence layer
// (internal/persistence), generalized from its domain-specific repos to
// a single dead-letter table.
type PostgresDeadLetter struct {
	db *sqlx.DB
}

// NewPostgresDeadLetter wraps an existing sqlx handle.
func NewPostgresDeadLetter(db *sqlx.DB) *PostgresDeadLetter {
	return &PostgresDeadLetter{db: db}
}

// EnsureSchema creates the write_failures table if it doesn't exist.
func (p *PostgresDeadLetter) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS write_failures (
	id BIGSERIAL PRIMARY KEY,
	table_name TEXT NOT NULL,
	payload BYTEA NOT NULL,
	error_message TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	replayed_at TIMESTAMPTZ
)`
	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

type writeFailureRow struct {
	TableName    string    `db:"table_name"`
	Payload      []byte    `db:"payload"`
	ErrorMessage string    `db:"error_message"`
	OccurredAt   time.Time `db:"occurred_at"`
}

// Record inserts one failed batch. A unique-violation (23505) on a
// caller-supplied idempotency key would indicate a duplicate replay
// attempt; this table has no such constraint today, so every call
// inserts a new row and duplicates are resolved at replay time.
func (p *PostgresDeadLetter) Record(ctx context.Context, table string, payload []byte, writeErr error) error {
	row := writeFailureRow{TableName: table, Payload: payload, ErrorMessage: writeErr.Error(), OccurredAt: time.Now().UTC()}
	_, err := p.db.NamedExecContext(ctx,
		`INSERT INTO write_failures (table_name, payload, error_message, occurred_at) VALUES (:table_name, :payload, :error_message, :occurred_at)`,
		row)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return nil // already recorded, not a failure
	}
	return err
}

// Unreplayed returns dead-lettered rows that haven't been marked replayed.
func (p *PostgresDeadLetter) Unreplayed(ctx context.Context, limit int) ([]writeFailureRow, error) {
	var rows []writeFailureRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT table_name, payload, error_message, occurred_at FROM write_failures WHERE replayed_at IS NULL ORDER BY occurred_at LIMIT $1`, limit)
	return rows, err
}

var _ DeadLetter = (*PostgresDeadLetter)(nil)
