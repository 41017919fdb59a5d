package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"basegraph.app/courier/core/db"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS dedup_ledger (
	event_id    TEXT PRIMARY KEY,
	resolved_at TIMESTAMPTZ NOT NULL
)`

const postgresIndex = `CREATE INDEX IF NOT EXISTS idx_dedup_ledger_resolved_at ON dedup_ledger (resolved_at)`

type PostgresBackend struct {
	db    *db.DB
	owned bool
}

// OpenPostgres connects to dsn and ensures the ledger table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	database, err := db.New(ctx, db.Config{DSN: dsn, MaxConns: 4, MinConns: 1})
	if err != nil {
		return nil, err
	}
	b, err := NewPostgresBackend(ctx, database)
	if err != nil {
		database.Close()
		return nil, err
	}
	b.owned = true
	return b, nil
}

// NewPostgresBackend uses an existing pool; Close leaves it open.
func NewPostgresBackend(ctx context.Context, database *db.DB) (*PostgresBackend, error) {
	if err := database.Migrate(ctx, postgresSchema, postgresIndex); err != nil {
		return nil, fmt.Errorf("migrating ledger schema: %w", err)
	}
	return &PostgresBackend{db: database}, nil
}

func (b *PostgresBackend) Has(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := b.db.Pool().QueryRow(ctx, `SELECT 1 FROM dedup_ledger WHERE event_id = $1`, eventID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying ledger: %w", err)
	}
	return true, nil
}

func (b *PostgresBackend) Add(ctx context.Context, eventID string, at time.Time) error {
	if _, err := b.db.Pool().Exec(ctx,
		`INSERT INTO dedup_ledger (event_id, resolved_at) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, at); err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (b *PostgresBackend) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := b.db.Pool().Exec(ctx, `DELETE FROM dedup_ledger WHERE resolved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning ledger: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (b *PostgresBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := b.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM dedup_ledger`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting ledger: %w", err)
	}
	return n, nil
}

func (b *PostgresBackend) Close() error {
	if b.owned {
		b.db.Close()
	}
	return nil
}
