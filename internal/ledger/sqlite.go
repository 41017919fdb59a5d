package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"basegraph.app/courier/core/sqlite"
)

var sqliteMigrations = []sqlite.Migration{
	{
		Version: 1,
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS dedup_ledger (
				event_id    TEXT PRIMARY KEY,
				resolved_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_dedup_ledger_resolved_at ON dedup_ledger(resolved_at)`,
		},
	},
}

// SQLiteBackend stores entries in a local sqlite file. It is the default
// backend: it lives next to the queue directory and needs no server.
type SQLiteBackend struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sqlite.Open(ctx, path, sqliteMigrations...)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Has(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM dedup_ledger WHERE event_id = ?`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying ledger: %w", err)
	}
	return true, nil
}

func (b *SQLiteBackend) Add(ctx context.Context, eventID string, at time.Time) error {
	if _, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dedup_ledger (event_id, resolved_at) VALUES (?, ?)`,
		eventID, at.UnixNano()); err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM dedup_ledger WHERE resolved_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning ledger: %w", err)
	}
	return int(n), nil
}

func (b *SQLiteBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dedup_ledger`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting ledger: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
