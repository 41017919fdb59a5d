package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"basegraph.app/courier/core/db"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS courier_audit (
	id          TEXT PRIMARY KEY,
	event_id    TEXT NOT NULL,
	platform    TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL,
	entry       JSONB NOT NULL,
	resolved_at TIMESTAMPTZ NOT NULL
)`

const postgresIndex = `CREATE INDEX IF NOT EXISTS idx_courier_audit_event_id ON courier_audit (event_id)`

// PostgresSink mirrors audit entries into a table for querying.
type PostgresSink struct {
	db *db.DB
}

func NewPostgresSink(ctx context.Context, database *db.DB) (*PostgresSink, error) {
	if err := database.Migrate(ctx, postgresSchema, postgresIndex); err != nil {
		return nil, fmt.Errorf("migrating audit schema: %w", err)
	}
	return &PostgresSink{db: database}, nil
}

func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	_, err = s.db.Pool().Exec(ctx,
		`INSERT INTO courier_audit (id, event_id, platform, outcome, reason, attempts, entry, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.EventID, string(e.Platform), string(e.Outcome), e.Reason, e.Attempts, body, e.At)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}
