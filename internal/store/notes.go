package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"basegraph.app/courier/core/sqlite"
	"basegraph.app/courier/internal/domain"
)

// maxNotesPerPlatform bounds what is handed back to the reasoner.
const maxNotesPerPlatform = 50

var noteMigrations = []sqlite.Migration{
	{
		Version: 1,
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS notes (
				platform   TEXT NOT NULL,
				note_key   TEXT NOT NULL,
				value      TEXT NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (platform, note_key)
			)`,
		},
	},
}

// NoteStore persists reasoner notes keyed by platform and key.
type NoteStore struct {
	db  *sql.DB
	now func() time.Time
}

func OpenNotes(ctx context.Context, path string) (*NoteStore, error) {
	db, err := sqlite.Open(ctx, path, noteMigrations...)
	if err != nil {
		return nil, fmt.Errorf("opening notes database: %w", err)
	}
	return &NoteStore{db: db, now: time.Now}, nil
}

func (s *NoteStore) SetNote(ctx context.Context, p domain.Platform, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (platform, note_key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (platform, note_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		string(p), key, value, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("saving note %q: %w", key, err)
	}
	return nil
}

func (s *NoteStore) GetNote(ctx context.Context, p domain.Platform, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM notes WHERE platform = ? AND note_key = ?`, string(p), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading note %q: %w", key, err)
	}
	return value, nil
}

// Notes returns the most recently updated notes for a platform.
func (s *NoteStore) Notes(ctx context.Context, p domain.Platform) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT note_key, value FROM notes WHERE platform = ? ORDER BY updated_at DESC LIMIT ?`,
		string(p), maxNotesPerPlatform)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	notes := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	return notes, nil
}

func (s *NoteStore) Close() error {
	return s.db.Close()
}
