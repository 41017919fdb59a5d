package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"basegraph.app/courier/internal/domain"
)

// idIndexDir holds one marker per event id, named by a hash of the id and
// holding the storage key of the record that owns the id. The marker is
// written before the record, so a marker whose record is gone is stale and
// may be taken over.
const idIndexDir = "ids"

func idMarkerName(eventID string) string {
	sum := sha256.Sum256([]byte(eventID))
	return hex.EncodeToString(sum[:16])
}

func (s *Store) idIndexPath() string {
	return filepath.Join(s.dir, stateDir, idIndexDir)
}

func (s *Store) idMarkerPath(eventID string) string {
	return filepath.Join(s.idIndexPath(), idMarkerName(eventID))
}

// idHeld reports whether a record for eventID exists in any state, going by
// the id marker.
func (s *Store) idHeld(eventID string) (bool, error) {
	data, err := os.ReadFile(s.idMarkerPath(eventID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageErr("reading id marker", err)
	}

	key := strings.TrimSpace(string(data))
	if key == "" {
		return false, nil
	}
	return s.keyExists(key)
}

func (s *Store) claimID(eventID, key string) error {
	if err := writeFileAtomic(s.idMarkerPath(eventID), []byte(key)); err != nil {
		return storageErr("writing id marker", err)
	}
	return nil
}

// releaseID removes the marker of eventID if it still points at key.
func (s *Store) releaseID(ctx context.Context, eventID, key string) {
	path := s.idMarkerPath(eventID)
	data, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(data)) != key {
		return
	}
	if err := removeFile(path); err != nil {
		// a stale marker is harmless: idHeld checks the record it names
		slog.WarnContext(ctx, "removing id marker failed", "error", err)
	}
}

// reindex rebuilds the id markers from the records on disk. Live records win
// over terminal ones; markers without a record are removed.
func (s *Store) reindex(ctx context.Context, report *domain.RepairReport) {
	want := map[string]string{}
	for _, st := range []domain.State{domain.StateErrors, domain.StateNoReply, domain.StatePending, domain.StateInFlight} {
		recs, err := s.readState(ctx, st)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			return
		}
		for _, rec := range recs {
			want[idMarkerName(rec.ID)] = rec.StorageKey
		}
	}

	entries, err := os.ReadDir(s.idIndexPath())
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("reading id index: %v", err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tempSuffix) {
			continue
		}
		if _, ok := want[e.Name()]; ok {
			continue
		}
		if err := removeFile(filepath.Join(s.idIndexPath(), e.Name())); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("removing stale id marker: %v", err))
		}
	}

	for name, key := range want {
		path := filepath.Join(s.idIndexPath(), name)
		if data, err := os.ReadFile(path); err == nil && strings.TrimSpace(string(data)) == key {
			continue
		}
		if err := writeFileAtomic(path, []byte(key)); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("writing id marker: %v", err))
		}
	}
}
