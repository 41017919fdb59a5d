package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"basegraph.app/courier/common/logger"
	"basegraph.app/courier/internal/domain"
)

// Repair sweeps abandoned temp files, quarantines unparsable records, salvages
// what it can from quarantine and collapses duplicate pending copies of one
// event. Unrecoverable quarantined records are deleted only once they are
// older than the repair grace period.
func (s *Store) Repair(ctx context.Context) (domain.RepairReport, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "courier.queue.repair"})
	var report domain.RepairReport
	now := s.now()

	for _, dir := range append(s.allStateDirs(), filepath.Join(s.dir, stateDir), s.idIndexPath(), s.AuditDir()) {
		n, err := sweepTemp(dir, tempGrace, now)
		report.TempRemoved += n
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	for _, st := range []domain.State{domain.StatePending, domain.StateInFlight, domain.StateErrors, domain.StateNoReply} {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.scanForCorruption(ctx, st, &report)
	}

	if err := s.salvageQuarantine(ctx, &report); err != nil {
		return report, err
	}

	s.collapseDuplicates(ctx, &report)
	s.reindex(ctx, &report)

	slog.InfoContext(ctx, "queue repair finished",
		"scanned", report.Scanned,
		"recovered", report.Recovered,
		"quarantined", report.Quarantined,
		"deleted", report.Deleted,
		"temp_removed", report.TempRemoved,
		"duplicates", report.Duplicates,
		"still_corrupt", len(report.StillCorrupt),
		"errors", len(report.Errors))

	return report, nil
}

func (s *Store) allStateDirs() []string {
	dirs := make([]string, 0, len(storageStates))
	for _, st := range storageStates {
		dirs = append(dirs, s.stateDir(st))
	}
	return dirs
}

func (s *Store) scanForCorruption(ctx context.Context, st domain.State, report *domain.RepairReport) {
	names, err := s.recordNames(st)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return
	}

	for _, name := range names {
		report.Scanned++
		path := filepath.Join(s.stateDir(st), name)
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				report.Errors = append(report.Errors, fmt.Sprintf("reading %s: %v", name, err))
			}
			continue
		}
		if _, err := decodeRecord(data); err == nil {
			continue
		} else if qerr := s.quarantine(ctx, path, err); qerr != nil {
			report.Errors = append(report.Errors, qerr.Error())
			continue
		}
		report.Quarantined++
	}
}

func (s *Store) salvageQuarantine(ctx context.Context, report *domain.RepairReport) error {
	names, err := s.recordNames(domain.StateQuarantine)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return nil
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(s.stateDir(domain.StateQuarantine), name)
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				report.Errors = append(report.Errors, fmt.Sprintf("reading %s: %v", name, err))
			}
			continue
		}

		rec, ok := salvage(data)
		if !ok {
			s.expireCorrupt(path, name, report)
			continue
		}

		target := restoreState(name)
		rec.State = target
		rec.ClaimedBy = ""
		if rec.StorageKey == "" {
			rec.StorageKey = domain.StorageKey(rec.Event)
		}

		encoded, err := encodeRecord(rec)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}

		switch err := createFileExclusive(s.terminalPath(target, rec.StorageKey), encoded); {
		case err == nil:
			report.Recovered++
			slog.InfoContext(ctx, "quarantined record restored", "file", name, "state", target, "event_id", rec.ID)
		case errors.Is(err, fs.ErrExist):
			report.Duplicates++
		default:
			report.Errors = append(report.Errors, fmt.Sprintf("restoring %s: %v", name, err))
			continue
		}

		if err := removeFile(path); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("removing %s: %v", name, err))
		}
	}
	return nil
}

func (s *Store) expireCorrupt(path, name string, report *domain.RepairReport) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if s.now().Sub(info.ModTime()) < s.repairGrace {
		report.StillCorrupt = append(report.StillCorrupt, name)
		return
	}
	if err := removeFile(path); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("deleting %s: %v", name, err))
		return
	}
	report.Deleted++
}

// collapseDuplicates keeps one live copy per event id. A pending copy of an
// event that is also in flight is removed; among pending copies the one that
// would dequeue first is kept.
func (s *Store) collapseDuplicates(ctx context.Context, report *domain.RepairReport) {
	inFlight, err := s.readState(ctx, domain.StateInFlight)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return
	}
	live := make(map[string]bool, len(inFlight))
	for _, rec := range inFlight {
		live[rec.ID] = true
	}

	pending, err := s.readState(ctx, domain.StatePending)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return
	}
	SortForDequeue(pending)

	for _, rec := range pending {
		if !live[rec.ID] {
			live[rec.ID] = true
			continue
		}
		if err := removeFile(s.pendingPath(rec.StorageKey)); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("removing duplicate %s: %v", rec.StorageKey, err))
			continue
		}
		report.Duplicates++
	}
}

// restoreState maps a quarantine file name back to the state it came from.
// In-flight claims are not restored: the record goes back to pending.
func restoreState(name string) domain.State {
	from, _, _ := strings.Cut(name, ownerSeparator)
	switch domain.State(from) {
	case domain.StateErrors, domain.StateNoReply:
		return domain.State(from)
	}
	return domain.StatePending
}

// salvage recovers a record from a damaged file: NUL padding and trailing
// garbage from torn writes are dropped before reparsing.
func salvage(data []byte) (domain.QueueRecord, bool) {
	cleaned := bytes.TrimSpace(bytes.ReplaceAll(data, []byte{0}, nil))
	if len(cleaned) == 0 {
		return domain.QueueRecord{}, false
	}

	var rec domain.QueueRecord
	if err := json.NewDecoder(bytes.NewReader(cleaned)).Decode(&rec); err == nil && salvageable(rec) {
		return rec, true
	}

	start := bytes.IndexByte(cleaned, '{')
	end := bytes.LastIndexByte(cleaned, '}')
	if start < 0 || end <= start {
		return domain.QueueRecord{}, false
	}
	rec = domain.QueueRecord{}
	if err := json.Unmarshal(cleaned[start:end+1], &rec); err != nil || !salvageable(rec) {
		return domain.QueueRecord{}, false
	}
	return rec, true
}

func salvageable(rec domain.QueueRecord) bool {
	return rec.ID != "" && !rec.CreatedAt.IsZero()
}
