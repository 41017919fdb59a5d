package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"basegraph.app/courier/common/logger"
	"basegraph.app/courier/internal/domain"
)

const (
	recordExt      = ".json"
	ownerSeparator = "__"

	auditDir = "audit"
	stateDir = "state"

	defaultRepairGrace = 24 * time.Hour
	tempGrace          = time.Minute
)

var storageStates = []domain.State{
	domain.StatePending,
	domain.StateInFlight,
	domain.StateErrors,
	domain.StateNoReply,
	domain.StateQuarantine,
}

// Breaker gates dequeueing. The health monitor implements it.
type Breaker interface {
	Blocked() bool
}

// CorruptionHandler is told about every record moved to quarantine.
type CorruptionHandler func(ctx context.Context, name string, cause error)

type Config struct {
	Dir string
	// Owner identifies this process in in-flight file names.
	Owner       string
	RepairGrace time.Duration
	Now         func() time.Time
}

type Option func(*Store)

func WithBreaker(b Breaker) Option {
	return func(s *Store) { s.breaker = b }
}

func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

func WithCorruptionHandler(h CorruptionHandler) Option {
	return func(s *Store) { s.onCorrupt = h }
}

// Store is the crash-safe file-backed queue. Every record is one JSON file
// whose directory is its state; every transition is a single rename.
type Store struct {
	dir         string
	owner       string
	repairGrace time.Duration
	now         func() time.Time

	breaker   Breaker
	publisher Publisher
	onCorrupt CorruptionHandler

	enqueueMu sync.Mutex
}

func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("queue dir is required")
	}
	if cfg.Owner == "" {
		return nil, errors.New("queue owner is required")
	}
	if strings.Contains(cfg.Owner, ownerSeparator) {
		return nil, fmt.Errorf("queue owner %q must not contain %q", cfg.Owner, ownerSeparator)
	}

	s := &Store{
		dir:         cfg.Dir,
		owner:       cfg.Owner,
		repairGrace: cfg.RepairGrace,
		now:         cfg.Now,
	}
	if s.repairGrace <= 0 {
		s.repairGrace = defaultRepairGrace
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, opt := range opts {
		opt(s)
	}

	dirs := []string{auditDir, stateDir, filepath.Join(stateDir, idIndexDir)}
	for _, st := range storageStates {
		dirs = append(dirs, string(st))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(s.dir, d), 0o755); err != nil {
			return nil, storageErr("creating queue layout", err)
		}
	}

	for _, st := range storageStates {
		if _, err := sweepTemp(s.stateDir(st), tempGrace, s.now()); err != nil {
			return nil, storageErr("sweeping temp files", err)
		}
	}

	return s, nil
}

// Dir is the queue root directory.
func (s *Store) Dir() string { return s.dir }

// Owner is the claim owner of this store instance.
func (s *Store) Owner() string { return s.owner }

// AuditDir is where write-once audit entries are kept.
func (s *Store) AuditDir() string { return filepath.Join(s.dir, auditDir) }

// Enqueue lands a new pending record for event. It returns
// domain.ErrAlreadyQueued when a record for the same event id exists
// anywhere in the queue, whatever its createdAt.
func (s *Store) Enqueue(ctx context.Context, event domain.Event) (domain.QueueRecord, error) {
	if event.ID == "" {
		return domain.QueueRecord{}, fmt.Errorf("enqueue: %w: empty event id", domain.ErrInvalidAction)
	}

	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	// the id marker catches redeliveries whose createdAt differs, which
	// hash to a different storage key
	held, err := s.idHeld(event.ID)
	if err != nil {
		return domain.QueueRecord{}, err
	}
	key := domain.StorageKey(event)
	exists, err := s.keyExists(key)
	if err != nil {
		return domain.QueueRecord{}, err
	}
	if held || exists {
		return domain.QueueRecord{}, domain.ErrAlreadyQueued
	}

	rec := domain.QueueRecord{
		Event:         event,
		State:         domain.StatePending,
		FirstQueuedAt: s.now().UTC(),
		StorageKey:    key,
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return domain.QueueRecord{}, err
	}

	if err := s.claimID(event.ID, key); err != nil {
		return domain.QueueRecord{}, err
	}
	if err := createFileExclusive(s.pendingPath(key), data); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.QueueRecord{}, domain.ErrAlreadyQueued
		}
		return domain.QueueRecord{}, storageErr("enqueue", err)
	}

	s.publish(ctx, rec, "queued", "")
	return rec, nil
}

// DequeueNext claims the next eligible pending record. It returns false when
// nothing is eligible or while the breaker is tripped.
func (s *Store) DequeueNext(ctx context.Context) (domain.QueueRecord, bool, error) {
	if s.breaker != nil && s.breaker.Blocked() {
		return domain.QueueRecord{}, false, nil
	}

	candidates, err := s.readState(ctx, domain.StatePending)
	if err != nil {
		return domain.QueueRecord{}, false, err
	}

	now := s.now()
	eligible := candidates[:0]
	for _, rec := range candidates {
		if rec.NotBefore != nil && rec.NotBefore.After(now) {
			continue
		}
		eligible = append(eligible, rec)
	}
	SortForDequeue(eligible)

	for _, rec := range eligible {
		if err := ctx.Err(); err != nil {
			return domain.QueueRecord{}, false, err
		}

		claimed, ok, err := s.claim(ctx, rec.StorageKey)
		if err != nil {
			return domain.QueueRecord{}, false, err
		}
		if ok {
			return claimed, true, nil
		}
	}

	return domain.QueueRecord{}, false, nil
}

func (s *Store) claim(ctx context.Context, key string) (domain.QueueRecord, bool, error) {
	src := s.pendingPath(key)
	dst := s.inFlightPath(s.owner, key)

	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// another worker won the claim
			return domain.QueueRecord{}, false, nil
		}
		return domain.QueueRecord{}, false, storageErr("claim", err)
	}
	if err := syncDir(filepath.Dir(dst)); err != nil {
		return domain.QueueRecord{}, false, storageErr("claim", err)
	}

	rec, err := s.readRecord(ctx, dst)
	if err != nil {
		return domain.QueueRecord{}, false, err
	}

	now := s.now().UTC()
	rec.State = domain.StateInFlight
	rec.LastAttemptAt = &now
	rec.ClaimedBy = s.owner
	if err := s.write(dst, rec); err != nil {
		return domain.QueueRecord{}, false, storageErr("claim", err)
	}

	s.publish(ctx, rec, "claimed", "")
	return rec, true, nil
}

// Update rewrites an in-flight record in place. Used to journal executed
// actions and the pending resolution.
func (s *Store) Update(ctx context.Context, rec domain.QueueRecord) error {
	path, err := s.claimedPath(rec)
	if err != nil {
		return err
	}
	rec.State = domain.StateInFlight
	if err := s.write(path, rec); err != nil {
		return storageErr("update", err)
	}
	return nil
}

// Release returns an in-flight record to pending with its current fields.
func (s *Store) Release(ctx context.Context, rec domain.QueueRecord) error {
	path, err := s.claimedPath(rec)
	if err != nil {
		return err
	}

	rec.State = domain.StatePending
	if err := s.write(path, rec); err != nil {
		return storageErr("release", err)
	}
	if err := moveFile(path, s.pendingPath(rec.StorageKey)); err != nil {
		return storageErr("release", err)
	}

	rec.ClaimedBy = ""
	s.publish(ctx, rec, "released", "")
	return nil
}

// MarkResolved moves a record out of the active states. Success deletes the
// record; error and no_reply move it to the matching terminal directory.
// Records that were never claimed (recovery of pending records) resolve
// from pending.
func (s *Store) MarkResolved(ctx context.Context, rec domain.QueueRecord, outcome domain.Outcome) error {
	src := s.pendingPath(rec.StorageKey)
	if rec.ClaimedBy != "" {
		src = s.inFlightPath(rec.ClaimedBy, rec.StorageKey)
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("resolve %s: %w", rec.StorageKey, domain.ErrNotFound)
		}
		return storageErr("resolve", err)
	}

	target, terminal := outcome.State()
	if !terminal {
		if err := removeFile(src); err != nil {
			return storageErr("resolve", err)
		}
		s.releaseID(ctx, rec.ID, rec.StorageKey)
		s.publish(ctx, rec, "resolved", outcome)
		return nil
	}

	rec.State = target
	if err := s.write(src, rec); err != nil {
		return storageErr("resolve", err)
	}
	if err := moveFile(src, s.terminalPath(target, rec.StorageKey)); err != nil {
		return storageErr("resolve", err)
	}

	s.publish(ctx, rec, "resolved", outcome)
	return nil
}

// ListAll returns pending and in-flight records, plus errors and no_reply
// records when includeTerminal is set.
func (s *Store) ListAll(ctx context.Context, includeTerminal bool) ([]domain.QueueRecord, error) {
	var out []domain.QueueRecord
	for _, st := range []domain.State{domain.StatePending, domain.StateInFlight, domain.StateErrors, domain.StateNoReply} {
		if st.Terminal() && !includeTerminal {
			continue
		}
		recs, err := s.readState(ctx, st)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// ListByAuthor returns every record, terminal included, whose author matches
// handle case-insensitively. A leading @ is ignored.
func (s *Store) ListByAuthor(ctx context.Context, handle string) ([]domain.QueueRecord, error) {
	want := normalizeHandle(handle)
	all, err := s.ListAll(ctx, true)
	if err != nil {
		return nil, err
	}

	var out []domain.QueueRecord
	for _, rec := range all {
		if normalizeHandle(rec.AuthorHandle) == want {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Drop removes every pending or terminal record for eventID. In-flight
// records are left to their owner. It returns domain.ErrNotFound when nothing
// was removed.
func (s *Store) Drop(ctx context.Context, eventID string) (int, error) {
	dropped := 0
	for _, st := range []domain.State{domain.StatePending, domain.StateErrors, domain.StateNoReply} {
		recs, err := s.readState(ctx, st)
		if err != nil {
			return dropped, err
		}
		for _, rec := range recs {
			if rec.ID != eventID {
				continue
			}
			if err := removeFile(s.terminalPath(st, rec.StorageKey)); err != nil {
				return dropped, storageErr("drop", err)
			}
			dropped++
			s.releaseID(ctx, rec.ID, rec.StorageKey)
			s.publish(ctx, rec, "dropped", "")
		}
	}

	if dropped == 0 {
		return 0, fmt.Errorf("drop %s: %w", eventID, domain.ErrNotFound)
	}
	return dropped, nil
}

// Counts returns the number of record files per state without parsing them.
func (s *Store) Counts(ctx context.Context) (domain.QueueCounts, error) {
	counts := domain.QueueCounts{}
	for _, st := range storageStates {
		names, err := s.recordNames(st)
		if err != nil {
			return nil, err
		}
		counts[st] = len(names)
	}
	return counts, nil
}

// PendingDepth is the number of pending records.
func (s *Store) PendingDepth(ctx context.Context) (int, error) {
	names, err := s.recordNames(domain.StatePending)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// RecoverInFlight returns in-flight records claimed by other owners. With a
// single active instance those owners are dead processes; the caller either
// finalizes each record or releases it back to pending. Records claimed by
// this store are included only when busy reports that no worker holds them,
// which is how a claim left behind by a failed release or resolve is found.
// A nil busy leaves all of this store's claims out.
func (s *Store) RecoverInFlight(ctx context.Context, busy func(key string) bool) ([]domain.QueueRecord, error) {
	recs, err := s.readState(ctx, domain.StateInFlight)
	if err != nil {
		return nil, err
	}

	var stranded []domain.QueueRecord
	for _, rec := range recs {
		if rec.ClaimedBy == s.owner && (busy == nil || busy(rec.StorageKey)) {
			continue
		}
		stranded = append(stranded, rec)
	}
	return stranded, nil
}

func (s *Store) keyExists(key string) (bool, error) {
	for _, path := range []string{
		s.pendingPath(key),
		s.terminalPath(domain.StateErrors, key),
		s.terminalPath(domain.StateNoReply, key),
	} {
		if _, err := os.Stat(path); err == nil {
			return true, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, storageErr("stat record", err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(s.stateDir(domain.StateInFlight), "*"+ownerSeparator+key+recordExt))
	if err != nil {
		return false, fmt.Errorf("globbing in-flight records: %w", err)
	}
	return len(matches) > 0, nil
}

func (s *Store) claimedPath(rec domain.QueueRecord) (string, error) {
	if rec.ClaimedBy == "" {
		return "", fmt.Errorf("record %s is not claimed: %w", rec.StorageKey, domain.ErrNotFound)
	}
	path := s.inFlightPath(rec.ClaimedBy, rec.StorageKey)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("claim on %s lost: %w", rec.StorageKey, domain.ErrNotFound)
		}
		return "", storageErr("stat claim", err)
	}
	return path, nil
}

func (s *Store) recordNames(st domain.State) ([]string, error) {
	entries, err := os.ReadDir(s.stateDir(st))
	if err != nil {
		return nil, storageErr("listing "+string(st), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// readState parses every record in a state directory. Unparsable records are
// quarantined and skipped.
func (s *Store) readState(ctx context.Context, st domain.State) ([]domain.QueueRecord, error) {
	names, err := s.recordNames(st)
	if err != nil {
		return nil, err
	}

	recs := make([]domain.QueueRecord, 0, len(names))
	for _, name := range names {
		rec, err := s.readRecord(ctx, filepath.Join(s.stateDir(st), name))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrCorruptRecord) {
				continue
			}
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// readRecord loads one record file. A corrupt file is moved to quarantine and
// reported as domain.ErrCorruptRecord; a file that vanished is
// domain.ErrNotFound.
func (s *Store) readRecord(ctx context.Context, path string) (domain.QueueRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.QueueRecord{}, domain.ErrNotFound
		}
		return domain.QueueRecord{}, storageErr("reading record", err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		if qerr := s.quarantine(ctx, path, err); qerr != nil {
			return domain.QueueRecord{}, qerr
		}
		return domain.QueueRecord{}, err
	}

	dir := filepath.Base(filepath.Dir(path))
	rec.State = domain.State(dir)
	if rec.State == domain.StateInFlight {
		owner, _, _ := strings.Cut(filepath.Base(path), ownerSeparator)
		rec.ClaimedBy = owner
	}
	return rec, nil
}

func (s *Store) quarantine(ctx context.Context, path string, cause error) error {
	from := filepath.Base(filepath.Dir(path))
	name := from + ownerSeparator + filepath.Base(path)
	dst := filepath.Join(s.stateDir(domain.StateQuarantine), name)

	if err := moveFile(path, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return storageErr("quarantine", err)
	}

	slog.WarnContext(logger.WithLogFields(ctx, logger.LogFields{Component: "courier.queue"}),
		"record quarantined", "file", name, "error", cause)
	if s.onCorrupt != nil {
		s.onCorrupt(ctx, name, cause)
	}
	return nil
}

func (s *Store) write(path string, rec domain.QueueRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func (s *Store) publish(ctx context.Context, rec domain.QueueRecord, change string, outcome domain.Outcome) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, StatusEvent{
		Platform:   rec.Platform,
		EventID:    rec.ID,
		StorageKey: rec.StorageKey,
		Change:     change,
		State:      rec.State,
		Outcome:    outcome,
		Attempts:   rec.Attempts,
		At:         s.now().UTC(),
	})
}

func (s *Store) stateDir(st domain.State) string {
	return filepath.Join(s.dir, string(st))
}

func (s *Store) pendingPath(key string) string {
	return s.terminalPath(domain.StatePending, key)
}

func (s *Store) terminalPath(st domain.State, key string) string {
	return filepath.Join(s.stateDir(st), key+recordExt)
}

func (s *Store) inFlightPath(owner, key string) string {
	return filepath.Join(s.stateDir(domain.StateInFlight), owner+ownerSeparator+key+recordExt)
}

func encodeRecord(rec domain.QueueRecord) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeRecord(data []byte) (domain.QueueRecord, error) {
	var rec domain.QueueRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.QueueRecord{}, fmt.Errorf("%w: %w", domain.ErrCorruptRecord, err)
	}
	if rec.ID == "" || rec.StorageKey == "" {
		return domain.QueueRecord{}, fmt.Errorf("%w: missing id or storage key", domain.ErrCorruptRecord)
	}
	return rec, nil
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// storageErr marks filesystem failures as storage unavailability. Lock
// contention keeps its errno so it still classifies as transient.
func storageErr(op string, err error) error {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EBUSY) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
