package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"basegraph.app/courier/internal/botfilter"
	"basegraph.app/courier/internal/domain"
)

// AdminQueue is the part of the queue store the operational surface reads.
type AdminQueue interface {
	Counts(ctx context.Context) (domain.QueueCounts, error)
	ListAll(ctx context.Context, includeTerminal bool) ([]domain.QueueRecord, error)
	ListByAuthor(ctx context.Context, handle string) ([]domain.QueueRecord, error)
	Drop(ctx context.Context, eventID string) (int, error)
}

type LedgerCounter interface {
	Count(ctx context.Context) (int64, error)
}

type HealthReporter interface {
	Snapshot(ctx context.Context) domain.HealthSnapshot
}

type Repairer interface {
	Repair(ctx context.Context) (domain.RepairReport, error)
}

// AdminService is the operator view of a running (or stopped) queue. It is
// served over HTTP by the worker and used directly by queuectl.
type AdminService interface {
	Health(ctx context.Context) domain.HealthSnapshot
	Stats(ctx context.Context) (domain.Stats, error)
	Repair(ctx context.Context) (domain.RepairReport, error)
	List(ctx context.Context, includeTerminal bool) ([]domain.QueueRecord, error)
	ListByAuthor(ctx context.Context, handle string) ([]domain.QueueRecord, error)
	Drop(ctx context.Context, eventID string) (int, error)
}

type adminService struct {
	queue    AdminQueue
	ledger   LedgerCounter
	health   HealthReporter
	repairer Repairer
	now      func() time.Time
}

func NewAdminService(queue AdminQueue, ledger LedgerCounter, health HealthReporter, repairer Repairer) AdminService {
	return &adminService{
		queue:    queue,
		ledger:   ledger,
		health:   health,
		repairer: repairer,
		now:      time.Now,
	}
}

func (s *adminService) Health(ctx context.Context) domain.HealthSnapshot {
	return s.health.Snapshot(ctx)
}

func (s *adminService) Stats(ctx context.Context) (domain.Stats, error) {
	counts, err := s.queue.Counts(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("counting records: %w", err)
	}

	size, err := s.ledger.Count(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("counting ledger: %w", err)
	}

	active, err := s.queue.ListAll(ctx, false)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("listing records: %w", err)
	}

	stats := domain.Stats{
		Counts:          counts,
		LedgerSize:      size,
		PendingByKind:   map[domain.EventKind]int{},
		PendingByAuthor: map[string]int{},
		Health:          s.health.Snapshot(ctx),
	}

	var oldest time.Time
	for _, rec := range active {
		if rec.State != domain.StatePending {
			continue
		}
		stats.PendingByKind[rec.Kind]++
		stats.PendingByAuthor[botfilter.NormalizeHandle(rec.AuthorHandle)]++
		if oldest.IsZero() || rec.FirstQueuedAt.Before(oldest) {
			oldest = rec.FirstQueuedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestPendingAge = s.now().Sub(oldest)
	}
	return stats, nil
}

func (s *adminService) Repair(ctx context.Context) (domain.RepairReport, error) {
	report, err := s.repairer.Repair(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "admin repair failed", "error", err)
		return report, err
	}

	slog.InfoContext(ctx, "admin repair finished",
		"scanned", report.Scanned,
		"quarantined", report.Quarantined,
		"reconciled", report.Reconciled,
		"errors", len(report.Errors))
	return report, nil
}

func (s *adminService) List(ctx context.Context, includeTerminal bool) ([]domain.QueueRecord, error) {
	recs, err := s.queue.ListAll(ctx, includeTerminal)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	sortByQueuedAt(recs)
	return recs, nil
}

func (s *adminService) ListByAuthor(ctx context.Context, handle string) ([]domain.QueueRecord, error) {
	if botfilter.NormalizeHandle(handle) == "" {
		return nil, fmt.Errorf("author handle is required")
	}
	recs, err := s.queue.ListByAuthor(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("listing records by author: %w", err)
	}
	sortByQueuedAt(recs)
	return recs, nil
}

func (s *adminService) Drop(ctx context.Context, eventID string) (int, error) {
	n, err := s.queue.Drop(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("dropping %s: %w", eventID, err)
	}
	slog.InfoContext(ctx, "records dropped by operator", "event_id", eventID, "count", n)
	return n, nil
}

func sortByQueuedAt(recs []domain.QueueRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].FirstQueuedAt.Before(recs[j].FirstQueuedAt)
	})
}
