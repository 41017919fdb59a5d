package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/courier/common/logger"
	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/health"
	"basegraph.app/courier/internal/ledger"
)

// Recover handles records left in flight by a dead process, and this
// process's own claims that no worker holds any more (a release or resolve
// that failed part way). Records that already carry a resolution, or whose
// id is already in the ledger, are finalized without running again; the rest
// go back to pending with their attempt count unchanged.
func (d *Driver) Recover(ctx context.Context) (int, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "courier.pipeline.recover"})

	d.claimMu.Lock()
	stranded, err := d.queue.RecoverInFlight(ctx, d.isActive)
	d.claimMu.Unlock()
	if err != nil {
		d.monitor.RecordHealthError(ctx, err, d.now())
		return 0, fmt.Errorf("listing in-flight records: %w", err)
	}

	recovered := 0
	for i := range stranded {
		rec := &stranded[i]
		rctx := logger.WithLogFields(ctx, logger.LogFields{
			EventID:    logger.Ptr(rec.ID),
			StorageKey: logger.Ptr(rec.StorageKey),
		})

		if rec.Resolution != nil {
			slog.InfoContext(rctx, "finalizing resolved in-flight record",
				"owner", rec.ClaimedBy,
				"outcome", rec.Resolution.Outcome)
			d.finalize(rctx, &attempt{rec: rec})
			recovered++
			continue
		}

		seen, err := d.ledger.HasSeen(rctx, rec.ID)
		if err != nil {
			d.monitor.RecordHealthError(rctx, err, d.now())
			return recovered, fmt.Errorf("checking ledger for %s: %w", rec.ID, err)
		}
		if seen {
			d.resolve(rctx, &attempt{rec: rec}, domain.OutcomeNoReply, ReasonAlreadyProcessed)
			recovered++
			continue
		}

		slog.InfoContext(rctx, "releasing stranded record", "owner", rec.ClaimedBy)
		if err := d.queue.Release(rctx, *rec); err != nil {
			d.monitor.RecordHealthError(rctx, err, d.now())
			return recovered, fmt.Errorf("releasing %s: %w", rec.ID, err)
		}
		recovered++
	}

	if recovered > 0 {
		d.Wake()
	}
	return recovered, nil
}

// Repair runs a repair pass. When it cleared the breaker, claims stranded
// by the failure are recovered and the workers woken.
func (d *Driver) Repair(ctx context.Context) (domain.RepairReport, error) {
	report, err := d.repairer.Repair(ctx)
	if err != nil || !report.OK() {
		return report, err
	}

	if _, rerr := d.Recover(ctx); rerr != nil {
		slog.ErrorContext(ctx, "recovery after repair failed", "error", rerr)
	}
	d.Wake()
	return report, nil
}

// RepairQueue is the part of the queue store a repair pass needs.
type RepairQueue interface {
	Repair(ctx context.Context) (domain.RepairReport, error)
	ListAll(ctx context.Context, includeTerminal bool) ([]domain.QueueRecord, error)
	MarkResolved(ctx context.Context, rec domain.QueueRecord, outcome domain.Outcome) error
}

// Repairer runs the queue repair pass, reconciles pending records that the
// ledger says are already processed, and clears the breaker when the whole
// pass was clean. queuectl uses it without the rest of the pipeline.
type Repairer struct {
	queue   RepairQueue
	ledger  ledger.Ledger
	monitor *health.Monitor
	now     func() time.Time
}

func NewRepairer(q RepairQueue, l ledger.Ledger, m *health.Monitor, now func() time.Time) *Repairer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Repairer{queue: q, ledger: l, monitor: m, now: now}
}

func (r *Repairer) Repair(ctx context.Context) (domain.RepairReport, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "courier.pipeline.repair"})

	report, err := r.queue.Repair(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, fmt.Errorf("repairing queue: %w", err)
	}

	r.reconcile(ctx, &report)
	if report.Quarantined > 0 {
		slog.WarnContext(ctx, "repair quarantined records", "count", report.Quarantined)
	}

	if r.monitor != nil {
		r.monitor.RepairSucceeded(ctx, report)
	}
	return report, nil
}

func (r *Repairer) reconcile(ctx context.Context, report *domain.RepairReport) {
	pending, err := r.queue.ListAll(ctx, false)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("listing records: %v", err))
		return
	}

	for i := range pending {
		rec := &pending[i]
		if rec.State != domain.StatePending {
			continue
		}
		seen, err := r.ledger.HasSeen(ctx, rec.ID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("ledger: %v", err))
			return
		}
		if !seen {
			continue
		}

		if rec.Resolution == nil {
			rec.Resolution = &domain.Resolution{Outcome: domain.OutcomeNoReply, Reason: ReasonAlreadyProcessed, At: r.now()}
		}
		if err := r.queue.MarkResolved(ctx, *rec, rec.Resolution.Outcome); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("reconciling %s: %v", rec.ID, err))
			continue
		}
		report.Reconciled++
		slog.InfoContext(ctx, "reconciled processed record", "event_id", rec.ID, "outcome", rec.Resolution.Outcome)
	}
}
