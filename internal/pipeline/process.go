package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/courier/common/logger"
	"basegraph.app/courier/internal/audit"
	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/platform"
	"basegraph.app/courier/internal/retry"
)

// Resolution reasons recorded on no_reply and error records.
const (
	ReasonKnownBot           = "known_bot"
	ReasonStopRequested      = "stop_requested"
	ReasonTriggerUnavailable = "trigger_unavailable"
	ReasonAlreadyProcessed   = "already_processed"
	ReasonRetriesExhausted   = "retries_exhausted"
	ReasonPermanentFailure   = "permanent_failure"
)

// attempt carries what one processing attempt produced, for the audit entry.
type attempt struct {
	rec     *domain.QueueRecord
	tc      *domain.ThreadContext
	signals []domain.ActionSignal
}

// ProcessNext claims the next eligible record and takes it to a resolution
// or back to pending. It reports whether a record was claimed.
func (d *Driver) ProcessNext(ctx context.Context) (bool, error) {
	d.claimMu.RLock()
	rec, ok, err := d.queue.DequeueNext(ctx)
	if ok {
		d.markActive(rec.StorageKey)
	}
	d.claimMu.RUnlock()
	if err != nil {
		d.monitor.RecordHealthError(ctx, err, d.now())
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer d.clearActive(rec.StorageKey)

	d.process(ctx, &rec)
	return true, nil
}

func (d *Driver) process(ctx context.Context, rec *domain.QueueRecord) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component:  "courier.pipeline.driver",
		EventID:    logger.Ptr(rec.ID),
		Platform:   logger.Ptr(string(rec.Platform)),
		StorageKey: logger.Ptr(rec.StorageKey),
		Attempt:    logger.Ptr(rec.Attempts + 1),
	})

	sc := logger.StartSpan(ctx, "pipeline.process")
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.String("event.id", rec.ID),
		attribute.String("event.kind", string(rec.Kind)),
		attribute.Int("record.attempts", rec.Attempts),
	)

	// an earlier attempt decided but did not finish resolving
	if rec.Resolution != nil {
		slog.InfoContext(ctx, "finishing interrupted resolution", "outcome", rec.Resolution.Outcome)
		d.finalize(ctx, &attempt{rec: rec})
		return
	}

	seen, err := d.ledger.HasSeen(ctx, rec.ID)
	if err != nil {
		d.fail(ctx, rec, err)
		return
	}
	if seen {
		d.resolve(ctx, &attempt{rec: rec}, domain.OutcomeNoReply, ReasonAlreadyProcessed)
		return
	}

	if d.bots.IsKnownBot(rec.AuthorHandle) {
		slog.InfoContext(ctx, "skipping known bot", "author", rec.AuthorHandle)
		d.resolve(ctx, &attempt{rec: rec}, domain.OutcomeNoReply, ReasonKnownBot)
		return
	}

	at := &attempt{rec: rec}
	if err := d.handle(ctx, at); err != nil {
		sc.RecordError(err)
		d.fail(ctx, rec, err)
	}
}

// handle runs build → decide → execute → resolve for one claimed record. The
// first decision is persisted in the record and replayed on every retry, so
// the action journal always indexes the same list.
func (d *Driver) handle(ctx context.Context, at *attempt) error {
	rec := at.rec

	if len(rec.Decision) > 0 {
		slog.InfoContext(ctx, "replaying persisted decision",
			"actions", len(rec.Decision),
			"executed", len(rec.Executed))
		at.signals = rec.Decision
		return d.execute(ctx, at)
	}

	buildSpan := logger.StartSpan(ctx, "pipeline.build")
	tc, err := d.builder.Build(buildSpan.Context(), rec.Event, d.client)
	buildSpan.End()

	var ctxErr *retry.ContextError
	switch {
	case err == nil:
	case errors.As(err, &ctxErr):
		slog.WarnContext(ctx, "context incomplete, continuing", "gaps", ctxErr.Gaps)
		d.monitor.RecordGap(ctx, len(ctxErr.Gaps))
	case platform.IsNotFound(err):
		slog.InfoContext(ctx, "trigger no longer available")
		d.resolve(ctx, at, domain.OutcomeNoReply, ReasonTriggerUnavailable)
		return nil
	default:
		return fmt.Errorf("building context: %w", err)
	}
	at.tc = &tc

	if tc.StopRequested {
		slog.InfoContext(ctx, "stop command found in thread")
		d.resolve(ctx, at, domain.OutcomeNoReply, ReasonStopRequested)
		return nil
	}

	decideSpan := logger.StartSpan(ctx, "pipeline.decide")
	signals, err := d.reasoner.Decide(decideSpan.Context(), tc)
	decideSpan.End()
	if err != nil {
		return fmt.Errorf("deciding: %w", err)
	}
	at.signals = signals

	if err := d.validate.Validate(signals); err != nil {
		return err
	}

	rec.Decision = signals
	if err := d.queue.Update(ctx, *rec); err != nil {
		rec.Decision = nil
		return fmt.Errorf("persisting decision: %w", err)
	}

	return d.execute(ctx, at)
}

func (d *Driver) execute(ctx context.Context, at *attempt) error {
	execSpan := logger.StartSpan(ctx, "pipeline.execute")
	result, err := d.executor.Execute(execSpan.Context(), at.rec, at.signals)
	execSpan.End()
	if err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	d.resolve(ctx, at, result.Outcome, result.Reason)
	return nil
}

// fail applies the failure policy for err's kind to a claimed record.
func (d *Driver) fail(ctx context.Context, rec *domain.QueueRecord, err error) {
	now := d.now()
	kind := retry.Classify(err)
	rec.LastError = &domain.ErrorInfo{Kind: string(kind), Message: err.Error(), At: now}

	switch kind {
	case retry.KindHealth:
		slog.ErrorContext(ctx, "health failure, releasing record and tripping breaker", "error", err)
		d.monitor.RecordHealthError(ctx, err, now)
		d.release(ctx, rec)

	case retry.KindPermanent:
		rec.Attempts++
		slog.WarnContext(ctx, "permanent failure", "error", err, "attempts", rec.Attempts)
		d.resolve(ctx, &attempt{rec: rec}, domain.OutcomeError, ReasonPermanentFailure)

	default:
		delay := d.cfg.Retry.Backoff(rec.Attempts)
		rec.Attempts++
		if d.cfg.Retry.Exhausted(rec.Attempts) {
			slog.WarnContext(ctx, "retries exhausted", "error", err, "attempts", rec.Attempts)
			d.resolve(ctx, &attempt{rec: rec}, domain.OutcomeError, ReasonRetriesExhausted)
			return
		}
		notBefore := now.Add(delay)
		rec.NotBefore = &notBefore
		slog.WarnContext(ctx, "transient failure, will retry",
			"error", err,
			"attempts", rec.Attempts,
			"not_before", notBefore)
		d.release(ctx, rec)
	}
}

func (d *Driver) release(ctx context.Context, rec *domain.QueueRecord) {
	if err := d.queue.Release(ctx, *rec); err != nil {
		// the record stays in flight until the reclaimer or a repair returns it
		slog.ErrorContext(ctx, "release failed", "error", err)
		d.monitor.RecordHealthError(ctx, err, d.now())
	}
}

// resolve persists the resolution in the claimed record and then finalizes.
func (d *Driver) resolve(ctx context.Context, at *attempt, outcome domain.Outcome, reason string) {
	rec := at.rec
	rec.Resolution = &domain.Resolution{Outcome: outcome, Reason: reason, At: d.now()}

	if rec.ClaimedBy != "" {
		if err := d.queue.Update(ctx, *rec); err != nil {
			slog.ErrorContext(ctx, "persisting resolution failed", "error", err)
			d.monitor.RecordHealthError(ctx, err, d.now())
			return
		}
	}
	d.finalize(ctx, at)
}

// finalize finishes a record whose resolution is already durable: ledger,
// then the queue move, then audit and the monitor. Every step is safe to
// repeat, which is what recovery relies on.
func (d *Driver) finalize(ctx context.Context, at *attempt) {
	rec := at.rec
	res := rec.Resolution

	if err := d.ledger.RecordSeen(ctx, rec.ID, res.At); err != nil {
		slog.ErrorContext(ctx, "recording ledger entry failed", "error", err)
		d.monitor.RecordHealthError(ctx, err, d.now())
		if rec.ClaimedBy != "" {
			// back to pending with the resolution; the next claim finishes it
			d.release(ctx, rec)
		}
		return
	}

	if err := d.queue.MarkResolved(ctx, *rec, res.Outcome); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "record already resolved elsewhere")
			return
		}
		slog.ErrorContext(ctx, "moving resolved record failed", "error", err)
		d.monitor.RecordHealthError(ctx, err, d.now())
		return
	}

	if d.audit != nil {
		entry := audit.NewEntry(*rec)
		entry.Signals = at.signals
		entry.Context = at.tc
		if err := d.audit.Write(ctx, entry); err != nil {
			slog.ErrorContext(ctx, "writing audit entry failed", "error", err, "audit_id", entry.ID)
		}
	}

	d.monitor.RecordResolution(ctx, res.Outcome, res.At)

	slog.InfoContext(ctx, "record resolved",
		"outcome", res.Outcome,
		"reason", res.Reason,
		"attempts", rec.Attempts,
		"executed", len(rec.Executed))
}
