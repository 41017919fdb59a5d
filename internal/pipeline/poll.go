package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/courier/common/logger"
	"basegraph.app/courier/internal/botfilter"
	"basegraph.app/courier/internal/domain"
)

// PollOnce fetches new events, filters them and lands the survivors in the
// queue. The cursor only advances once every event was either enqueued or
// skipped, so a failed poll re-fetches the same page.
func (d *Driver) PollOnce(ctx context.Context) (int, error) {
	name := d.client.Name()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "courier.pipeline.poll",
		Platform:  logger.Ptr(string(name)),
	})

	cursor, err := d.queue.LoadCursor(name)
	if err != nil {
		d.monitor.RecordHealthError(ctx, err, d.now())
		return 0, fmt.Errorf("loading cursor: %w", err)
	}

	events, next, err := d.client.FetchNew(ctx, cursor)
	if err != nil {
		return 0, fmt.Errorf("fetching new events: %w", err)
	}

	enqueued := 0
	for _, ev := range events {
		if ev.Platform == "" {
			ev.Platform = name
		}
		d.monitor.RecordFetched(ctx, ev.Platform, ev.Kind)

		if !ev.Kind.Actionable() {
			continue
		}

		seen, err := d.ledger.HasSeen(ctx, ev.ID)
		if err != nil {
			d.monitor.RecordHealthError(ctx, err, d.now())
			return enqueued, fmt.Errorf("checking ledger for %s: %w", ev.ID, err)
		}
		if seen {
			slog.DebugContext(ctx, "skipping already processed event", "event_id", ev.ID)
			continue
		}

		if d.priority[botfilter.NormalizeHandle(ev.AuthorHandle)] {
			ev.Priority = true
		}

		if _, err := d.queue.Enqueue(ctx, ev); err != nil {
			if errors.Is(err, domain.ErrAlreadyQueued) {
				continue
			}
			d.monitor.RecordHealthError(ctx, err, d.now())
			return enqueued, fmt.Errorf("enqueueing %s: %w", ev.ID, err)
		}
		enqueued++
	}

	if next != cursor {
		if err := d.queue.SaveCursor(name, next); err != nil {
			d.monitor.RecordHealthError(ctx, err, d.now())
			return enqueued, fmt.Errorf("saving cursor: %w", err)
		}
	}

	if enqueued > 0 {
		slog.InfoContext(ctx, "enqueued events", "count", enqueued, "fetched", len(events))
		d.Wake()
	}
	return enqueued, nil
}
