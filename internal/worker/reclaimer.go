package worker

import (
	"context"
	"log/slog"
	"time"

	"basegraph.app/courier/common/logger"
)

// Recoverer finishes or releases records stranded in flight by a dead
// process.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Reclaimer periodically recovers stranded in-flight records. This handles
// the crash scenario where a process dies after claiming a record but before
// resolving or releasing it.
type Reclaimer struct {
	recoverer Recoverer
	interval  time.Duration
}

func NewReclaimer(recoverer Recoverer, interval time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reclaimer{
		recoverer: recoverer,
		interval:  interval,
	}
}

// Run starts the reclaimer loop. Blocks until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "courier.worker.reclaimer",
	})

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.reclaimOnce(ctx)
		}
	}
}

func (r *Reclaimer) reclaimOnce(ctx context.Context) {
	start := time.Now()
	n, err := r.recoverer.Recover(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "reclaimed stranded records",
			"count", n,
			"duration_ms", time.Since(start).Milliseconds())
	}
}
