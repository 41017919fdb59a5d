package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"basegraph.app/courier/common/logger"
	"basegraph.app/courier/internal/audit"
	"basegraph.app/courier/internal/botfilter"
	"basegraph.app/courier/internal/brain"
	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/health"
	"basegraph.app/courier/internal/ledger"
	"basegraph.app/courier/internal/platform"
	"basegraph.app/courier/internal/retry"
	"basegraph.app/courier/internal/worker"
)

// Queue is the part of the queue store the driver uses.
type Queue interface {
	Enqueue(ctx context.Context, event domain.Event) (domain.QueueRecord, error)
	DequeueNext(ctx context.Context) (domain.QueueRecord, bool, error)
	Update(ctx context.Context, rec domain.QueueRecord) error
	Release(ctx context.Context, rec domain.QueueRecord) error
	MarkResolved(ctx context.Context, rec domain.QueueRecord, outcome domain.Outcome) error
	ListAll(ctx context.Context, includeTerminal bool) ([]domain.QueueRecord, error)
	RecoverInFlight(ctx context.Context, busy func(key string) bool) ([]domain.QueueRecord, error)
	Repair(ctx context.Context) (domain.RepairReport, error)
	LoadCursor(p domain.Platform) (string, error)
	SaveCursor(p domain.Platform, cursor string) error
	Dir() string
}

type Config struct {
	PriorityAuthors []string
	PollInterval    time.Duration
	RepairInterval  time.Duration
	ReclaimInterval time.Duration
	PruneInterval   time.Duration
	LedgerRetention time.Duration
	Workers         int
	WatchQueue      bool
	Retry           retry.Policy
}

type Deps struct {
	Queue     Queue
	Ledger    ledger.Ledger
	Monitor   *health.Monitor
	Platform  platform.Client
	Builder   *brain.ContextBuilder
	Reasoner  brain.Reasoner
	Validator *brain.ActionValidator
	Executor  *brain.ActionExecutor
	Bots      *botfilter.Filter
	Audit     audit.Sink
	Now       func() time.Time
}

// Driver moves events from the platform through the queue to a resolution.
type Driver struct {
	cfg      Config
	queue    Queue
	ledger   ledger.Ledger
	monitor  *health.Monitor
	client   platform.Client
	builder  *brain.ContextBuilder
	reasoner brain.Reasoner
	validate *brain.ActionValidator
	executor *brain.ActionExecutor
	bots     *botfilter.Filter
	audit    audit.Sink
	now      func() time.Time

	repairer *Repairer
	priority map[string]bool
	wake     chan struct{}

	// claimMu orders claims against recovery scans: a scan never sees a
	// record claimed but not yet in active.
	claimMu  sync.RWMutex
	activeMu sync.Mutex
	active   map[string]struct{}
}

func New(cfg Config, deps Deps) (*Driver, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("pipeline: queue is required")
	case deps.Ledger == nil:
		return nil, errors.New("pipeline: ledger is required")
	case deps.Monitor == nil:
		return nil, errors.New("pipeline: monitor is required")
	case deps.Platform == nil:
		return nil, errors.New("pipeline: platform client is required")
	case deps.Builder == nil || deps.Reasoner == nil || deps.Executor == nil:
		return nil, errors.New("pipeline: builder, reasoner and executor are required")
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.RepairInterval <= 0 {
		cfg.RepairInterval = 30 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.LedgerRetention <= 0 {
		cfg.LedgerRetention = 7 * 24 * time.Hour
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	d := &Driver{
		cfg:      cfg,
		queue:    deps.Queue,
		ledger:   deps.Ledger,
		monitor:  deps.Monitor,
		client:   deps.Platform,
		builder:  deps.Builder,
		reasoner: deps.Reasoner,
		validate: deps.Validator,
		executor: deps.Executor,
		bots:     deps.Bots,
		audit:    deps.Audit,
		now:      deps.Now,
		priority: map[string]bool{},
		wake:     make(chan struct{}, 1),
		active:   map[string]struct{}{},
	}
	if d.validate == nil {
		d.validate = brain.NewActionValidator(deps.Platform.MaxPostLength())
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	d.repairer = NewRepairer(deps.Queue, deps.Ledger, deps.Monitor, d.now)
	for _, h := range cfg.PriorityAuthors {
		if h = botfilter.NormalizeHandle(h); h != "" {
			d.priority[h] = true
		}
	}
	return d, nil
}

// Wake nudges an idle drain worker. It never blocks.
func (d *Driver) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Driver) markActive(key string) {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	d.active[key] = struct{}{}
}

func (d *Driver) clearActive(key string) {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	delete(d.active, key)
}

func (d *Driver) isActive(key string) bool {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	_, ok := d.active[key]
	return ok
}

// Run recovers stranded records and then runs the poll loop, the drain
// workers and housekeeping until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "courier.pipeline.driver"})

	if n, err := d.Recover(ctx); err != nil {
		slog.ErrorContext(ctx, "startup recovery failed", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "recovered stranded records", "count", n)
	}

	pool := worker.New(d, worker.Config{Workers: d.cfg.Workers, IdleWait: d.cfg.PollInterval}, d.wake)
	reclaimer := worker.NewReclaimer(d, d.cfg.ReclaimInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.pollLoop(gctx) })
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return reclaimer.Run(gctx) })
	g.Go(func() error { return d.housekeepingLoop(gctx) })
	if d.cfg.WatchQueue {
		g.Go(func() error {
			if err := d.watch(gctx); err != nil {
				// polling still drains the queue
				slog.WarnContext(gctx, "queue watcher stopped", "error", err)
			}
			return nil
		})
	}

	slog.InfoContext(ctx, "pipeline running",
		"platform", d.client.Name(),
		"workers", d.cfg.Workers,
		"poll_interval", d.cfg.PollInterval)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

func (d *Driver) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.PollOnce(ctx); err != nil && ctx.Err() == nil {
			slog.WarnContext(ctx, "poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Driver) housekeepingLoop(ctx context.Context) error {
	repair := time.NewTicker(d.cfg.RepairInterval)
	defer repair.Stop()
	prune := time.NewTicker(d.cfg.PruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-repair.C:
			if !d.monitor.Blocked() {
				continue
			}
			if _, err := d.Repair(ctx); err != nil {
				slog.ErrorContext(ctx, "repair failed", "error", err)
			}
		case <-prune.C:
			cutoff := d.now().Add(-d.cfg.LedgerRetention)
			n, err := d.ledger.Prune(ctx, cutoff)
			if err != nil {
				slog.ErrorContext(ctx, "ledger prune failed", "error", err)
				d.monitor.RecordHealthError(ctx, err, d.now())
				continue
			}
			slog.InfoContext(ctx, "ledger pruned", "removed", n, "cutoff", cutoff)
		}
	}
}
