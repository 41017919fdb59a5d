package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"basegraph.app/courier/common/logger"
)

// Processor claims and fully processes at most one queued record. It
// reports whether a record was claimed.
type Processor interface {
	ProcessNext(ctx context.Context) (bool, error)
}

type Config struct {
	Workers int
	// IdleWait is how long an idle worker sleeps when nothing wakes it.
	IdleWait time.Duration
}

// Pool runs Workers drain loops over one Processor. Shutdown is honoured
// between records: a record that has been claimed is processed to the end
// on a context that is not cancelled with the pool.
type Pool struct {
	processor Processor
	cfg       Config
	wake      <-chan struct{}
}

func New(processor Processor, cfg Config, wake <-chan struct{}) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 5 * time.Second
	}
	return &Pool{
		processor: processor,
		cfg:       cfg,
		wake:      wake,
	}
}

// Run blocks until ctx is cancelled and every worker has finished its
// current record.
func (p *Pool) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "worker pool started", "workers", p.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		n := i
		g.Go(func() error {
			wctx := logger.WithLogFields(gctx, logger.LogFields{
				Component: fmt.Sprintf("courier.worker.%d", n),
			})
			p.loop(wctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := p.processSafe(context.WithoutCancel(ctx))
		if err != nil {
			slog.ErrorContext(ctx, "drain error", "error", err)
		}
		if claimed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-time.After(p.cfg.IdleWait):
		}
	}
}

func (p *Pool) processSafe(ctx context.Context) (claimed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in record processing", "panic", r)
			claimed = true
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.processor.ProcessNext(ctx)
}
