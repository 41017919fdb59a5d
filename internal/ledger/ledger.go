package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"basegraph.app/courier/internal/domain"
)

// Ledger is the persistent set of event ids that have left the queue.
type Ledger interface {
	HasSeen(ctx context.Context, eventID string) (bool, error)
	RecordSeen(ctx context.Context, eventID string, at time.Time) error
	// Prune forgets entries resolved before cutoff and returns how many.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Backend is the durable half of a ledger. Add is idempotent.
type Backend interface {
	Has(ctx context.Context, eventID string) (bool, error)
	Add(ctx context.Context, eventID string, at time.Time) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Cached fronts a backend with an in-process set of known ids, so repeat
// lookups of seen ids never leave the process. Misses always consult the
// backend: another process may have recorded the id.
type Cached struct {
	backend Backend

	mu   sync.RWMutex
	seen map[string]struct{}
}

func NewCached(backend Backend) *Cached {
	return &Cached{backend: backend, seen: make(map[string]struct{})}
}

func (c *Cached) HasSeen(ctx context.Context, eventID string) (bool, error) {
	c.mu.RLock()
	_, ok := c.seen[eventID]
	c.mu.RUnlock()
	if ok {
		return true, nil
	}

	found, err := c.backend.Has(ctx, eventID)
	if err != nil {
		return false, unavailable("has seen", err)
	}
	if found {
		c.remember(eventID)
	}
	return found, nil
}

func (c *Cached) RecordSeen(ctx context.Context, eventID string, at time.Time) error {
	if err := c.backend.Add(ctx, eventID, at.UTC()); err != nil {
		return unavailable("record seen", err)
	}
	c.remember(eventID)
	return nil
}

func (c *Cached) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := c.backend.PruneBefore(ctx, cutoff.UTC())
	if err != nil {
		return 0, unavailable("prune", err)
	}
	if n > 0 {
		c.mu.Lock()
		c.seen = make(map[string]struct{})
		c.mu.Unlock()
	}
	return n, nil
}

func (c *Cached) Count(ctx context.Context) (int64, error) {
	n, err := c.backend.Count(ctx)
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (c *Cached) Close() error {
	return c.backend.Close()
}

func (c *Cached) remember(eventID string) {
	c.mu.Lock()
	c.seen[eventID] = struct{}{}
	c.mu.Unlock()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("ledger %s: %w: %w", op, domain.ErrLedgerUnavailable, err)
}
