package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps entries in process. Used for tests and dry runs.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]time.Time)}
}

func (b *MemoryBackend) Has(_ context.Context, eventID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[eventID]
	return ok, nil
}

func (b *MemoryBackend) Add(_ context.Context, eventID string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[eventID]; !ok {
		b.entries[eventID] = at
	}
	return nil
}

func (b *MemoryBackend) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, at := range b.entries {
		if at.Before(cutoff) {
			delete(b.entries, id)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBackend) Count(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.entries)), nil
}

func (b *MemoryBackend) Close() error { return nil }
