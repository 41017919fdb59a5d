package queue

import (
	"sort"

	"basegraph.app/courier/internal/domain"
)

// Before reports whether a is dequeued ahead of b: priority first, then the
// oldest FirstQueuedAt, then the lexicographically smaller StorageKey.
func Before(a, b domain.QueueRecord) bool {
	if a.Priority != b.Priority {
		return a.Priority
	}
	if !a.FirstQueuedAt.Equal(b.FirstQueuedAt) {
		return a.FirstQueuedAt.Before(b.FirstQueuedAt)
	}
	return a.StorageKey < b.StorageKey
}

// SortForDequeue orders records in place by Before.
func SortForDequeue(records []domain.QueueRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return Before(records[i], records[j])
	})
}
