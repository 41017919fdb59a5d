package domain

import "time"

// HealthStatus is the coarse pipeline health.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// HealthSnapshot is derived on demand from the monitor window and queue depth.
type HealthSnapshot struct {
	ErrorRate           float64      `json:"errorRate"`
	ThroughputPerMinute float64      `json:"throughputPerMinute"`
	PendingDepth        int          `json:"pendingDepth"`
	QuarantineCount     int          `json:"quarantineCount"`
	ContextGaps         int          `json:"contextGaps"`
	Window              int          `json:"window"`
	Tripped             bool         `json:"tripped"`
	LastHealthError     string       `json:"lastHealthError,omitempty"`
	Status              HealthStatus `json:"status"`
	At                  time.Time    `json:"at"`
}

// RepairReport summarises one repair pass over the queue store.
type RepairReport struct {
	Scanned      int      `json:"scanned"`
	Recovered    int      `json:"recovered"`
	Quarantined  int      `json:"quarantined"`
	Deleted      int      `json:"deleted"`
	TempRemoved  int      `json:"tempRemoved"`
	Duplicates   int      `json:"duplicates"`
	Reconciled   int      `json:"reconciled"`
	StillCorrupt []string `json:"stillCorrupt,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// OK reports whether the repair pass completed without storage errors.
func (r RepairReport) OK() bool {
	return len(r.Errors) == 0
}

// QueueCounts is the number of records per storage state.
type QueueCounts map[State]int

// Stats is the operator view of the queue.
type Stats struct {
	Counts           QueueCounts       `json:"counts"`
	LedgerSize       int64             `json:"ledgerSize"`
	OldestPendingAge time.Duration     `json:"oldestPendingAge"`
	PendingByKind    map[EventKind]int `json:"pendingByKind"`
	PendingByAuthor  map[string]int    `json:"pendingByAuthor"`
	Health           HealthSnapshot    `json:"health"`
}
