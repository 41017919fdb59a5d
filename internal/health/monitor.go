package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"

	"basegraph.app/courier/internal/domain"
)

const throughputSpan = 5 * time.Minute

// QueueStats is the slice of the queue store the monitor reads on demand.
type QueueStats interface {
	Counts(ctx context.Context) (domain.QueueCounts, error)
}

type Config struct {
	// Window is the number of most recent resolutions the error rate covers.
	Window     int
	MinSamples int
	// ErrorRateThreshold degrades status when exceeded.
	ErrorRateThreshold float64
	BacklogThreshold   int
	Now                func() time.Time

	// Queue labels every metric series this monitor emits.
	Queue string
	// MeterProvider defaults to the global provider.
	MeterProvider otelmetric.MeterProvider
}

func DefaultConfig() Config {
	return Config{
		Window:             50,
		MinSamples:         5,
		ErrorRateThreshold: 0.2,
		BacklogThreshold:   1000,
	}
}

type resolution struct {
	outcome domain.Outcome
	at      time.Time
}

// Monitor tracks a rolling window of resolutions and acts as the queue's
// circuit breaker: a health error trips it until a clean repair.
type Monitor struct {
	cfg     Config
	metrics *metrics

	mu            sync.Mutex
	queue         QueueStats
	window        []resolution
	next          int
	gaps          int
	quarantined   int
	tripped       bool
	lastHealthErr string
}

func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if cfg.BacklogThreshold <= 0 {
		cfg.BacklogThreshold = def.BacklogThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}

	m := &Monitor{
		cfg:    cfg,
		window: make([]resolution, 0, cfg.Window),
	}
	m.metrics = newMetrics(m)
	return m
}

// Close stops the gauges from observing this monitor.
func (m *Monitor) Close() error {
	return m.metrics.close()
}

// AttachQueue lets snapshots read queue depth. The store is built with the
// monitor as its breaker, so the queue is attached afterwards.
func (m *Monitor) AttachQueue(q QueueStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = q
}

func (m *Monitor) RecordResolution(ctx context.Context, outcome domain.Outcome, at time.Time) {
	m.mu.Lock()
	r := resolution{outcome: outcome, at: at}
	if len(m.window) < m.cfg.Window {
		m.window = append(m.window, r)
	} else {
		m.window[m.next] = r
		m.next = (m.next + 1) % m.cfg.Window
	}
	m.mu.Unlock()

	m.metrics.resolution(ctx, outcome)
}

// RecordHealthError trips the breaker.
func (m *Monitor) RecordHealthError(ctx context.Context, err error, at time.Time) {
	m.mu.Lock()
	wasTripped := m.tripped
	m.tripped = true
	if err != nil {
		m.lastHealthErr = err.Error()
	}
	m.mu.Unlock()

	if !wasTripped {
		slog.ErrorContext(ctx, "health error recorded, dequeue blocked until repair",
			"error", err, "at", at)
	}
	m.metrics.healthError(ctx)
}

func (m *Monitor) RecordGap(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.gaps += n
	m.mu.Unlock()
	m.metrics.gaps(ctx, n)
}

func (m *Monitor) RecordQuarantine(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.quarantined += n
	m.mu.Unlock()
	m.metrics.quarantine(ctx, n)
}

// RecordFetched counts events fetched from a platform, by kind.
func (m *Monitor) RecordFetched(ctx context.Context, platform domain.Platform, kind domain.EventKind) {
	m.metrics.fetched(ctx, platform, kind)
}

// RepairSucceeded clears the breaker when report shows a clean pass. A
// report with storage errors leaves it tripped.
func (m *Monitor) RepairSucceeded(ctx context.Context, report domain.RepairReport) bool {
	if !report.OK() {
		slog.WarnContext(ctx, "repair finished with errors, breaker stays tripped",
			"errors", report.Errors)
		return false
	}

	m.mu.Lock()
	wasTripped := m.tripped
	m.tripped = false
	m.lastHealthErr = ""
	m.mu.Unlock()

	if wasTripped {
		slog.InfoContext(ctx, "repair succeeded, dequeue unblocked")
	}
	return true
}

// Blocked is true exactly while status is critical.
func (m *Monitor) Blocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped
}

func (m *Monitor) Status(ctx context.Context) domain.HealthStatus {
	return m.Snapshot(ctx).Status
}

func (m *Monitor) Snapshot(ctx context.Context) domain.HealthSnapshot {
	m.mu.Lock()
	queue := m.queue
	now := m.cfg.Now()
	snap := domain.HealthSnapshot{
		Window:          len(m.window),
		ContextGaps:     m.gaps,
		QuarantineCount: m.quarantined,
		Tripped:         m.tripped,
		LastHealthError: m.lastHealthErr,
		At:              now.UTC(),
	}

	errorsInWindow, recent := 0, 0
	for _, r := range m.window {
		if r.outcome == domain.OutcomeError {
			errorsInWindow++
		}
		if now.Sub(r.at) <= throughputSpan {
			recent++
		}
	}
	if len(m.window) > 0 {
		snap.ErrorRate = float64(errorsInWindow) / float64(len(m.window))
	}
	snap.ThroughputPerMinute = float64(recent) / throughputSpan.Minutes()
	m.mu.Unlock()

	if queue != nil {
		counts, err := queue.Counts(ctx)
		if err != nil {
			slog.WarnContext(ctx, "reading queue depth for health snapshot", "error", err)
		} else {
			snap.PendingDepth = counts[domain.StatePending]
			if q := counts[domain.StateQuarantine]; q > snap.QuarantineCount {
				snap.QuarantineCount = q
			}
		}
	}

	snap.Status = m.status(snap)
	return snap
}

func (m *Monitor) status(snap domain.HealthSnapshot) domain.HealthStatus {
	if snap.Tripped {
		return domain.HealthCritical
	}
	if snap.Window >= m.cfg.MinSamples && snap.ErrorRate > m.cfg.ErrorRateThreshold {
		return domain.HealthDegraded
	}
	if snap.PendingDepth > m.cfg.BacklogThreshold {
		return domain.HealthDegraded
	}
	return domain.HealthOK
}
