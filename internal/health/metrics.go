package health

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"basegraph.app/courier/internal/domain"
)

const meterName = "courier.health"

type metrics struct {
	resolutions  otelmetric.Int64Counter
	healthErrors otelmetric.Int64Counter
	contextGaps  otelmetric.Int64Counter
	quarantined  otelmetric.Int64Counter
	fetchedTotal otelmetric.Int64Counter

	queue        attribute.KeyValue
	registration otelmetric.Registration
}

// newMetrics builds instruments on the configured provider and registers a
// gauge callback observing this monitor only. Every series carries the
// monitor's queue label so several monitors can share a provider.
func newMetrics(m *Monitor) *metrics {
	out, err := initMetrics(m)
	if err != nil {
		otel.Handle(err)
		return &metrics{}
	}
	return out
}

func initMetrics(m *Monitor) (*metrics, error) {
	provider := m.cfg.MeterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	out := &metrics{queue: attribute.String("queue", m.cfg.Queue)}
	var err error

	if out.resolutions, err = meter.Int64Counter("courier_resolutions_total",
		otelmetric.WithDescription("Queue records resolved, by outcome")); err != nil {
		return nil, err
	}
	if out.healthErrors, err = meter.Int64Counter("courier_health_errors_total"); err != nil {
		return nil, err
	}
	if out.contextGaps, err = meter.Int64Counter("courier_context_gaps_total"); err != nil {
		return nil, err
	}
	if out.quarantined, err = meter.Int64Counter("courier_quarantined_total"); err != nil {
		return nil, err
	}
	if out.fetchedTotal, err = meter.Int64Counter("courier_events_fetched_total"); err != nil {
		return nil, err
	}

	depth, err := meter.Int64ObservableGauge("courier_pending_depth")
	if err != nil {
		return nil, err
	}
	tripped, err := meter.Int64ObservableGauge("courier_breaker_tripped")
	if err != nil {
		return nil, err
	}
	out.registration, err = meter.RegisterCallback(func(ctx context.Context, o otelmetric.Observer) error {
		attrs := otelmetric.WithAttributes(out.queue)
		o.ObserveInt64(depth, int64(m.Snapshot(ctx).PendingDepth), attrs)
		var v int64
		if m.Blocked() {
			v = 1
		}
		o.ObserveInt64(tripped, v, attrs)
		return nil
	}, depth, tripped)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (mt *metrics) close() error {
	if mt.registration == nil {
		return nil
	}
	err := mt.registration.Unregister()
	mt.registration = nil
	return err
}

func (mt *metrics) add(ctx context.Context, c otelmetric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, n, otelmetric.WithAttributes(append(attrs, mt.queue)...))
}

func (mt *metrics) resolution(ctx context.Context, outcome domain.Outcome) {
	mt.add(ctx, mt.resolutions, 1, attribute.String("outcome", string(outcome)))
}

func (mt *metrics) healthError(ctx context.Context) {
	mt.add(ctx, mt.healthErrors, 1)
}

func (mt *metrics) gaps(ctx context.Context, n int) {
	mt.add(ctx, mt.contextGaps, int64(n))
}

func (mt *metrics) quarantine(ctx context.Context, n int) {
	mt.add(ctx, mt.quarantined, int64(n))
}

func (mt *metrics) fetched(ctx context.Context, platform domain.Platform, kind domain.EventKind) {
	mt.add(ctx, mt.fetchedTotal, 1,
		attribute.String("platform", string(platform)),
		attribute.String("kind", string(kind)),
	)
}
