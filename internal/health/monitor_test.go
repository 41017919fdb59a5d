package health_test

import (
	"context"
	"errors"
	"time"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/health"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeQueue struct {
	counts domain.QueueCounts
	err    error
}

func (q *fakeQueue) Counts(context.Context) (domain.QueueCounts, error) {
	return q.counts, q.err
}

var _ = Describe("Monitor", func() {
	var (
		ctx context.Context
		now time.Time
		m   *health.Monitor
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
		m = health.NewMonitor(health.Config{Now: func() time.Time { return now }})
	})

	It("starts ok and unblocked", func() {
		Expect(m.Status(ctx)).To(Equal(domain.HealthOK))
		Expect(m.Blocked()).To(BeFalse())
	})

	It("degrades when errors dominate the window", func() {
		for i := 0; i < 10; i++ {
			outcome := domain.OutcomeSuccess
			if i < 6 {
				outcome = domain.OutcomeError
			}
			m.RecordResolution(ctx, outcome, now)
		}

		snap := m.Snapshot(ctx)
		Expect(snap.ErrorRate).To(BeNumerically("~", 0.6, 1e-9))
		Expect(snap.Status).To(Equal(domain.HealthDegraded))
		Expect(m.Blocked()).To(BeFalse())
	})

	It("needs a minimum number of samples before degrading on error rate", func() {
		m.RecordResolution(ctx, domain.OutcomeError, now)
		m.RecordResolution(ctx, domain.OutcomeError, now)
		Expect(m.Status(ctx)).To(Equal(domain.HealthOK))
	})

	It("only remembers the most recent resolutions", func() {
		small := health.NewMonitor(health.Config{Window: 5, Now: func() time.Time { return now }})
		for i := 0; i < 5; i++ {
			small.RecordResolution(ctx, domain.OutcomeError, now)
		}
		Expect(small.Status(ctx)).To(Equal(domain.HealthDegraded))

		for i := 0; i < 5; i++ {
			small.RecordResolution(ctx, domain.OutcomeSuccess, now)
		}
		snap := small.Snapshot(ctx)
		Expect(snap.ErrorRate).To(BeZero())
		Expect(snap.Window).To(Equal(5))
		Expect(snap.Status).To(Equal(domain.HealthOK))
	})

	It("degrades on backlog", func() {
		m.AttachQueue(&fakeQueue{counts: domain.QueueCounts{domain.StatePending: 1001, domain.StateQuarantine: 2}})
		snap := m.Snapshot(ctx)
		Expect(snap.PendingDepth).To(Equal(1001))
		Expect(snap.QuarantineCount).To(Equal(2))
		Expect(snap.Status).To(Equal(domain.HealthDegraded))
	})

	It("goes critical on a single health error and blocks until a clean repair", func() {
		m.RecordHealthError(ctx, errors.New("disk full"), now)

		snap := m.Snapshot(ctx)
		Expect(snap.Status).To(Equal(domain.HealthCritical))
		Expect(snap.LastHealthError).To(Equal("disk full"))
		Expect(m.Blocked()).To(BeTrue())

		Expect(m.RepairSucceeded(ctx, domain.RepairReport{Errors: []string{"rename failed"}})).To(BeFalse())
		Expect(m.Blocked()).To(BeTrue())

		Expect(m.RepairSucceeded(ctx, domain.RepairReport{Scanned: 3})).To(BeTrue())
		Expect(m.Blocked()).To(BeFalse())
		Expect(m.Status(ctx)).To(Equal(domain.HealthOK))
	})

	It("reports throughput over recent resolutions", func() {
		for i := 0; i < 10; i++ {
			m.RecordResolution(ctx, domain.OutcomeSuccess, now.Add(-time.Minute))
		}
		m.RecordResolution(ctx, domain.OutcomeSuccess, now.Add(-time.Hour))
		Expect(m.Snapshot(ctx).ThroughputPerMinute).To(BeNumerically("~", 2.0, 1e-9))
	})

	It("counts gaps and quarantines", func() {
		m.RecordGap(ctx, 2)
		m.RecordQuarantine(ctx, 1)
		snap := m.Snapshot(ctx)
		Expect(snap.ContextGaps).To(Equal(2))
		Expect(snap.QuarantineCount).To(Equal(1))
	})
})
