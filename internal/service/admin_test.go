package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/health"
	"basegraph.app/courier/internal/ledger"
	"basegraph.app/courier/internal/queue"
	"basegraph.app/courier/internal/service"
)

type fakeRepairer struct {
	repairFn func(ctx context.Context) (domain.RepairReport, error)
	calls    int
}

func (f *fakeRepairer) Repair(ctx context.Context) (domain.RepairReport, error) {
	f.calls++
	if f.repairFn != nil {
		return f.repairFn(ctx)
	}
	return domain.RepairReport{}, nil
}

var _ = Describe("AdminService", func() {
	var (
		ctx      context.Context
		store    *queue.Store
		led      *ledger.Cached
		monitor  *health.Monitor
		repairer *fakeRepairer
		svc      service.AdminService
		base     time.Time
	)

	enqueue := func(eventID, author string, kind domain.EventKind, age time.Duration) {
		_, err := store.Enqueue(ctx, domain.Event{
			ID:           eventID,
			Platform:     "test",
			Kind:         kind,
			AuthorHandle: author,
			Text:         "hi",
			CreatedAt:    base.Add(-age),
		})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		base = time.Now().UTC()

		var err error
		store, err = queue.New(queue.Config{Dir: GinkgoT().TempDir(), Owner: "admin"})
		Expect(err).NotTo(HaveOccurred())
		led = ledger.NewCached(ledger.NewMemoryBackend())
		monitor = health.NewMonitor(health.Config{})
		monitor.AttachQueue(store)
		repairer = &fakeRepairer{}

		svc = service.NewAdminService(store, led, monitor, repairer)
	})

	It("reports counts, ledger size and pending breakdowns", func() {
		enqueue("e1", "@Alice", domain.EventKindMention, 2*time.Minute)
		enqueue("e2", "alice", domain.EventKindReply, time.Minute)
		enqueue("e3", "bob", domain.EventKindMention, 0)
		Expect(led.RecordSeen(ctx, "old", base)).To(Succeed())

		stats, err := svc.Stats(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Counts[domain.StatePending]).To(Equal(3))
		Expect(stats.LedgerSize).To(BeEquivalentTo(1))
		Expect(stats.PendingByKind).To(HaveKeyWithValue(domain.EventKindMention, 2))
		Expect(stats.PendingByAuthor).To(HaveKeyWithValue("alice", 2))
		Expect(stats.OldestPendingAge).To(BeNumerically(">=", 0))
		Expect(stats.Health.PendingDepth).To(Equal(3))
	})

	It("lists records by author regardless of case and @", func() {
		enqueue("e1", "Alice", domain.EventKindMention, time.Minute)
		enqueue("e2", "bob", domain.EventKindMention, 0)

		recs, err := svc.ListByAuthor(ctx, "@ALICE")
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
		Expect(recs[0].ID).To(Equal("e1"))

		_, err = svc.ListByAuthor(ctx, " @ ")
		Expect(err).To(HaveOccurred())
	})

	It("drops pending records and reports unknown ids", func() {
		enqueue("e1", "alice", domain.EventKindMention, 0)

		n, err := svc.Drop(ctx, "e1")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		recs, err := svc.List(ctx, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(BeEmpty())

		_, err = svc.Drop(ctx, "e1")
		Expect(errors.Is(err, domain.ErrNotFound)).To(BeTrue())
	})

	It("delegates repair", func() {
		repairer.repairFn = func(context.Context) (domain.RepairReport, error) {
			return domain.RepairReport{Scanned: 4, Reconciled: 1}, nil
		}

		report, err := svc.Repair(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Reconciled).To(Equal(1))
		Expect(repairer.calls).To(Equal(1))
	})

	It("surfaces the breaker in health", func() {
		monitor.RecordHealthError(ctx, errors.New("disk full"), time.Now())

		snap := svc.Health(ctx)
		Expect(snap.Status).To(Equal(domain.HealthCritical))
		Expect(snap.Tripped).To(BeTrue())
	})
})
