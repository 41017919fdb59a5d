package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/ledger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingBackend struct {
	*ledger.MemoryBackend
	hasCalls int
	failWith error
}

func (b *countingBackend) Has(ctx context.Context, id string) (bool, error) {
	b.hasCalls++
	if b.failWith != nil {
		return false, b.failWith
	}
	return b.MemoryBackend.Has(ctx, id)
}

func (b *countingBackend) Add(ctx context.Context, id string, at time.Time) error {
	if b.failWith != nil {
		return b.failWith
	}
	return b.MemoryBackend.Add(ctx, id, at)
}

var _ = Describe("Cached", func() {
	var (
		ctx     context.Context
		backend *countingBackend
		l       *ledger.Cached
		now     time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = &countingBackend{MemoryBackend: ledger.NewMemoryBackend()}
		l = ledger.NewCached(backend)
		now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	})

	It("answers repeat lookups of seen ids from memory", func() {
		Expect(l.RecordSeen(ctx, "e1", now)).To(Succeed())

		for i := 0; i < 3; i++ {
			seen, err := l.HasSeen(ctx, "e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(BeTrue())
		}
		Expect(backend.hasCalls).To(BeZero())
	})

	It("checks the backend on a miss", func() {
		Expect(backend.MemoryBackend.Add(ctx, "written-elsewhere", now)).To(Succeed())

		seen, err := l.HasSeen(ctx, "written-elsewhere")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeTrue())
		Expect(backend.hasCalls).To(Equal(1))
	})

	It("wraps backend failures as ledger unavailable", func() {
		backend.failWith = errors.New("connection refused")

		_, err := l.HasSeen(ctx, "e1")
		Expect(err).To(MatchError(domain.ErrLedgerUnavailable))

		err = l.RecordSeen(ctx, "e1", now)
		Expect(err).To(MatchError(domain.ErrLedgerUnavailable))
	})

	It("forgets pruned entries", func() {
		Expect(l.RecordSeen(ctx, "old", now.Add(-10*24*time.Hour))).To(Succeed())
		Expect(l.RecordSeen(ctx, "new", now)).To(Succeed())

		n, err := l.Prune(ctx, now.Add(-7*24*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		seen, err := l.HasSeen(ctx, "old")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())

		count, err := l.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeEquivalentTo(1))
	})
})

var _ = Describe("SQLiteBackend", func() {
	var (
		ctx  context.Context
		path string
	)

	BeforeEach(func() {
		ctx = context.Background()
		path = filepath.Join(GinkgoT().TempDir(), "ledger.db")
	})

	It("persists entries across reopen", func() {
		l, err := ledger.Open(ctx, "sqlite://"+path)
		Expect(err).NotTo(HaveOccurred())
		Expect(l.RecordSeen(ctx, "e1", time.Now())).To(Succeed())
		Expect(l.RecordSeen(ctx, "e1", time.Now())).To(Succeed())
		Expect(l.Close()).To(Succeed())

		reopened, err := ledger.Open(ctx, "sqlite://"+path)
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()

		seen, err := reopened.HasSeen(ctx, "e1")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeTrue())

		count, err := reopened.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeEquivalentTo(1))
	})

	It("prunes by resolution time", func() {
		b, err := ledger.OpenSQLite(ctx, path)
		Expect(err).NotTo(HaveOccurred())
		defer b.Close()

		cutoff := time.Now()
		Expect(b.Add(ctx, "old", cutoff.Add(-time.Hour))).To(Succeed())
		Expect(b.Add(ctx, "new", cutoff.Add(time.Hour))).To(Succeed())

		n, err := b.PruneBefore(ctx, cutoff)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		has, err := b.Has(ctx, "new")
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeTrue())
	})
})

var _ = Describe("OpenBackend", func() {
	It("opens an in-memory backend", func() {
		b, err := ledger.OpenBackend(context.Background(), "memory://")
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(BeAssignableToTypeOf(&ledger.MemoryBackend{}))
	})

	It("prefers a registered factory", func() {
		custom := ledger.NewMemoryBackend()
		ledger.RegisterBackend("custom", func(context.Context, string) (ledger.Backend, error) {
			return custom, nil
		})
		b, err := ledger.OpenBackend(context.Background(), "custom://anything")
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(BeIdenticalTo(custom))
	})

	It("rejects unknown schemes", func() {
		_, err := ledger.OpenBackend(context.Background(), "mysql://db")
		Expect(err).To(MatchError(ContainSubstring("unsupported ledger scheme")))
	})
})
