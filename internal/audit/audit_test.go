package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/audit"
	"basegraph.app/courier/internal/domain"
)

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, audit.Entry) error { return f.err }

var _ = Describe("Audit", func() {
	var (
		ctx context.Context
		rec domain.QueueRecord
	)

	BeforeEach(func() {
		ctx = context.Background()
		at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		rec = domain.QueueRecord{
			Event:      domain.Event{ID: "evt-1", Platform: "memory", Kind: domain.EventKindMention, AuthorHandle: "alice"},
			Attempts:   2,
			StorageKey: "abc",
			Resolution: &domain.Resolution{Outcome: domain.OutcomeNoReply, Reason: "known_bot", At: at},
		}
	})

	It("takes the outcome from the resolution", func() {
		e := audit.NewEntry(rec)
		Expect(e.ID).NotTo(BeEmpty())
		Expect(e.Outcome).To(Equal(domain.OutcomeNoReply))
		Expect(e.Reason).To(Equal("known_bot"))
		Expect(e.At).To(Equal(rec.Resolution.At))
		Expect(audit.NewEntry(rec).ID).NotTo(Equal(e.ID))
	})

	It("writes each entry once", func() {
		dir := filepath.Join(GinkgoT().TempDir(), "audit")
		sink, err := audit.NewFileSink(dir)
		Expect(err).NotTo(HaveOccurred())

		e := audit.NewEntry(rec)
		Expect(sink.Write(ctx, e)).To(Succeed())

		changed := e
		changed.Reason = "rewritten"
		Expect(sink.Write(ctx, changed)).To(Succeed())

		data, err := os.ReadFile(filepath.Join(dir, e.ID+".json"))
		Expect(err).NotTo(HaveOccurred())
		var stored audit.Entry
		Expect(json.Unmarshal(data, &stored)).To(Succeed())
		Expect(stored.Reason).To(Equal("known_bot"))

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
	})

	It("joins errors from every sink", func() {
		dir := GinkgoT().TempDir()
		sink, err := audit.NewFileSink(dir)
		Expect(err).NotTo(HaveOccurred())

		boom := errors.New("postgres down")
		err = audit.Multi{failingSink{err: boom}, sink}.Write(ctx, audit.NewEntry(rec))
		Expect(err).To(MatchError(boom))

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
	})
})
