package brain_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/brain"
	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/platform"
	"basegraph.app/courier/internal/retry"
)

type fakeJournal struct {
	mu      sync.Mutex
	updates []domain.QueueRecord
	err     error
}

func (j *fakeJournal) Update(_ context.Context, rec domain.QueueRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.updates = append(j.updates, rec)
	return nil
}

type fakeNotes struct {
	saved map[string]string
}

func (n *fakeNotes) SetNote(_ context.Context, p domain.Platform, key, value string) error {
	n.saved[string(p)+"/"+key] = value
	return nil
}

func signal(t domain.ActionType, data any) domain.ActionSignal {
	sig, err := brain.NewSignal(t, data)
	Expect(err).NotTo(HaveOccurred())
	return sig
}

var _ = Describe("ActionValidator", func() {
	validator := brain.NewActionValidator(20)

	DescribeTable("rejects malformed decisions as invalid actions",
		func(signals []domain.ActionSignal, cause error) {
			err := validator.Validate(signals)
			Expect(err).To(MatchError(domain.ErrInvalidAction))
			Expect(err).To(MatchError(cause))
			Expect(retry.Classify(err)).To(Equal(retry.KindPermanent))
		},
		Entry("no actions", []domain.ActionSignal{}, brain.ErrEmptyActions),
		Entry("unknown type", []domain.ActionSignal{{Type: "dance", Data: json.RawMessage(`{}`)}}, brain.ErrUnknownActionType),
		Entry("empty reply", []domain.ActionSignal{{Type: domain.ActionTypeReply, Data: json.RawMessage(`{"text":"  \"\" "}`)}}, brain.ErrContentTooShort),
		Entry("reply over the limit", []domain.ActionSignal{{Type: domain.ActionTypeReply, Data: json.RawMessage(`{"text":"` + strings.Repeat("x", 21) + `"}`)}}, brain.ErrContentTooLong),
		Entry("ignore without reason", []domain.ActionSignal{{Type: domain.ActionTypeIgnore, Data: json.RawMessage(`{"reason":" "}`)}}, brain.ErrMissingReason),
		Entry("note without key", []domain.ActionSignal{{Type: domain.ActionTypeSetNote, Data: json.RawMessage(`{"key":"","value":"v"}`)}}, brain.ErrMissingNoteKey),
		Entry("ignore with reply", []domain.ActionSignal{
			{Type: domain.ActionTypeReply, Data: json.RawMessage(`{"text":"hi"}`)},
			{Type: domain.ActionTypeIgnore, Data: json.RawMessage(`{"reason":"meh"}`)},
		}, brain.ErrConflictingIgnore),
	)

	It("accepts a reply with a note", func() {
		Expect(validator.Validate([]domain.ActionSignal{
			signal(domain.ActionTypeReply, brain.ReplyAction{Text: "Thanks, noted!"}),
			signal(domain.ActionTypeSetNote, brain.SetNoteAction{Key: "carol", Value: "likes short answers"}),
		})).To(Succeed())
	})

	It("counts characters, not bytes", func() {
		Expect(validator.Validate([]domain.ActionSignal{
			signal(domain.ActionTypeReply, brain.ReplyAction{Text: strings.Repeat("é", 20)}),
		})).To(Succeed())
	})
})

var _ = Describe("ActionExecutor", func() {
	var (
		ctx      context.Context
		client   *platform.Memory
		journal  *fakeJournal
		notes    *fakeNotes
		executor *brain.ActionExecutor
		rec      domain.QueueRecord
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = platform.NewMemory("memory", 300)
		journal = &fakeJournal{}
		notes = &fakeNotes{saved: map[string]string{}}
		executor = brain.NewActionExecutor(client, journal, notes)
		thread := "thread-1"
		rec = domain.QueueRecord{
			Event: domain.Event{
				ID:        "evt-1",
				Platform:  "memory",
				Kind:      domain.EventKindMention,
				ThreadRef: &thread,
				CreatedAt: time.Now().UTC(),
			},
			State:      domain.StateInFlight,
			StorageKey: "k1",
		}
	})

	It("replies to the trigger and journals the post", func() {
		res, err := executor.Execute(ctx, &rec, []domain.ActionSignal{
			signal(domain.ActionTypeReply, brain.ReplyAction{Text: `"hello there"`}),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(domain.OutcomeSuccess))

		posts := client.Posts()
		Expect(posts).To(HaveLen(1))
		Expect(posts[0]).To(Equal(platform.PostRequest{Text: "hello there", ReplyTo: "evt-1", ThreadRef: "thread-1"}))

		Expect(rec.Executed).To(HaveLen(1))
		Expect(rec.Executed[0].PostID).To(Equal("post-1"))
		Expect(journal.updates).To(HaveLen(1))
		Expect(journal.updates[0].Executed).To(HaveLen(1))
	})

	It("does not repeat journaled actions on a retried attempt", func() {
		signals := []domain.ActionSignal{
			signal(domain.ActionTypeReply, brain.ReplyAction{Text: "first"}),
			signal(domain.ActionTypePost, brain.PostAction{Text: "second"}),
		}
		_, err := executor.Execute(ctx, &rec, signals[:1])
		Expect(err).NotTo(HaveOccurred())

		client.FailPosts(&platform.Error{Platform: "memory", Op: "post", Status: http.StatusServiceUnavailable})
		_, err = executor.Execute(ctx, &rec, signals)
		Expect(err).To(HaveOccurred())
		Expect(retry.Classify(err)).To(Equal(retry.KindTransient))

		res, err := executor.Execute(ctx, &rec, signals)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(domain.OutcomeSuccess))

		texts := []string{}
		for _, p := range client.Posts() {
			texts = append(texts, p.Text)
		}
		Expect(texts).To(Equal([]string{"first", "second"}))
		Expect(rec.Executed).To(HaveLen(2))
	})

	It("resolves ignore as no reply with the category in the reason", func() {
		res, err := executor.Execute(ctx, &rec, []domain.ActionSignal{
			signal(domain.ActionTypeIgnore, brain.IgnoreAction{Reason: "automated digest", Category: brain.IgnoreCategoryBot}),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(domain.OutcomeNoReply))
		Expect(res.Reason).To(Equal("ignored:bot: automated digest"))
		Expect(client.Posts()).To(BeEmpty())
		Expect(journal.updates).To(BeEmpty())
	})

	It("stores notes per platform", func() {
		res, err := executor.Execute(ctx, &rec, []domain.ActionSignal{
			signal(domain.ActionTypeSetNote, brain.SetNoteAction{Key: " carol ", Value: "prefers threads"}),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(domain.OutcomeNoReply))
		Expect(notes.saved).To(HaveKeyWithValue("memory/carol", "prefers threads"))
		Expect(rec.Executed).To(HaveLen(1))
	})

	It("refuses posts over the platform limit", func() {
		short := platform.NewMemory("memory", 5)
		exec := brain.NewActionExecutor(short, journal, notes)
		_, err := exec.Execute(ctx, &rec, []domain.ActionSignal{
			signal(domain.ActionTypePost, brain.PostAction{Text: "too long for this"}),
		})
		Expect(err).To(MatchError(domain.ErrInvalidAction))
		Expect(short.Posts()).To(BeEmpty())
	})

	It("surfaces journal failures", func() {
		journal.err = errors.New("disk gone")
		_, err := executor.Execute(ctx, &rec, []domain.ActionSignal{
			signal(domain.ActionTypeReply, brain.ReplyAction{Text: "hi"}),
		})
		Expect(err).To(MatchError(ContainSubstring("journaling action[0]")))
	})
})
