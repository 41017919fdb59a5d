package pipeline_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/audit"
	"basegraph.app/courier/internal/botfilter"
	"basegraph.app/courier/internal/brain"
	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/health"
	"basegraph.app/courier/internal/ledger"
	"basegraph.app/courier/internal/pipeline"
	"basegraph.app/courier/internal/platform"
	"basegraph.app/courier/internal/queue"
	"basegraph.app/courier/internal/retry"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyLedger fails RecordSeen while recordErr is set.
type flakyLedger struct {
	*ledger.Cached

	mu        sync.Mutex
	recordErr error
}

func (l *flakyLedger) FailRecords(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordErr = err
}

func (l *flakyLedger) RecordSeen(ctx context.Context, eventID string, at time.Time) error {
	l.mu.Lock()
	err := l.recordErr
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return l.Cached.RecordSeen(ctx, eventID, at)
}

// flakyQueue fails the next MarkResolved while resolveErr is set.
type flakyQueue struct {
	*queue.Store

	mu         sync.Mutex
	resolveErr error
}

func (q *flakyQueue) FailNextResolve(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resolveErr = err
}

func (q *flakyQueue) MarkResolved(ctx context.Context, rec domain.QueueRecord, outcome domain.Outcome) error {
	q.mu.Lock()
	err := q.resolveErr
	q.resolveErr = nil
	q.mu.Unlock()
	if err != nil {
		return err
	}
	return q.Store.MarkResolved(ctx, rec, outcome)
}

// memoryNotes keeps notes in a map and fails the next write while failNext
// is set.
type memoryNotes struct {
	mu       sync.Mutex
	notes    map[string]string
	failNext error
}

func (n *memoryNotes) FailNext(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNext = err
}

func (n *memoryNotes) SetNote(_ context.Context, p domain.Platform, key, value string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failNext; err != nil {
		n.failNext = nil
		return err
	}
	if n.notes == nil {
		n.notes = map[string]string{}
	}
	n.notes[string(p)+"/"+key] = value
	return nil
}

func (n *memoryNotes) Get(p domain.Platform, key string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notes[string(p)+"/"+key]
}

// scriptedReasoner returns its errors in order and repeats the last one. A
// nil error falls through to a decision: the next of decisions if any are
// left, else signals.
type scriptedReasoner struct {
	mu        sync.Mutex
	calls     int
	signals   []domain.ActionSignal
	decisions [][]domain.ActionSignal
	errs      []error
}

func (r *scriptedReasoner) Decide(_ context.Context, _ domain.ThreadContext) ([]domain.ActionSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		if len(r.errs) > 1 {
			r.errs = r.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	if len(r.decisions) > 0 {
		next := r.decisions[0]
		r.decisions = r.decisions[1:]
		return next, nil
	}
	return r.signals, nil
}

func (r *scriptedReasoner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func signal(t domain.ActionType, data any) domain.ActionSignal {
	s, err := brain.NewSignal(t, data)
	Expect(err).NotTo(HaveOccurred())
	return s
}

type harness struct {
	dir      string
	clock    *clock
	store    *queue.Store
	queue    *flakyQueue
	ledger   *flakyLedger
	monitor  *health.Monitor
	client   *platform.Memory
	notes    *memoryNotes
	reasoner *scriptedReasoner
	driver   *pipeline.Driver
}

func newHarness(policy retry.Policy) *harness {
	h := &harness{
		dir:      GinkgoT().TempDir(),
		clock:    &clock{t: time.Now().UTC()},
		ledger:   &flakyLedger{Cached: ledger.NewCached(ledger.NewMemoryBackend())},
		client:   platform.NewMemory("test", 300),
		notes:    &memoryNotes{},
		reasoner: &scriptedReasoner{},
	}
	h.monitor = health.NewMonitor(health.Config{Now: h.clock.Now})
	h.store = h.openStore("live")
	h.queue = &flakyQueue{Store: h.store}
	h.monitor.AttachQueue(h.store)

	sink, err := audit.NewFileSink(h.store.AuditDir())
	Expect(err).NotTo(HaveOccurred())

	h.driver, err = pipeline.New(pipeline.Config{
		PriorityAuthors: []string{"@Boss"},
		Workers:         1,
		Retry:           policy,
	}, pipeline.Deps{
		Queue:    h.queue,
		Ledger:   h.ledger,
		Monitor:  h.monitor,
		Platform: h.client,
		Builder:  brain.NewContextBuilder(brain.ContextConfig{StopCommand: "/stop"}),
		Reasoner: h.reasoner,
		Executor: brain.NewActionExecutor(h.client, h.store, h.notes),
		Bots:     botfilter.New("spambot"),
		Audit:    sink,
		Now:      h.clock.Now,
	})
	Expect(err).NotTo(HaveOccurred())
	return h
}

func (h *harness) openStore(owner string) *queue.Store {
	s, err := queue.New(queue.Config{Dir: h.dir, Owner: owner, Now: h.clock.Now}, queue.WithBreaker(h.monitor))
	Expect(err).NotTo(HaveOccurred())
	return s
}

// feed adds one mention per id to the platform and polls it into the queue.
func (h *harness) feed(ctx context.Context, author, text string, ids ...string) {
	for i, eventID := range ids {
		h.client.AddEvents(domain.Event{
			ID:           eventID,
			Platform:     "test",
			Kind:         domain.EventKindMention,
			AuthorHandle: author,
			Text:         text,
			CreatedAt:    h.clock.Now().Add(-time.Duration(len(ids)-i) * time.Minute),
		})
	}
	n, err := h.driver.PollOnce(ctx)
	Expect(err).NotTo(HaveOccurred())
	Expect(n).To(Equal(len(ids)))
}

func (h *harness) records(ctx context.Context, st domain.State) []domain.QueueRecord {
	all, err := h.store.ListAll(ctx, true)
	Expect(err).NotTo(HaveOccurred())
	var out []domain.QueueRecord
	for _, rec := range all {
		if rec.State == st {
			out = append(out, rec)
		}
	}
	return out
}

func (h *harness) auditFiles() int {
	entries, err := os.ReadDir(h.store.AuditDir())
	Expect(err).NotTo(HaveOccurred())
	return len(entries)
}

func (h *harness) seen(ctx context.Context, eventID string) bool {
	ok, err := h.ledger.HasSeen(ctx, eventID)
	Expect(err).NotTo(HaveOccurred())
	return ok
}

func (h *harness) processAll(ctx context.Context) int {
	n := 0
	for {
		ok, err := h.driver.ProcessNext(ctx)
		Expect(err).NotTo(HaveOccurred())
		if !ok {
			return n
		}
		n++
		if n > 100 {
			Fail(fmt.Sprintf("queue did not drain after %d records", n))
		}
	}
}
