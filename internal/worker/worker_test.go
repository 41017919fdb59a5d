package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/worker"
)

type fakeProcessor struct {
	processNextFn func(ctx context.Context) (bool, error)
}

func (f *fakeProcessor) ProcessNext(ctx context.Context) (bool, error) {
	return f.processNextFn(ctx)
}

type fakeRecoverer struct {
	calls atomic.Int32
}

func (f *fakeRecoverer) Recover(context.Context) (int, error) {
	f.calls.Add(1)
	return 1, nil
}

var _ = Describe("Pool", func() {
	It("drains until empty and then waits for a wake signal", func() {
		var remaining atomic.Int32
		remaining.Store(3)
		var processed atomic.Int32
		proc := &fakeProcessor{processNextFn: func(context.Context) (bool, error) {
			if remaining.Load() == 0 {
				return false, nil
			}
			remaining.Add(-1)
			processed.Add(1)
			return true, nil
		}}

		wake := make(chan struct{}, 1)
		pool := worker.New(proc, worker.Config{Workers: 2, IdleWait: time.Hour}, wake)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- pool.Run(ctx) }()

		Eventually(processed.Load).Should(BeEquivalentTo(3))

		remaining.Store(2)
		wake <- struct{}{}
		Eventually(processed.Load).Should(BeEquivalentTo(5))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("survives a panicking record", func() {
		var calls atomic.Int32
		proc := &fakeProcessor{processNextFn: func(context.Context) (bool, error) {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return false, errors.New("idle")
		}}

		pool := worker.New(proc, worker.Config{Workers: 1, IdleWait: 10 * time.Millisecond}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- pool.Run(ctx) }()

		Eventually(calls.Load).Should(BeNumerically(">=", 2))
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("processes a claimed record on a context that outlives cancellation", func() {
		started := make(chan struct{})
		release := make(chan struct{})
		var sawCancel atomic.Bool
		var once atomic.Bool
		proc := &fakeProcessor{processNextFn: func(ctx context.Context) (bool, error) {
			if !once.CompareAndSwap(false, true) {
				return false, nil
			}
			close(started)
			<-release
			sawCancel.Store(ctx.Err() != nil)
			return true, nil
		}}

		pool := worker.New(proc, worker.Config{Workers: 1, IdleWait: time.Hour}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- pool.Run(ctx) }()

		Eventually(started).Should(BeClosed())
		cancel()
		close(release)
		Eventually(done).Should(Receive(BeNil()))
		Expect(sawCancel.Load()).To(BeFalse())
	})
})

var _ = Describe("Reclaimer", func() {
	It("recovers on every tick until cancelled", func() {
		rec := &fakeRecoverer{}
		r := worker.NewReclaimer(rec, 10*time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx) }()

		Eventually(rec.calls.Load).Should(BeNumerically(">=", 2))
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
