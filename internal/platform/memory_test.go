package platform_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/platform"
	"basegraph.app/courier/internal/retry"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Memory", func() {
	var (
		ctx context.Context
		mem *platform.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = platform.NewMemory("memory", 300)
	})

	It("pages the feed by cursor", func() {
		mem.AddEvents(domain.Event{ID: "a"}, domain.Event{ID: "b"})

		events, cursor, err := mem.FetchNew(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))

		mem.AddEvents(domain.Event{ID: "c"})
		events, cursor, err = mem.FetchNew(ctx, cursor)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(ConsistOf(HaveField("ID", "c")))
		Expect(cursor).To(Equal("3"))
	})

	It("falls back to a trigger-only thread for known events", func() {
		mem.AddEvents(domain.Event{ID: "a", AuthorHandle: "x", Text: "hi", CreatedAt: time.Now()})

		graph, err := mem.FetchThread(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(graph.RootID).To(Equal("a"))
		Expect(graph.Messages).To(HaveKey("a"))
	})

	It("reports unknown threads as not found", func() {
		_, err := mem.FetchThread(ctx, "missing")
		Expect(platform.IsNotFound(err)).To(BeTrue())
		Expect(retry.Classify(err)).To(Equal(retry.KindPermanent))
	})

	It("fails queued posts in order before succeeding", func() {
		mem.FailPosts(&platform.Error{Platform: "memory", Op: "post", Status: http.StatusTooManyRequests})

		_, err := mem.Post(ctx, platform.PostRequest{Text: "one"})
		Expect(retry.Classify(err)).To(Equal(retry.KindTransient))

		res, err := mem.Post(ctx, platform.PostRequest{Text: "two"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ID).To(Equal("post-1"))
		Expect(mem.Posts()).To(HaveLen(1))
	})
})

var _ = Describe("Error", func() {
	It("exposes its status for classification", func() {
		err := error(&platform.Error{Platform: "gitlab", Op: "post", Status: http.StatusUnauthorized, Err: errors.New("bad token")})
		Expect(err.Error()).To(Equal("gitlab post: status 401: bad token"))
		Expect(retry.Classify(err)).To(Equal(retry.KindPermanent))
		Expect(platform.IsNotFound(err)).To(BeFalse())
	})
})
