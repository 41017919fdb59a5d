package handler_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/http/handler"
	"basegraph.app/courier/internal/platform"
)

var _ = Describe("EventIngestHandler", func() {
	var (
		router    *gin.Engine
		publisher *mockPublisher
	)

	BeforeEach(func() {
		router = gin.New()
		publisher = &mockPublisher{}
		router.POST("/events", handler.NewEventIngestHandler(publisher).Ingest)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("publishes a valid event and returns 202", func() {
		w := post(`{"id":"m1","kind":"mention","author_handle":"alice","text":"@courier hi","created_at":"2026-01-02T03:04:05Z"}`)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(w.Body.String()).To(ContainSubstring(`"stream_id":"1-0"`))
		Expect(publisher.published).To(HaveLen(1))
		Expect(publisher.published[0].Kind).To(Equal(domain.EventKindMention))
		Expect(publisher.published[0].CreatedAt.Year()).To(Equal(2026))
	})

	It("defaults the creation time to now", func() {
		w := post(`{"id":"m1","kind":"reply","author_handle":"alice","parent_id":"m0"}`)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(publisher.published[0].CreatedAt.IsZero()).To(BeFalse())
		Expect(publisher.published[0].ParentID).To(Equal("m0"))
	})

	It("returns 400 on missing fields", func() {
		Expect(post(`{"kind":"mention"}`).Code).To(Equal(http.StatusBadRequest))
		Expect(post(`{`).Code).To(Equal(http.StatusBadRequest))
		Expect(publisher.published).To(BeEmpty())
	})

	It("returns 500 when the inbox is unavailable", func() {
		publisher.publishFn = func(context.Context, platform.InboundMessage) (string, error) {
			return "", errors.New("redis down")
		}
		Expect(post(`{"id":"m1","kind":"mention","author_handle":"alice"}`).Code).To(Equal(http.StatusInternalServerError))
	})
})
