package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/http/handler"
)

var _ = Describe("AdminHandler", func() {
	var (
		router *gin.Engine
		svc    *mockAdminService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockAdminService{}
		h := handler.NewAdminHandler(svc)
		router.GET("/health", h.Health)
		router.GET("/stats", h.Stats)
		router.POST("/repair", h.Repair)
		router.GET("/records", h.List)
		router.DELETE("/records/:event_id", h.Drop)
	})

	serve := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	It("returns 200 for a healthy pipeline", func() {
		w := serve(http.MethodGet, "/health")
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("returns 503 while the breaker is tripped", func() {
		svc.healthFn = func(context.Context) domain.HealthSnapshot {
			return domain.HealthSnapshot{Status: domain.HealthCritical, Tripped: true}
		}

		w := serve(http.MethodGet, "/health")
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))

		var snap domain.HealthSnapshot
		Expect(json.Unmarshal(w.Body.Bytes(), &snap)).To(Succeed())
		Expect(snap.Tripped).To(BeTrue())
	})

	It("returns 500 when stats fail", func() {
		svc.statsFn = func(context.Context) (domain.Stats, error) {
			return domain.Stats{}, errors.New("disk gone")
		}
		Expect(serve(http.MethodGet, "/stats").Code).To(Equal(http.StatusInternalServerError))
	})

	It("reports partial repairs with 207", func() {
		svc.repairFn = func(context.Context) (domain.RepairReport, error) {
			return domain.RepairReport{Errors: []string{"ledger: timeout"}}, nil
		}
		Expect(serve(http.MethodPost, "/repair").Code).To(Equal(http.StatusMultiStatus))
	})

	It("lists by author when one is given", func() {
		var gotAuthor string
		svc.listByAuthorFn = func(_ context.Context, handle string) ([]domain.QueueRecord, error) {
			gotAuthor = handle
			return []domain.QueueRecord{{Event: domain.Event{ID: "e1"}}}, nil
		}

		w := serve(http.MethodGet, "/records?author=alice")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(gotAuthor).To(Equal("alice"))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["count"]).To(BeEquivalentTo(1))
	})

	It("passes all=true through and never returns a null list", func() {
		var gotAll bool
		svc.listFn = func(_ context.Context, includeTerminal bool) ([]domain.QueueRecord, error) {
			gotAll = includeTerminal
			return nil, nil
		}

		w := serve(http.MethodGet, "/records?all=true")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(gotAll).To(BeTrue())
		Expect(w.Body.String()).To(ContainSubstring(`"records":[]`))
	})

	It("maps an unknown event id to 404 on drop", func() {
		svc.dropFn = func(_ context.Context, eventID string) (int, error) {
			return 0, fmt.Errorf("dropping %s: %w", eventID, domain.ErrNotFound)
		}
		Expect(serve(http.MethodDelete, "/records/e404").Code).To(Equal(http.StatusNotFound))
	})

	It("reports how many records were dropped", func() {
		svc.dropFn = func(context.Context, string) (int, error) { return 2, nil }

		w := serve(http.MethodDelete, "/records/e1")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"dropped":2`))
	})
})
