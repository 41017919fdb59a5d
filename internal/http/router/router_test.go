package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/health"
	"basegraph.app/courier/internal/http/middleware"
	"basegraph.app/courier/internal/http/router"
	"basegraph.app/courier/internal/ledger"
	"basegraph.app/courier/internal/pipeline"
	"basegraph.app/courier/internal/queue"
	"basegraph.app/courier/internal/service"
)

var _ = Describe("SetupAdminRoutes", func() {
	var engine *gin.Engine

	newEngine := func(key string) *gin.Engine {
		store, err := queue.New(queue.Config{Dir: GinkgoT().TempDir(), Owner: "router"})
		Expect(err).NotTo(HaveOccurred())
		led := ledger.NewCached(ledger.NewMemoryBackend())
		monitor := health.NewMonitor(health.Config{})
		monitor.AttachQueue(store)
		repairer := pipeline.NewRepairer(store, led, monitor, nil)

		e := gin.New()
		router.SetupAdminRoutes(e, service.NewAdminService(store, led, monitor, repairer), key)
		return e
	}

	serve := func(method, path, key string) int {
		req := httptest.NewRequest(method, path, nil)
		if key != "" {
			req.Header.Set(middleware.AdminKeyHeader, key)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w.Code
	}

	Context("with an admin key", func() {
		BeforeEach(func() {
			engine = newEngine("s3cret")
		})

		It("leaves the health check open", func() {
			Expect(serve(http.MethodGet, "/health", "")).To(Equal(http.StatusOK))
		})

		It("rejects admin calls without the key", func() {
			Expect(serve(http.MethodGet, "/api/v1/admin/stats", "")).To(Equal(http.StatusUnauthorized))
			Expect(serve(http.MethodGet, "/api/v1/admin/stats", "wrong")).To(Equal(http.StatusUnauthorized))
		})

		It("serves admin calls with the key", func() {
			Expect(serve(http.MethodGet, "/api/v1/admin/stats", "s3cret")).To(Equal(http.StatusOK))
			Expect(serve(http.MethodPost, "/api/v1/admin/repair", "s3cret")).To(Equal(http.StatusOK))
			Expect(serve(http.MethodDelete, "/api/v1/admin/records/missing", "s3cret")).To(Equal(http.StatusNotFound))
		})
	})

	Context("without an admin key", func() {
		It("serves admin calls openly", func() {
			engine = newEngine("")
			Expect(serve(http.MethodGet, "/api/v1/admin/records", "")).To(Equal(http.StatusOK))
		})
	})

	It("answers 503 on the health check while the breaker is tripped", func() {
		store, err := queue.New(queue.Config{Dir: GinkgoT().TempDir(), Owner: "router"})
		Expect(err).NotTo(HaveOccurred())
		led := ledger.NewCached(ledger.NewMemoryBackend())
		monitor := health.NewMonitor(health.Config{})
		monitor.RecordHealthError(context.Background(), context.DeadlineExceeded, time.Now())

		engine = gin.New()
		router.SetupAdminRoutes(engine, service.NewAdminService(store, led, monitor, pipeline.NewRepairer(store, led, monitor, nil)), "")
		Expect(serve(http.MethodGet, "/health", "")).To(Equal(http.StatusServiceUnavailable))
	})
})
