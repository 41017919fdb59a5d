package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/http/dto"
	"basegraph.app/courier/internal/service"
)

type AdminHandler struct {
	admin service.AdminService
}

func NewAdminHandler(admin service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Health answers 503 while the breaker is tripped so load balancers and
// health checks see the outage.
func (h *AdminHandler) Health(c *gin.Context) {
	snap := h.admin.Health(c.Request.Context())
	status := http.StatusOK
	if snap.Status == domain.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, snap)
}

func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.admin.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to compute stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AdminHandler) Repair(c *gin.Context) {
	ctx := c.Request.Context()

	report, err := h.admin.Repair(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusMultiStatus
	}
	c.JSON(status, report)
}

// List serves GET /records?all=true&author=handle.
func (h *AdminHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		recs []domain.QueueRecord
		err  error
	)
	if author := c.Query("author"); author != "" {
		recs, err = h.admin.ListByAuthor(ctx, author)
	} else {
		all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
		recs, err = h.admin.List(ctx, all)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to list records", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
		return
	}

	if recs == nil {
		recs = []domain.QueueRecord{}
	}
	c.JSON(http.StatusOK, dto.RecordListResponse{Records: recs, Count: len(recs)})
}

func (h *AdminHandler) Drop(c *gin.Context) {
	ctx := c.Request.Context()
	eventID := c.Param("event_id")

	n, err := h.admin.Drop(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no droppable record for event"})
			return
		}
		slog.ErrorContext(ctx, "failed to drop records", "error", err, "event_id", eventID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to drop records"})
		return
	}
	c.JSON(http.StatusOK, dto.DropResponse{EventID: eventID, Dropped: n})
}
