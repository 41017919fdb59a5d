package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/http/dto"
	"basegraph.app/courier/internal/platform"
)

// EventPublisher appends an inbound message to the platform inbox.
type EventPublisher interface {
	Publish(ctx context.Context, msg platform.InboundMessage) (string, error)
}

type EventIngestHandler struct {
	publisher EventPublisher
}

func NewEventIngestHandler(publisher EventPublisher) *EventIngestHandler {
	return &EventIngestHandler{publisher: publisher}
}

func (h *EventIngestHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid ingest request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := platform.InboundMessage{
		ID:           req.ID,
		Kind:         domain.EventKind(req.Kind),
		AuthorHandle: req.AuthorHandle,
		Text:         req.Text,
		ParentID:     req.ParentID,
		CreatedAt:    time.Now().UTC(),
	}
	if req.CreatedAt != nil {
		msg.CreatedAt = req.CreatedAt.UTC()
	}
	if err := msg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	streamID, err := h.publisher.Publish(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to publish event", "error", err, "event_id", msg.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest event"})
		return
	}

	slog.InfoContext(ctx, "event ingested", "event_id", msg.ID, "kind", msg.Kind, "stream_id", streamID)
	c.JSON(http.StatusAccepted, dto.IngestEventResponse{ID: msg.ID, StreamID: streamID})
}
