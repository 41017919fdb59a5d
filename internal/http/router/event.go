package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/courier/internal/http/handler"
)

func EventRouter(rg *gin.RouterGroup, h *handler.EventIngestHandler) {
	rg.POST("", h.Ingest)
}
