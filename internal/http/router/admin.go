package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/courier/internal/http/handler"
)

func AdminRouter(rg *gin.RouterGroup, h *handler.AdminHandler) {
	rg.GET("/health", h.Health)
	rg.GET("/stats", h.Stats)
	rg.POST("/repair", h.Repair)
	rg.GET("/records", h.List)
	rg.DELETE("/records/:event_id", h.Drop)
}
