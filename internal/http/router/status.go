package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/courier/internal/http/handler"
)

func StatusRouter(rg *gin.RouterGroup, h *handler.StatusStreamHandler) {
	rg.GET("/:platform/stream", h.Stream)
}
