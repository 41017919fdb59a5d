package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"basegraph.app/courier/internal/http/handler"
	"basegraph.app/courier/internal/http/middleware"
	"basegraph.app/courier/internal/service"
)

type ServerConfig struct {
	StatusStreamPrefix string
}

// SetupServerRoutes wires the ingest server: event ingest into the inbox
// stream and the live queue status stream.
func SetupServerRoutes(router *gin.Engine, publisher handler.EventPublisher, redisClient *redis.Client, cfg ServerConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		if publisher != nil {
			EventRouter(v1.Group("/events"), handler.NewEventIngestHandler(publisher))
		}
		StatusRouter(v1.Group("/status"), handler.NewStatusStreamHandler(redisClient, cfg.StatusStreamPrefix))
	}
}

// SetupAdminRoutes wires the worker's operational API.
func SetupAdminRoutes(router *gin.Engine, admin service.AdminService, apiKey string) {
	h := handler.NewAdminHandler(admin)

	// health checks stay unauthenticated
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1/admin")
	v1.Use(middleware.RequireAdminKey(apiKey))
	AdminRouter(v1, h)
}
