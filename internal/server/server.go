package server

import (
	"github.com/gin-gonic/gin"

	"ingestd/internal/upload"
)

func NewServer(uploadHandler *upload.Handler, monitoring *MonitoringHandler) *gin.Engine {
	g := gin.Default()
	api := g.Group("/api/v1")
	RegisterRoutes(api, uploadHandler, monitoring)
	return g
}

func RegisterRoutes(router *gin.RouterGroup, uploadHandler *upload.Handler, monitoring *MonitoringHandler) {
	uploads := router.Group("/uploads")
	{
		uploads.POST("", uploadHandler.Create)
		uploads.GET("/:id", uploadHandler.Get)
	}

	mon := router.Group("/monitoring")
	{
		mon.GET("/health", monitoring.Health)
		mon.GET("/queues/:name", monitoring.QueueHealth)
		mon.GET("/queues/:name/failed", monitoring.FailedJobs)
		mon.POST("/queues/:name/cleanup", monitoring.Cleanup)
	}
}
