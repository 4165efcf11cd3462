package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"ingestd/internal/database"
	"ingestd/internal/queue"
)

// MonitoringHandler exposes queue health, failed-job listings and retained
// job cleanup. It is read/maintenance only and never touches uploads or
// staged rows.
type MonitoringHandler struct {
	client *redis.Client
	db     *database.Database
}

func NewMonitoringHandler(client *redis.Client, db *database.Database) *MonitoringHandler {
	return &MonitoringHandler{client: client, db: db}
}

// Health pings the process dependencies.
func (h *MonitoringHandler) Health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if err := h.client.Ping(c).Err(); err != nil {
		status = http.StatusServiceUnavailable
		checks["redis"] = err.Error()
	} else {
		checks["redis"] = "ok"
	}

	if err := h.db.HealthCheck(c); err != nil {
		status = http.StatusServiceUnavailable
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}

	c.JSON(status, gin.H{
		"status": http.StatusText(status),
		"checks": checks,
	})
}

// QueueHealth returns per-state counts, the derived score and the lifetime
// counters for one queue.
func (h *MonitoringHandler) QueueHealth(c *gin.Context) {
	monitor := queue.NewMonitor(h.client, c.Param("name"))

	health, err := monitor.GetQueueHealth(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue health"})
		return
	}

	stats, err := monitor.GetStats(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"health": health,
		"stats":  stats,
	})
}

// FailedJobs lists retained failed jobs, most recent first.
func (h *MonitoringHandler) FailedJobs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	monitor := queue.NewMonitor(h.client, c.Param("name"))
	jobs, err := monitor.GetFailedJobs(c, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list failed jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"failed_jobs": jobs,
		"count":       len(jobs),
	})
}

type cleanupRequest struct {
	CompletedAge string `json:"completed_age"`
	FailedAge    string `json:"failed_age"`
}

// Cleanup purges retained completed/failed jobs older than the given ages.
func (h *MonitoringHandler) Cleanup(c *gin.Context) {
	var req cleanupRequest
	// An empty body keeps the default retention windows.
	_ = c.ShouldBindJSON(&req)

	opts := queue.CleanupOptions{}
	var err error
	if req.CompletedAge != "" {
		if opts.CompletedAge, err = time.ParseDuration(req.CompletedAge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "completed_age must be a duration like 24h"})
			return
		}
	}
	if req.FailedAge != "" {
		if opts.FailedAge, err = time.ParseDuration(req.FailedAge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed_age must be a duration like 48h"})
			return
		}
	}

	monitor := queue.NewMonitor(h.client, c.Param("name"))
	result, err := monitor.Cleanup(c, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clean up queue"})
		return
	}

	c.JSON(http.StatusOK, result)
}
