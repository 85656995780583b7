package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/rtu-fetch-go/internal/app"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// HealthHandler handles health check requests
type HealthHandler struct {
	orch      *app.Orchestrator
	scheduler *app.Scheduler
}

// NewHealthHandler creates a new health handler. scheduler may be nil.
func NewHealthHandler(orch *app.Orchestrator, scheduler *app.Scheduler) *HealthHandler {
	return &HealthHandler{
		orch:      orch,
		scheduler: scheduler,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Orchestrator struct {
		Running bool `json:"running"`
	} `json:"orchestrator"`
	Scheduler struct {
		Running bool       `json:"running"`
		NextRun *time.Time `json:"next_run,omitempty"`
	} `json:"scheduler"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	response.Orchestrator.Running = h.orch.IsRunning()
	if h.scheduler != nil && h.scheduler.IsRunning() {
		next := h.scheduler.NextRun()
		response.Scheduler.Running = true
		response.Scheduler.NextRun = &next
	}

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.orch.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "orchestrator not running",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
