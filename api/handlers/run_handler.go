package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
)

// RunHandler serves the persisted run history
type RunHandler struct {
	repo   domain.RunRepository
	logger *zap.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(repo domain.RunRepository, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		repo:   repo,
		logger: logger,
	}
}

// ListRuns handles GET /api/v1/runs?server_id=&state=
func (h *RunHandler) ListRuns(c *gin.Context) {
	filters := make(map[string]interface{})
	if serverID := c.Query("server_id"); serverID != "" {
		filters["server_id"] = serverID
	}
	if state := c.Query("state"); state != "" {
		filters["state"] = state
	}

	runs, err := h.repo.FindAll(filters)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/v1/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.repo.FindByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetStats handles GET /api/v1/runs/stats
func (h *RunHandler) GetStats(c *gin.Context) {
	stats, err := h.repo.GetStats()
	if err != nil {
		h.logger.Error("Failed to get run stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
