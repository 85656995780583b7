package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/internal/app"
	"github.com/yourusername/rtu-fetch-go/internal/domain"
)

// ServerHandler handles server and session HTTP requests
type ServerHandler struct {
	orch        *app.Orchestrator
	saveServers func([]domain.ServerConfig) error
	timeout     time.Duration
	logger      *zap.Logger
}

// NewServerHandler creates a new server handler. saveServers persists the
// server list after an update and may be nil.
func NewServerHandler(orch *app.Orchestrator, saveServers func([]domain.ServerConfig) error, logger *zap.Logger) *ServerHandler {
	return &ServerHandler{
		orch:        orch,
		saveServers: saveServers,
		timeout:     2 * time.Minute,
		logger:      logger,
	}
}

// StartRequest selects the dates of a manual session. Exactly one form is
// used: timestamp, date, or start and end.
type StartRequest struct {
	Start     string `json:"start,omitempty"`     // RFC3339, "2006-01-02 15:04" or "2006-01-02"
	End       string `json:"end,omitempty"`       // same layouts; a bare date means the end of that day
	Timestamp string `json:"timestamp,omitempty"` // YYMMDDHHMM
	Date      string `json:"date,omitempty"`      // YYYY-MM-DD, the whole day
}

// UpdateServerRequest carries a server configuration including its password
type UpdateServerRequest struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Username       string   `json:"username"`
	Password       string   `json:"password"`
	RemoteBasePath string   `json:"remote_base_path"`
	StateLabel     string   `json:"state_label"`
	LocalBasePath  string   `json:"local_base_path"`
	Stations       []string `json:"stations"`
	AutoMidnight   bool     `json:"auto_midnight"`
}

var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// DateRange converts the request into a range in loc
func (r StartRequest) DateRange(loc *time.Location) (domain.DateRange, error) {
	if loc == nil {
		loc = time.Local
	}
	switch {
	case r.Timestamp != "":
		return domain.ParseSingleTimestamp(r.Timestamp, loc)
	case r.Date != "":
		day, err := time.ParseInLocation("2006-01-02", r.Date, loc)
		if err != nil {
			return domain.DateRange{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidInput, r.Date)
		}
		return domain.SingleDay(day), nil
	case r.Start != "" && r.End != "":
		start, err := parseInstant(r.Start, loc, false)
		if err != nil {
			return domain.DateRange{}, err
		}
		end, err := parseInstant(r.End, loc, true)
		if err != nil {
			return domain.DateRange{}, err
		}
		return domain.NewDateRange(start, end)
	default:
		return domain.DateRange{}, fmt.Errorf("%w: give start and end, a timestamp or a date", domain.ErrInvalidInput)
	}
}

func parseInstant(s string, loc *time.Location, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if day, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		if endOfDay {
			return domain.SingleDay(day).End, nil
		}
		return day, nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse time %q", domain.ErrInvalidInput, s)
}

// SessionResponse summarizes a started session
type SessionResponse struct {
	SessionID string              `json:"session_id"`
	ServerID  string              `json:"server_id"`
	State     domain.SessionState `json:"state"`
	Trigger   domain.Trigger      `json:"trigger"`
	Range     domain.DateRange    `json:"range"`
}

func sessionResponse(s *app.Session) SessionResponse {
	return SessionResponse{
		SessionID: s.ID(),
		ServerID:  s.Server().ID,
		State:     s.State(),
		Trigger:   s.Trigger(),
		Range:     s.DateRange(),
	}
}

// ListServers handles GET /api/v1/servers
func (h *ServerHandler) ListServers(c *gin.Context) {
	servers := h.orch.Servers()
	c.JSON(http.StatusOK, gin.H{
		"servers": servers,
		"count":   len(servers),
	})
}

// GetServer handles GET /api/v1/servers/:id
func (h *ServerHandler) GetServer(c *gin.Context) {
	status, err := h.orch.Status(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// UpdateServer handles PUT /api/v1/servers/:id. An empty password keeps the
// stored one.
func (h *ServerHandler) UpdateServer(c *gin.Context) {
	id := c.Param("id")

	var req UpdateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	server := domain.ServerConfig{
		ID:             id,
		Host:           req.Host,
		Port:           req.Port,
		Username:       req.Username,
		Password:       req.Password,
		RemoteBasePath: req.RemoteBasePath,
		StateLabel:     req.StateLabel,
		LocalBasePath:  req.LocalBasePath,
		Stations:       req.Stations,
		AutoMidnight:   req.AutoMidnight,
	}
	if server.Password == "" {
		for _, existing := range h.orch.ServerConfigs() {
			if existing.ID == id {
				server.Password = existing.Password
				break
			}
		}
	}

	updated, err := h.orch.UpdateServer(server)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.saveServers != nil {
		if err := h.saveServers(h.orch.ServerConfigs()); err != nil {
			h.logger.Error("Failed to persist server configuration", zap.String("server_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server updated but configuration could not be saved"})
			return
		}
	}

	h.logger.Info("Server configuration updated", zap.String("server_id", id))
	c.JSON(http.StatusOK, updated)
}

// StartServer handles POST /api/v1/servers/:id/start
func (h *ServerHandler) StartServer(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dates, err := req.DateRange(time.Local)
	if err != nil {
		respondError(c, err)
		return
	}

	session, err := h.orch.StartOne(c.Param("id"), dates, domain.TriggerManual)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, sessionResponse(session))
}

// PauseServer handles POST /api/v1/servers/:id/pause
func (h *ServerHandler) PauseServer(c *gin.Context) {
	h.control(c, h.orch.Pause)
}

// ResumeServer handles POST /api/v1/servers/:id/resume
func (h *ServerHandler) ResumeServer(c *gin.Context) {
	h.control(c, h.orch.Resume)
}

// CancelServer handles POST /api/v1/servers/:id/cancel
func (h *ServerHandler) CancelServer(c *gin.Context) {
	h.control(c, h.orch.Cancel)
}

func (h *ServerHandler) control(c *gin.Context, op func(string) error) {
	id := c.Param("id")
	if err := op(id); err != nil {
		respondError(c, err)
		return
	}
	status, err := h.orch.Status(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// TestConnection handles POST /api/v1/servers/:id/test
func (h *ServerHandler) TestConnection(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	id := c.Param("id")
	if err := h.orch.TestConnection(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": id, "status": "ok"})
}

// PreviewRemote handles GET /api/v1/servers/:id/preview?date=YYYY-MM-DD.
// Without a date the previous day is listed.
func (h *ServerHandler) PreviewRemote(c *gin.Context) {
	date := domain.Yesterday(time.Now()).Start
	if dateStr := c.Query("date"); dateStr != "" {
		parsed, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	preview, err := h.orch.PreviewRemote(ctx, c.Param("id"), date)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// RunNow handles POST /api/v1/run-now
func (h *ServerHandler) RunNow(c *gin.Context) {
	sessions, err := h.orch.RunAllNow()
	if err != nil && len(sessions) == 0 {
		respondError(c, err)
		return
	}

	started := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		started = append(started, sessionResponse(s))
	}
	response := gin.H{
		"sessions": started,
		"count":    len(started),
	}
	if err != nil {
		h.logger.Warn("Run-now did not start every server", zap.Error(err))
		response["error"] = err.Error()
	}
	c.JSON(http.StatusAccepted, response)
}
