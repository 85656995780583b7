package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/internal/app"
	"github.com/yourusername/rtu-fetch-go/internal/domain"
)

// EventWebSocketHandler streams progress events of every session
type EventWebSocketHandler struct {
	orch   *app.Orchestrator
	logger *zap.Logger
}

// NewEventWebSocketHandler creates a new event stream handler
func NewEventWebSocketHandler(orch *app.Orchestrator, log *zap.Logger) *EventWebSocketHandler {
	return &EventWebSocketHandler{
		orch:   orch,
		logger: log,
	}
}

// HandleWebSocket handles GET /api/v1/events/ws?server_id=
func (h *EventWebSocketHandler) HandleWebSocket(c *gin.Context) {
	serverID := c.Query("server_id")
	if serverID != "" {
		if _, err := h.orch.Status(serverID); err != nil {
			respondError(c, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.orch.Subscribe(256)
	defer unsubscribe()

	h.logger.Info("Event WebSocket client connected",
		zap.String("server_id", serverID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	done := readUntilClosed(conn)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// orchestrator stopped
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if !wanted(ev, serverID) {
				continue
			}
			if err := writeJSON(conn, ev); err != nil {
				h.logger.Debug("Failed to send event", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := ping(conn); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func wanted(ev domain.ProgressEvent, serverID string) bool {
	return serverID == "" || ev.ServerID == serverID
}
