package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/offline-cache-go/internal/app"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// EventsWebSocketHandler streams queue events to connected clients.
type EventsWebSocketHandler struct {
	queueMgr *app.QueueManager
	logger   *zap.Logger
}

// NewEventsWebSocketHandler creates a new WebSocket handler
func NewEventsWebSocketHandler(queueMgr *app.QueueManager, log *zap.Logger) *EventsWebSocketHandler {
	return &EventsWebSocketHandler{
		queueMgr: queueMgr,
		logger:   log,
	}
}

// HandleWebSocket handles GET /api/v1/events
func (h *EventsWebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.queueMgr.Subscribe()
	defer unsubscribe()

	h.logger.Info("WebSocket client connected",
		zap.String("remote_addr", c.Request.RemoteAddr))

	// Drain (and discard) client messages so close frames are handled.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			h.logger.Info("WebSocket client disconnected",
				zap.String("remote_addr", c.Request.RemoteAddr))
			return
		}
	}
}
