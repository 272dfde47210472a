package debugws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Operator tooling connects from arbitrary hosts; the debug channel is
	// unauthenticated and is expected to sit behind a private network or
	// reverse proxy that enforces access control.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades /debug/ws connections and attaches them to a Hub.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler returns a Handler that attaches upgraded connections to hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, logger: log.WithFields(zap.String("component", "debugws_handler"))}
}

// Serve upgrades the HTTP connection to a WebSocket and registers the
// resulting client with the hub.
// GET /debug/ws
func (h *Handler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
