package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sschuhmann/Helium/internal/model"
	"github.com/sschuhmann/Helium/internal/session"
	"github.com/sschuhmann/Helium/internal/ws"
)

// WebSocketHandler handles WebSocket attach requests for kernel sessions.
type WebSocketHandler struct {
	sessionManager *session.Manager
	wsHandler      *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(sessionManager *session.Manager, wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
		wsHandler:      wsHandler,
	}
}

// Attach handles WS /api/kernels/:id/attach - attaches an editor to a kernel
// session. Rendered output, prompts and status changes flow out; input
// replies flow back in.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	sessionID := c.Param("id")

	sess, err := h.sessionManager.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Kernel session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get kernel: "+err.Error())
		return
	}

	if sess.Status != model.SessionStatusRunning {
		sendError(c, http.StatusBadRequest, "SESSION_NOT_RUNNING", model.ErrSessionNotRunning.Error())
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, sessionID); err != nil {
		// The upgrader already wrote the HTTP error.
		return
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/kernels/:id/attach", h.Attach)
}
