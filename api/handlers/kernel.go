// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sschuhmann/Helium/internal/kernel"
	"github.com/sschuhmann/Helium/internal/model"
	"github.com/sschuhmann/Helium/internal/session"
)

// DefaultReplyTimeout bounds how long completion and inspection requests wait
// for the kernel's reply.
const DefaultReplyTimeout = 5 * time.Second

// KernelHandler handles HTTP requests for kernel session management.
type KernelHandler struct {
	sessionManager *session.Manager
}

// NewKernelHandler creates a new KernelHandler.
func NewKernelHandler(sessionManager *session.Manager) *KernelHandler {
	return &KernelHandler{
		sessionManager: sessionManager,
	}
}

// CreateKernelRequest represents the request body for starting a kernel.
type CreateKernelRequest struct {
	KernelName string `json:"kernelName" binding:"required"`
	Name       string `json:"name"`
}

// RenameKernelRequest represents the request body for renaming a session.
type RenameKernelRequest struct {
	Name string `json:"name"`
}

// ExecuteRequest represents the request body for executing code.
type ExecuteRequest struct {
	Code       string `json:"code" binding:"required"`
	ViewHandle string `json:"view"`
	Pos        int    `json:"pos"`
}

// IntrospectRequest represents the request body for completion and inspection.
type IntrospectRequest struct {
	Code        string `json:"code" binding:"required"`
	CursorPos   int    `json:"cursorPos"`
	DetailLevel int    `json:"detailLevel"`
}

// KernelResponse represents a kernel session in API responses.
type KernelResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	KernelName     string `json:"kernelName"`
	Repr           string `json:"repr"`
	Status         string `json:"status"`
	ExecState      string `json:"execState,omitempty"`
	TranscriptPath string `json:"transcriptPath,omitempty"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

// CompletionResponse represents one completion candidate.
type CompletionResponse struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// toKernelResponse converts a model.KernelSession to KernelResponse.
func (h *KernelHandler) toKernelResponse(s *model.KernelSession) *KernelResponse {
	resp := &KernelResponse{
		ID:             s.ID,
		Name:           s.Name,
		KernelName:     s.KernelName,
		Repr:           s.Repr(),
		Status:         string(s.Status),
		TranscriptPath: s.TranscriptPath,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      s.UpdatedAt.Format(time.RFC3339),
	}
	if state, err := h.sessionManager.ExecutionState(s.ID); err == nil {
		resp.ExecState = string(state)
	}
	return resp
}

// Create handles POST /api/kernels - starts a kernel and connects to it.
func (h *KernelHandler) Create(c *gin.Context) {
	var req CreateKernelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, err := h.sessionManager.Create(c.Request.Context(), &model.CreateSessionRequest{
		KernelName: req.KernelName,
		Name:       req.Name,
	})
	if err != nil {
		if errors.Is(err, model.ErrKernelNameRequired) {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		if errors.Is(err, model.ErrConcurrencyLimit) {
			sendError(c, http.StatusTooManyRequests, "LIMIT_EXCEEDED", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start kernel: "+err.Error())
		return
	}

	c.JSON(http.StatusCreated, h.toKernelResponse(sess))
}

// List handles GET /api/kernels - lists all kernel sessions.
func (h *KernelHandler) List(c *gin.Context) {
	sessions, err := h.sessionManager.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list kernels: "+err.Error())
		return
	}

	response := make([]*KernelResponse, len(sessions))
	for i, sess := range sessions {
		response[i] = h.toKernelResponse(sess)
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/kernels/:id - gets a specific kernel session.
func (h *KernelHandler) Get(c *gin.Context) {
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

	c.JSON(http.StatusOK, h.toKernelResponse(sess))
}

// Rename handles PATCH /api/kernels/:id - renames a kernel session.
func (h *KernelHandler) Rename(c *gin.Context) {
	sessionID := c.Param("id")

	var req RenameKernelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.sessionManager.Rename(c.Request.Context(), sessionID, req.Name); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Kernel session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to rename kernel: "+err.Error())
		return
	}

	sess, err := h.sessionManager.Get(c.Request.Context(), sessionID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get kernel: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, h.toKernelResponse(sess))
}

// Delete handles DELETE /api/kernels/:id - shuts a kernel down.
func (h *KernelHandler) Delete(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.sessionManager.Delete(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Kernel session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete kernel: "+err.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// Execute handles POST /api/kernels/:id/execute - sends code to the kernel.
// Output arrives asynchronously over the attach WebSocket.
func (h *KernelHandler) Execute(c *gin.Context) {
	sessionID := c.Param("id")

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	target := kernel.OutputTarget{Handle: req.ViewHandle, Pos: req.Pos}
	msgID, err := h.sessionManager.Execute(sessionID, req.Code, target)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Kernel session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to execute code: "+err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"msgId": msgID})
}

// Complete handles POST /api/kernels/:id/complete - code completion.
func (h *KernelHandler) Complete(c *gin.Context) {
	sessionID := c.Param("id")

	var req IntrospectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	completions, err := h.sessionManager.Complete(sessionID, req.Code, req.CursorPos, DefaultReplyTimeout)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Kernel session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Completion failed: "+err.Error())
		return
	}

	response := make([]CompletionResponse, len(completions))
	for i, comp := range completions {
		response[i] = CompletionResponse{Label: comp.Label, Text: comp.Text}
	}
	c.JSON(http.StatusOK, response)
}

// Inspect handles POST /api/kernels/:id/inspect - object inspection. The
// result is rendered to the attached editors' inspection panel.
func (h *KernelHandler) Inspect(c *gin.Context) {
	sessionID := c.Param("id")

	var req IntrospectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.sessionManager.Inspect(sessionID, req.Code, req.CursorPos, req.DetailLevel, DefaultReplyTimeout); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Kernel session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Inspection failed: "+err.Error())
		return
	}

	c.Status(http.StatusAccepted)
}

// Interrupt handles POST /api/kernels/:id/interrupt.
func (h *KernelHandler) Interrupt(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.sessionManager.Interrupt(sessionID); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Kernel session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Interrupt failed: "+err.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// Restart handles POST /api/kernels/:id/restart.
func (h *KernelHandler) Restart(c *gin.Context) {
	sessionID := c.Param("id")

	if err := h.sessionManager.Restart(sessionID); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Kernel session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Restart failed: "+err.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// Health handles GET /api/kernels/:id/health - kernel liveness.
func (h *KernelHandler) Health(c *gin.Context) {
	sessionID := c.Param("id")

	alive, err := h.sessionManager.Alive(sessionID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Kernel session "+sessionID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Health check failed: "+err.Error())
		return
	}

	state, _ := h.sessionManager.ExecutionState(sessionID)
	c.JSON(http.StatusOK, gin.H{
		"alive":     alive,
		"execState": string(state),
	})
}

// RegisterRoutes registers the kernel handler routes on a Gin router group.
func (h *KernelHandler) RegisterRoutes(rg *gin.RouterGroup) {
	kernels := rg.Group("/kernels")
	{
		kernels.POST("", h.Create)
		kernels.GET("", h.List)
		kernels.GET("/:id", h.Get)
		kernels.PATCH("/:id", h.Rename)
		kernels.DELETE("/:id", h.Delete)
		kernels.POST("/:id/execute", h.Execute)
		kernels.POST("/:id/complete", h.Complete)
		kernels.POST("/:id/inspect", h.Inspect)
		kernels.POST("/:id/interrupt", h.Interrupt)
		kernels.POST("/:id/restart", h.Restart)
		kernels.GET("/:id/health", h.Health)
	}
}
