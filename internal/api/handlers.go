package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/termport/termport/internal/auth"
	"github.com/termport/termport/internal/common/errors"
	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/internal/events/bus"
	"github.com/termport/termport/internal/registry"
)

// Handlers serves the control plane endpoints.
type Handlers struct {
	registry *registry.Registry
	guard    *auth.Guard
	bus      bus.EventBus
	logger   *logger.Logger

	startedAt time.Time
}

// NewHandlers creates the control plane handler set.
func NewHandlers(reg *registry.Registry, guard *auth.Guard, eventBus bus.EventBus, log *logger.Logger) *Handlers {
	return &Handlers{
		registry:  reg,
		guard:     guard,
		bus:       eventBus,
		logger:    log.WithFields(zap.String("component", "api")),
		startedAt: time.Now().UTC(),
	}
}

// ListTerminals returns all sessions in creation order plus the active id.
func (h *Handlers) ListTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"terminals": h.registry.List(),
		"active_id": h.registry.ActiveID(),
	})
}

// GetTerminal returns one session.
func (h *Handlers) GetTerminal(c *gin.Context) {
	sess, err := h.registry.Get(c.Param("id"))
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// GetBuffer returns buffered output lines, oldest first. The lines query
// parameter bounds the result; absent or invalid values return everything.
func (h *Handlers) GetBuffer(c *gin.Context) {
	maxLines := 0
	if raw := c.Query("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeAppError(c, errors.InvalidArgument("lines must be an integer"))
			return
		}
		maxLines = n
	}

	lines, err := h.registry.GetBuffer(c.Param("id"), maxLines)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"terminal_id": c.Param("id"),
		"lines":       lines,
	})
}

// SelectTerminal makes a terminal the active one.
func (h *Handlers) SelectTerminal(c *gin.Context) {
	if err := h.registry.Select(c.Param("id")); err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_id": c.Param("id")})
}

type inputRequest struct {
	Data string `json:"data" binding:"required"`
}

// SendInput writes keystrokes to a terminal.
func (h *Handlers) SendInput(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, errors.InvalidArgument("data is required"))
		return
	}
	if err := h.registry.SendInput(c.Param("id"), []byte(req.Data)); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// ResizeTerminal applies new dimensions to a terminal.
func (h *Handlers) ResizeTerminal(c *gin.Context) {
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, errors.InvalidArgument("cols and rows are required"))
		return
	}
	if err := h.registry.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cols": req.Cols, "rows": req.Rows})
}

// RotateKey replaces the access key and returns the new plaintext exactly
// once. Existing streaming connections keep running; new handshakes must
// present the new key.
func (h *Handlers) RotateKey(c *gin.Context) {
	key, err := h.guard.Rotate()
	if err != nil {
		writeAppError(c, err)
		return
	}
	h.logger.Info("access key rotated via API", zap.String("trace_id", c.GetString(traceIDKey)))
	c.JSON(http.StatusOK, gin.H{"key": key})
}

// Health reports server liveness. A degraded event bus is reported in the
// body but never fails the check; the server itself is still up.
func (h *Handlers) Health(c *gin.Context) {
	busStatus := "ok"
	if h.bus != nil && !h.bus.IsConnected() {
		busStatus = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"event_bus":  busStatus,
		"terminals":  len(h.registry.List()),
		"uptime_sec": int(time.Since(h.startedAt).Seconds()),
	})
}
