package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/termport/termport/internal/auth"
	"github.com/termport/termport/internal/common/config"
	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/internal/registry"
	"github.com/termport/termport/pkg/stream"
)

// KeyHeader carries the access key on the upgrade request. Browsers cannot
// set custom headers on WebSocket dials, so the key query parameter is
// accepted as a fallback.
const (
	KeyHeader = "X-Termport-Key"
	KeyQuery  = "key"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Access control is the shared key, not the origin.
		return true
	},
}

// Handler upgrades and admits streaming connections.
type Handler struct {
	hub      *Hub
	guard    *auth.Guard
	registry *registry.Registry
	cfg      config.GatewayConfig
	logger   *logger.Logger
}

// NewHandler creates the streaming endpoint handler.
func NewHandler(hub *Hub, guard *auth.Guard, reg *registry.Registry, cfg config.GatewayConfig, log *logger.Logger) *Handler {
	return &Handler{
		hub:      hub,
		guard:    guard,
		registry: reg,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "gateway")),
	}
}

// RegisterRoutes registers the streaming endpoint on a gin router.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.HandleConnection)
}

// HandleConnection runs the admission sequence: upgrade, authenticate,
// reserve capacity, then hand the socket to the pumps. Authentication is
// checked before capacity so unauthenticated probes can never observe or
// consume admission slots.
func (h *Handler) HandleConnection(c *gin.Context) {
	key := c.GetHeader(KeyHeader)
	if key == "" {
		key = c.Query(KeyQuery)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	if !h.guard.Validate(key) {
		h.logger.Info("rejecting unauthenticated connection",
			zap.String("remote", c.Request.RemoteAddr))
		h.reject(conn, websocket.ClosePolicyViolation, stream.CloseReasonUnauthorized)
		return
	}

	if !h.hub.TryReserve() {
		h.logger.Info("rejecting connection over capacity",
			zap.String("remote", c.Request.RemoteAddr),
			zap.Int("capacity", h.cfg.MaxConnections))
		h.reject(conn, websocket.CloseTryAgainLater, stream.CloseReasonCapacityExceeded)
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub,
		h.cfg.HeartbeatIntervalDuration(), h.cfg.HeartbeatMisses,
		h.cfg.SendBufferSize, h.logger)
	// A fresh client starts out watching whatever is active.
	client.Subscribe(h.registry.ActiveID())
	h.hub.Register(client)

	h.logger.Info("connection admitted",
		zap.String("connection_id", client.ID),
		zap.String("remote", c.Request.RemoteAddr))

	ack, err := stream.New(stream.TypeConnectedAck, stream.ConnectedAckPayload{
		ConnectionID: client.ID,
		ActiveID:     h.registry.ActiveID(),
	})
	if err == nil {
		client.SendMessage(ack)
	}
	client.SendMessage(listEnvelope(h.registry))

	ctx := context.Background()
	go client.WritePump()
	go client.ReadPump(ctx)
}

// reject closes a just-upgraded socket with a machine-readable close frame.
func (h *Handler) reject(conn *websocket.Conn, code int, reason string) {
	frame := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(h.cfg.HandshakeTimeoutDuration())
	_ = conn.WriteControl(websocket.CloseMessage, frame, deadline)
	_ = conn.Close()
}
