package api

import (
	"github.com/gin-gonic/gin"

	"github.com/termport/termport/internal/auth"
	"github.com/termport/termport/internal/common/logger"
)

// NewRouter builds the gin engine with middleware and control plane
// routes. The streaming endpoint registers itself separately so its
// handshake semantics stay out of the JSON middleware chain.
func NewRouter(h *Handlers, guard *auth.Guard, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(TraceID())
	router.Use(RequestLogger(log))
	router.Use(Recovery(log))

	v1 := router.Group("/api/v1")
	v1.Use(RequireKey(guard))
	{
		v1.GET("/health", h.Health)
		v1.GET("/terminals", h.ListTerminals)
		v1.GET("/terminals/:id", h.GetTerminal)
		v1.GET("/terminals/:id/buffer", h.GetBuffer)
		v1.POST("/terminals/:id/select", h.SelectTerminal)
		v1.POST("/terminals/:id/input", h.SendInput)
		v1.POST("/terminals/:id/resize", h.ResizeTerminal)
		v1.POST("/auth/rotate", h.RotateKey)
	}

	return router
}
