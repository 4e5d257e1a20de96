// Package api is the request/response control plane: terminal listing and
// control, buffer retrieval, key rotation, and health.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/termport/termport/internal/auth"
	"github.com/termport/termport/internal/common/errors"
	"github.com/termport/termport/internal/common/logger"
)

const traceIDKey = "trace_id"

// errorBody is the uniform error response shape.
type errorBody struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{
		Code:      code,
		Message:   message,
		TraceID:   c.GetString(traceIDKey),
		Timestamp: time.Now().UTC(),
	})
}

// writeAppError renders any operation error with its mapped status and code.
func writeAppError(c *gin.Context, err error) {
	writeError(c, errors.GetHTTPStatus(err), errors.Code(err), err.Error())
}

// TraceID assigns every request an id that is echoed in the response
// header and carried in the error body.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Set(traceIDKey, traceID)
		c.Header("X-Trace-ID", traceID)
		c.Next()
	}
}

// RequestLogger logs completed requests.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("trace_id", c.GetString(traceIDKey)),
		)
	}
}

// Recovery turns panics into uniform 500 responses.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				writeError(c, http.StatusInternalServerError,
					errors.ErrCodeInternalError, "an internal error occurred")
			}
		}()
		c.Next()
	}
}

// RequireKey rejects requests whose access key does not validate. The key
// travels in the same header the streaming endpoint uses.
func RequireKey(guard *auth.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Termport-Key")
		if key == "" {
			key = c.Query("key")
		}
		if !guard.Validate(key) {
			writeError(c, http.StatusUnauthorized,
				errors.ErrCodeUnauthorized, "invalid or missing access key")
			return
		}
		c.Next()
	}
}
