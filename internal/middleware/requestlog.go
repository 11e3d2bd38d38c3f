package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coilworks/hvac-backend/internal/logger"
)

// RequestLog tags every request with an id and logs method, path,
// status, and latency on completion.
func RequestLog(log *logger.Logger) gin.HandlerFunc {
	requestLogger := log.With("Middleware", "RequestLog")
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		requestLogger.Info("Request completed",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
