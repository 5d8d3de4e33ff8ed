package middleware

import (
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/identity"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger writes one structured line per request. The client is the identity
// the gate resolved when there is one, otherwise gin's client IP, and is
// always masked.
func Logger(logger *zap.Logger, codec *identity.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		client := c.GetString(ContextIdentity)
		if client == "" {
			client = c.ClientIP()
		}

		fields := []zap.Field{
			zap.String("request_id", c.GetString(ContextRequestID)),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("client", codec.Mask(client)),
		}

		switch {
		case statusCode >= 500:
			logger.Error("request", fields...)
		case statusCode >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
