package middleware

import (
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs HTTP request/response metadata.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if logger == nil {
			return
		}
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.String("client_ip", c.ClientIP()),
			slog.String("latency", time.Since(start).String()),
		}
		if tenant := TenantID(c); tenant != "" {
			attrs = append(attrs, slog.String("tenant_id", tenant))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("http request", attrs...)
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics":
			logger.Debug("http request", attrs...)
		default:
			logger.Info("http request", attrs...)
		}
	}
}
