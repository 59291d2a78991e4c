package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"tubemux/logging"
)

// RequestLogger logs one line per request. Event streams are logged when
// they end, so their latency is the stream lifetime.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = logging.NewComponentLogger(logger, "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		logger.Log(c.Request.Context(), level, "request", attrs...)
	}
}
