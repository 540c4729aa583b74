package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger returns a zap-based request logging middleware. Server errors are
// logged at error level and client errors at warn; skip lists paths (such
// as /health) that are never logged.
func Logger(logger *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if skipped[path] {
			return
		}
		status := c.Writer.Status()
		level := zapcore.InfoLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case status >= 400:
			level = zapcore.WarnLevel
		}
		if ce := logger.Check(level, "request"); ce != nil {
			ce.Write(
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.String("client_ip", c.ClientIP()),
			)
		}
	}
}
