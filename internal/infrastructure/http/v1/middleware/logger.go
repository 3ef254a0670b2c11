package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fiscalcore/pkg/logger"
)

// Logger middleware logs HTTP requests with timing and status.
// Health probes are logged at debug level.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		kv := []any{
			"method", c.Request.Method,
			"path", path,
			"route", c.FullPath(),
			"query", query,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			kv = append(kv, "error", errs)
		}

		l := log.WithContext(c.Request.Context())
		if strings.HasPrefix(path, "/health") {
			l.Debugw("http request", kv...)
			return
		}
		l.Infow("http request", kv...)
	}
}
