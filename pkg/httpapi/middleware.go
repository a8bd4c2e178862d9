package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kruthik-b-s/portfolio/internal/logger"
	"github.com/kruthik-b-s/portfolio/pkg/metrics"
)

// requestMetrics records count and latency per route and logs each request.
func requestMetrics(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		metrics.RequestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())

		log.Debugw("request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"elapsed", elapsed,
			"client", c.ClientIP(),
		)
	}
}
