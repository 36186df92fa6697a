package middleware

import (
	"strconv"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/telemetry"

	"github.com/gin-gonic/gin"
)

const noRoute = "<no-route>"

// MetricsMiddleware records request count and latency per route template.
// Unmatched requests share the "<no-route>" label.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
