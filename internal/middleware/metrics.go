package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/areaindex/internal/metrics"
)

// unmatchedRoute labels requests that hit no registered route, keeping the
// label set bounded.
const unmatchedRoute = "unmatched"

// Metrics records request counts and latency per route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := strconv.Itoa(c.Writer.Status()/100) + "xx"

		metrics.HTTPRequestsTotal.WithLabelValues(route, c.Request.Method, status).Inc()
		metrics.HTTPRequestDurationMs.WithLabelValues(route, c.Request.Method).
			Observe(float64(time.Since(start).Milliseconds()))
	}
}
