package middleware

import (
	"regexp"
	"strconv"
	"time"

	"github.com/apimgr/pharmacy/src/server/metrics"
	"github.com/gin-gonic/gin"
)

// Fallback ID scrubbing for requests that matched no route
var (
	ulidRegex      = regexp.MustCompile(`[0-9A-HJKMNP-TV-Z]{26}`)
	numericIDRegex = regexp.MustCompile(`/\d+(?:/|$)`)
)

// Metrics records request counts, latency, and in-flight gauge per route
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		metrics.HTTPActiveRequests.Inc()
		defer metrics.HTTPActiveRequests.Dec()

		c.Next()

		// FullPath is the route template, which keeps label cardinality
		// bounded; raw paths are scrubbed as a fallback
		path := c.FullPath()
		if path == "" {
			path = normalizeMetricPath(c.Request.URL.Path)
		}

		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func normalizeMetricPath(path string) string {
	if path == "" {
		return "/"
	}
	path = ulidRegex.ReplaceAllString(path, ":id")
	path = numericIDRegex.ReplaceAllString(path, "/:id/")
	return path
}
