package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/httprate"
)

const (
	// Per-IP request budget for the API
	apiRequestsPerWindow = 300
	apiWindow            = time.Minute
)

// RateLimit applies a per-IP rate limit to the API. httprate writes the
// 429 response and the X-RateLimit-* headers itself.
func RateLimit() gin.HandlerFunc {
	limiter := httprate.NewRateLimiter(
		apiRequestsPerWindow,
		apiWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)
	return wrapRateLimiter(limiter)
}

func wrapRateLimiter(limiter *httprate.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed := false
		limiter.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			allowed = true
		})).ServeHTTP(c.Writer, c.Request)

		if !allowed {
			c.Abort()
			return
		}
		c.Next()
	}
}
