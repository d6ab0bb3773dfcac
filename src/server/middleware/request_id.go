// Package middleware provides HTTP middleware for the notification API.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the context key holding the request ID
const RequestIDKey = "request_id"

// Headers checked for an inbound request ID, in priority order
var requestIDHeaders = []string{
	"X-Request-ID",
	"X-Correlation-ID",
	"CF-Ray",
	"X-Amzn-Trace-Id",
}

// RequestID extracts or generates a request ID and echoes it in the
// response headers so log lines correlate across services
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := ""
		for _, header := range requestIDHeaders {
			if id := c.GetHeader(header); id != "" {
				requestID = id
				break
			}
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// GetRequestID retrieves the request ID from the context, or ""
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDKey); exists {
		if requestID, ok := id.(string); ok {
			return requestID
		}
	}
	return ""
}
