// Package middleware holds the gin plumbing shared by the terminal and
// intake HTTP APIs.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pos-terminal/internal/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestLogger tags every request with an id, taken from X-Request-ID
// when the caller sent one, and logs start and completion.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		log.Debug("request_started",
			fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path),
			requestID,
			map[string]interface{}{
				"method":      c.Request.Method,
				"path":        c.Request.URL.Path,
				"remote_addr": c.ClientIP(),
				"user_agent":  c.Request.UserAgent(),
			})

		c.Next()

		log.Debug("request_completed",
			fmt.Sprintf("%s %s - %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status()),
			requestID,
			map[string]interface{}{
				"method":      c.Request.Method,
				"path":        c.Request.URL.Path,
				"status_code": c.Writer.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
	}
}

// RequestID returns the id assigned by RequestLogger, or a fresh one
func RequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return logger.GenerateRequestID()
}

// WriteError writes an error response in JSON format
func WriteError(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, gin.H{
		"error":      message,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"request_id": RequestID(c),
	})
}

// WriteFieldError is WriteError for input errors tied to one field
func WriteFieldError(c *gin.Context, field, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":      message,
		"field":      field,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"request_id": RequestID(c),
	})
}
