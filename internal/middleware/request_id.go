package middleware

import (
	"github.com/gin-gonic/gin"

	"chat-sync/internal/observability"
	"chat-sync/internal/telemetry"
)

// RequestID echoes or assigns X-Request-Id and makes it available to audit
// records emitted further down.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := observability.RequestIDFromRequest(c.Request)
		c.Set("requestID", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Request = c.Request.WithContext(telemetry.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}
