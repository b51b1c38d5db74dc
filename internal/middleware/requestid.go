package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier on the wire.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request ID, so handlers
	// can read it without touching the response headers.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware tags every request with an identifier. An inbound
// X-Request-ID (from a proxy or the admin panel client) is kept as-is;
// otherwise a fresh UUID v4 is generated. The ID is stored in gin.Context
// under RequestIDKey and echoed in the response header so a failed admin call
// can be matched against the server logs.
//
// Register it before any middleware that logs, typically right after
// gin.Recovery().
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
