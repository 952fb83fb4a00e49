package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// OwnerContextKey holds the caller's owner id
	OwnerContextKey = "owner_id"
	// RequestIDContextKey holds the request id
	RequestIDContextKey = "request_id"

	OwnerHeader     = "X-Owner-ID"
	RequestIDHeader = "X-Request-ID"
)

// Owner reads the caller's owner id from the X-Owner-ID header.
// Identity is asserted by the gateway in front of the API.
func Owner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if owner := c.GetHeader(OwnerHeader); owner != "" {
			c.Set(OwnerContextKey, owner)
		}
		c.Next()
	}
}

// GetOwnerID extracts the owner id from the context
func GetOwnerID(c *gin.Context) (string, bool) {
	owner, exists := c.Get(OwnerContextKey)
	if !exists {
		return "", false
	}
	id, ok := owner.(string)
	return id, ok
}

// RequestID tags every request with an id, reusing the caller's when present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(RequestIDContextKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
