package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey     = "bitrix24_user_id"
	connectionKey = "bitrix24_connection"
)

// Identity resolves the acting user and connection name from the request.
// The user comes from the X-User-ID header or the user_id query parameter;
// the connection from X-Bitrix24-Connection or the connection query
// parameter. Both are optional at this layer, guards decide what to require.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if raw == "" {
			raw = strings.TrimSpace(c.Query("user_id"))
		}
		if raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				c.Set(userIDKey, id)
			}
		}

		conn := strings.TrimSpace(c.GetHeader("X-Bitrix24-Connection"))
		if conn == "" {
			conn = strings.TrimSpace(c.Query("connection"))
		}
		if conn != "" {
			c.Set(connectionKey, conn)
		}

		c.Next()
	}
}

// UserID returns the resolved user, nil when the request is anonymous.
func UserID(c *gin.Context) *int64 {
	if v, ok := c.Get(userIDKey); ok {
		if id, ok := v.(int64); ok {
			return &id
		}
	}
	return nil
}

// ConnectionName returns the resolved connection name.
func ConnectionName(c *gin.Context) (string, bool) {
	if v, ok := c.Get(connectionKey); ok {
		if name, ok := v.(string); ok && name != "" {
			return name, true
		}
	}
	return "", false
}

// Connection returns the resolved connection name or the fallback.
func Connection(c *gin.Context, fallback string) string {
	if name, ok := ConnectionName(c); ok {
		return name
	}
	return fallback
}
