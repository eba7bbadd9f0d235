package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// TokenChecker reports whether API calls can be made for a user on a
// connection.
type TokenChecker interface {
	HasValidToken(ctx context.Context, connection string, userID *int64) (bool, error)
}

// EnsureToken rejects requests from users without a usable Bitrix24 token.
// Anonymous requests are rejected outright.
func EnsureToken(checker TokenChecker, defaultConnection string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "User authentication is required.",
			})
			return
		}

		connection := Connection(c, defaultConnection)
		ok, err := checker.HasValidToken(c.Request.Context(), connection, userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":             "server_error",
				"error_description": err.Error(),
			})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":             "bitrix24_integration_required",
				"error_description": "Authenticate with Bitrix24 first.",
				"connection":        connection,
			})
			return
		}

		c.Next()
	}
}
