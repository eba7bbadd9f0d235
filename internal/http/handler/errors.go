package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

// apiError maps outbound Bitrix24 failures to inbound HTTP responses.
func apiError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "not_authenticated",
			"error_description": "No valid Bitrix24 token. Authenticate first.",
		})
	case errors.Is(err, domain.ErrRefreshFailed):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "refresh_failed",
			"error_description": err.Error(),
		})
	case errors.Is(err, domain.ErrConnectionNotFound):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_connection",
			"error_description": err.Error(),
		})
	default:
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":             apiErr.Code,
				"error_description": apiErr.Description,
				"method":            apiErr.Method,
			})
			return
		}
		var transportErr *domain.TransportError
		if errors.As(err, &transportErr) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":             "upstream_unreachable",
				"error_description": transportErr.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": err.Error(),
		})
	}
}
