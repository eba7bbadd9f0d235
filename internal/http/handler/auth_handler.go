package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sliva-name/bitrix24-bridge/internal/bitrix"
	"github.com/sliva-name/bitrix24-bridge/internal/http/middleware"
)

// AuthHandler drives the OAuth authorization flow and token lifecycle
// endpoints.
type AuthHandler struct {
	Service *bitrix.Service
	Logger  *zap.Logger
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(service *bitrix.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{Service: service, Logger: logger}
}

// Authorize returns the portal authorization URL and CSRF state.
func (h *AuthHandler) Authorize(c *gin.Context) {
	connection := middleware.Connection(c, "")

	var scopes []string
	if raw := strings.TrimSpace(c.Query("scopes")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
	}

	authURL, state, err := h.Service.AuthorizationURL(connection, scopes, c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorization_url": authURL,
		"state":             state,
	})
}

// Callback completes the OAuth flow by exchanging the authorization code.
func (h *AuthHandler) Callback(c *gin.Context) {
	var req struct {
		Code  string `form:"code" json:"code" binding:"required"`
		State string `form:"state" json:"state"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Authorization code is required."})
		return
	}

	connection := middleware.Connection(c, "")
	userID := middleware.UserID(c)

	result, err := h.Service.HandleCallback(c.Request.Context(), connection, userID, req.Code)
	if err != nil {
		h.Logger.Warn("oauth callback failed", zap.String("connection", connection), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange_failed", "error_description": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Status reports whether the user holds a usable token.
func (h *AuthHandler) Status(c *gin.Context) {
	connection := middleware.Connection(c, h.Service.DefaultConnection())
	userID := middleware.UserID(c)

	ok, err := h.Service.HasValidToken(c.Request.Context(), connection, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
		return
	}

	resp := gin.H{
		"authorized": ok,
		"connection": connection,
		"expires_at": nil,
	}
	if ok {
		if tok, err := h.Service.Tokens().GetToken(c.Request.Context(), userID, connection); err == nil && tok != nil {
			resp["expires_at"] = tok.ExpiresAt
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Revoke deactivates a token by id.
func (h *AuthHandler) Revoke(c *gin.Context) {
	var req struct {
		TokenID int64 `form:"token_id" json:"token_id" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Token ID is required."})
		return
	}

	ok, err := h.Service.RevokeToken(c.Request.Context(), req.TokenID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Token not found."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
