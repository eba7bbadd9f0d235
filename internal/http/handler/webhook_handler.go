package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sliva-name/bitrix24-bridge/internal/webhook"
)

// WebhookHandler accepts inbound Bitrix24 events and exposes the ledger.
type WebhookHandler struct {
	Service *webhook.Service
	Logger  *zap.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(service *webhook.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{Service: service, Logger: logger}
}

// Handle records an inbound event. Bitrix24 posts events as form data with
// an `event` field and a nested `auth` block.
func (h *WebhookHandler) Handle(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		// Bitrix24 also delivers events as form posts.
		payload = formPayload(c)
	}

	event, _ := payload["event"].(string)
	if event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Event name is required."})
		return
	}

	if !h.Service.VerifyToken(payload) {
		h.Logger.Warn("webhook rejected, application token mismatch", zap.String("event", event))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Application token mismatch."})
		return
	}

	portalDomain := "unknown"
	if auth, ok := payload["auth"].(map[string]any); ok {
		if d, ok := auth["domain"].(string); ok && d != "" {
			portalDomain = d
		}
	}

	row, err := h.Service.Receive(c.Request.Context(), event, portalDomain, payload)
	if err != nil {
		h.Logger.Error("webhook processing failed", zap.String("event", event), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Failed to process webhook."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhook_id": row.ID, "status": row.Status})
}

// Pending lists events awaiting processing.
func (h *WebhookHandler) Pending(c *gin.Context) {
	rows, err := h.Service.Pending(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "total": len(rows)})
}

// Failed lists events whose handlers failed.
func (h *WebhookHandler) Failed(c *gin.Context) {
	rows, err := h.Service.Failed(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "total": len(rows)})
}

// Retry reprocesses a pending or failed event.
func (h *WebhookHandler) Retry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid webhook id."})
		return
	}

	row, err := h.Service.Retry(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "retry_failed", "error_description": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhook_id": row.ID, "status": row.Status})
}

func queryLimit(c *gin.Context) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return 0
}

func formPayload(c *gin.Context) map[string]any {
	payload := map[string]any{}
	if err := c.Request.ParseForm(); err != nil {
		return payload
	}
	auth := map[string]any{}
	for key, values := range c.Request.PostForm {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		// Bitrix24 flattens the auth block into auth[...] form keys.
		if len(key) > 6 && key[:5] == "auth[" && key[len(key)-1] == ']' {
			auth[key[5:len(key)-1]] = value
			continue
		}
		payload[key] = value
	}
	if len(auth) > 0 {
		payload["auth"] = auth
	}
	return payload
}
