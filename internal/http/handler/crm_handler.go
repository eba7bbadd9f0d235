package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sliva-name/bitrix24-bridge/internal/bitrix"
	"github.com/sliva-name/bitrix24-bridge/internal/http/middleware"
)

// CRMHandler exposes CRUD routes over the Bitrix24 entity clients.
type CRMHandler struct {
	Service *bitrix.Service
	Logger  *zap.Logger
}

// NewCRMHandler creates the entity handler set.
func NewCRMHandler(service *bitrix.Service, logger *zap.Logger) *CRMHandler {
	return &CRMHandler{Service: service, Logger: logger}
}

func (h *CRMHandler) scope(c *gin.Context) (*bitrix.Scope, bool) {
	scope, err := h.Service.For(middleware.Connection(c, ""), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_connection", "error_description": err.Error()})
		return nil, false
	}
	return scope, true
}

// List handles GET /{entity} for a crm entity type.
func (h *CRMHandler) List(entity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		items, err := scope.CRM().List(c.Request.Context(), entity, listOptions(c))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": items, "total": len(items)})
	}
}

// Get handles GET /{entity}/:id.
func (h *CRMHandler) Get(entity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		id, ok := pathID(c)
		if !ok {
			return
		}
		item, err := scope.CRM().Get(c.Request.Context(), entity, id)
		if err != nil {
			apiError(c, err)
			return
		}
		if item == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

// Create handles POST /{entity}.
func (h *CRMHandler) Create(entity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		fields, ok := bindFields(c)
		if !ok {
			return
		}
		id, err := scope.CRM().Add(c.Request.Context(), entity, fields)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// Update handles PUT /{entity}/:id.
func (h *CRMHandler) Update(entity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		id, ok := pathID(c)
		if !ok {
			return
		}
		fields, ok := bindFields(c)
		if !ok {
			return
		}
		updated, err := scope.CRM().Update(c.Request.Context(), entity, id, fields)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// Delete handles DELETE /{entity}/:id.
func (h *CRMHandler) Delete(entity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		id, ok := pathID(c)
		if !ok {
			return
		}
		deleted, err := scope.CRM().Delete(c.Request.Context(), entity, id)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

// Fields handles GET /{entity}/fields.
func (h *CRMHandler) Fields(entity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := h.scope(c)
		if !ok {
			return
		}
		fields, err := scope.CRM().Fields(c.Request.Context(), entity)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, fields)
	}
}

// Tasks handles GET /tasks.
func (h *CRMHandler) Tasks(c *gin.Context) {
	scope, ok := h.scope(c)
	if !ok {
		return
	}
	items, err := scope.Tasks().List(c.Request.Context(), listOptions(c))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "total": len(items)})
}

// Users handles GET /users.
func (h *CRMHandler) Users(c *gin.Context) {
	scope, ok := h.scope(c)
	if !ok {
		return
	}
	items, err := scope.Users().List(c.Request.Context(), listOptions(c).Filter)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "total": len(items)})
}

// CurrentUser handles GET /users/current.
func (h *CRMHandler) CurrentUser(c *gin.Context) {
	scope, ok := h.scope(c)
	if !ok {
		return
	}
	user, err := scope.Users().Current(c.Request.Context())
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func listOptions(c *gin.Context) bitrix.ListOptions {
	opts := bitrix.ListOptions{}
	if raw := c.Query("filter"); raw != "" {
		var filter map[string]any
		if err := json.Unmarshal([]byte(raw), &filter); err == nil {
			opts.Filter = filter
		}
	}
	if raw := c.Query("select"); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			if field = strings.TrimSpace(field); field != "" {
				opts.Select = append(opts.Select, field)
			}
		}
	}
	if raw := c.Query("order"); raw != "" {
		var order map[string]string
		if err := json.Unmarshal([]byte(raw), &order); err == nil {
			opts.Order = order
		}
	}
	if raw := c.Query("start"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts.Start = n
		}
	}
	return opts
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid id."})
		return 0, false
	}
	return id, true
}

func bindFields(c *gin.Context) (map[string]any, bool) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "A non-empty fields object is required."})
		return nil, false
	}
	return fields, true
}
