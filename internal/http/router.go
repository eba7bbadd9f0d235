package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sliva-name/bitrix24-bridge/internal/bitrix"
	"github.com/sliva-name/bitrix24-bridge/internal/config"
	"github.com/sliva-name/bitrix24-bridge/internal/http/handler"
	"github.com/sliva-name/bitrix24-bridge/internal/http/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	service *bitrix.Service,
	authHandler *handler.AuthHandler,
	webhookHandler *handler.WebhookHandler,
	crmHandler *handler.CRMHandler,
	rateLimiter *middleware.RateLimiter,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.Identity())
	r.Use(otelgin.Middleware(cfg.ServiceName))

	root := r.Group("/bitrix24")

	auth := root.Group("/auth")
	{
		auth.GET("/authorize", authHandler.Authorize)
		auth.POST("/callback", authHandler.Callback)
		auth.GET("/status", authHandler.Status)
		auth.POST("/revoke", authHandler.Revoke)
	}

	webhooks := root.Group("/webhook")
	{
		webhooks.POST("/handle", webhookHandler.Handle)
		webhooks.GET("/pending", webhookHandler.Pending)
		webhooks.GET("/failed", webhookHandler.Failed)
		webhooks.POST("/retry/:id", webhookHandler.Retry)
	}

	guarded := root.Group("")
	guarded.Use(middleware.EnsureToken(service, cfg.DefaultConnection))
	{
		for path, entity := range map[string]string{
			"leads":     "lead",
			"deals":     "deal",
			"contacts":  "contact",
			"companies": "company",
		} {
			group := guarded.Group("/" + path)
			group.GET("", crmHandler.List(entity))
			group.POST("", crmHandler.Create(entity))
			group.GET("/fields", crmHandler.Fields(entity))
			group.GET("/:id", crmHandler.Get(entity))
			group.PUT("/:id", crmHandler.Update(entity))
			group.DELETE("/:id", crmHandler.Delete(entity))
		}

		guarded.GET("/tasks", crmHandler.Tasks)
		guarded.GET("/users", crmHandler.Users)
		guarded.GET("/users/current", crmHandler.CurrentUser)
	}

	return r
}
