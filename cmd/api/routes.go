package main

import (
	"database/sql"
	"net/http"
	"time"

	"videodate-platform/internal/httpapi"
	"videodate-platform/internal/payments"
	"videodate-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	db            *sql.DB
	authMW        gin.HandlerFunc
	memberMW      gin.HandlerFunc
	limiter       *httpapi.UserRateLimiter
	handlers      httpapi.Handlers
	payments      *payments.Service
	webhookSecret string
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Checkout provider callback; authenticated by HMAC signature, not by token.
	r.POST("/webhooks/payments", payments.WebhookHandler(d.payments, d.webhookSecret))

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW, d.memberMW, d.limiter.Middleware())
	d.handlers.Register(v1)
}
