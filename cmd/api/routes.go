package main

import (
	"database/sql"
	"net/http"
	"time"

	"voice-console/internal/httpapi"
	"voice-console/internal/telephony"
	"voice-console/pkg/utils"

	"github.com/gin-gonic/gin"
)

// Keep this file free of business logic. Handlers delegate to internal modules.

func registerPublicRoutes(r *gin.Engine, db *sql.DB, webhook telephony.VoiceWebhookHandler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider voice webhook (public).
	// NOTE: This endpoint should be protected by Twilio signature validation in production.
	r.POST("/webhooks/voice", webhook.Handle)
}

// registerAuthRoutes mounts development token issuance.
func registerAuthRoutes(r *gin.Engine, h httpapi.Handlers) {
	r.POST("/auth/login", h.Login)
}

func registerProtectedRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	v1 := r.Group("/v1")
	v1.Use(authMW)
	httpapi.RegisterV1(v1, h)
}
