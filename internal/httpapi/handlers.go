package httpapi

import (
	"context"
	"net/http"
	"time"

	"voice-console/internal/auth"
	"voice-console/internal/calls"
	"voice-console/internal/history"
	"voice-console/internal/numbers"
	"voice-console/internal/reporting"
	"voice-console/internal/telephony"

	"github.com/gin-gonic/gin"
)

// CallControl is the call session surface the handlers drive.
type CallControl interface {
	Initialize(ctx context.Context) error
	Dial(ctx context.Context, to, from string) error
	Answer(ctx context.Context) error
	Reject()
	EndCall()
	ToggleMute()
	ToggleHold()
	SendDigit(digits string) error
	Dismiss()
	Snapshot() calls.Snapshot
	Subscribe(fn func(calls.Snapshot)) (cancel func())
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Calls   CallControl
	Numbers *numbers.Inventory
	History *history.Synchronizer
	Reports *reporting.Service
	Bridge  *telephony.Bridge
}

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: development only. Real deployments get tokens from the identity service.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":       pair.AccessToken,
		"access_expires_at":  pair.AccessExpiresAt,
		"refresh_token":      pair.RefreshToken,
		"refresh_expires_at": pair.RefreshExpiresAt,
	})
}

// Me echoes the identity the access token carried.
func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}
