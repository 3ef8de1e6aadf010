package httpapi

import (
	"voice-console/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RegisterV1 mounts the console API on an authenticated group.
func RegisterV1(v1 *gin.RouterGroup, h Handlers) {
	v1.Use(rbac.RequireIdentity())
	v1.GET("/me", h.Me)

	callers := rbac.RequireAnyRole(rbac.CallRoles...)
	admins := rbac.RequireAnyRole(rbac.NumberAdminRoles...)

	call := v1.Group("/call", callers)
	{
		call.GET("", h.GetCall)
		call.GET("/stream", h.StreamCall)
		call.POST("/initialize", h.InitializeDevice)
		call.POST("/dial", h.Dial)
		call.POST("/answer", h.Answer)
		call.POST("/reject", h.Reject)
		call.POST("/end", h.EndCall)
		call.POST("/mute", h.ToggleMute)
		call.POST("/hold", h.ToggleHold)
		call.POST("/digits", h.SendDigits)
		call.POST("/dismiss", h.Dismiss)
	}

	v1.GET("/device/bridge", callers, h.AttachDevice)

	nums := v1.Group("/numbers", callers)
	{
		nums.GET("", h.ListNumbers)
		nums.GET("/available", h.SearchNumbers)
		nums.POST("/refresh", h.RefreshNumbers)
		nums.PUT("/selected", h.SelectNumber)
		nums.POST("", admins, h.PurchaseNumber)
		nums.DELETE("/:id", admins, h.ReleaseNumber)
	}

	hist := v1.Group("/history", callers)
	{
		hist.GET("/calls", h.ListCalls)
		hist.POST("/calls/refresh", h.RefreshCalls)
		hist.GET("/calls/:sid", h.GetCallRecord)
		hist.GET("/summary", h.CallsSummary)
		hist.GET("/recordings", h.ListRecordings)
		hist.POST("/recordings/refresh", h.RefreshRecordings)
		hist.DELETE("/recordings/:sid", admins, h.DeleteRecording)
	}
}
