package telephony

import (
	"net/http"

	"voice-console/pkg/logger"

	"github.com/gin-gonic/gin"
)

// VoiceWebhookHandler answers the provider's voice webhook with TwiML.
type VoiceWebhookHandler struct {
	Router VoiceRouter
}

func (h VoiceWebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Router.Owns == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "number inventory not configured"})
		return
	}

	req, err := ParseVoiceRequest(c.Request)
	if err != nil {
		log.Warn("voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	d := h.Router.Route(req)
	if d.Action != VoiceActionDial {
		log.Info("voice webhook call refused", "call_sid", req.CallSid, "action", d.Action, "reason", d.Reason)
	}

	twiml, err := RenderTwiML(d)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
