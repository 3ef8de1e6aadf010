package telephony

import (
	"net/http"
	"strings"

	"voice-console/internal/phone"
)

// VoiceRequest is the subset of the provider's voice webhook form we route on.
// Calls placed by the console's own device arrive with From "client:<identity>"
// and carry the chosen source number as the CallerId connect parameter.
type VoiceRequest struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	CallerID   string
	Direction  string
	CallStatus string
}

func ParseVoiceRequest(r *http.Request) (VoiceRequest, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceRequest{}, err
	}
	return VoiceRequest{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		CallerID:   strings.TrimSpace(r.PostFormValue("CallerId")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
	}, nil
}

// ClientIdentity reports the device identity for calls placed by a console.
func (v VoiceRequest) ClientIdentity() (string, bool) {
	id, ok := strings.CutPrefix(v.From, "client:")
	return id, ok && id != ""
}

type VoiceAction string

const (
	VoiceActionReject VoiceAction = "reject"
	VoiceActionHangup VoiceAction = "hangup"
	VoiceActionDial   VoiceAction = "dial"
)

// VoiceDecision is what the provider should do with a call.
type VoiceDecision struct {
	Action VoiceAction
	// Exactly one of Number/Client is set for VoiceActionDial.
	Number   string
	Client   string
	CallerID string
	Reason   string
}

// VoiceRouter decides how the provider connects a voice webhook call.
type VoiceRouter struct {
	Policy        phone.Policy
	Owns          func(e164 string) bool
	AgentIdentity string
}

func (r VoiceRouter) Route(v VoiceRequest) VoiceDecision {
	if _, ok := v.ClientIdentity(); ok {
		return r.routeOutbound(v)
	}
	return r.routeInbound(v)
}

func (r VoiceRouter) routeOutbound(v VoiceRequest) VoiceDecision {
	to, err := r.Policy.Normalize(v.To)
	if err != nil {
		return VoiceDecision{Action: VoiceActionReject, Reason: "invalid destination"}
	}
	callerID, err := r.Policy.Normalize(v.CallerID)
	if err != nil || r.Owns == nil || !r.Owns(callerID) {
		return VoiceDecision{Action: VoiceActionReject, Reason: "caller id not owned"}
	}
	return VoiceDecision{Action: VoiceActionDial, Number: to, CallerID: callerID}
}

func (r VoiceRouter) routeInbound(v VoiceRequest) VoiceDecision {
	to, err := r.Policy.Normalize(v.To)
	if err != nil || r.Owns == nil || !r.Owns(to) {
		return VoiceDecision{Action: VoiceActionReject, Reason: "unknown destination"}
	}
	if r.AgentIdentity == "" {
		return VoiceDecision{Action: VoiceActionHangup, Reason: "no agent"}
	}
	// Caller ID on the agent leg is the external caller as the provider sent it.
	return VoiceDecision{Action: VoiceActionDial, Client: r.AgentIdentity, CallerID: v.From}
}
