package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal TwiML builder; only the verbs VoiceDecision can produce.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName  xml.Name `xml:"Dial"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Number   string   `xml:"Number,omitempty"`
	Client   string   `xml:"Client,omitempty"`
}

func RenderTwiML(d VoiceDecision) (string, error) {
	var r twimlResponse

	switch d.Action {
	case VoiceActionReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "rejected"})
	case VoiceActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case VoiceActionDial:
		num, client := strings.TrimSpace(d.Number), strings.TrimSpace(d.Client)
		if (num == "") == (client == "") {
			return "", errors.New("telephony: dial needs exactly one of number or client")
		}
		r.Verbs = append(r.Verbs, twimlDial{CallerID: d.CallerID, Number: num, Client: client})
	default:
		return "", errors.New("telephony: unknown voice action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
