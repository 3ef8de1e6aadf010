package history

import (
	"strings"

	"voice-console/internal/normalize"
	"voice-console/internal/phone"
)

// Every backend naming variant for history fields lives here and nowhere else.
var (
	idKeys            = []string{"id", "_id"}
	callSIDKeys       = []string{"callSid", "call_sid", "CallSid", "sid"}
	recordingSIDKeys  = []string{"recordingSid", "recording_sid", "RecordingSid", "sid"}
	directionKeys     = []string{"direction", "Direction"}
	fromKeys          = []string{"from", "from_number", "fromNumber", "from_formatted", "From"}
	toKeys            = []string{"to", "to_number", "toNumber", "to_formatted", "To"}
	statusKeys        = []string{"status", "callStatus", "call_status", "Status"}
	durationKeys      = []string{"duration", "durationSeconds", "duration_seconds", "callDuration", "call_duration", "Duration"}
	priceKeys         = []string{"price", "cost", "Price"}
	priceUnitKeys     = []string{"priceUnit", "price_unit", "currency"}
	recordingURLKeys  = []string{"recordingUrl", "recording_url", "recordingURL", "RecordingUrl"}
	mediaURLKeys      = []string{"mediaUrl", "media_url", "url", "recordingUrl", "recording_url"}
	phoneNumberIDKeys = []string{"phoneNumberId", "phone_number_id", "numberId", "number_id"}
	createdKeys       = []string{"createdAt", "created_at", "date_created", "dateCreated", "start_time", "startTime"}
)

// Recording URIs from the provider point at the JSON resource; the media is
// the same path with an audio extension.
const providerAPIBase = "https://api.twilio.com"

func normalizeDirection(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "outbound"):
		return "outbound"
	case strings.HasPrefix(s, "inbound"):
		return "inbound"
	}
	return s
}

func normalizeStatus(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}

// numberOrRaw keeps values like "client:agent" that are not phone numbers.
func numberOrRaw(p phone.Policy, s string) string {
	if s == "" || strings.Contains(s, ":") {
		return s
	}
	if n, err := p.Normalize(s); err == nil {
		return n
	}
	return s
}

func callFromRecord(r normalize.Record, p phone.Policy) (CallRecord, bool) {
	sid := r.String(callSIDKeys...)
	if sid == "" {
		return CallRecord{}, false
	}
	c := CallRecord{
		ID:              r.String(idKeys...),
		CallSID:         sid,
		Direction:       normalizeDirection(r.String(directionKeys...)),
		From:            numberOrRaw(p, r.String(fromKeys...)),
		To:              numberOrRaw(p, r.String(toKeys...)),
		Status:          normalizeStatus(r.String(statusKeys...)),
		DurationSeconds: r.Int(durationKeys...),
		PriceUnit:       strings.ToUpper(r.String(priceUnitKeys...)),
		RecordingURL:    r.String(recordingURLKeys...),
		RecordingSID:    r.String("recordingSid", "recording_sid", "RecordingSid"),
		PhoneNumberID:   r.String(phoneNumberIDKeys...),
		CreatedAt:       r.Time(createdKeys...),
	}
	if c.ID == "" {
		c.ID = sid
	}
	if price, ok := r.Float(priceKeys...); ok {
		c.Price = price
	}
	if rec := r.Object("recording"); rec != nil {
		if c.RecordingSID == "" {
			c.RecordingSID = rec.String(recordingSIDKeys...)
		}
		if c.RecordingURL == "" {
			c.RecordingURL = rec.String(mediaURLKeys...)
		}
	}
	return c, true
}

func recordingFromRecord(r normalize.Record) (Recording, bool) {
	sid := r.String(recordingSIDKeys...)
	if sid == "" {
		return Recording{}, false
	}
	rec := Recording{
		ID:              r.String(idKeys...),
		RecordingSID:    sid,
		CallSID:         r.String("callSid", "call_sid", "CallSid"),
		DurationSeconds: r.Int(durationKeys...),
		Status:          normalizeStatus(r.String(statusKeys...)),
		MediaURL:        r.String(mediaURLKeys...),
		PhoneNumberID:   r.String(phoneNumberIDKeys...),
		CreatedAt:       r.Time(createdKeys...),
	}
	if rec.ID == "" {
		rec.ID = sid
	}
	if price, ok := r.Float(priceKeys...); ok {
		rec.Price = price
	}
	if rec.MediaURL == "" {
		if uri := r.String("uri"); uri != "" {
			rec.MediaURL = providerAPIBase + strings.TrimSuffix(uri, ".json") + ".mp3"
		}
	}
	return rec, true
}
