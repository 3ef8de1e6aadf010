package numbers

import (
	"strings"

	"voice-console/internal/normalize"
	"voice-console/internal/phone"
)

// Field aliases seen across the provisioning endpoints.
var (
	idKeys       = []string{"id", "sid", "phoneNumberId", "phone_number_id", "_id"}
	numberKeys   = []string{"phoneNumber", "phone_number", "e164Number", "e164_number", "e164", "number"}
	friendlyKeys = []string{"friendlyName", "friendly_name"}
	countryKeys  = []string{"country", "countryCode", "country_code", "isoCountry", "iso_country"}
	regionKeys   = []string{"region", "state", "rateCenter", "rate_center"}
	localityKeys = []string{"locality", "city"}
	costKeys     = []string{"monthlyCost", "monthly_cost", "monthlyPrice", "monthly_price", "price", "cost"}
)

func capabilities(r normalize.Record) Capabilities {
	c := r.Object("capabilities")
	if c == nil {
		voice, _ := r.Bool("voiceEnabled", "voice_enabled", "voice")
		sms, _ := r.Bool("smsEnabled", "sms_enabled", "sms")
		return Capabilities{Voice: voice, SMS: sms}
	}
	voice, _ := c.Bool("voice", "Voice")
	sms, _ := c.Bool("sms", "SMS")
	return Capabilities{Voice: voice, SMS: sms}
}

func status(r normalize.Record) Status {
	switch strings.ToLower(r.String("status")) {
	case "inactive", "suspended", "released", "disabled":
		return StatusInactive
	case "":
		if active, ok := r.Bool("active", "isActive", "is_active"); ok && !active {
			return StatusInactive
		}
	}
	return StatusActive
}

// ownedFromRecord returns false for records without an id or a usable number.
func ownedFromRecord(r normalize.Record, p phone.Policy) (OwnedNumber, bool) {
	id := r.String(idKeys...)
	e164, err := p.Normalize(r.String(numberKeys...))
	if id == "" || err != nil {
		return OwnedNumber{}, false
	}
	cost, _ := r.Float(costKeys...)
	return OwnedNumber{
		ID:           id,
		E164Number:   e164,
		FriendlyName: r.String(friendlyKeys...),
		Country:      strings.ToUpper(r.String(countryKeys...)),
		Region:       r.String(regionKeys...),
		Capabilities: capabilities(r),
		MonthlyCost:  cost,
		Status:       status(r),
	}, true
}

func availableFromRecord(r normalize.Record, p phone.Policy) (AvailableNumber, bool) {
	e164, err := p.Normalize(r.String(numberKeys...))
	if err != nil {
		return AvailableNumber{}, false
	}
	cost, _ := r.Float(costKeys...)
	return AvailableNumber{
		E164Number:   e164,
		FriendlyName: r.String(friendlyKeys...),
		Locality:     r.String(localityKeys...),
		Region:       r.String(regionKeys...),
		Country:      strings.ToUpper(r.String(countryKeys...)),
		Capabilities: capabilities(r),
		MonthlyCost:  cost,
	}, true
}
