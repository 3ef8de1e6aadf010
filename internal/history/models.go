package history

import (
	"net/url"
	"strconv"
	"time"
)

// CallRecord is a read-only projection of one call detail record.
type CallRecord struct {
	ID              string    `json:"id"`
	CallSID         string    `json:"call_sid"`
	Direction       string    `json:"direction"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Status          string    `json:"status"`
	DurationSeconds int       `json:"duration_seconds"`
	Price           float64   `json:"price"`
	PriceUnit       string    `json:"price_unit,omitempty"`
	RecordingURL    string    `json:"recording_url,omitempty"`
	RecordingSID    string    `json:"recording_sid,omitempty"`
	PhoneNumberID   string    `json:"phone_number_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Recording is a read-only projection of one call recording.
type Recording struct {
	ID              string    `json:"id"`
	RecordingSID    string    `json:"recording_sid"`
	CallSID         string    `json:"call_sid"`
	DurationSeconds int       `json:"duration_seconds"`
	Status          string    `json:"status"`
	MediaURL        string    `json:"media_url"`
	Price           float64   `json:"price"`
	PhoneNumberID   string    `json:"phone_number_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Filters narrow a history fetch. Zero values are omitted.
type Filters struct {
	From          time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To            time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Direction     string    `form:"direction"`
	Status        string    `form:"status"`
	PhoneNumberID string    `form:"phone_number_id"`
	Limit         int       `form:"limit"`
}

func (f Filters) Values() url.Values {
	q := url.Values{}
	if !f.From.IsZero() {
		q.Set("startDate", f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		q.Set("endDate", f.To.UTC().Format(time.RFC3339))
	}
	if f.Direction != "" {
		q.Set("direction", f.Direction)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.PhoneNumberID != "" {
		q.Set("phoneNumberId", f.PhoneNumberID)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}
