package audit

import "time"

// Event is an immutable, append-only audit record of a call-control or
// number-lifecycle action taken from the console.
//
// Invariants:
// - Events are never updated or deleted.
// - actor_user_id is required.
// - audit is best-effort; callers never block a call on audit failures.
//
// Storage (Postgres): table audit_events, INSERT-only.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id" db:"actor_user_id"`

	// Target identifiers (optional, depending on the event type).
	CallSID      string `json:"call_sid,omitempty" db:"call_sid"`
	PhoneNumber  string `json:"phone_number,omitempty" db:"phone_number"`
	NumberID     string `json:"number_id,omitempty" db:"number_id"`
	RecordingSID string `json:"recording_sid,omitempty" db:"recording_sid"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallStarted      EventType = "call_started"
	EventTypeCallEnded        EventType = "call_ended"
	EventTypeNumberPurchased  EventType = "number_purchased"
	EventTypeNumberReleased   EventType = "number_released"
	EventTypeRecordingDeleted EventType = "recording_deleted"
)
