package calls

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotInitialized     = errors.New("calls: device not initialized")
	ErrCallInProgress     = errors.New("calls: a call is already in progress")
	ErrInvalidDestination = errors.New("calls: invalid destination number")
	ErrNoSourceNumber     = errors.New("calls: no source number selected")
	ErrNoIncomingCall     = errors.New("calls: no incoming call")
	ErrInvalidDigit       = errors.New("calls: invalid DTMF digit")
	ErrMissingCredential  = errors.New("calls: caller credential missing")
)

type State string

const (
	StateIdle               State = "idle"
	StateDeviceInitializing State = "device_initializing"
	StateReady              State = "ready"
	StateDialing            State = "dialing"
	StateConnected          State = "connected"
	StateEnded              State = "ended"
	StateFailed             State = "failed"
)

// InCall reports whether a call leg is being set up or is live.
func (s State) InCall() bool {
	return s == StateDialing || s == StateConnected
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type ErrorKind string

const (
	ErrorMissingCredential      ErrorKind = "missing_credential"
	ErrorTokenAcquisitionFailed ErrorKind = "token_acquisition_failed"
	ErrorDevice                 ErrorKind = "device_error"
	ErrorConnectFailed          ErrorKind = "connect_failed"
)

// SessionError is the descriptor surfaced as the session's last error.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Code    int       `json:"code,omitempty"`
	Message string    `json:"message"`

	cause error
}

func (e *SessionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("calls: %s (%d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("calls: %s: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error { return e.cause }

// IncomingCall is a ringing inbound call waiting for Answer or Reject.
type IncomingCall struct {
	CallSID    string    `json:"call_sid,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ReceivedAt time.Time `json:"received_at"`
}

// CallSummary is what remains of a session after it ends.
type CallSummary struct {
	CallSID         string     `json:"call_sid,omitempty"`
	Direction       Direction  `json:"direction"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         time.Time  `json:"ended_at"`
	DurationSeconds int        `json:"duration_seconds"`
	DTMFSent        []string   `json:"dtmf_sent,omitempty"`
	EndReason       string     `json:"end_reason"`
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	State           State         `json:"state"`
	DeviceReady     bool          `json:"device_ready"`
	Direction       Direction     `json:"direction,omitempty"`
	From            string        `json:"from,omitempty"`
	To              string        `json:"to,omitempty"`
	CallSID         string        `json:"call_sid,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	DurationSeconds int           `json:"duration_seconds"`
	Muted           bool          `json:"muted"`
	OnHold          bool          `json:"on_hold"`
	DTMFSent        []string      `json:"dtmf_sent"`
	LastError       *SessionError `json:"last_error,omitempty"`
	Incoming        *IncomingCall `json:"incoming,omitempty"`
	LastCall        *CallSummary  `json:"last_call,omitempty"`
	TokenExpiresAt  *time.Time    `json:"token_expires_at,omitempty"`
}

// session is the live CallSession; zero value means no call.
type session struct {
	direction Direction
	from, to  string
	callSID   string
	startedAt time.Time
	duration  int
	muted     bool
	onHold    bool
	dtmf      []string
}
