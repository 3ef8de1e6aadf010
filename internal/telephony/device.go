package telephony

import (
	"context"
	"fmt"
)

// Device is the control-plane surface of the voice SDK a console drives.
//
// Rules:
// - Readiness, incoming calls and failures arrive through the EventHandler
//   given to DeviceFactory.NewDevice, never as return values.
// - Media (codecs, RTP) stays inside the SDK; nothing here touches it.
type Device interface {
	Connect(ctx context.Context, p ConnectParams) (Connection, error)
	Destroy() error
}

// DeviceFactory builds a Device authorized by a signaling token.
type DeviceFactory interface {
	NewDevice(ctx context.Context, token string, onEvent EventHandler) (Device, error)
}

// ConnectParams are E.164 numbers; normalization happens before the SDK sees them.
type ConnectParams struct {
	To   string `json:"to"`
	From string `json:"from"`
}

// Connection is one call leg owned by a Device.
type Connection interface {
	SID() string
	Accept() error
	Reject() error

	// Mute and Hold ask the SDK to change state; IsMuted/IsOnHold report what
	// the SDK says actually happened.
	Mute(muted bool)
	IsMuted() bool
	Hold(onHold bool) error
	IsOnHold() bool

	SendDigits(digits string) error
	Disconnect() error
}

type EventType string

const (
	EventReady      EventType = "ready"
	EventError      EventType = "error"
	EventIncoming   EventType = "incoming"
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventCancel     EventType = "cancel"
	EventMute       EventType = "mute"
)

// Event is a device or connection lifecycle notification.
type Event struct {
	Type EventType
	// Conn is set for connection-scoped events.
	Conn Connection
	// Err is set for EventError.
	Err *DeviceError
	// Muted is set for EventMute.
	Muted bool
	// From/To describe the caller for EventIncoming.
	From string
	To   string
}

type EventHandler func(Event)

// DeviceError is the SDK's error payload.
type DeviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *DeviceError) Error() string {
	if e.Code == 0 {
		return "telephony: " + e.Message
	}
	return fmt.Sprintf("telephony: device error %d: %s", e.Code, e.Message)
}
