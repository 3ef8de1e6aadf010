package calls

// Event is an internal state-machine input. Device callbacks and commands are
// both reduced to one of these before the state changes.
type Event string

const (
	EventInitialize    Event = "initialize"
	EventInitFailed    Event = "init_failed"
	EventDeviceReady   Event = "device_ready"
	EventDeviceError   Event = "device_error"
	EventDial          Event = "dial"
	EventAnswer        Event = "answer"
	EventConnected     Event = "connected"
	EventConnectFailed Event = "connect_failed"
	EventCallEnded     Event = "call_ended"
	EventReset         Event = "reset"
	EventDismiss       Event = "dismiss"
	EventDispose       Event = "dispose"
)

var transitions = map[State]map[Event]State{
	StateIdle: {
		EventInitialize:  StateDeviceInitializing,
		EventDial:        StateDialing,
		EventAnswer:      StateDialing,
		EventDeviceError: StateFailed,
		EventDispose:     StateIdle,
	},
	StateDeviceInitializing: {
		EventDeviceReady: StateReady,
		EventInitFailed:  StateFailed,
		EventDeviceError: StateFailed,
		EventDispose:     StateIdle,
	},
	StateReady: {
		EventInitialize:  StateDeviceInitializing,
		EventDial:        StateDialing,
		EventAnswer:      StateDialing,
		EventDeviceError: StateFailed,
		EventDispose:     StateIdle,
	},
	StateDialing: {
		EventConnected:     StateConnected,
		EventConnectFailed: StateFailed,
		EventCallEnded:     StateIdle,
		EventDeviceError:   StateFailed,
		EventDispose:       StateIdle,
	},
	StateConnected: {
		EventConnectFailed: StateFailed,
		EventCallEnded:     StateEnded,
		EventDeviceError:   StateFailed,
		EventDispose:       StateIdle,
	},
	StateEnded: {
		EventReset:       StateIdle,
		EventDeviceError: StateFailed,
		EventDispose:     StateIdle,
	},
	StateFailed: {
		EventInitialize: StateDeviceInitializing,
		EventDismiss:    StateIdle,
		EventDispose:    StateIdle,
	},
}

// Transition returns the state that ev leads to from s. ok is false when ev is
// not valid in s; the state is then unchanged.
func Transition(s State, ev Event) (State, bool) {
	next, ok := transitions[s][ev]
	if !ok {
		return s, false
	}
	return next, true
}
