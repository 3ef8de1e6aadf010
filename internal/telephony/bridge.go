package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrNoWidget   = errors.New("telephony: no device widget attached")
	ErrWidgetGone = errors.New("telephony: device widget disconnected")
)

// widgetLostCode is reported to live devices when their widget goes away.
const widgetLostCode = 31000

const defaultRequestTimeout = 10 * time.Second

// Bridge is a DeviceFactory backed by the browser widget that hosts the voice
// SDK. The widget attaches over a websocket; commands go out as JSON and SDK
// callbacks come back as events. One widget is attached at a time; attaching a
// new one drops the previous widget and every device it owned.
type Bridge struct {
	RequestTimeout time.Duration
	Logger         *slog.Logger

	mu      sync.Mutex
	current *widget
}

type command struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Device string `json:"device"`
	Conn   string `json:"conn,omitempty"`
	Token  string `json:"token,omitempty"`
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	Value  *bool  `json:"value,omitempty"`
	Digits string `json:"digits,omitempty"`
}

// message is either a reply to a command (Type "reply", ID set) or an SDK event.
type message struct {
	Type    string       `json:"type"`
	ID      string       `json:"id,omitempty"`
	Event   EventType    `json:"event,omitempty"`
	Device  string       `json:"device,omitempty"`
	Conn    string       `json:"conn,omitempty"`
	CallSID string       `json:"callSid,omitempty"`
	From    string       `json:"from,omitempty"`
	To      string       `json:"to,omitempty"`
	Muted   *bool        `json:"muted,omitempty"`
	OnHold  *bool        `json:"onHold,omitempty"`
	Error   *DeviceError `json:"error,omitempty"`
}

func (b *Bridge) log() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) timeout() time.Duration {
	if b.RequestTimeout > 0 {
		return b.RequestTimeout
	}
	return defaultRequestTimeout
}

// Attached reports whether a widget is currently connected.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}

// Attach serves one widget connection until it closes. Devices created through
// it receive an error event when it does.
func (b *Bridge) Attach(ws *websocket.Conn) error {
	w := &widget{
		ws:      ws,
		timeout: b.timeout(),
		pending: make(map[string]chan message),
		devices: make(map[string]*bridgeDevice),
		events:  make(chan func(), 64),
	}

	b.mu.Lock()
	prev := b.current
	b.current = w
	b.mu.Unlock()
	if prev != nil {
		b.log().Info("device widget replaced")
		_ = prev.ws.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.dispatch(b.log())
	}()

	err := w.readLoop(b.log())
	w.shutdown()
	<-done

	b.mu.Lock()
	if b.current == w {
		b.current = nil
	}
	b.mu.Unlock()
	_ = ws.Close()
	return err
}

func (b *Bridge) NewDevice(ctx context.Context, token string, onEvent EventHandler) (Device, error) {
	b.mu.Lock()
	w := b.current
	b.mu.Unlock()
	if w == nil {
		return nil, ErrNoWidget
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	dev := &bridgeDevice{
		id:      uuid.NewString(),
		w:       w,
		onEvent: onEvent,
		conns:   make(map[string]*bridgeConn),
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrNoWidget
	}
	w.devices[dev.id] = dev
	w.mu.Unlock()

	if _, err := w.request(ctx, command{Op: "setup", Device: dev.id, Token: token}); err != nil {
		w.removeDevice(dev.id)
		return nil, err
	}
	return dev, nil
}

type widget struct {
	ws      *websocket.Conn
	timeout time.Duration
	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending map[string]chan message
	devices map[string]*bridgeDevice

	events chan func()
}

func (w *widget) send(cmd command) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.ws.WriteJSON(cmd)
}

func (w *widget) request(ctx context.Context, cmd command) (message, error) {
	cmd.ID = uuid.NewString()
	ch := make(chan message, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return message{}, ErrWidgetGone
	}
	w.pending[cmd.ID] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, cmd.ID)
		w.mu.Unlock()
	}()

	if err := w.send(cmd); err != nil {
		return message{}, fmt.Errorf("telephony: send %s: %w", cmd.Op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	select {
	case m, ok := <-ch:
		if !ok {
			return message{}, ErrWidgetGone
		}
		if m.Error != nil {
			return m, m.Error
		}
		return m, nil
	case <-ctx.Done():
		return message{}, fmt.Errorf("telephony: %s: %w", cmd.Op, ctx.Err())
	}
}

func (w *widget) readLoop(log *slog.Logger) error {
	for {
		_, data, err := w.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("telephony: widget read: %w", err)
			}
			return nil
		}

		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warn("device widget sent malformed message", "err", err)
			continue
		}

		switch m.Type {
		case "reply":
			w.mu.Lock()
			ch := w.pending[m.ID]
			w.mu.Unlock()
			if ch != nil {
				select {
				case ch <- m:
				default:
				}
			}
		case "event":
			w.mu.Lock()
			dev := w.devices[m.Device]
			w.mu.Unlock()
			if dev == nil {
				log.Debug("event for unknown device dropped", "device", m.Device, "event", m.Event)
				continue
			}
			ev := dev.translate(m)
			w.events <- func() { dev.emit(ev) }
		default:
			log.Warn("device widget sent unknown message type", "type", m.Type)
		}
	}
}

// dispatch runs event handlers off the read loop so a handler may issue
// commands and wait for their replies.
func (w *widget) dispatch(log *slog.Logger) {
	for fn := range w.events {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("device event handler panicked", "panic", r)
				}
			}()
			fn()
		}()
	}
}

func (w *widget) shutdown() {
	w.mu.Lock()
	w.closed = true
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
	devs := make([]*bridgeDevice, 0, len(w.devices))
	for id, d := range w.devices {
		devs = append(devs, d)
		delete(w.devices, id)
	}
	w.mu.Unlock()

	for _, d := range devs {
		ev := Event{Type: EventError, Err: &DeviceError{Code: widgetLostCode, Message: ErrWidgetGone.Error()}}
		w.events <- func() { d.emit(ev) }
	}
	close(w.events)
}

func (w *widget) removeDevice(id string) {
	w.mu.Lock()
	delete(w.devices, id)
	w.mu.Unlock()
}

type bridgeDevice struct {
	id      string
	w       *widget
	onEvent EventHandler

	mu        sync.Mutex
	destroyed bool
	conns     map[string]*bridgeConn
}

func (d *bridgeDevice) Connect(ctx context.Context, p ConnectParams) (Connection, error) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil, ErrWidgetGone
	}
	c := &bridgeConn{id: uuid.NewString(), dev: d}
	// Registered before the request: connect events can beat the reply.
	d.conns[c.id] = c
	d.mu.Unlock()

	reply, err := d.w.request(ctx, command{Op: "connect", Device: d.id, Conn: c.id, To: p.To, From: p.From})
	if err != nil {
		d.dropConn(c.id)
		return nil, err
	}
	if reply.CallSID != "" {
		c.setSID(reply.CallSID)
	}
	return c, nil
}

func (d *bridgeDevice) Destroy() error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.destroyed = true
	d.conns = make(map[string]*bridgeConn)
	d.mu.Unlock()

	d.w.removeDevice(d.id)
	if _, err := d.w.request(context.Background(), command{Op: "destroy", Device: d.id}); err != nil && !errors.Is(err, ErrWidgetGone) {
		return err
	}
	return nil
}

func (d *bridgeDevice) emit(ev Event) {
	d.mu.Lock()
	dead := d.destroyed
	d.mu.Unlock()
	if dead {
		return
	}
	d.onEvent(ev)
}

func (d *bridgeDevice) dropConn(id string) {
	d.mu.Lock()
	delete(d.conns, id)
	d.mu.Unlock()
}

// translate maps a widget event onto the device contract, tracking
// connections the widget reports.
func (d *bridgeDevice) translate(m message) Event {
	ev := Event{Type: m.Event, Err: m.Error, From: m.From, To: m.To}
	if ev.Type == EventError && ev.Err == nil {
		ev.Err = &DeviceError{Message: "unknown device error"}
	}
	if m.Conn == "" {
		return ev
	}

	d.mu.Lock()
	c := d.conns[m.Conn]
	if c == nil {
		c = &bridgeConn{id: m.Conn, dev: d}
		if m.Event == EventIncoming {
			d.conns[m.Conn] = c
		}
	}
	if m.Event == EventDisconnect || m.Event == EventCancel {
		delete(d.conns, m.Conn)
	}
	d.mu.Unlock()

	if m.CallSID != "" {
		c.setSID(m.CallSID)
	}
	if m.Muted != nil {
		c.setMuted(*m.Muted)
		ev.Muted = *m.Muted
	}
	if m.OnHold != nil {
		c.setOnHold(*m.OnHold)
	}
	ev.Conn = c
	return ev
}

type bridgeConn struct {
	id  string
	dev *bridgeDevice

	mu     sync.Mutex
	sid    string
	muted  bool
	onHold bool
}

func (c *bridgeConn) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

func (c *bridgeConn) setSID(sid string) {
	c.mu.Lock()
	c.sid = sid
	c.mu.Unlock()
}

func (c *bridgeConn) setMuted(v bool) {
	c.mu.Lock()
	c.muted = v
	c.mu.Unlock()
}

func (c *bridgeConn) setOnHold(v bool) {
	c.mu.Lock()
	c.onHold = v
	c.mu.Unlock()
}

func (c *bridgeConn) do(op string, mut func(*command)) (message, error) {
	cmd := command{Op: op, Device: c.dev.id, Conn: c.id}
	if mut != nil {
		mut(&cmd)
	}
	return c.dev.w.request(context.Background(), cmd)
}

func (c *bridgeConn) Accept() error {
	_, err := c.do("accept", nil)
	return err
}

func (c *bridgeConn) Reject() error {
	_, err := c.do("reject", nil)
	c.dev.dropConn(c.id)
	return err
}

func (c *bridgeConn) Mute(muted bool) {
	reply, err := c.do("mute", func(cmd *command) { cmd.Value = &muted })
	if err == nil && reply.Muted != nil {
		c.setMuted(*reply.Muted)
	}
}

func (c *bridgeConn) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *bridgeConn) Hold(onHold bool) error {
	reply, err := c.do("hold", func(cmd *command) { cmd.Value = &onHold })
	if err != nil {
		return err
	}
	if reply.OnHold != nil {
		c.setOnHold(*reply.OnHold)
	}
	return nil
}

func (c *bridgeConn) IsOnHold() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onHold
}

func (c *bridgeConn) SendDigits(digits string) error {
	_, err := c.do("digits", func(cmd *command) { cmd.Digits = digits })
	return err
}

func (c *bridgeConn) Disconnect() error {
	_, err := c.do("disconnect", nil)
	return err
}
