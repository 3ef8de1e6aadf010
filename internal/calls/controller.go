package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voice-console/internal/auth"
	"voice-console/internal/phone"
	"voice-console/internal/telephony"
)

const sideEffectTimeout = 5 * time.Second

// errSuperseded means the call was ended while a command was still starting it.
var errSuperseded = errors.New("calls: call superseded")

// TokenSource exchanges the caller credential for a signaling token.
type TokenSource interface {
	AccessToken(ctx context.Context, cred auth.Credential) (string, error)
}

// Auditor records call lifecycle events. Failures are logged, never surfaced.
type Auditor interface {
	CallStarted(ctx context.Context, actor, callSID, direction, from, to string) error
	CallEnded(ctx context.Context, actor, callSID string, durationSeconds int, dtmf []string) error
}

type Options struct {
	Factory     telephony.DeviceFactory
	Tokens      TokenSource
	Credentials auth.CredentialSource
	Policy      phone.Policy

	// Optional.
	Guard        Guard
	Audit        Auditor
	Logger       *slog.Logger
	Now          func() time.Time
	TickInterval time.Duration
}

// Controller owns the single call session of one console. All commands and
// device events are serialized through mu; SDK calls that may block are made
// after mu is released, so device callbacks can re-enter freely.
type Controller struct {
	factory telephony.DeviceFactory
	tokens  TokenSource
	creds   auth.CredentialSource
	policy  phone.Policy
	guard   Guard
	audit   Auditor
	log     *slog.Logger
	now     func() time.Time
	tick    time.Duration

	mu    sync.Mutex
	after []func()

	state       State
	device      telephony.Device
	deviceGen   uint64
	userID      string
	tokenExpiry time.Time

	conn      telephony.Connection
	sess      session
	callSeq   uint64
	guardHeld bool
	incoming  *incomingCall
	lastErr   *SessionError
	lastCall  *CallSummary

	timerGen    uint64
	timerStop   chan struct{}
	timerActive bool

	subs    map[uint64]func(Snapshot)
	nextSub uint64
}

type incomingCall struct {
	conn telephony.Connection
	info IncomingCall
}

func NewController(opts Options) (*Controller, error) {
	if opts.Factory == nil {
		return nil, errors.New("calls: device factory is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("calls: token source is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("calls: credential source is required")
	}
	if opts.Policy.DefaultCountryCode == "" {
		opts.Policy = phone.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &Controller{
		factory: opts.Factory,
		tokens:  opts.Tokens,
		creds:   opts.Credentials,
		policy:  opts.Policy,
		guard:   opts.Guard,
		audit:   opts.Audit,
		log:     opts.Logger.With("component", "call_controller"),
		now:     opts.Now,
		tick:    opts.TickInterval,
		state:   StateIdle,
		subs:    make(map[uint64]func(Snapshot)),
	}, nil
}

// Initialize acquires a signaling token and builds the device. It is a no-op
// while a device is live or being built, and re-runnable after a failure.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state.InCall():
		c.unlock()
		return ErrCallInProgress
	case c.state == StateDeviceInitializing:
		c.unlock()
		return nil
	case c.device != nil && (c.state == StateReady || c.state == StateIdle):
		c.unlock()
		return nil
	}
	stale := c.device
	c.device = nil
	c.deviceGen++
	gen := c.deviceGen
	c.lastErr = nil
	c.setState(EventInitialize)
	if stale != nil {
		c.later(func() { c.destroy(stale) })
	}
	c.unlock()

	cred, err := c.creds.Credential(ctx)
	if err == nil && strings.TrimSpace(cred.Token) == "" {
		err = auth.ErrNoCredential
	}
	if err != nil {
		se := &SessionError{Kind: ErrorMissingCredential, Message: "caller credential missing", cause: fmt.Errorf("%w: %v", ErrMissingCredential, err)}
		c.failInit(gen, se)
		return se
	}

	token, err := c.tokens.AccessToken(ctx, cred)
	if err != nil {
		se := sessionError(ErrorTokenAcquisitionFailed, err)
		c.failInit(gen, se)
		return se
	}
	expiry, _ := auth.TokenExpiry(token)

	dev, err := c.factory.NewDevice(ctx, token, c.handlerFor(gen))
	if err != nil {
		se := sessionError(ErrorDevice, err)
		c.failInit(gen, se)
		return se
	}

	c.mu.Lock()
	if gen != c.deviceGen || c.state == StateFailed {
		// Disposed, re-initialized or failed by an early device error meanwhile.
		lastErr := c.lastErr
		c.unlock()
		c.destroy(dev)
		if lastErr != nil {
			return lastErr
		}
		return ErrNotInitialized
	}
	c.device = dev
	c.userID = cred.UserID
	c.tokenExpiry = expiry
	c.publishLocked()
	c.unlock()
	return nil
}

func (c *Controller) failInit(gen uint64, se *SessionError) {
	c.mu.Lock()
	defer c.unlock()
	if gen != c.deviceGen {
		return
	}
	c.lastErr = se
	c.log.Warn("call device initialization failed", "kind", se.Kind, "code", se.Code, "err", se.Message)
	c.setState(EventInitFailed)
}

// Dial places an outbound call. Numbers are normalized before the SDK sees them.
func (c *Controller) Dial(ctx context.Context, to, from string) error {
	if strings.TrimSpace(to) == "" {
		return ErrInvalidDestination
	}
	toE164, err := c.policy.Normalize(to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if strings.TrimSpace(from) == "" {
		return ErrNoSourceNumber
	}
	fromE164, err := c.policy.Normalize(from)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSourceNumber, err)
	}

	c.mu.Lock()
	if err := c.canStartCallLocked(); err != nil {
		c.unlock()
		return err
	}
	if c.incoming != nil {
		c.unlock()
		return ErrCallInProgress
	}
	c.lastErr = nil
	seq := c.beginCallLocked(DirectionOutbound, fromE164, toE164)
	c.setState(EventDial)
	dev := c.device
	c.unlock()

	if err := c.acquireGuard(ctx, seq); err != nil {
		if errors.Is(err, errSuperseded) {
			return nil
		}
		return err
	}

	conn, err := dev.Connect(ctx, telephony.ConnectParams{To: toE164, From: fromE164})
	if err != nil {
		return c.connectFailed(seq, err)
	}
	sid := c.connSID(conn)

	c.mu.Lock()
	if seq != c.callSeq {
		// Ended while the SDK was still connecting.
		c.unlock()
		c.disconnect(conn)
		return nil
	}
	if c.conn == nil {
		c.conn = conn
	}
	if c.sess.callSID == "" && c.conn == conn && sid != "" {
		c.sess.callSID = sid
		if c.state == StateConnected {
			c.publishLocked()
		}
	}
	c.unlock()
	return nil
}

// Answer accepts the ringing inbound call.
func (c *Controller) Answer(ctx context.Context) error {
	c.mu.Lock()
	if err := c.canStartCallLocked(); err != nil {
		c.unlock()
		return err
	}
	inc := c.incoming
	if inc == nil {
		c.unlock()
		return ErrNoIncomingCall
	}
	c.incoming = nil
	c.lastErr = nil
	from, err := c.policy.Normalize(inc.info.From)
	if err != nil {
		from = inc.info.From
	}
	to, err := c.policy.Normalize(inc.info.To)
	if err != nil {
		to = inc.info.To
	}
	seq := c.beginCallLocked(DirectionInbound, from, to)
	c.sess.callSID = inc.info.CallSID
	c.conn = inc.conn
	c.setState(EventAnswer)
	c.unlock()

	if err := c.acquireGuard(ctx, seq); err != nil {
		if errors.Is(err, errSuperseded) {
			// The hangup already disconnected the connection.
			return nil
		}
		c.reject(inc.conn)
		return err
	}
	sid := c.connSID(inc.conn)

	if err := inc.conn.Accept(); err != nil {
		return c.connectFailed(seq, err)
	}

	c.mu.Lock()
	if seq == c.callSeq && c.state == StateDialing {
		c.enterConnectedLocked(inc.conn, sid)
	}
	c.unlock()
	return nil
}

func (c *Controller) canStartCallLocked() error {
	if c.state.InCall() {
		return ErrCallInProgress
	}
	if c.device == nil || (c.state != StateReady && c.state != StateIdle) {
		return ErrNotInitialized
	}
	return nil
}

func (c *Controller) beginCallLocked(dir Direction, from, to string) uint64 {
	c.callSeq++
	c.sess = session{direction: dir, from: from, to: to}
	c.conn = nil
	return c.callSeq
}

// acquireGuard takes the cross-process slot for the call seq. On refusal the
// reservation is rolled back to the rest state. errSuperseded is returned when
// the call ended while the slot was being acquired; the caller must not go on
// to place or accept it.
func (c *Controller) acquireGuard(ctx context.Context, seq uint64) error {
	if c.guard == nil {
		return nil
	}
	c.mu.Lock()
	userID := c.userID
	c.unlock()

	ok, err := c.guard.Acquire(ctx, userID)
	if err == nil && !ok {
		err = ErrCallInProgress
	} else if err != nil {
		err = fmt.Errorf("calls: active call guard: %w", err)
	}

	c.mu.Lock()
	defer c.unlock()
	if err != nil {
		if seq == c.callSeq && c.state == StateDialing {
			c.callSeq++
			c.sess = session{}
			c.conn = nil
			c.setState(EventCallEnded)
		}
		return err
	}
	if seq != c.callSeq {
		// Call ended while acquiring; hand the slot straight back.
		c.later(func() { c.releaseGuard(userID) })
		return errSuperseded
	}
	c.guardHeld = true
	return nil
}

// connectFailed routes an SDK failure for call seq through the classifier.
func (c *Controller) connectFailed(seq uint64, err error) error {
	c.mu.Lock()
	defer c.unlock()
	if seq != c.callSeq {
		return nil
	}
	if IsBenign(err) {
		c.log.Info("call ended by far end", "err", err)
		c.endCallLocked("declined")
		return nil
	}
	se := sessionError(ErrorConnectFailed, err)
	c.failCallLocked(se)
	return se
}

// EndCall hangs up the current call, or declines a ringing one. It is a no-op
// when there is nothing to end.
func (c *Controller) EndCall() {
	c.mu.Lock()
	if !c.state.InCall() {
		inc := c.incoming
		c.incoming = nil
		if inc != nil {
			c.publishLocked()
		}
		c.unlock()
		if inc != nil {
			c.reject(inc.conn)
		}
		return
	}
	conn := c.endCallLocked("local_hangup")
	c.unlock()
	if conn != nil {
		c.disconnect(conn)
	}
}

// Reject declines the ringing inbound call, if any.
func (c *Controller) Reject() {
	c.mu.Lock()
	inc := c.incoming
	c.incoming = nil
	if inc != nil {
		c.publishLocked()
	}
	c.unlock()
	if inc != nil {
		c.reject(inc.conn)
	}
}

// ToggleMute flips mute on the live call and records what the SDK reports.
func (c *Controller) ToggleMute() {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.unlock()
		return
	}
	conn, seq, want := c.conn, c.callSeq, !c.sess.muted
	c.unlock()

	conn.Mute(want)
	got := conn.IsMuted()

	c.mu.Lock()
	if seq == c.callSeq && c.state == StateConnected && c.sess.muted != got {
		c.sess.muted = got
		c.publishLocked()
	}
	c.unlock()
}

// ToggleHold flips hold on the live call and records what the SDK reports.
func (c *Controller) ToggleHold() {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.unlock()
		return
	}
	conn, seq, want := c.conn, c.callSeq, !c.sess.onHold
	c.unlock()

	if err := conn.Hold(want); err != nil {
		c.log.Warn("call hold failed", "on_hold", want, "err", err)
	}
	got := conn.IsOnHold()

	c.mu.Lock()
	if seq == c.callSeq && c.state == StateConnected && c.sess.onHold != got {
		c.sess.onHold = got
		c.publishLocked()
	}
	c.unlock()
}

// SendDigit sends DTMF on the live call. Outside a live call it does nothing.
func (c *Controller) SendDigit(digits string) error {
	if digits == "" || strings.Trim(digits, "0123456789*#wW") != "" {
		return ErrInvalidDigit
	}

	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.unlock()
		return nil
	}
	conn := c.conn
	for _, d := range digits {
		c.sess.dtmf = append(c.sess.dtmf, string(d))
	}
	c.publishLocked()
	c.unlock()

	if err := conn.SendDigits(digits); err != nil {
		c.log.Warn("send dtmf failed", "err", err)
	}
	return nil
}

// Dismiss clears a failure. The device is kept when it survived the failure.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.unlock()
	if c.state != StateFailed {
		return
	}
	c.lastErr = nil
	c.setState(EventDismiss)
}

// Dispose tears everything down: timer, call, device. Safe to call repeatedly.
func (c *Controller) Dispose() {
	c.mu.Lock()
	conn := c.teardownCallLocked("disposed")
	inc := c.incoming
	c.incoming = nil
	dev := c.device
	c.device = nil
	c.deviceGen++
	c.lastErr = nil
	c.tokenExpiry = time.Time{}
	c.stopTimerLocked()
	c.setState(EventDispose)
	c.unlock()

	if conn != nil {
		c.disconnect(conn)
	}
	if inc != nil {
		c.reject(inc.conn)
	}
	if dev != nil {
		c.destroy(dev)
	}
}

// SourceNumberInUse reports whether e164 is the source of the current call.
func (c *Controller) SourceNumberInUse(e164 string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.InCall() || c.sess.direction != DirectionOutbound {
		return false
	}
	return c.policy.Equal(c.sess.from, e164)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every state change. fn runs outside the
// controller lock and may call back into it.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// TimerActive reports whether the duration timer is running.
func (c *Controller) TimerActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timerActive
}

func (c *Controller) handlerFor(gen uint64) telephony.EventHandler {
	return func(ev telephony.Event) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("call event handler panicked", "event", ev.Type, "panic", r)
			}
		}()
		c.handleDeviceEvent(gen, ev)
	}
}

func (c *Controller) handleDeviceEvent(gen uint64, ev telephony.Event) {
	// SDK calls stay outside the lock.
	sidConn := ev.Conn
	if sidConn == nil && ev.Type == telephony.EventConnect {
		c.mu.Lock()
		sidConn = c.conn
		c.mu.Unlock()
	}
	sid := c.connSID(sidConn)

	c.mu.Lock()
	defer c.unlock()
	if gen != c.deviceGen {
		c.log.Debug("event from stale device ignored", "event", ev.Type)
		return
	}

	switch ev.Type {
	case telephony.EventReady:
		c.setState(EventDeviceReady)

	case telephony.EventError:
		c.onErrorLocked(ev)

	case telephony.EventIncoming:
		if ev.Conn == nil {
			break
		}
		if c.state.InCall() || c.incoming != nil || (c.state != StateReady && c.state != StateIdle) {
			c.log.Info("incoming call rejected while busy", "state", c.state)
			conn := ev.Conn
			c.later(func() { c.reject(conn) })
			break
		}
		c.incoming = &incomingCall{conn: ev.Conn, info: IncomingCall{
			CallSID:    sid,
			From:       ev.From,
			To:         ev.To,
			ReceivedAt: c.now(),
		}}
		c.publishLocked()

	case telephony.EventConnect:
		if c.state != StateDialing || (c.conn != nil && ev.Conn != nil && ev.Conn != c.conn) {
			break
		}
		c.enterConnectedLocked(ev.Conn, sid)

	case telephony.EventDisconnect, telephony.EventCancel:
		if c.isIncomingLocked(ev.Conn) {
			c.incoming = nil
			c.publishLocked()
			break
		}
		if c.isCurrentLocked(ev.Conn) {
			c.endCallLocked("remote_hangup")
		}

	case telephony.EventMute:
		if c.state == StateConnected && c.isCurrentLocked(ev.Conn) && c.sess.muted != ev.Muted {
			c.sess.muted = ev.Muted
			c.publishLocked()
		}
	}
}

func (c *Controller) onErrorLocked(ev telephony.Event) {
	de := ev.Err
	if de == nil {
		de = &telephony.DeviceError{Message: "unknown device error"}
	}

	if ev.Conn != nil && c.isIncomingLocked(ev.Conn) {
		c.incoming = nil
		c.publishLocked()
		return
	}

	if IsBenign(de) {
		if c.state.InCall() {
			c.log.Info("call ended by far end", "code", de.Code, "err", de.Message)
			c.endCallLocked("declined")
		}
		return
	}

	if ev.Conn != nil {
		if c.state.InCall() && c.isCurrentLocked(ev.Conn) {
			c.log.Warn("call failed", "code", de.Code, "err", de.Message)
			c.failCallLocked(sessionError(ErrorConnectFailed, de))
		}
		return
	}

	// Device-level: the device is gone until the caller re-initializes.
	c.log.Error("call device error", "code", de.Code, "err", de.Message)
	c.teardownCallLocked("device_error")
	if inc := c.incoming; inc != nil {
		c.incoming = nil
		c.later(func() { c.reject(inc.conn) })
	}
	if dev := c.device; dev != nil {
		c.later(func() { c.destroy(dev) })
	}
	c.device = nil
	c.deviceGen++
	c.lastErr = sessionError(ErrorDevice, de)
	c.setState(EventDeviceError)
}

func (c *Controller) isCurrentLocked(conn telephony.Connection) bool {
	if !c.state.InCall() {
		return false
	}
	return conn == nil || c.conn == nil || conn == c.conn
}

func (c *Controller) isIncomingLocked(conn telephony.Connection) bool {
	return conn != nil && c.incoming != nil && c.incoming.conn == conn
}

// enterConnectedLocked marks the call live. sid is conn's SID, read by the
// caller before taking the lock.
func (c *Controller) enterConnectedLocked(conn telephony.Connection, sid string) {
	if !c.setState(EventConnected) {
		return
	}
	if c.conn == nil {
		c.conn = conn
	}
	if sid != "" && (conn == nil || conn == c.conn) {
		c.sess.callSID = sid
	}
	c.sess.startedAt = c.now()
	c.sess.duration = 0
	c.startTimerLocked()
	c.publishLocked()

	if c.audit != nil && c.userID != "" {
		actor, s := c.userID, c.sess
		c.later(func() {
			ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
			defer cancel()
			if err := c.audit.CallStarted(ctx, actor, s.callSID, string(s.direction), s.from, s.to); err != nil {
				c.log.Warn("audit call start failed", "err", err)
			}
		})
	}
}

// endCallLocked is the shared End-call path. It returns the connection the
// caller should disconnect, if any.
func (c *Controller) endCallLocked(reason string) telephony.Connection {
	if !c.state.InCall() {
		return nil
	}
	conn := c.teardownCallLocked(reason)
	c.setState(EventCallEnded)
	if c.state == StateEnded {
		c.setState(EventReset)
	}
	return conn
}

func (c *Controller) failCallLocked(se *SessionError) {
	c.teardownCallLocked("failed")
	c.lastErr = se
	c.setState(EventConnectFailed)
}

// teardownCallLocked stops the timer, freezes the duration into LastCall and
// clears the session without changing state.
func (c *Controller) teardownCallLocked(reason string) telephony.Connection {
	if !c.state.InCall() {
		return nil
	}
	c.stopTimerLocked()

	s := c.sess
	sum := CallSummary{
		CallSID:   s.callSID,
		Direction: s.direction,
		From:      s.from,
		To:        s.to,
		EndedAt:   c.now(),
		DTMFSent:  append([]string(nil), s.dtmf...),
		EndReason: reason,
	}
	if c.state == StateConnected {
		sum.DurationSeconds = c.elapsedLocked()
		started := s.startedAt
		sum.StartedAt = &started
	}
	c.lastCall = &sum

	conn := c.conn
	c.conn = nil
	c.sess = session{}
	c.callSeq++

	if c.guardHeld {
		c.guardHeld = false
		uid := c.userID
		c.later(func() { c.releaseGuard(uid) })
	}
	if c.audit != nil && c.userID != "" && sum.StartedAt != nil {
		actor := c.userID
		c.later(func() {
			ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
			defer cancel()
			if err := c.audit.CallEnded(ctx, actor, sum.CallSID, sum.DurationSeconds, sum.DTMFSent); err != nil {
				c.log.Warn("audit call end failed", "err", err)
			}
		})
	}
	return conn
}

func (c *Controller) elapsedLocked() int {
	if c.sess.startedAt.IsZero() {
		return 0
	}
	d := c.now().Sub(c.sess.startedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// startTimerLocked ticks the displayed duration. Each tick recomputes the
// wall-clock delta from startedAt so a stalled process catches up.
func (c *Controller) startTimerLocked() {
	c.stopTimerLocked()
	gen := c.timerGen
	stop := make(chan struct{})
	c.timerStop = stop
	c.timerActive = true
	interval := c.tick

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				c.onTick(gen)
			}
		}
	}()
}

func (c *Controller) stopTimerLocked() {
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
	// A tick already past the select sees a stale generation and drops out.
	c.timerGen++
	c.timerActive = false
}

func (c *Controller) onTick(gen uint64) {
	c.mu.Lock()
	defer c.unlock()
	if gen != c.timerGen || c.state != StateConnected {
		return
	}
	if d := c.elapsedLocked(); d != c.sess.duration {
		c.sess.duration = d
		c.publishLocked()
	}
}

// setState feeds ev to the transition function and publishes on change.
func (c *Controller) setState(ev Event) bool {
	next, ok := Transition(c.state, ev)
	if !ok {
		c.log.Debug("call event ignored", "state", c.state, "event", ev)
		return false
	}
	if next != c.state {
		c.log.Info("call state changed", "from", c.state, "to", next, "event", ev)
	}
	c.state = next
	c.publishLocked()
	return true
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:           c.state,
		DeviceReady:     c.device != nil && c.state != StateDeviceInitializing,
		Direction:       c.sess.direction,
		From:            c.sess.from,
		To:              c.sess.to,
		CallSID:         c.sess.callSID,
		DurationSeconds: c.sess.duration,
		Muted:           c.sess.muted,
		OnHold:          c.sess.onHold,
		DTMFSent:        append([]string{}, c.sess.dtmf...),
	}
	if !c.sess.startedAt.IsZero() {
		t := c.sess.startedAt
		s.StartedAt = &t
	}
	if c.lastErr != nil {
		e := *c.lastErr
		s.LastError = &e
	}
	if c.incoming != nil {
		in := c.incoming.info
		s.Incoming = &in
	}
	if c.lastCall != nil {
		lc := *c.lastCall
		lc.DTMFSent = append([]string(nil), c.lastCall.DTMFSent...)
		s.LastCall = &lc
	}
	if !c.tokenExpiry.IsZero() {
		t := c.tokenExpiry
		s.TokenExpiresAt = &t
	}
	return s
}

// publishLocked queues the current snapshot for subscribers.
func (c *Controller) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.later(func() {
		for _, fn := range fns {
			c.notify(fn, snap)
		}
	})
}

func (c *Controller) notify(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("call subscriber panicked", "state", snap.State, "panic", r)
		}
	}()
	fn(snap)
}

// later queues fn to run once mu is released by unlock.
func (c *Controller) later(fn func()) {
	c.after = append(c.after, fn)
}

func (c *Controller) unlock() {
	after := c.after
	c.after = nil
	c.mu.Unlock()
	for _, fn := range after {
		fn()
	}
}

// connSID reads conn's SID, treating a misbehaving connection as having none.
func (c *Controller) connSID(conn telephony.Connection) (sid string) {
	if conn == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("call connection sid panicked", "panic", r)
			sid = ""
		}
	}()
	return conn.SID()
}

func (c *Controller) disconnect(conn telephony.Connection) {
	if err := conn.Disconnect(); err != nil {
		c.log.Warn("call disconnect failed", "err", err)
	}
}

func (c *Controller) reject(conn telephony.Connection) {
	if err := conn.Reject(); err != nil {
		c.log.Warn("call reject failed", "err", err)
	}
}

func (c *Controller) destroy(dev telephony.Device) {
	if err := dev.Destroy(); err != nil {
		c.log.Warn("call device destroy failed", "err", err)
	}
}

func (c *Controller) releaseGuard(userID string) {
	if c.guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := c.guard.Release(ctx, userID); err != nil {
		c.log.Warn("active call guard release failed", "err", err)
	}
}
