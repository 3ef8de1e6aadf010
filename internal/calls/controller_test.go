package calls

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"voice-console/internal/auth"
	"voice-console/internal/backend"
	"voice-console/internal/phone"
	"voice-console/internal/telephony"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeConn struct {
	mu          sync.Mutex
	sid         string
	muted       bool
	onHold      bool
	ignoreMute  bool
	digits      []string
	accepted    int
	rejected    int
	disconnects int
}

func (c *fakeConn) SID() string { return c.sid }

func (c *fakeConn) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted++
	return nil
}

func (c *fakeConn) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected++
	return nil
}

func (c *fakeConn) Mute(m bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ignoreMute {
		c.muted = m
	}
}

func (c *fakeConn) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *fakeConn) Hold(h bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHold = h
	return nil
}

func (c *fakeConn) IsOnHold() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onHold
}

func (c *fakeConn) SendDigits(d string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.digits = append(c.digits, d)
	return nil
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

type fakeDevice struct {
	mu         sync.Mutex
	connects   []telephony.ConnectParams
	conn       *fakeConn
	connectErr error
	destroyed  int
}

func (d *fakeDevice) Connect(ctx context.Context, p telephony.ConnectParams) (telephony.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects = append(d.connects, p)
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return d.conn, nil
}

func (d *fakeDevice) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed++
	return nil
}

func (d *fakeDevice) lastConnect() telephony.ConnectParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects[len(d.connects)-1]
}

type fakeFactory struct {
	mu       sync.Mutex
	device   *fakeDevice
	handlers []telephony.EventHandler
	tokens   []string
	err      error
}

func (f *fakeFactory) NewDevice(ctx context.Context, token string, h telephony.EventHandler) (telephony.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tokens = append(f.tokens, token)
	f.handlers = append(f.handlers, h)
	return f.device, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// emit delivers ev through the most recent device's handler.
func (f *fakeFactory) emit(ev telephony.Event) {
	f.mu.Lock()
	h := f.handlers[len(f.handlers)-1]
	f.mu.Unlock()
	h(ev)
}

type fakeTokens struct {
	token string
	err   error
}

func (f fakeTokens) AccessToken(ctx context.Context, cred auth.Credential) (string, error) {
	return f.token, f.err
}

type fakeGuard struct {
	mu       sync.Mutex
	allow    bool
	acquired int
	released int
}

func (g *fakeGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.allow {
		return false, nil
	}
	g.acquired++
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released++
	return nil
}

type harness struct {
	c       *Controller
	factory *fakeFactory
	device  *fakeDevice
	conn    *fakeConn
	clock   *fakeClock
}

func newHarness(t *testing.T, mut func(*Options)) *harness {
	t.Helper()
	conn := &fakeConn{sid: "CA100"}
	dev := &fakeDevice{conn: conn}
	h := &harness{
		factory: &fakeFactory{device: dev},
		device:  dev,
		conn:    conn,
		clock:   &fakeClock{t: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)},
	}
	opts := Options{
		Factory:      h.factory,
		Tokens:       fakeTokens{token: "sig-token"},
		Credentials:  auth.StaticCredentials{UserID: "u1", Token: "bearer"},
		Policy:       phone.DefaultPolicy(),
		Now:          h.clock.Now,
		TickInterval: time.Hour,
	}
	if mut != nil {
		mut(&opts)
	}
	c, err := NewController(opts)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(c.Dispose)
	h.c = c
	return h
}

// ready initializes the controller and delivers the device-ready event.
func (h *harness) ready(t *testing.T) {
	t.Helper()
	if err := h.c.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.factory.emit(telephony.Event{Type: telephony.EventReady})
	if s := h.c.Snapshot().State; s != StateReady {
		t.Fatalf("expected ready, got %s", s)
	}
}

// connect dials and delivers the connect event.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.c.Dial(context.Background(), "9107555577", "+14155550100"); err != nil {
		t.Fatalf("dial: %v", err)
	}
	h.factory.emit(telephony.Event{Type: telephony.EventConnect, Conn: h.conn})
	if s := h.c.Snapshot().State; s != StateConnected {
		t.Fatalf("expected connected, got %s", s)
	}
}

func TestController_InitializeThenReady(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.Initialize(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s := h.c.Snapshot(); s.State != StateDeviceInitializing {
		t.Fatalf("expected device_initializing, got %s", s.State)
	}
	h.factory.emit(telephony.Event{Type: telephony.EventReady})
	if s := h.c.Snapshot(); s.State != StateReady || !s.DeviceReady {
		t.Fatalf("expected ready device, got %#v", s)
	}

	// Already initialized.
	if err := h.c.Initialize(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if n := h.factory.created(); n != 1 {
		t.Fatalf("expected one device, got %d", n)
	}
}

func TestController_MissingCredential(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Credentials = auth.StaticCredentials{} })

	err := h.c.Initialize(context.Background())
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	s := h.c.Snapshot()
	if s.State != StateFailed || s.LastError == nil || s.LastError.Kind != ErrorMissingCredential {
		t.Fatalf("unexpected snapshot %#v", s)
	}
	if h.factory.created() != 0 {
		t.Fatalf("expected no device")
	}
}

func TestController_TokenExchangeUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"expired"}`))
	}))
	defer srv.Close()
	client := backend.NewClient(srv.URL, time.Second, nil)

	h := newHarness(t, func(o *Options) { o.Tokens = client })

	err := h.c.Initialize(context.Background())
	if !errors.Is(err, backend.ErrUnauthorized) {
		t.Fatalf("expected unauthorized cause, got %v", err)
	}
	s := h.c.Snapshot()
	if s.State != StateFailed || s.LastError == nil || s.LastError.Kind != ErrorTokenAcquisitionFailed {
		t.Fatalf("unexpected snapshot %#v", s)
	}
	if h.factory.created() != 0 {
		t.Fatalf("expected no device to be constructed")
	}

	// Retry is explicit and succeeds once the endpoint recovers.
	h.c.tokens = fakeTokens{token: "sig-token"}
	if err := h.c.Initialize(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if h.factory.created() != 1 {
		t.Fatalf("expected device after retry")
	}
}

func TestController_TokenExpiryInSnapshot(t *testing.T) {
	exp := time.Date(2026, 1, 2, 16, 0, 0, 0, time.UTC)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}).SignedString([]byte("provider-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	h := newHarness(t, func(o *Options) { o.Tokens = fakeTokens{token: tok} })
	h.ready(t)

	s := h.c.Snapshot()
	if s.TokenExpiresAt == nil || !s.TokenExpiresAt.Equal(exp) {
		t.Fatalf("expected token expiry %v, got %v", exp, s.TokenExpiresAt)
	}
}

func TestController_DialNormalizesDestination(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)

	for _, in := range []string{"9107555577", "19107555577", "+19107555577"} {
		if err := h.c.Dial(context.Background(), in, "4155550100"); err != nil {
			t.Fatalf("dial %q: %v", in, err)
		}
		p := h.device.lastConnect()
		if p.To != "+19107555577" || p.From != "+14155550100" {
			t.Fatalf("dial %q: unexpected params %#v", in, p)
		}
		h.c.EndCall()
		if s := h.c.Snapshot().State; s != StateIdle {
			t.Fatalf("expected idle after end, got %s", s)
		}
	}
}

func TestController_DialPreconditions(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.c.Dial(context.Background(), "9107555577", "+14155550100"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	h.ready(t)
	if err := h.c.Dial(context.Background(), "  ", "+14155550100"); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
	if err := h.c.Dial(context.Background(), "9107555577", ""); !errors.Is(err, ErrNoSourceNumber) {
		t.Fatalf("expected ErrNoSourceNumber, got %v", err)
	}
	if s := h.c.Snapshot(); s.State != StateReady || s.LastError != nil {
		t.Fatalf("precondition failures must not touch state, got %#v", s)
	}
}

func TestController_SecondDialRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)

	if err := h.c.Dial(context.Background(), "9107555577", "+14155550100"); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := h.c.Dial(context.Background(), "2125550123", "+14155550100"); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress while dialing, got %v", err)
	}
	h.factory.emit(telephony.Event{Type: telephony.EventConnect, Conn: h.conn})
	if err := h.c.Dial(context.Background(), "2125550123", "+14155550100"); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress while connected, got %v", err)
	}

	s := h.c.Snapshot()
	if s.State != StateConnected || s.To != "+19107555577" {
		t.Fatalf("existing session altered: %#v", s)
	}
	if len(h.device.connects) != 1 {
		t.Fatalf("expected one SDK connect, got %d", len(h.device.connects))
	}
}

func TestController_EndCallWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.c.EndCall()
	h.c.EndCall()
	if s := h.c.Snapshot(); s.State != StateIdle || s.LastCall != nil {
		t.Fatalf("unexpected snapshot %#v", s)
	}
}

func TestController_RemoteDisconnectFreezesDuration(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)

	var mu sync.Mutex
	var seen []State
	cancel := h.c.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	})
	defer cancel()

	h.connect(t)
	s := h.c.Snapshot()
	if s.StartedAt == nil || !s.StartedAt.Equal(h.clock.Now()) {
		t.Fatalf("expected startedAt on connect, got %v", s.StartedAt)
	}
	if !h.c.TimerActive() {
		t.Fatalf("expected timer running while connected")
	}

	h.clock.Advance(45 * time.Second)
	h.factory.emit(telephony.Event{Type: telephony.EventDisconnect, Conn: h.conn})

	s = h.c.Snapshot()
	if s.State != StateIdle {
		t.Fatalf("expected idle, got %s", s.State)
	}
	if s.LastCall == nil || s.LastCall.DurationSeconds != 45 {
		t.Fatalf("expected frozen duration 45, got %#v", s.LastCall)
	}
	if s.LastCall.CallSID != "CA100" || s.LastCall.EndReason != "remote_hangup" {
		t.Fatalf("unexpected summary %#v", s.LastCall)
	}
	if h.c.TimerActive() {
		t.Fatalf("timer still running after disconnect")
	}
	if h.conn.disconnects != 0 {
		t.Fatalf("remote hangup must not disconnect again")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[len(seen)-2] != StateEnded || seen[len(seen)-1] != StateIdle {
		t.Fatalf("expected ended then idle, got %v", seen)
	}
}

func TestController_TimerTracksWallClock(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.TickInterval = 5 * time.Millisecond })
	h.ready(t)
	h.connect(t)

	h.clock.Advance(3 * time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for h.c.Snapshot().DurationSeconds != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("duration never reached 3, got %d", h.c.Snapshot().DurationSeconds)
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.c.EndCall()
	if h.c.TimerActive() {
		t.Fatalf("timer still running after end call")
	}
	if h.conn.disconnects != 1 {
		t.Fatalf("expected SDK disconnect, got %d", h.conn.disconnects)
	}
	h.clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if s := h.c.Snapshot(); s.DurationSeconds != 0 || s.LastCall.DurationSeconds != 3 {
		t.Fatalf("duration changed after end: %#v", s)
	}
}

func TestController_BenignConnectErrorEndsCall(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	h.device.connectErr = &telephony.DeviceError{Code: 31486, Message: "Busy Here"}

	if err := h.c.Dial(context.Background(), "9107555577", "+14155550100"); err != nil {
		t.Fatalf("expected benign error to be swallowed, got %v", err)
	}
	s := h.c.Snapshot()
	if s.State != StateIdle || s.LastError != nil {
		t.Fatalf("expected idle without error, got %#v", s)
	}
}

func TestController_FatalConnectErrorFailsUntilDismissed(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	h.device.connectErr = &telephony.DeviceError{Code: 31005, Message: "connection error"}

	err := h.c.Dial(context.Background(), "9107555577", "+14155550100")
	var se *SessionError
	if !errors.As(err, &se) || se.Kind != ErrorConnectFailed || se.Code != 31005 {
		t.Fatalf("expected connect_failed session error, got %v", err)
	}
	if s := h.c.Snapshot(); s.State != StateFailed || s.LastError == nil {
		t.Fatalf("expected failed with last error, got %#v", s)
	}
	if err := h.c.Dial(context.Background(), "9107555577", "+14155550100"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected new calls blocked while failed, got %v", err)
	}

	h.c.Dismiss()
	if s := h.c.Snapshot(); s.State != StateIdle || s.LastError != nil {
		t.Fatalf("expected idle after dismiss, got %#v", s)
	}
	h.device.connectErr = nil
	if err := h.c.Dial(context.Background(), "9107555577", "+14155550100"); err != nil {
		t.Fatalf("expected dial after dismiss, got %v", err)
	}
}

func TestController_DeviceErrorDuringCall(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	h.connect(t)

	h.clock.Advance(12 * time.Second)
	h.factory.emit(telephony.Event{Type: telephony.EventError, Err: &telephony.DeviceError{Code: 31204, Message: "jwt invalid"}})

	s := h.c.Snapshot()
	if s.State != StateFailed || s.LastError == nil || s.LastError.Kind != ErrorDevice || s.LastError.Code != 31204 {
		t.Fatalf("unexpected snapshot %#v", s)
	}
	if s.LastCall == nil || s.LastCall.DurationSeconds != 12 {
		t.Fatalf("expected call summary, got %#v", s.LastCall)
	}
	if h.c.TimerActive() {
		t.Fatalf("timer still running")
	}
	if h.device.destroyed != 1 {
		t.Fatalf("expected device destroyed, got %d", h.device.destroyed)
	}

	// The destroyed device's late events are ignored.
	h.factory.emit(telephony.Event{Type: telephony.EventReady})
	if s := h.c.Snapshot().State; s != StateFailed {
		t.Fatalf("stale event changed state to %s", s)
	}

	h.c.Dismiss()
	if err := h.c.Dial(context.Background(), "9107555577", "+14155550100"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected re-initialization required, got %v", err)
	}
}

func TestController_MuteAndHoldReadBack(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	h.connect(t)

	h.conn.ignoreMute = true
	h.c.ToggleMute()
	if h.c.Snapshot().Muted {
		t.Fatalf("muted must reflect the SDK, not the request")
	}
	h.conn.ignoreMute = false
	h.c.ToggleMute()
	if !h.c.Snapshot().Muted {
		t.Fatalf("expected muted")
	}

	h.c.ToggleHold()
	if !h.c.Snapshot().OnHold {
		t.Fatalf("expected on hold")
	}

	h.factory.emit(telephony.Event{Type: telephony.EventMute, Conn: h.conn, Muted: false})
	if h.c.Snapshot().Muted {
		t.Fatalf("expected mute event to update state")
	}
}

func TestController_InCallControlsNoopOutsideCall(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)

	h.c.ToggleMute()
	h.c.ToggleHold()
	if err := h.c.SendDigit("5"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	s := h.c.Snapshot()
	if s.Muted || s.OnHold || len(s.DTMFSent) != 0 {
		t.Fatalf("expected untouched snapshot, got %#v", s)
	}
	if err := h.c.SendDigit("x"); !errors.Is(err, ErrInvalidDigit) {
		t.Fatalf("expected ErrInvalidDigit, got %v", err)
	}
}

func TestController_SendDigitRecordsTrail(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	h.connect(t)

	for _, d := range []string{"1", "#", "9"} {
		if err := h.c.SendDigit(d); err != nil {
			t.Fatalf("send %q: %v", d, err)
		}
	}
	s := h.c.Snapshot()
	if len(s.DTMFSent) != 3 || s.DTMFSent[1] != "#" {
		t.Fatalf("unexpected dtmf trail %v", s.DTMFSent)
	}
	if len(h.conn.digits) != 3 {
		t.Fatalf("expected digits sent to SDK, got %v", h.conn.digits)
	}
}

func TestController_IncomingCall(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)

	in := &fakeConn{sid: "CA900"}
	h.factory.emit(telephony.Event{Type: telephony.EventIncoming, Conn: in, From: "+12125550123", To: "+14155550100"})
	s := h.c.Snapshot()
	if s.Incoming == nil || s.Incoming.CallSID != "CA900" {
		t.Fatalf("expected incoming call, got %#v", s.Incoming)
	}

	if err := h.c.Answer(context.Background()); err != nil {
		t.Fatalf("answer: %v", err)
	}
	s = h.c.Snapshot()
	if s.State != StateConnected || s.Direction != DirectionInbound || s.From != "+12125550123" || s.StartedAt == nil {
		t.Fatalf("unexpected snapshot %#v", s)
	}
	if in.accepted != 1 {
		t.Fatalf("expected accept")
	}

	second := &fakeConn{sid: "CA901"}
	h.factory.emit(telephony.Event{Type: telephony.EventIncoming, Conn: second, From: "+13125550199"})
	if second.rejected != 1 {
		t.Fatalf("expected second incoming rejected while busy")
	}
	if h.c.Snapshot().Incoming != nil {
		t.Fatalf("busy incoming must not be queued")
	}

	h.factory.emit(telephony.Event{Type: telephony.EventDisconnect, Conn: in})
	if s := h.c.Snapshot().State; s != StateIdle {
		t.Fatalf("expected idle, got %s", s)
	}
}

func TestController_RejectIncoming(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)

	in := &fakeConn{sid: "CA900"}
	h.factory.emit(telephony.Event{Type: telephony.EventIncoming, Conn: in, From: "+12125550123"})
	h.c.Reject()
	if in.rejected != 1 || h.c.Snapshot().Incoming != nil {
		t.Fatalf("expected incoming rejected and cleared")
	}
	if err := h.c.Answer(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("expected ErrNoIncomingCall, got %v", err)
	}
}

func TestController_DisposeIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	h.connect(t)

	h.c.Dispose()
	h.c.Dispose()

	s := h.c.Snapshot()
	if s.State != StateIdle || s.DeviceReady {
		t.Fatalf("unexpected snapshot %#v", s)
	}
	if h.c.TimerActive() {
		t.Fatalf("timer still running after dispose")
	}
	if h.device.destroyed != 1 || h.conn.disconnects != 1 {
		t.Fatalf("expected one destroy and one disconnect, got %d/%d", h.device.destroyed, h.conn.disconnects)
	}
}

func TestController_GuardRefusal(t *testing.T) {
	g := &fakeGuard{}
	h := newHarness(t, func(o *Options) { o.Guard = g })
	h.ready(t)

	if err := h.c.Dial(context.Background(), "9107555577", "+14155550100"); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}
	if s := h.c.Snapshot().State; s != StateIdle {
		t.Fatalf("expected rest state, got %s", s)
	}
	if len(h.device.connects) != 0 {
		t.Fatalf("SDK must not be asked to connect")
	}

	g.allow = true
	h.connect(t)
	h.c.EndCall()
	if g.acquired != 1 || g.released != 1 {
		t.Fatalf("expected guard acquired and released once, got %d/%d", g.acquired, g.released)
	}
}

func TestController_SourceNumberInUse(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	if h.c.SourceNumberInUse("+14155550100") {
		t.Fatalf("no call yet")
	}
	h.connect(t)
	if !h.c.SourceNumberInUse("4155550100") {
		t.Fatalf("expected source number in use")
	}
	if h.c.SourceNumberInUse("+14155550199") {
		t.Fatalf("unexpected match")
	}
}

func TestController_EventHandlerRecoversPanics(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cancel := h.c.Subscribe(func(Snapshot) { panic("render failed") })
	defer cancel()

	var seen []State
	cancel2 := h.c.Subscribe(func(s Snapshot) { seen = append(seen, s.State) })
	defer cancel2()

	h.factory.emit(telephony.Event{Type: telephony.EventReady})
	if s := h.c.Snapshot().State; s != StateReady {
		t.Fatalf("expected ready, got %s", s)
	}
	h.c.Dispose()
	if len(seen) == 0 || seen[len(seen)-1] != StateIdle {
		t.Fatalf("expected other subscribers notified despite the panic, got %v", seen)
	}
}

// sidPanicConn is a connection whose SID accessor blows up.
type sidPanicConn struct{ *fakeConn }

func (sidPanicConn) SID() string { panic("sid unavailable") }

func TestController_MisbehavingConnectionDoesNotWedge(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)

	bad := sidPanicConn{&fakeConn{}}
	h.factory.emit(telephony.Event{Type: telephony.EventIncoming, Conn: bad, From: "+12125550123", To: "+14155550100"})

	done := make(chan Snapshot, 1)
	go func() { done <- h.c.Snapshot() }()
	select {
	case s := <-done:
		if s.Incoming == nil || s.Incoming.CallSID != "" {
			t.Fatalf("expected incoming call without sid, got %#v", s.Incoming)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("controller locked up after a connection panic")
	}

	h.c.Reject()
	if bad.rejected != 1 {
		t.Fatalf("expected the incoming call rejected, got %d", bad.rejected)
	}
}

// blockingGuard holds Acquire until release is closed.
type blockingGuard struct {
	entered  chan struct{}
	release  chan struct{}
	mu       sync.Mutex
	released int
}

func (g *blockingGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	close(g.entered)
	<-g.release
	return true, nil
}

func (g *blockingGuard) Release(ctx context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released++
	return nil
}

func TestController_HangupWhileGuardPendingSkipsConnect(t *testing.T) {
	g := &blockingGuard{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, func(o *Options) { o.Guard = g })
	h.ready(t)

	errc := make(chan error, 1)
	go func() { errc <- h.c.Dial(context.Background(), "9107555577", "+14155550100") }()

	<-g.entered
	h.c.EndCall()
	close(g.release)

	if err := <-errc; err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	h.device.mu.Lock()
	connects := len(h.device.connects)
	h.device.mu.Unlock()
	if connects != 0 {
		t.Fatalf("expected no call placed after hangup, got %d connects", connects)
	}
	g.mu.Lock()
	released := g.released
	g.mu.Unlock()
	if released != 1 {
		t.Fatalf("expected the slot handed back, got %d releases", released)
	}
	if s := h.c.Snapshot().State; s.InCall() {
		t.Fatalf("expected rest state, got %s", s)
	}
}
