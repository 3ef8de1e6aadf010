package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-console/internal/auth"
	"voice-console/internal/backend"
	"voice-console/internal/calls"
	"voice-console/internal/history"
	"voice-console/internal/normalize"
	"voice-console/internal/numbers"
	"voice-console/internal/reporting"
	"voice-console/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeCalls struct {
	mu       sync.Mutex
	snap     calls.Snapshot
	initErr  error
	dialErr  error
	dialedTo string
	dialFrom string
	subs     []func(calls.Snapshot)
}

func (f *fakeCalls) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeCalls) Dial(ctx context.Context, to, from string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialedTo, f.dialFrom = to, from
	return f.dialErr
}

func (f *fakeCalls) Answer(ctx context.Context) error { return calls.ErrNoIncomingCall }
func (f *fakeCalls) Reject()                          {}
func (f *fakeCalls) EndCall()                         {}
func (f *fakeCalls) ToggleMute()                      {}
func (f *fakeCalls) ToggleHold()                      {}
func (f *fakeCalls) SendDigit(d string) error         { return nil }
func (f *fakeCalls) Dismiss()                         {}

func (f *fakeCalls) Snapshot() calls.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeCalls) Subscribe(fn func(calls.Snapshot)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeCalls) publish(s calls.Snapshot) {
	f.mu.Lock()
	f.snap = s
	subs := append([]func(calls.Snapshot){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (f *fakeCalls) subscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeProvisioner struct {
	owned []normalize.Record
}

func (f *fakeProvisioner) SearchAvailableNumbers(ctx context.Context, p backend.SearchParams) ([]normalize.Record, error) {
	return []normalize.Record{}, nil
}

func (f *fakeProvisioner) PurchaseNumber(ctx context.Context, p backend.PurchaseParams) (normalize.Record, error) {
	return normalize.Record{"id": "PN9", "phoneNumber": p.PhoneNumber}, nil
}

func (f *fakeProvisioner) ReleaseNumber(ctx context.Context, id string) error { return nil }

func (f *fakeProvisioner) ListOwnedNumbers(ctx context.Context) ([]normalize.Record, error) {
	return f.owned, nil
}

type fakeSource struct{}

func (fakeSource) ListCallLogs(ctx context.Context, q url.Values) ([]normalize.Record, error) {
	return []normalize.Record{{"sid": "CA1", "status": "completed", "duration": "20"}}, nil
}

func (fakeSource) GetCallLog(ctx context.Context, sid string) (normalize.Record, error) {
	return nil, &backend.APIError{StatusCode: http.StatusNotFound}
}

func (fakeSource) ListRecordings(ctx context.Context, q url.Values) ([]normalize.Record, error) {
	return []normalize.Record{}, nil
}

func (fakeSource) DeleteRecording(ctx context.Context, sid string) error {
	return &backend.APIError{StatusCode: http.StatusNotFound}
}

// usage stands in for the call controller's live-call source number.
type usage struct {
	mu   sync.Mutex
	e164 string
}

func (u *usage) set(e164 string) {
	u.mu.Lock()
	u.e164 = e164
	u.mu.Unlock()
}

func (u *usage) SourceNumberInUse(e164 string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.e164 != "" && u.e164 == e164
}

type harness struct {
	router *gin.Engine
	calls  *fakeCalls
	inv    *numbers.Inventory
	inUse  *usage
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	inUse := &usage{}
	inv, err := numbers.NewInventory(numbers.Options{
		Provisioner: &fakeProvisioner{owned: []normalize.Record{
			{"id": "PN1", "phoneNumber": "+14155550100", "capabilities": map[string]any{"voice": true}},
		}},
		InUse: inUse,
	})
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if _, err := inv.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	hs, err := history.NewSynchronizer(history.Options{Source: fakeSource{}})
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	fc := &fakeCalls{snap: calls.Snapshot{State: calls.StateReady, DeviceReady: true}}
	h := Handlers{
		Calls:   fc,
		Numbers: inv,
		History: hs,
		Reports: reporting.NewService(reporting.NewHistoryRepo(hs)),
		Bridge:  &telephony.Bridge{},
	}

	r := gin.New()
	v1 := r.Group("/v1", func(c *gin.Context) {
		uid := c.GetHeader("X-Test-User")
		if uid == "" {
			uid = "u1"
		}
		ctx := auth.WithIdentity(c.Request.Context(), uid, c.GetHeader("X-Test-Role"))
		c.Request = c.Request.WithContext(auth.WithBearer(ctx, "tok"))
		c.Next()
	})
	RegisterV1(v1, h)
	return &harness{router: r, calls: fc, inv: inv, inUse: inUse}
}

func (h *harness) do(method, path, role string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-Role", role)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestDial_UsesSelectedNumber(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/v1/call/dial", "agent", gin.H{"to": "(212) 555-0123"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if h.calls.dialFrom != "+14155550100" || h.calls.dialedTo != "(212) 555-0123" {
		t.Fatalf("unexpected dial %q -> %q", h.calls.dialFrom, h.calls.dialedTo)
	}
}

func TestDial_BusyIsConflict(t *testing.T) {
	h := newHarness(t)
	h.calls.dialErr = calls.ErrCallInProgress
	if w := h.do(http.MethodPost, "/v1/call/dial", "agent", gin.H{"to": "2125550123"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestInitialize_SessionErrorCarriesKind(t *testing.T) {
	h := newHarness(t)
	h.calls.initErr = &calls.SessionError{Kind: calls.ErrorTokenAcquisitionFailed, Code: 20101, Message: "token rejected"}

	w := h.do(http.MethodPost, "/v1/call/initialize", "agent", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["kind"] != string(calls.ErrorTokenAcquisitionFailed) || body["code"] != float64(20101) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAnswer_WithoutIncomingIsConflict(t *testing.T) {
	h := newHarness(t)
	if w := h.do(http.MethodPost, "/v1/call/answer", "dispatcher", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestPurchase_RequiresAdminRole(t *testing.T) {
	h := newHarness(t)
	if w := h.do(http.MethodPost, "/v1/numbers", "agent", gin.H{"phone_number": "4155550199"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	w := h.do(http.MethodPost, "/v1/numbers", "owner", gin.H{"phone_number": "4155550199"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !h.inv.Owns("+14155550199") {
		t.Fatalf("purchased number not in inventory")
	}
}

func TestRelease_InUseIsConflict(t *testing.T) {
	h := newHarness(t)
	h.inUse.set("+14155550100")
	if w := h.do(http.MethodDelete, "/v1/numbers/PN1", "owner", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	h.inUse.set("")
	if w := h.do(http.MethodDelete, "/v1/numbers/PN1", "owner", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestSearch_EmptyIsEmptyList(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/v1/numbers/available?area_code=415", "agent", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"numbers":[]`) {
		t.Fatalf("expected empty list, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHistory_RefreshAndSummary(t *testing.T) {
	h := newHarness(t)
	if w := h.do(http.MethodPost, "/v1/history/calls/refresh?direction=outbound", "agent", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w := h.do(http.MethodGet, "/v1/history/summary", "agent", nil)
	var out reporting.CallsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TotalCalls != 1 || out.CompletedCalls != 1 || out.TotalDurationSeconds != 20 {
		t.Fatalf("unexpected summary %#v", out)
	}
	if w := h.do(http.MethodGet, "/v1/history/summary?direction=sideways", "agent", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHistory_NotFoundMapping(t *testing.T) {
	h := newHarness(t)
	if w := h.do(http.MethodGet, "/v1/history/calls/CA404", "agent", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := h.do(http.MethodDelete, "/v1/history/recordings/RE404", "owner", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestStreamCall_PushesSnapshots(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	hdr := http.Header{}
	hdr.Set("X-Test-Role", "agent")
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/call/stream", hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first calls.Snapshot
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.State != calls.StateReady {
		t.Fatalf("expected initial ready snapshot, got %#v", first)
	}

	deadline := time.Now().Add(time.Second)
	for h.calls.subscribed() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.calls.publish(calls.Snapshot{State: calls.StateConnected, CallSID: "CA1"})

	var next calls.Snapshot
	if err := ws.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.State != calls.StateConnected || next.CallSID != "CA1" {
		t.Fatalf("unexpected update %#v", next)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{calls.ErrInvalidDestination, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", numbers.ErrNumberInUse), http.StatusConflict},
		{&calls.SessionError{Kind: calls.ErrorMissingCredential}, http.StatusUnauthorized},
		{&backend.APIError{StatusCode: http.StatusUnauthorized}, http.StatusUnauthorized},
		{&backend.APIError{StatusCode: http.StatusInternalServerError}, http.StatusBadGateway},
		{telephony.ErrNoWidget, http.StatusServiceUnavailable},
		{fmt.Errorf("init: %w", &calls.SessionError{Kind: calls.ErrorDevice, Message: "gone"}), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

type staticToken string

func (s staticToken) AccessToken(ctx context.Context, cred auth.Credential) (string, error) {
	return string(s), nil
}

func TestInitialize_WithoutWidgetIsUnavailable(t *testing.T) {
	ctrl, err := calls.NewController(calls.Options{
		Factory:     &telephony.Bridge{},
		Tokens:      staticToken("sig-token"),
		Credentials: auth.StaticCredentials{UserID: "u1", Token: "bearer"},
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	defer ctrl.Dispose()

	initErr := ctrl.Initialize(context.Background())
	if !errors.Is(initErr, telephony.ErrNoWidget) {
		t.Fatalf("expected ErrNoWidget cause, got %v", initErr)
	}
	if got := statusFor(initErr); got != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", got)
	}

	h := newHarness(t)
	h.calls.initErr = initErr
	w := h.do(http.MethodPost, "/v1/call/initialize", "agent", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["kind"] != string(calls.ErrorDevice) {
		t.Fatalf("unexpected body %v", body)
	}
}
