package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/companion/internal/audit/domain"
	"github.com/smallbiznis/companion/internal/auth"
	"github.com/smallbiznis/companion/internal/chat"
	"github.com/smallbiznis/companion/internal/clock"
	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/entitlement"
	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
	"github.com/smallbiznis/companion/internal/speech"
	usagedomain "github.com/smallbiznis/companion/internal/usage/domain"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type fakeUsage struct {
	mu       sync.Mutex
	callers  []usagedomain.Caller
	consumed int
	decision usagedomain.Decision
	err      error
}

func (f *fakeUsage) decide(caller usagedomain.Caller) (usagedomain.Decision, error) {
	f.callers = append(f.callers, caller)
	if f.err != nil {
		return usagedomain.Decision{}, f.err
	}
	if caller.UserID == "" && caller.DeviceID == "" {
		return usagedomain.Decision{}, usagedomain.ErrMissingDeviceID
	}
	return f.decision, nil
}

func (f *fakeUsage) Check(_ context.Context, caller usagedomain.Caller) (usagedomain.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decide(caller)
}

func (f *fakeUsage) Consume(_ context.Context, caller usagedomain.Caller) (usagedomain.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed++
	return f.decide(caller)
}

func (f *fakeUsage) lastCaller() usagedomain.Caller {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.callers) == 0 {
		return usagedomain.Caller{}
	}
	return f.callers[len(f.callers)-1]
}

type fakePayments struct {
	checkout    paymentdomain.InitiateCheckoutRequest
	webhookBody []byte
	webhookErr  error
	confirmUser string
	payments    []paymentdomain.Payment
}

func (f *fakePayments) InitiateCheckout(_ context.Context, req paymentdomain.InitiateCheckoutRequest) (*paymentdomain.InitiateCheckoutResult, error) {
	f.checkout = req
	if req.BearerUserID != "" && req.BearerUserID != req.UserID {
		return nil, paymentdomain.ErrUnauthorized
	}
	return &paymentdomain.InitiateCheckoutResult{CheckoutURL: "https://pay.example/ch_1", OrderID: "order_1", PaymentID: "1", SessionID: "ch_1"}, nil
}

func (f *fakePayments) IngestWebhook(_ context.Context, _ string, payload []byte, _ http.Header) (*paymentdomain.WebhookResult, error) {
	f.webhookBody = payload
	if f.webhookErr != nil {
		return nil, f.webhookErr
	}
	return &paymentdomain.WebhookResult{Outcome: paymentdomain.OutcomeProcessed, Message: "payment completed"}, nil
}

func (f *fakePayments) ConfirmPayment(_ context.Context, userID, orderID string) (*paymentdomain.Payment, error) {
	f.confirmUser = userID
	return &paymentdomain.Payment{OrderID: orderID, UserID: userID, Status: paymentdomain.StatusCompleted}, nil
}

func (f *fakePayments) ListPayments(_ context.Context, userID string) ([]paymentdomain.Payment, error) {
	return f.payments, nil
}

func (f *fakePayments) DebugListPayments(_ context.Context, filter paymentdomain.DebugFilter) ([]paymentdomain.Payment, error) {
	return f.payments, nil
}

type fakeRelay struct {
	reply  string
	deltas []string
	err    error
	calls  int
}

func (f *fakeRelay) Complete(_ context.Context, messages []chat.Message, _ string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeRelay) Stream(_ context.Context, _ []chat.Message, onDelta func(string) error) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, delta := range f.deltas {
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRelay) HistoryLimit() int { return 5 }

type fakeSpeech struct{}

func (fakeSpeech) Synthesize(_ context.Context, text, _ string) (*speech.Result, error) {
	return &speech.Result{AudioData: "bXAz", ReqID: "req-1"}, nil
}

type fakePlans struct{}

func (fakePlans) Get(_ context.Context, userID string) (entitlement.View, error) {
	return entitlement.View{PlanType: "monthly", DailyLimit: 100, Active: true}, nil
}

type fakeAudit struct {
	filters []auditdomain.ListFilter
}

func (f *fakeAudit) List(_ context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	f.filters = append(f.filters, filter)
	return []*auditdomain.AuditLog{{Action: "payment.completed", TargetType: filter.TargetType, TargetID: &filter.TargetID}}, nil
}

type recordingMirror struct {
	mu    sync.Mutex
	users []auth.User
}

func (m *recordingMirror) UpsertUser(_ context.Context, user auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, user)
	return nil
}

type testServer struct {
	server   *Server
	auth     *auth.Authenticator
	usage    *fakeUsage
	payments *fakePayments
	relay    *fakeRelay
	mirror   *recordingMirror
	audit    *fakeAudit
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{Environment: config.EnvTest}
	cfg.Auth.JWTSecret = testSecret
	cfg.RateLimit.Requests = 100
	cfg.RateLimit.Window = time.Minute
	if mutate != nil {
		mutate(&cfg)
	}

	clk := &clock.Fixed{At: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	authenticator := auth.NewAuthenticator(auth.AuthenticatorParams{Config: cfg, Clock: clk})
	ts := &testServer{
		auth:     authenticator,
		usage:    &fakeUsage{decision: usagedomain.Decision{Allowed: true, Remaining: 2, Limit: 3, IsGuest: true, TrackingMethod: usagedomain.TrackingDeviceFingerprint}},
		payments: &fakePayments{},
		relay:    &fakeRelay{reply: "hello there"},
		mirror:   &recordingMirror{},
		audit:    &fakeAudit{},
	}
	engine := NewEngine(EngineParams{Config: cfg, Log: zap.NewNop()})
	ts.server = NewServer(Params{
		Config:   cfg,
		Log:      zap.NewNop(),
		Engine:   engine,
		Clock:    clk,
		Auth:     authenticator,
		Users:    ts.mirror,
		Usage:    ts.usage,
		Payments: ts.payments,
		Plans:    fakePlans{},
		Relay:    ts.relay,
		Speech:   fakeSpeech{},
		Audit:    ts.audit,
	})
	ts.server.RegisterAPIRoutes()
	return ts
}

func (ts *testServer) token(t *testing.T, userID, email string) string {
	t.Helper()
	token, err := ts.auth.IssueWithEmail(userID, email, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (ts *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		payload, _ := json.Marshal(v)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.9:5123"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	ts.server.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestClientIPPriority(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare wins", map[string]string{"Cf-Connecting-Ip": "1.1.1.1", "X-Forwarded-For": "2.2.2.2", "X-Real-Ip": "3.3.3.3"}, "1.1.1.1"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": " 2.2.2.2 , 9.9.9.9", "X-Real-Ip": "3.3.3.3"}, "2.2.2.2"},
		{"real ip", map[string]string{"X-Real-Ip": "3.3.3.3"}, "3.3.3.3"},
		{"socket peer", nil, "10.0.0.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.RemoteAddr = "10.0.0.9:5123"
			for key, value := range tc.headers {
				c.Request.Header.Set(key, value)
			}
			if got := clientIP(c); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestUsageRequiresDeviceID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/usage", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "missing_device_id" || body["success"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUsageReportsDecisionForGuest(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/usage", nil, map[string]string{
		headerDeviceID:     "guest_00abc123",
		headerFingerprint:  `{"canvas":"abc"}`,
		"X-Forwarded-For":  "203.0.113.7, 10.0.0.1",
		"User-Agent":       "test-agent",
		"Accept-Language":  "zh-CN",
		"Sec-Ch-Ua-Mobile": "?0",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["remaining"] != float64(2) || body["isGuest"] != true || body["trackingMethod"] != "device_fingerprint" {
		t.Fatalf("unexpected body: %v", body)
	}

	got := ts.usage.lastCaller()
	if got.DeviceID != "guest_00abc123" || got.IP != "203.0.113.7" || got.UserAgent != "test-agent" {
		t.Fatalf("unexpected caller: %+v", got)
	}
	if got.Fingerprint != `{"canvas":"abc"}` || got.Signals["accept_language"] != "zh-CN" {
		t.Fatalf("expected fingerprint and signals, got %+v", got)
	}
	if ts.usage.consumed != 0 {
		t.Fatalf("usage check must not consume quota")
	}
}

func TestInvalidBearerFallsBackToGuest(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/usage", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
		headerDeviceID:  "guest_00abc123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := ts.usage.lastCaller(); got.UserID != "" || got.DeviceID != "guest_00abc123" {
		t.Fatalf("expected guest caller, got %+v", got)
	}
	if len(ts.mirror.users) != 0 {
		t.Fatalf("rejected bearer must not be mirrored")
	}
}

func TestAuthenticatedCallerIsMirroredOnce(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "user-1", "user1@example.com")

	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodGet, "/api/usage", nil, map[string]string{"Authorization": "Bearer " + token})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	if got := ts.usage.lastCaller(); got.UserID != "user-1" {
		t.Fatalf("expected user caller, got %+v", got)
	}
	if len(ts.mirror.users) != 1 || ts.mirror.users[0].Email != "user1@example.com" {
		t.Fatalf("expected one mirrored user, got %+v", ts.mirror.users)
	}
}

func TestChatLimitReached(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.usage.decision = usagedomain.Decision{Allowed: false, Remaining: 0, Limit: 3, IsGuest: true, Message: "limit reached"}

	rec := ts.do(http.MethodPost, "/api/chat", gin.H{"message": "hi", "personality": "gentle", "language": "en"}, map[string]string{headerDeviceID: "guest_00abc123"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["limitReached"] != true || body["remaining"] != float64(0) || body["error"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
	if ts.relay.calls != 0 {
		t.Fatalf("relay must not be called after denial")
	}
}

func TestChatValidatesBeforeConsuming(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/chat", gin.H{"message": "hi", "personality": "grumpy"}, map[string]string{headerDeviceID: "guest_00abc123"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "invalid_personality" {
		t.Fatalf("unexpected body: %v", body)
	}
	if ts.usage.consumed != 0 {
		t.Fatalf("invalid prompt must not consume quota")
	}
}

func TestChatRelaysReply(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/chat", gin.H{
		"message":             "hi",
		"personality":         "lively",
		"language":            "zh",
		"conversationHistory": []gin.H{{"sender": "user", "content": "earlier"}},
	}, map[string]string{headerDeviceID: "guest_00abc123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["response"] != "hello there" || body["remaining"] != float64(2) {
		t.Fatalf("unexpected body: %v", body)
	}
	if ts.usage.consumed != 1 {
		t.Fatalf("expected one unit consumed, got %d", ts.usage.consumed)
	}
}

func TestChatSurfacesUpstreamThrottling(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.relay.err = chat.ErrRateLimited

	rec := ts.do(http.MethodPost, "/api/chat", gin.H{"message": "hi", "personality": "gentle"}, map[string]string{headerDeviceID: "guest_00abc123"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "upstream_rate_limited" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestChatStreamsEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.relay.deltas = []string{"Hel", "lo"}

	rec := ts.do(http.MethodPost, "/api/chat", gin.H{"message": "hi", "personality": "rational", "stream": true}, map[string]string{headerDeviceID: "guest_00abc123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event stream, got %q", ct)
	}
	out := rec.Body.String()
	for _, want := range []string{"event: meta\n", `data: {"content":"Hel"}`, `data: {"content":"lo"}`, "data: [DONE]\n\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in stream, got %q", want, out)
		}
	}
}

func TestChatStreamOpenFailureIsJSON(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.relay.err = chat.ErrUpstream

	rec := ts.do(http.MethodPost, "/api/chat", gin.H{"message": "hi", "personality": "rational", "stream": true}, map[string]string{headerDeviceID: "guest_00abc123"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "chat_unavailable" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestBurstGuardLimitsPerIP(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Requests = 2
	})
	headers := map[string]string{headerDeviceID: "guest_00abc123", "Cf-Connecting-Ip": "198.51.100.1"}
	req := gin.H{"text": "hello"}

	for i := 0; i < 2; i++ {
		if rec := ts.do(http.MethodPost, "/api/tts", req, headers); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := ts.do(http.MethodPost, "/api/tts", req, headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}

	headers["Cf-Connecting-Ip"] = "198.51.100.2"
	if rec := ts.do(http.MethodPost, "/api/tts", req, headers); rec.Code != http.StatusOK {
		t.Fatalf("other ip should pass, got %d", rec.Code)
	}
}

func TestTextToSpeech(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/tts", gin.H{"text": " "}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = ts.do(http.MethodPost, "/api/tts", gin.H{"text": "你好", "language": "zh"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["audioData"] != "bXAz" || body["reqid"] != "req-1" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestCheckoutPassesBearerUser(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "user-2", "")

	rec := ts.do(http.MethodPost, "/api/payment/create", gin.H{"productId": "prod_monthly", "userId": "user-1", "planType": "monthly"}, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mismatched bearer, got %d", rec.Code)
	}
	if ts.payments.checkout.BearerUserID != "user-2" {
		t.Fatalf("expected bearer user to reach the service, got %+v", ts.payments.checkout)
	}

	rec = ts.do(http.MethodPost, "/api/payment/checkout", gin.H{"productId": "prod_monthly", "userId": "user-1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["checkoutUrl"] != "https://pay.example/ch_1" || body["orderId"] != "order_1" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestCheckoutRequiresFields(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/payment/checkout", gin.H{"productId": "prod_monthly"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["field"] != "userId" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestBearerRequiredRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/payments"},
		{http.MethodGet, "/api/entitlement"},
		{http.MethodPost, "/api/payment/confirm"},
	} {
		rec := ts.do(route.method, route.path, nil, map[string]string{"Authorization": "Bearer expired"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", route.method, route.path, rec.Code)
		}
	}

	token := ts.token(t, "user-1", "")
	rec := ts.do(http.MethodPost, "/api/payment/confirm", gin.H{"orderId": "order_1"}, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ts.payments.confirmUser != "user-1" {
		t.Fatalf("expected confirm for user-1, got %q", ts.payments.confirmUser)
	}

	rec = ts.do(http.MethodGet, "/api/entitlement", nil, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWebhookForwardsRawBody(t *testing.T) {
	ts := newTestServer(t, nil)
	raw := []byte(`{"event_type":"payment.completed",  "data":{"order_id":"ch_1"}}`)

	rec := ts.do(http.MethodPost, "/api/payment/webhook", raw, map[string]string{"X-Creem-Signature": "abc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(ts.payments.webhookBody, raw) {
		t.Fatalf("webhook body was altered: %q", ts.payments.webhookBody)
	}
	if body := decodeBody(t, rec); body["outcome"] != paymentdomain.OutcomeProcessed {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestWebhookErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{paymentdomain.ErrInvalidSignature, http.StatusUnauthorized},
		{paymentdomain.ErrPaymentNotFound, http.StatusNotFound},
		{paymentdomain.ErrAmbiguousPayment, http.StatusNotFound},
		{paymentdomain.ErrInvalidPayload, http.StatusBadRequest},
		{paymentdomain.ErrActivationFailed, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		ts := newTestServer(t, nil)
		ts.payments.webhookErr = tc.err
		rec := ts.do(http.MethodPost, "/api/payment/webhook", []byte(`{}`), nil)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
	}
}

func TestWebhookChallenge(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/payment/webhook?challenge=abc123", nil, nil)
	if body := decodeBody(t, rec); body["challenge"] != "abc123" {
		t.Fatalf("unexpected body: %v", body)
	}
	rec = ts.do(http.MethodGet, "/api/payment/webhook", nil, nil)
	if body := decodeBody(t, rec); body["message"] == nil {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestDebugPaymentsHiddenInProduction(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Environment = config.EnvProduction
	})
	if rec := ts.do(http.MethodGet, "/api/debug/payments", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	ts = newTestServer(t, nil)
	ts.payments.payments = []paymentdomain.Payment{{OrderID: "order_1", UserID: "user-1"}}
	rec := ts.do(http.MethodGet, "/api/debug/payments?userId=user-1", nil, nil)
	body := decodeBody(t, rec)
	if body["userId"] != "user-1" || len(body["payments"].([]any)) != 1 {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, ok := body["auditTrail"]; ok {
		t.Fatalf("user lookups should not load the audit trail")
	}

	rec = ts.do(http.MethodGet, "/api/debug/payments?orderId=order_1", nil, nil)
	body = decodeBody(t, rec)
	if body["orderId"] != "order_1" || len(body["auditTrail"].([]any)) != 1 {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(ts.audit.filters) != 1 || ts.audit.filters[0].TargetType != "payment" {
		t.Fatalf("unexpected audit filters: %+v", ts.audit.filters)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	clk := &clock.Fixed{At: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	limiter := newRateLimiter(1, time.Minute, clk.Now)

	if ok, _ := limiter.Allow("k"); !ok {
		t.Fatalf("expected first call admitted")
	}
	clk.Advance(20 * time.Second)
	ok, retryAfter := limiter.Allow("k")
	if ok || retryAfter != 40*time.Second {
		t.Fatalf("expected refusal with 40s left, got ok=%v retryAfter=%v", ok, retryAfter)
	}
	if ok, _ := limiter.Allow(""); ok {
		t.Fatalf("empty key must be rejected")
	}
	clk.Advance(40 * time.Second)
	if ok, _ := limiter.Allow("k"); !ok {
		t.Fatalf("expected a fresh window")
	}
}
