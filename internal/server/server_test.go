package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/smallbiznis/upimatch/internal/clock"
	"github.com/smallbiznis/upimatch/internal/config"
	"github.com/smallbiznis/upimatch/internal/observability"
	"github.com/smallbiznis/upimatch/internal/ratelimit"
	"github.com/smallbiznis/upimatch/internal/receipt"
	"github.com/smallbiznis/upimatch/internal/reconcile/domain"
	"github.com/smallbiznis/upimatch/internal/reconcile/service"
	"github.com/smallbiznis/upimatch/internal/reconcile/store"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type testServer struct {
	engine *gin.Engine
	clock  *clock.FakeClock
}

type testOption func(*ServerParams)

func withLimiter(l *ratelimit.SMSLimiter) testOption {
	return func(p *ServerParams) { p.SMSLimiter = l }
}

func withJournal(j domain.Journal) testOption {
	return func(p *ServerParams) { p.Journal = j }
}

func newTestServer(t *testing.T, opts ...testOption) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Payee: config.PayeeConfig{VPA: "chai@okaxis", Name: "Chai & Co", Currency: "INR"},
	}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(t0)

	svc := service.New(service.Params{
		Config: cfg,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fc,
		Store:  store.New(fc),
		Rules:  config.NewStaticMatchingRules(config.DefaultMatchingRules()),
	})

	engine := NewEngine(cfg, observability.Config{Environment: "test"}, nil)
	params := ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Log:        zap.NewNop(),
		Reconciler: svc,
		Receipts:   receipt.New(cfg),
	}
	for _, opt := range opts {
		opt(&params)
	}
	NewServer(params)
	return testServer{engine: engine, clock: fc}
}

func (ts testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var envelope errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error
}

func (ts testServer) createPayment(t *testing.T, amount any) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/payments", map[string]any{"amount": amount, "userId": "u-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeData(t, rec)["payment_id"].(string)
}

func TestCreatePaymentReturnsLink(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/payments", map[string]any{"amount": 500, "userId": "u-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.NotEmpty(t, data["payment_id"])
	assert.Equal(t, "500.00", data["amount"])
	assert.Equal(t, "INR", data["currency"])
	assert.Equal(t, "PENDING", data["status"])
	assert.Equal(t, "upi://pay?pa=chai@okaxis&pn=Chai%20%26%20Co&am=500.00&cu=INR", data["upi_link"])
	assert.Equal(t, "chai@okaxis", data["upi_id"])
	assert.Equal(t, "Chai & Co", data["merchant_name"])
}

func TestCreatePaymentAcceptsStringAmount(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/create-payment", map[string]any{"amount": "1250.50"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1250.50", decodeData(t, rec)["amount"])
}

func TestCreatePaymentRejectsInvalidAmounts(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []map[string]any{
		{},
		{"amount": 0},
		{"amount": -5},
		{"amount": "10.001"},
		{"amount": "abc"},
		{"amount": true},
		{"amount": nil},
	} {
		rec := ts.do(t, http.MethodPost, "/api/payments", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		payload := decodeError(t, rec)
		assert.Equal(t, "validation_error", payload.Type)
		require.Len(t, payload.Errors, 1)
		assert.Equal(t, "invalid_amount", payload.Errors[0].Code)
		assert.Equal(t, "amount", payload.Errors[0].Field)
	}
}

func TestCreatePaymentEmptyBodyIsInvalidAmount(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/payments", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_amount", decodeError(t, rec).Errors[0].Code)
}

func TestCreatePaymentRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Errors[0].Code)
}

func TestSMSWebhookMatchesPayment(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPayment(t, 500)
	ts.clock.Advance(2 * time.Minute)

	rec := ts.do(t, http.MethodPost, "/api/notifications/sms", map[string]any{
		"message": "INR 500.00 credited to a/c XX1234. UPI Ref 412345678901",
		"from":    "VK-HDFCBK",
		"time":    "2026-03-01T10:01:30Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, true, data["matched"])
	assert.Equal(t, id, data["payment_id"])
	assert.Equal(t, "500.00", data["amount"])
	assert.Equal(t, "412345678901", data["reference"])
	assert.Equal(t, "2026-03-01T10:01:30Z", data["notification_time"])

	rec = ts.do(t, http.MethodGet, "/api/payments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeData(t, rec)
	assert.Equal(t, "PAID", status["status"])
	assert.Equal(t, "412345678901", status["reference"])
	assert.Equal(t, "u-1", status["user_id"])
}

func TestSMSWebhookUnmatched(t *testing.T) {
	ts := newTestServer(t)
	ts.createPayment(t, 500)

	for _, message := range []string{
		"Your OTP is 4455",
		"Rs.499.99 credited. Ref 1",
	} {
		rec := ts.do(t, http.MethodPost, "/sms-webhook", map[string]any{"message": message})
		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeData(t, rec)
		assert.Equal(t, false, data["matched"])
		assert.NotContains(t, data, "payment_id")
	}
}

func TestSMSWebhookValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/notifications/sms", map[string]any{"message": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "missing_message", payload.Errors[0].Code)
	assert.Equal(t, "message", payload.Errors[0].Field)

	rec = ts.do(t, http.MethodPost, "/api/notifications/sms", map[string]any{"from": "VK-HDFCBK"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_message", decodeError(t, rec).Errors[0].Code)

	rec = ts.do(t, http.MethodPost, "/sms-webhook", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_message", decodeError(t, rec).Errors[0].Code)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/sms", strings.NewReader(`{"message":`))
	rec = httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Errors[0].Code)
}

func TestSMSWebhookWhitespaceMessageIsUnmatched(t *testing.T) {
	ts := newTestServer(t)
	ts.createPayment(t, 500)

	rec := ts.do(t, http.MethodPost, "/api/notifications/sms", map[string]any{"message": "   "})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeData(t, rec)["matched"])
}

func TestSMSWebhookIgnoresUnrecognisedTime(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPayment(t, 500)

	rec := ts.do(t, http.MethodPost, "/api/notifications/sms", map[string]any{
		"message": "INR 500.00 credited. UPI Ref 412345678901",
		"time":    "2026-03-01 10:01:30",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, true, data["matched"])
	assert.Equal(t, id, data["payment_id"])
	assert.Equal(t, "2026-03-01T10:00:00Z", data["notification_time"])

	rec = ts.do(t, http.MethodGet, "/api/payments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAID", decodeData(t, rec)["status"])
}

func TestSMSWebhookAcceptsEpochTime(t *testing.T) {
	for name, value := range map[string]any{
		"millis number":  int64(1772359290000),
		"millis string":  "1772359290000",
		"seconds number": int64(1772359290),
	} {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.createPayment(t, 500)

			rec := ts.do(t, http.MethodPost, "/api/notifications/sms", map[string]any{
				"message": "INR 500.00 credited",
				"time":    value,
			})
			require.Equal(t, http.StatusOK, rec.Code)
			data := decodeData(t, rec)
			assert.Equal(t, true, data["matched"])
			assert.Equal(t, "2026-03-01T10:01:30Z", data["notification_time"])
		})
	}
}

func TestParseSourceTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 10, 1, 30, 0, time.UTC)
	for raw, expectOK := range map[string]bool{
		`"2026-03-01T10:01:30Z"`:      true,
		`"2026-03-01T15:31:30+05:30"`: true,
		`1772359290`:                  true,
		`1772359290000`:               true,
		`"1772359290000"`:             true,
		`"yesterday"`:                 false,
		`true`:                        false,
		`-5`:                          false,
		`{"at":1}`:                    false,
	} {
		got, ok := parseSourceTime(json.RawMessage(raw))
		assert.Equal(t, expectOK, ok, raw)
		if expectOK {
			require.NotNil(t, got, raw)
			assert.True(t, want.Equal(*got), raw)
		} else {
			assert.Nil(t, got, raw)
		}
	}

	for _, raw := range []string{``, `null`, `""`} {
		got, ok := parseSourceTime(json.RawMessage(raw))
		assert.True(t, ok, raw)
		assert.Nil(t, got, raw)
	}
}

func TestSMSWebhookRequestLogCarriesOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	ts := newTestServer(t)
	id := ts.createPayment(t, 500)
	rec := ts.do(t, http.MethodPost, "/sms-webhook", map[string]any{
		"message": "INR 500.00 credited",
		"from":    "VK-HDFCBK",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	ts.do(t, http.MethodGet, "/health", nil)

	requests := logs.FilterMessage("http_request").All()
	require.Len(t, requests, 3)

	created := requests[0].ContextMap()
	assert.Equal(t, id, created["payment_id"])
	assert.NotContains(t, created, "sms_matched")

	ingested := requests[1]
	assert.Equal(t, zapcore.InfoLevel, ingested.Level)
	assert.Equal(t, id, ingested.ContextMap()["payment_id"])
	assert.Equal(t, true, ingested.ContextMap()["sms_matched"])
	assert.Equal(t, "VK-HDFCBK", ingested.ContextMap()["sender"])

	assert.Equal(t, zapcore.DebugLevel, requests[2].Level)
}

func TestCheckPaymentLegacyRoute(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPayment(t, "99.50")

	rec := ts.do(t, http.MethodGet, "/check-payment?paymentId="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "PENDING", data["status"])
	assert.Equal(t, "99.50", data["amount"])
	assert.Nil(t, data["reference"])
	assert.Nil(t, data["notification_time"])
}

func TestGetPaymentNotFound(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/api/payments/123456",
		"/api/payments/not-a-number",
		"/check-payment?paymentId=",
	} {
		rec := ts.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "not_found", decodeError(t, rec).Type)
	}
}

func TestReceipt(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPayment(t, 500)

	rec := ts.do(t, http.MethodGet, "/api/payments/"+id+"/receipt", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_paid", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodPost, "/sms-webhook", map[string]any{"message": "Rs 500 received UTR 998877"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/payments/"+id+"/receipt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "receipt-"+id+".pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

type stubJournal struct {
	records []domain.NotificationRecord
	err     error
	lastID  int64
}

func (s *stubJournal) Record(context.Context, *domain.NotificationRecord) error { return nil }

func (s *stubJournal) ListByIntent(_ context.Context, intentID int64) ([]domain.NotificationRecord, error) {
	s.lastID = intentID
	return s.records, s.err
}

func TestListPaymentNotifications(t *testing.T) {
	j := &stubJournal{records: []domain.NotificationRecord{{ID: "01HZX", Sender: "VK-HDFCBK", Matched: true}}}
	ts := newTestServer(t, withJournal(j))
	id := ts.createPayment(t, 500)

	rec := ts.do(t, http.MethodGet, "/api/payments/"+id+"/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []domain.NotificationRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "VK-HDFCBK", envelope.Data[0].Sender)
	assert.Equal(t, id, snowflake.ID(j.lastID).String())

	j.err = errors.New("db down")
	rec = ts.do(t, http.MethodGet, "/api/payments/"+id+"/notifications", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Type)
}

func TestListPaymentNotificationsWithoutJournal(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createPayment(t, 500)

	rec := ts.do(t, http.MethodGet, "/api/payments/"+id+"/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

// scriptedBucket answers the token bucket script with a fixed reply.
type scriptedBucket struct {
	redis.Scripter
	reply any
	err   error
	keys  []string
}

func (s *scriptedBucket) EvalSha(_ context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	s.keys = append(s.keys, keys...)
	return redis.NewCmdResult(s.reply, s.err)
}

func (s *scriptedBucket) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return s.EvalSha(ctx, script, keys, args...)
}

func TestSMSRateLimitDenies(t *testing.T) {
	bucket := &scriptedBucket{reply: []any{int64(0), "0", int64(1700000000000)}}
	ts := newTestServer(t, withLimiter(ratelimit.NewSMSLimiterWithClient(bucket, 1, 5)))

	rec := ts.do(t, http.MethodPost, "/api/notifications/sms", map[string]any{
		"message": "INR 10 credited",
		"from":    "vk-hdfcbk",
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Type)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"upimatch:sms:sender:VK-HDFCBK"}, bucket.keys)
}

func TestSMSRateLimitFallsBackToClientIP(t *testing.T) {
	bucket := &scriptedBucket{reply: []any{int64(1), "4", int64(1700000000000)}}
	ts := newTestServer(t, withLimiter(ratelimit.NewSMSLimiterWithClient(bucket, 1, 5)))

	rec := ts.do(t, http.MethodPost, "/sms-webhook", map[string]any{"message": "INR 10 credited"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"upimatch:sms:sender:192.0.2.1"}, bucket.keys)
}

func TestSMSRateLimitUnavailable(t *testing.T) {
	bucket := &scriptedBucket{err: errors.New("connection refused")}
	ts := newTestServer(t, withLimiter(ratelimit.NewSMSLimiterWithClient(bucket, 1, 5)))

	rec := ts.do(t, http.MethodPost, "/sms-webhook", map[string]any{"message": "INR 10 credited"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decodeError(t, rec).Type)
}

func TestHealthAndFallback(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/payments", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{domain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{domain.ErrMissingMessage, http.StatusBadRequest, "validation_error"},
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrNotPaid, http.StatusConflict, "not_paid"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		{nil, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err)
		assert.Equal(t, tc.typ, payload.Type, tc.err)
	}

	typ, code := classifyErrorForLog(domain.ErrInvalidAmount)
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "invalid_amount", code)
}
