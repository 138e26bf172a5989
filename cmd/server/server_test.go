package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/smartmenu-payments/internal/adapter"
	"github.com/yourorg/smartmenu-payments/internal/adapter/mock"
	"github.com/yourorg/smartmenu-payments/internal/adapter/stripe"
	"github.com/yourorg/smartmenu-payments/internal/config"
	"github.com/yourorg/smartmenu-payments/internal/database"
	"github.com/yourorg/smartmenu-payments/internal/ingest"
	"github.com/yourorg/smartmenu-payments/internal/ledger"
	"github.com/yourorg/smartmenu-payments/internal/monitor"
	"github.com/yourorg/smartmenu-payments/internal/orchestrator"
	"github.com/yourorg/smartmenu-payments/internal/payment"
	"github.com/yourorg/smartmenu-payments/internal/planbuilder"
	"github.com/yourorg/smartmenu-payments/internal/policy"
	"github.com/yourorg/smartmenu-payments/internal/reporting"
)

const (
	mockSecret   = "mock_secret"
	stripeSecret = "whsec_test_secret"
)

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	mock   *mock.MockAdapter
}

// setupTestRouter wires the real handlers over an in-memory database.
func setupTestRouter(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open("sqlite", dsn, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	accounts, err := policy.NewAccountPolicy("")
	require.NoError(t, err)
	contracts, err := monitor.LoadContracts()
	require.NoError(t, err)

	mockAdapter := mock.NewMockAdapter("mock")
	mockAdapter.Secret = mockSecret
	registry := adapter.NewRegistry(
		stripe.NewStripeAdapter(stripe.Config{SecretKey: "sk_test", WebhookSecret: stripeSecret}),
		mockAdapter,
	)

	repo := payment.NewRepository()
	l := ledger.New(db, node, zap.NewNop())
	plans := planbuilder.NewPlanBuilder(planbuilder.Config{DefaultCurrency: "USD"}, planbuilder.NewPlatformFeePolicy(0))
	orch := orchestrator.NewOrchestrator(db, repo, plans, registry, orchestrator.Config{DefaultProvider: "mock"}, zap.NewNop())
	ing := ingest.NewIngestor(db, repo, l, accounts, zap.NewNop())

	now := time.Now().UTC()
	require.NoError(t, repo.UpsertProviderAccount(context.Background(), db, &payment.ProviderAccount{
		Provider: "mock", ProviderAccountID: "acct_rest_1", RestaurantID: "rest_1",
		Status: payment.AccountEnabled, ChargesEnabled: true, PayoutsEnabled: true,
		CreatedAt: now, UpdatedAt: now,
	}))

	h := NewHandlers(ing, orch, registry, l, reporting.NewReporter(), contracts, zap.NewNop())
	return &testServer{router: setupRouter(h), db: db, mock: mockAdapter}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func mockHeader() http.Header {
	return http.Header{mock.SignatureHeader: []string{mockSecret}}
}

func eventBody(t *testing.T, id, typ string, obj map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    typ,
		"created": time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC).Unix(),
		"data":    map[string]any{"object": obj},
	})
	require.NoError(t, err)
	return body
}

func createAttempt(t *testing.T, s *testServer, orderID string) orchestrator.Result {
	t.Helper()
	body := []byte(`{
		"restaurant_id": "rest_1",
		"currency": "usd",
		"gross_total": "27.50",
		"tip": 2.5,
		"items": [{"name": "Pizza", "price": "25.00"}],
		"success_url": "https://menu.example.com/ok",
		"cancel_url": "https://menu.example.com/cancel",
		"provider": "mock"
	}`)
	w := s.do(t, http.MethodPost, "/orders/"+orderID+"/payment_attempts", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["status"]
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupTestRouter(t)

	w := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeStatus(t, w))

	createAttempt(t, s, "ord_metrics")
	w = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "smartmenu_payment_attempts_total")
}

func TestCreatePaymentAttempt_Created(t *testing.T) {
	s := setupTestRouter(t)

	res := createAttempt(t, s, "ord_1")

	assert.Equal(t, "ord_1", res.Attempt.OrderID)
	assert.Equal(t, int64(2500), res.Attempt.AmountCents)
	assert.Equal(t, "USD", res.Attempt.Currency)
	assert.Equal(t, payment.AttemptRequiresAction, res.Attempt.Status)
	assert.Equal(t, orchestrator.NextActionRedirect, res.NextAction.Type)
	assert.True(t, strings.HasPrefix(res.ProviderReference, "cs_mock_"))
	assert.Equal(t, "https://checkout.mock.local/"+res.ProviderReference, res.NextAction.URL)
	require.Len(t, s.mock.Calls(), 1)
	assert.Equal(t, "https://menu.example.com/ok", s.mock.Calls()[0].SuccessURL)
	assert.Equal(t, "acct_rest_1", s.mock.Calls()[0].ConnectedAccountID)
}

func TestCreatePaymentAttempt_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "contract violation",
			body:       `{"restaurant_id": "rest_1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{"restaurant_id": `,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported provider",
			body:       `{"restaurant_id": "rest_1", "gross_total": 10, "success_url": "https://a.example/ok", "cancel_url": "https://a.example/no", "provider": "paypal"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "restaurant without connected account",
			body:       `{"restaurant_id": "rest_2", "gross_total": 10, "success_url": "https://a.example/ok", "cancel_url": "https://a.example/no", "provider": "mock"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "no payable amount",
			body:       `{"restaurant_id": "rest_1", "gross_total": 0, "items": [], "success_url": "https://a.example/ok", "cancel_url": "https://a.example/no", "provider": "mock"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestRouter(t)
			w := s.do(t, http.MethodPost, "/orders/ord_x/payment_attempts", []byte(tt.body), nil)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			var n int64
			require.NoError(t, s.db.Model(&payment.Attempt{}).Count(&n).Error)
			assert.Zero(t, n)
		})
	}
}

func TestCreatePaymentAttempt_ProviderFailure(t *testing.T) {
	s := setupTestRouter(t)
	s.mock.CreateFunc = func(_ context.Context, _ adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
		return adapter.CheckoutSession{}, fmt.Errorf("provider timeout")
	}

	body := []byte(`{"restaurant_id": "rest_1", "gross_total": "12.00", "success_url": "https://a.example/ok", "cancel_url": "https://a.example/no", "provider": "mock"}`)
	w := s.do(t, http.MethodPost, "/orders/ord_fail/payment_attempts", body, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestWebhook_CompletesAttemptAndExportsLedger(t *testing.T) {
	s := setupTestRouter(t)
	res := createAttempt(t, s, "ord_2")

	body := eventBody(t, "evt_done", "checkout.session.completed", map[string]any{
		"id":           res.ProviderReference,
		"amount_total": 2500,
		"currency":     "usd",
		"metadata":     map[string]any{"order_id": "ord_2"},
	})

	w := s.do(t, http.MethodPost, "/webhooks/mock", body, mockHeader())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(ingest.OutcomeApplied), decodeStatus(t, w))

	w = s.do(t, http.MethodPost, "/webhooks/mock", body, mockHeader())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(ingest.OutcomeDuplicate), decodeStatus(t, w))

	var attempt payment.Attempt
	require.NoError(t, s.db.First(&attempt, "id = ?", res.Attempt.ID).Error)
	assert.Equal(t, payment.AttemptSucceeded, attempt.Status)

	w = s.do(t, http.MethodGet, "/ledger/payment_attempt/"+res.Attempt.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var export struct {
		Events []ledger.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &export))
	require.Len(t, export.Events, 1)
	assert.Equal(t, "evt_done", export.Events[0].ProviderEventID)

	w = s.do(t, http.MethodGet, "/ledger/report?provider=mock", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report reporting.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalEvents)
	assert.Equal(t, int64(2500), report.CollectedByCurrency["USD"])

	orphan := eventBody(t, "evt_orphan", "checkout.session.completed", map[string]any{
		"id":           "cs_unknown",
		"amount_total": 9900,
		"currency":     "usd",
	})
	w = s.do(t, http.MethodPost, "/webhooks/mock", orphan, mockHeader())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(ingest.OutcomeEntityNotFound), decodeStatus(t, w))

	w = s.do(t, http.MethodGet, "/ledger/report?provider=mock", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	report = reporting.Report{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 2, report.TotalEvents)
	assert.Equal(t, 1, report.UnresolvedEvents)
	assert.Equal(t, int64(2500), report.CollectedByCurrency["USD"], "an unmatched session is not collected money")
}

func TestWebhook_Rejected(t *testing.T) {
	valid := func(t *testing.T) []byte {
		return eventBody(t, "evt_1", "checkout.session.completed", map[string]any{"id": "cs_1"})
	}

	tests := []struct {
		name       string
		path       string
		body       func(t *testing.T) []byte
		header     http.Header
		wantStatus int
	}{
		{
			name:       "unknown provider",
			path:       "/webhooks/paypal",
			body:       valid,
			header:     mockHeader(),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "bad mock signature",
			path:       "/webhooks/mock",
			body:       valid,
			header:     http.Header{mock.SignatureHeader: []string{"wrong"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsigned stripe event",
			path:       "/webhooks/stripe",
			body:       valid,
			header:     nil,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing data object",
			path: "/webhooks/mock",
			body: func(t *testing.T) []byte {
				return []byte(`{"id": "evt_2", "type": "checkout.session.completed", "data": {}}`)
			},
			header:     mockHeader(),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestRouter(t)
			w := s.do(t, http.MethodPost, tt.path, tt.body(t), tt.header)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			var n int64
			require.NoError(t, s.db.Model(&ledger.Event{}).Count(&n).Error)
			assert.Zero(t, n)
		})
	}
}

func TestWebhook_StripeSignedEvent(t *testing.T) {
	s := setupTestRouter(t)

	body := eventBody(t, "evt_stripe_1", "checkout.session.completed", map[string]any{
		"id":           "cs_unknown",
		"amount_total": 1000,
		"currency":     "eur",
	})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    stripeSecret,
		Timestamp: time.Now(),
	})

	w := s.do(t, http.MethodPost, "/webhooks/stripe", signed.Payload, http.Header{"Stripe-Signature": []string{signed.Header}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(ingest.OutcomeEntityNotFound), decodeStatus(t, w))
}

func TestWebhook_UnhandledTypeIgnored(t *testing.T) {
	s := setupTestRouter(t)

	body := eventBody(t, "evt_other", "customer.created", map[string]any{"id": "cus_1"})
	w := s.do(t, http.MethodPost, "/webhooks/mock", body, mockHeader())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(ingest.OutcomeIgnored), decodeStatus(t, w))
}

func TestLedgerEndpoints_BadInput(t *testing.T) {
	s := setupTestRouter(t)

	w := s.do(t, http.MethodGet, "/ledger/order/ord_1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/ledger/report?since=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/ledger/refund/re_none", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReportFilter(t *testing.T) {
	f, err := reportFilter("Stripe", "2026-01-01T00:00:00Z", "")
	require.NoError(t, err)
	assert.Equal(t, "stripe", string(f.Provider))
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), f.Since.UTC())
	assert.True(t, f.Until.IsZero())

	_, err = reportFilter("", "", "not-a-time")
	assert.Error(t, err)
}

func TestRelativeSince(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-13T12:00:00Z", relativeSince("24h", now))
	assert.Equal(t, "2026-01-01T00:00:00Z", relativeSince("2026-01-01T00:00:00Z", now))
	assert.Equal(t, "", relativeSince("", now))
}

func TestServeOptions_GraphIsComplete(t *testing.T) {
	cfg := config.Config{
		ServerPort:      "0",
		DatabaseDriver:  "sqlite",
		DatabaseURL:     "file::memory:",
		LogLevel:        "error",
		DefaultProvider: "mock",
		DefaultCurrency: "USD",
		SnowflakeNode:   1,
	}
	require.NoError(t, fx.ValidateApp(serveOptions(cfg, true)))
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["ledger"])

	report, _, err := root.Find([]string{"ledger", "report"})
	require.NoError(t, err)
	assert.Equal(t, "report", report.Name())
	assert.NotNil(t, report.Flags().Lookup("since"))
}
