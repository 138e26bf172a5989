package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/smartmenu-payments/internal/adapter"
)

// SignatureHeader carries the shared secret on mock webhooks.
const SignatureHeader = "Mock-Signature"

// MockAdapter is a scriptable ProviderAdapter for tests and local runs.
type MockAdapter struct {
	name string
	// Secret, when set, must match the SignatureHeader of inbound webhooks.
	Secret     string
	CreateFunc func(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error)

	mu    sync.Mutex
	calls []adapter.CheckoutRequest
}

// NewMockAdapter creates a new MockAdapter.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{name: name}
}

// Name implements adapter.ProviderAdapter.
func (m *MockAdapter) Name() string {
	return m.name
}

// CreateCheckoutSession records the request and calls CreateFunc if set,
// otherwise returns a new session with a random id.
func (m *MockAdapter) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}

	id := "cs_mock_" + uuid.NewString()
	raw, _ := json.Marshal(map[string]any{
		"id":           id,
		"amount_total": req.AmountCents,
		"currency":     req.Currency,
		"metadata": map[string]string{
			"order_id":           req.Order.ID,
			"payment_attempt_id": req.Attempt.ID,
		},
	})
	return adapter.CheckoutSession{
		ID:  id,
		URL: "https://checkout.mock.local/" + id,
		Raw: raw,
	}, nil
}

// Calls returns a copy of every request received so far.
func (m *MockAdapter) Calls() []adapter.CheckoutRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.CheckoutRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
}

// VerifyWebhook implements adapter.WebhookVerifier over the same envelope
// shape as Stripe events.
func (m *MockAdapter) VerifyWebhook(payload []byte, headers http.Header) (adapter.WebhookEnvelope, error) {
	if m.Secret != "" && headers.Get(SignatureHeader) != m.Secret {
		return adapter.WebhookEnvelope{}, fmt.Errorf("%w: %s signature mismatch", adapter.ErrInvalidSignature, m.name)
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return adapter.WebhookEnvelope{}, fmt.Errorf("%w: %v", adapter.ErrInvalidSignature, err)
	}
	if env.ID == "" || env.Type == "" {
		return adapter.WebhookEnvelope{}, fmt.Errorf("%w: missing id or type", adapter.ErrInvalidSignature)
	}
	occurred := time.Now().UTC()
	if env.Created > 0 {
		occurred = time.Unix(env.Created, 0).UTC()
	}
	return adapter.WebhookEnvelope{ID: env.ID, Type: env.Type, OccurredAt: occurred}, nil
}
