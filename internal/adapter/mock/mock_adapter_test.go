package mock

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/smartmenu-payments/internal/adapter"
	"github.com/yourorg/smartmenu-payments/internal/payment"
)

func TestNewMockAdapter(t *testing.T) {
	m := NewMockAdapter("test_mock")
	require.NotNil(t, m)
	assert.Equal(t, "test_mock", m.Name())
	assert.Empty(t, m.Calls())
}

func TestMockAdapter_CreateCheckoutSession_DefaultBehavior(t *testing.T) {
	m := NewMockAdapter("mock")
	req := adapter.CheckoutRequest{
		Attempt:     payment.Attempt{ID: "att_1"},
		Order:       payment.Order{ID: "order_1"},
		AmountCents: 1000,
		Currency:    "USD",
	}

	session, err := m.CreateCheckoutSession(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(session.ID, "cs_mock_"))
	assert.Equal(t, "https://checkout.mock.local/"+session.ID, session.URL)
	assert.Contains(t, string(session.Raw), `"payment_attempt_id":"att_1"`)

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(1000), calls[0].AmountCents)
}

func TestMockAdapter_CreateCheckoutSession_WithCustomFunc(t *testing.T) {
	m := NewMockAdapter("mock")
	providerErr := errors.New("card network unavailable")
	m.CreateFunc = func(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
		return adapter.CheckoutSession{}, providerErr
	}

	_, err := m.CreateCheckoutSession(context.Background(), adapter.CheckoutRequest{})
	assert.ErrorIs(t, err, providerErr)
	assert.Len(t, m.Calls(), 1)
}

func TestMockAdapter_VerifyWebhook(t *testing.T) {
	m := NewMockAdapter("mock")
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","created":1767225600}`)

	env, err := m.VerifyWebhook(payload, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "evt_1", env.ID)
	assert.Equal(t, "checkout.session.completed", env.Type)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), env.OccurredAt)

	_, err = m.VerifyWebhook([]byte(`{"type":"x"}`), http.Header{})
	assert.ErrorIs(t, err, adapter.ErrInvalidSignature)

	_, err = m.VerifyWebhook([]byte(`not json`), http.Header{})
	assert.ErrorIs(t, err, adapter.ErrInvalidSignature)
}

func TestMockAdapter_VerifyWebhook_Secret(t *testing.T) {
	m := NewMockAdapter("mock")
	m.Secret = "s3cret"
	payload := []byte(`{"id":"evt_1","type":"account.updated"}`)

	_, err := m.VerifyWebhook(payload, http.Header{})
	assert.ErrorIs(t, err, adapter.ErrInvalidSignature)

	headers := http.Header{}
	headers.Set(SignatureHeader, "s3cret")
	env, err := m.VerifyWebhook(payload, headers)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", env.ID)
	assert.False(t, env.OccurredAt.IsZero())
}
