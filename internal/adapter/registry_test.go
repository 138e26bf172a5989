package adapter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/smartmenu-payments/internal/adapter"
	"github.com/yourorg/smartmenu-payments/internal/adapter/circuitbreaker"
	"github.com/yourorg/smartmenu-payments/internal/adapter/mock"
)

type checkoutOnly struct{}

func (checkoutOnly) Name() string { return "plain" }
func (checkoutOnly) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
	return adapter.CheckoutSession{ID: "cs_plain"}, nil
}

func TestRegistry_Get(t *testing.T) {
	r := adapter.NewRegistry(mock.NewMockAdapter("mock"))

	a, err := r.Get(" Mock ")
	require.NoError(t, err)
	assert.Equal(t, "mock", a.Name())

	_, err = r.Get("adyen")
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrUnsupportedProvider)
	assert.Contains(t, err.Error(), "adyen")
}

func TestRegistry_Verifier(t *testing.T) {
	r := adapter.NewRegistry(mock.NewMockAdapter("mock"), checkoutOnly{})

	v, err := r.Verifier("mock")
	require.NoError(t, err)
	assert.NotNil(t, v)

	_, err = r.Verifier("plain")
	assert.ErrorIs(t, err, adapter.ErrUnsupportedProvider)

	_, err = r.Verifier("missing")
	assert.ErrorIs(t, err, adapter.ErrUnsupportedProvider)
}

func TestRegistry_Providers(t *testing.T) {
	r := adapter.NewRegistry(mock.NewMockAdapter("mock"), checkoutOnly{})
	assert.Equal(t, []string{"mock", "plain"}, r.Providers())
	assert.Panics(t, func() { r.Register(nil) })
}

func TestRegistry_WithBreaker_FailsFastWhenOpen(t *testing.T) {
	providerErr := errors.New("provider down")
	m := mock.NewMockAdapter("mock")
	m.CreateFunc = func(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
		return adapter.CheckoutSession{}, providerErr
	}
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour})
	r := adapter.NewRegistry(m).WithBreaker(cb)

	a, err := r.Get("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", a.Name())

	for i := 0; i < 2; i++ {
		_, err = a.CreateCheckoutSession(context.Background(), adapter.CheckoutRequest{})
		assert.ErrorIs(t, err, providerErr)
	}

	_, err = a.CreateCheckoutSession(context.Background(), adapter.CheckoutRequest{})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Len(t, m.Calls(), 2, "an open circuit must not reach the provider")

	state, _ := cb.GetProviderStatus("mock")
	assert.Equal(t, circuitbreaker.StateOpen, state)
}

func TestRegistry_WithBreaker_RecordsSuccess(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 3})
	cb.RecordFailure("mock")
	r := adapter.NewRegistry(mock.NewMockAdapter("mock")).WithBreaker(cb)

	a, err := r.Get("mock")
	require.NoError(t, err)
	_, err = a.CreateCheckoutSession(context.Background(), adapter.CheckoutRequest{})
	require.NoError(t, err)

	_, failures := cb.GetProviderStatus("mock")
	assert.Equal(t, 0, failures)
}
