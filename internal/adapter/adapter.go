// Package adapter defines the provider integration boundary. Each payment
// provider is reached only through a ProviderAdapter; webhook signature
// checks go through the optional WebhookVerifier capability.
package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/yourorg/smartmenu-payments/internal/payment"
)

var (
	// ErrUnsupportedProvider is returned when no adapter is registered for a provider.
	ErrUnsupportedProvider = errors.New("adapter: unsupported provider")
	// ErrCircuitOpen is returned without calling the provider while its breaker is open.
	ErrCircuitOpen = errors.New("adapter: circuit open")
	// ErrInvalidSignature is returned when a webhook fails verification.
	ErrInvalidSignature = errors.New("adapter: invalid webhook signature")
)

// CheckoutRequest carries everything an adapter needs to open a hosted
// checkout for one payment attempt.
type CheckoutRequest struct {
	Attempt             payment.Attempt
	Order               payment.Order
	AmountCents         int64
	Currency            string
	SuccessURL          string
	CancelURL           string
	ConnectedAccountID  string
	ApplicationFeeCents int64
}

// CheckoutSession is the provider's answer to a checkout request.
type CheckoutSession struct {
	ID  string
	URL string
	Raw []byte
}

// ProviderAdapter is implemented by every payment provider integration.
type ProviderAdapter interface {
	// Name returns the provider key, e.g. "stripe".
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// WebhookEnvelope is the verified identity of an inbound webhook.
type WebhookEnvelope struct {
	ID         string
	Type       string
	OccurredAt time.Time
}

// WebhookVerifier authenticates a raw webhook body.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, headers http.Header) (WebhookEnvelope, error)
}
