// Package stripe implements the Stripe Checkout integration: hosted checkout
// sessions for payment attempts and webhook signature verification.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/smartmenu-payments/internal/adapter"
	"github.com/yourorg/smartmenu-payments/internal/payment"
)

const (
	providerName          = "stripe"
	defaultRequestTimeout = 10 * time.Second
	signatureHeader       = "Stripe-Signature"
)

// Config holds the Stripe credentials and transport overrides.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// APIBaseURL overrides https://api.stripe.com, mostly for tests.
	APIBaseURL string
	HTTPClient *http.Client
}

// StripeAdapter implements adapter.ProviderAdapter and adapter.WebhookVerifier.
type StripeAdapter struct {
	client        *stripego.Client
	webhookSecret string
}

// NewStripeAdapter creates a new StripeAdapter. Network retries are left to
// the caller: a failed session creation surfaces immediately.
func NewStripeAdapter(cfg Config) *StripeAdapter {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	backendCfg := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripego.Int64(0),
	}
	if cfg.APIBaseURL != "" {
		backendCfg.URL = stripego.String(strings.TrimRight(cfg.APIBaseURL, "/"))
	}
	return &StripeAdapter{
		client:        stripego.NewClient(cfg.SecretKey, stripego.WithBackends(stripego.NewBackendsWithConfig(backendCfg))),
		webhookSecret: cfg.WebhookSecret,
	}
}

// Name returns the name of the provider.
func (s *StripeAdapter) Name() string {
	return providerName
}

// idempotencyKey is stable per attempt so a replayed request cannot open a
// second session for the same attempt.
func idempotencyKey(attemptID string) string {
	return "attempt-" + attemptID
}

func buildSessionParams(req adapter.CheckoutRequest) (*stripego.CheckoutSessionCreateParams, error) {
	metadata := map[string]string{
		"order_id":           req.Order.ID,
		"payment_attempt_id": req.Attempt.ID,
		"restaurant_id":      req.Attempt.RestaurantID,
	}

	params := &stripego.CheckoutSessionCreateParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:        stripego.String(req.SuccessURL),
		CancelURL:         stripego.String(req.CancelURL),
		ClientReferenceID: stripego.String(req.Attempt.ID),
		Metadata:          metadata,
		PaymentIntentData: &stripego.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
		LineItems: []*stripego.CheckoutSessionCreateLineItemParams{{
			PriceData: &stripego.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripego.String(strings.ToLower(req.Currency)),
				ProductData: &stripego.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripego.String(fmt.Sprintf("Order %s", req.Order.ID)),
				},
				UnitAmount: stripego.Int64(req.AmountCents),
			},
			Quantity: stripego.Int64(1),
		}},
	}

	// Both patterns settle with the restaurant; without its account the
	// charge would land on the platform balance.
	if req.ConnectedAccountID == "" {
		return nil, fmt.Errorf("stripe: %s charge for attempt %s has no connected account", req.Attempt.ChargePattern, req.Attempt.ID)
	}

	switch req.Attempt.ChargePattern {
	case payment.ChargePatternDestination:
		params.PaymentIntentData.TransferData = &stripego.CheckoutSessionCreatePaymentIntentDataTransferDataParams{
			Destination: stripego.String(req.ConnectedAccountID),
		}
		if req.ApplicationFeeCents > 0 {
			params.PaymentIntentData.ApplicationFeeAmount = stripego.Int64(req.ApplicationFeeCents)
		}
	default:
		// Direct charges are created on the restaurant's own account.
		params.SetStripeAccount(req.ConnectedAccountID)
	}

	params.SetIdempotencyKey(idempotencyKey(req.Attempt.ID))
	return params, nil
}

// CreateCheckoutSession opens a hosted Checkout session for the attempt.
func (s *StripeAdapter) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
	ctx, span := otel.Tracer("stripe").Start(ctx, "StripeAdapter.CreateCheckoutSession")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment_attempt.id", req.Attempt.ID),
		attribute.String("payment_attempt.charge_pattern", string(req.Attempt.ChargePattern)),
		attribute.Int64("payment_attempt.amount_cents", req.AmountCents),
	)

	params, err := buildSessionParams(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return adapter.CheckoutSession{}, err
	}

	session, err := s.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) {
			return adapter.CheckoutSession{}, fmt.Errorf("stripe: create checkout session (HTTP %d, %s): %w", stripeErr.HTTPStatusCode, stripeErr.Code, err)
		}
		return adapter.CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	var raw []byte
	if session.LastResponse != nil {
		raw = session.LastResponse.RawJSON
	}
	span.SetAttributes(attribute.String("stripe.checkout_session_id", session.ID))
	return adapter.CheckoutSession{ID: session.ID, URL: session.URL, Raw: raw}, nil
}

// VerifyWebhook checks the Stripe-Signature header against the endpoint
// secret. Events from a newer API version than the library's are accepted;
// only the envelope and data.object fields are read downstream.
func (s *StripeAdapter) VerifyWebhook(payload []byte, headers http.Header) (adapter.WebhookEnvelope, error) {
	if s.webhookSecret == "" {
		return adapter.WebhookEnvelope{}, fmt.Errorf("%w: stripe webhook secret not configured", adapter.ErrInvalidSignature)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, headers.Get(signatureHeader), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return adapter.WebhookEnvelope{}, fmt.Errorf("%w: %v", adapter.ErrInvalidSignature, err)
	}
	return adapter.WebhookEnvelope{
		ID:         ev.ID,
		Type:       string(ev.Type),
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
	}, nil
}
