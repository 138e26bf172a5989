// Package orchestrator starts payment attempts: it freezes a charge plan
// onto a new attempt, opens a hosted checkout session with the provider and
// records the session id so later webhooks can be correlated.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/smartmenu-payments/internal/adapter"
	"github.com/yourorg/smartmenu-payments/internal/payment"
	"github.com/yourorg/smartmenu-payments/internal/planbuilder"
)

var (
	// ErrInvalidOrder is returned when the order snapshot lacks its identifiers.
	ErrInvalidOrder = errors.New("orchestrator: invalid order")
	// ErrCheckoutFailed wraps any provider error raised while opening the
	// checkout session.
	ErrCheckoutFailed = errors.New("orchestrator: checkout session failed")
	// ErrNoConnectedAccount is returned when the restaurant has no enabled
	// account with the provider to settle the charge on.
	ErrNoConnectedAccount = errors.New("orchestrator: no enabled connected account")
)

// NextActionRedirect asks the caller to send the diner to URL.
const NextActionRedirect = "redirect_to_url"

var paymentAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "smartmenu_payment_attempts_total",
		Help: "Payment attempt creations partitioned by provider, charge pattern and result.",
	},
	[]string{"provider", "charge_pattern", "result"},
)

// GetPaymentAttemptsTotal returns the attempt counter.
func GetPaymentAttemptsTotal() *prometheus.CounterVec {
	return paymentAttemptsTotal
}

// PlanBuilderInterface resolves the charge plan for an order.
type PlanBuilderInterface interface {
	Build(ctx context.Context, in planbuilder.Input) (planbuilder.Plan, error)
}

// AdapterRegistryInterface resolves provider adapters by name.
type AdapterRegistryInterface interface {
	Get(provider string) (adapter.ProviderAdapter, error)
}

// Config holds orchestrator defaults.
type Config struct {
	// DefaultProvider seeds lazily created payment profiles.
	DefaultProvider string
}

// Request starts a payment for an order.
type Request struct {
	Order      payment.Order
	SuccessURL string
	CancelURL  string
	// Provider overrides the restaurant's primary provider when set.
	Provider string
}

// NextAction tells the caller what to do with the diner.
type NextAction struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Result is a created attempt and where to send the diner.
type Result struct {
	Attempt           payment.Attempt `json:"payment_attempt"`
	NextAction        NextAction      `json:"next_action"`
	ProviderReference string          `json:"provider_reference"`
}

// Orchestrator creates payment attempts.
type Orchestrator struct {
	db       *gorm.DB
	repo     payment.Repository
	plans    PlanBuilderInterface
	adapters AdapterRegistryInterface
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	db *gorm.DB,
	repo payment.Repository,
	plans PlanBuilderInterface,
	adapters AdapterRegistryInterface,
	cfg Config,
	log *zap.Logger,
) *Orchestrator {
	if db == nil {
		panic("DB cannot be nil")
	}
	if repo == nil {
		panic("Repository cannot be nil")
	}
	if plans == nil {
		panic("PlanBuilder cannot be nil")
	}
	if adapters == nil {
		panic("AdapterRegistry cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "stripe"
	}
	return &Orchestrator{
		db:       db,
		repo:     repo,
		plans:    plans,
		adapters: adapters,
		cfg:      cfg,
		log:      log.Named("orchestrator"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreatePaymentAttempt runs the attempt flow. No attempt is written when the
// provider is unsupported, the amount is invalid or the restaurant has no
// enabled connected account. If the provider call fails the attempt stays in
// requires_action with no provider id; callers retry by creating a new attempt.
func (o *Orchestrator) CreatePaymentAttempt(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "Orchestrator.CreatePaymentAttempt")
	defer span.End()

	order := req.Order
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("restaurant.id", order.RestaurantID),
	)
	fail := func(provider, pattern, result string, err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		paymentAttemptsTotal.WithLabelValues(provider, pattern, result).Inc()
		o.log.Error("failed to create payment attempt",
			zap.String("order_id", order.ID),
			zap.String("restaurant_id", order.RestaurantID),
			zap.String("provider", provider),
			zap.String("result", result),
			zap.Error(err),
		)
		return Result{}, err
	}

	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.RestaurantID) == "" {
		return fail("unknown", "unknown", "invalid_order", fmt.Errorf("%w: order id and restaurant id are required", ErrInvalidOrder))
	}

	now := o.now()
	profile, err := o.repo.FindOrCreateProfile(ctx, o.db, payment.Profile{
		RestaurantID:    order.RestaurantID,
		MerchantModel:   payment.MerchantModelRestaurantMOR,
		PrimaryProvider: o.cfg.DefaultProvider,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return fail("unknown", "unknown", "error", fmt.Errorf("failed to load payment profile: %w", err))
	}

	plan, err := o.plans.Build(ctx, planbuilder.Input{Order: order, Profile: *profile, Provider: req.Provider})
	if err != nil {
		result := "error"
		if errors.Is(err, planbuilder.ErrInvalidAmount) {
			result = "invalid_amount"
		}
		return fail("unknown", "unknown", result, err)
	}
	pattern := string(plan.ChargePattern)

	providerAdapter, err := o.adapters.Get(plan.Provider)
	if err != nil {
		return fail(plan.Provider, pattern, "unsupported_provider", err)
	}

	// Direct and destination charges both settle with the restaurant, so an
	// enabled connected account is required before anything is written.
	account, err := o.repo.FindRestaurantAccount(ctx, o.db, plan.Provider, order.RestaurantID)
	if err != nil {
		return fail(plan.Provider, pattern, "error", fmt.Errorf("failed to load provider account: %w", err))
	}
	if account == nil || account.Status != payment.AccountEnabled {
		return fail(plan.Provider, pattern, "no_connected_account",
			fmt.Errorf("%w: restaurant %s with provider %s (%s charge)", ErrNoConnectedAccount, order.RestaurantID, plan.Provider, pattern))
	}
	connectedAccountID := account.ProviderAccountID

	attempt := payment.Attempt{
		ID:                  uuid.NewString(),
		OrderID:             order.ID,
		RestaurantID:        order.RestaurantID,
		Provider:            plan.Provider,
		AmountCents:         plan.AmountCents,
		Currency:            plan.Currency,
		Status:              payment.AttemptRequiresAction,
		ChargePattern:       plan.ChargePattern,
		MerchantModel:       plan.MerchantModel,
		ApplicationFeeCents: plan.ApplicationFeeCents,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := o.repo.CreateAttempt(ctx, o.db, &attempt); err != nil {
		return fail(plan.Provider, pattern, "error", fmt.Errorf("failed to create payment attempt: %w", err))
	}
	span.SetAttributes(attribute.String("payment_attempt.id", attempt.ID))

	session, err := providerAdapter.CreateCheckoutSession(ctx, adapter.CheckoutRequest{
		Attempt:             attempt,
		Order:               order,
		AmountCents:         plan.AmountCents,
		Currency:            plan.Currency,
		SuccessURL:          req.SuccessURL,
		CancelURL:           req.CancelURL,
		ConnectedAccountID:  connectedAccountID,
		ApplicationFeeCents: plan.ApplicationFeeCents,
	})
	if err != nil {
		return fail(plan.Provider, pattern, "adapter_error", fmt.Errorf("%w for attempt %s: %w", ErrCheckoutFailed, attempt.ID, err))
	}

	updatedAt := o.now()
	if err := o.repo.SetProviderPaymentID(ctx, o.db, attempt.ID, session.ID, updatedAt); err != nil {
		return fail(plan.Provider, pattern, "error", fmt.Errorf("failed to record checkout session %s on attempt %s: %w", session.ID, attempt.ID, err))
	}
	sessionID := session.ID
	attempt.ProviderPaymentID = &sessionID
	attempt.UpdatedAt = updatedAt

	paymentAttemptsTotal.WithLabelValues(plan.Provider, pattern, "created").Inc()
	o.log.Info("payment attempt created",
		zap.String("payment_attempt_id", attempt.ID),
		zap.String("order_id", order.ID),
		zap.String("provider", plan.Provider),
		zap.String("charge_pattern", pattern),
		zap.Int64("amount_cents", plan.AmountCents),
		zap.String("checkout_session_id", session.ID),
	)

	return Result{
		Attempt:           attempt,
		NextAction:        NextAction{Type: NextActionRedirect, URL: session.URL},
		ProviderReference: session.ID,
	}, nil
}
