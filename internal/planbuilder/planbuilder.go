// Package planbuilder turns an order snapshot and a restaurant's payment
// profile into a charge plan: which provider to use, how much to charge,
// the settlement topology and any platform fee.
package planbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/smartmenu-payments/internal/fundsflow"
	"github.com/yourorg/smartmenu-payments/internal/payment"
)

// ErrInvalidAmount is returned when neither the order totals nor its items
// yield a positive amount.
var ErrInvalidAmount = errors.New("planbuilder: order amount must be positive")

var (
	planRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartmenu_plan_requests_total",
		Help: "Total number of charge plans requested.",
	})
	planBuildDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "smartmenu_plan_build_duration_seconds",
		Help:    "Time spent building a charge plan.",
		Buckets: prometheus.DefBuckets,
	})
	amountFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartmenu_plan_amount_fallbacks_total",
		Help: "Plans whose amount was computed from order items because the totals were not positive.",
	})
)

// GetPlanRequestsTotal returns the plan request counter.
func GetPlanRequestsTotal() prometheus.Counter { return planRequestsTotal }

// GetPlanBuildDurationSeconds returns the build duration histogram.
func GetPlanBuildDurationSeconds() prometheus.Histogram { return planBuildDurationSeconds }

// GetAmountFallbacksTotal returns the item-sum fallback counter.
func GetAmountFallbacksTotal() prometheus.Counter { return amountFallbacksTotal }

// Config holds plan defaults.
type Config struct {
	DefaultCurrency string
}

// Input is what a plan is built from.
type Input struct {
	Order   payment.Order
	Profile payment.Profile
	// Provider overrides the profile's primary provider when set.
	Provider string
}

// Plan is the frozen description of one charge.
type Plan struct {
	Provider            string
	AmountCents         int64
	Currency            string
	ChargePattern       payment.ChargePattern
	MerchantModel       payment.MerchantModel
	ApplicationFeeCents int64
}

// PlanBuilder constructs a Plan and hands it to a FeePolicy.
type PlanBuilder struct {
	cfg       Config
	feePolicy FeePolicy
}

// NewPlanBuilder creates a new PlanBuilder.
func NewPlanBuilder(cfg Config, feePolicy FeePolicy) *PlanBuilder {
	if feePolicy == nil {
		panic("FeePolicy cannot be nil")
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &PlanBuilder{cfg: cfg, feePolicy: feePolicy}
}

// Build resolves the provider, amount and charge pattern for in.
func (b *PlanBuilder) Build(ctx context.Context, in Input) (Plan, error) {
	ctx, span := otel.Tracer("planbuilder").Start(ctx, "PlanBuilder.Build")
	defer span.End()

	planRequestsTotal.Inc()
	timer := prometheus.NewTimer(planBuildDurationSeconds)
	defer timer.ObserveDuration()

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(in.Profile.PrimaryProvider))
	}

	amount, err := AmountCents(in.Order)
	if err != nil {
		span.RecordError(err)
		return Plan{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Order.Currency))
	if currency == "" {
		currency = strings.ToUpper(b.cfg.DefaultCurrency)
	}

	plan := Plan{
		Provider:      provider,
		AmountCents:   amount,
		Currency:      currency,
		ChargePattern: fundsflow.ChargePatternFor(provider, in.Profile.MerchantModel, in.Order.RestaurantID),
		MerchantModel: in.Profile.MerchantModel,
	}

	plan, err = b.feePolicy.Apply(ctx, plan)
	if err != nil {
		span.RecordError(err)
		return Plan{}, fmt.Errorf("failed to apply fee policy: %w", err)
	}

	span.SetAttributes(
		attribute.String("plan.provider", plan.Provider),
		attribute.String("plan.charge_pattern", string(plan.ChargePattern)),
		attribute.Int64("plan.amount_cents", plan.AmountCents),
	)
	return plan, nil
}

var hundred = decimal.NewFromInt(100)

// AmountCents computes (gross - tip) in minor units, rounded half away from
// zero. When that is not positive the sum of item prices is used instead,
// which covers orders whose aggregate totals were never filled in.
func AmountCents(order payment.Order) (int64, error) {
	amount := order.GrossTotal.Sub(order.Tip).Mul(hundred).Round(0).IntPart()
	if amount > 0 {
		return amount, nil
	}

	sum := decimal.Zero
	for _, item := range order.Items {
		sum = sum.Add(item.Price)
	}
	amount = sum.Mul(hundred).Round(0).IntPart()
	if amount <= 0 {
		return 0, fmt.Errorf("%w: order %s", ErrInvalidAmount, order.ID)
	}
	amountFallbacksTotal.Inc()
	return amount, nil
}
