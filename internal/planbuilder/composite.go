package planbuilder

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/yourorg/smartmenu-payments/internal/payment"
)

// FeePolicy adjusts a plan after its amount and pattern are fixed.
type FeePolicy interface {
	Apply(ctx context.Context, plan Plan) (Plan, error)
}

// PlatformFeePolicy charges a platform fee in basis points on destination
// charges, where funds settle through the platform account. Direct charges
// carry no platform fee.
type PlatformFeePolicy struct {
	Bps int64
}

// NewPlatformFeePolicy creates a fee policy charging bps basis points.
func NewPlatformFeePolicy(bps int64) *PlatformFeePolicy {
	return &PlatformFeePolicy{Bps: bps}
}

func (p *PlatformFeePolicy) Apply(ctx context.Context, plan Plan) (Plan, error) {
	if p.Bps < 0 || p.Bps > 10000 {
		return Plan{}, fmt.Errorf("platform fee of %d bps is out of range", p.Bps)
	}
	if plan.ChargePattern != payment.ChargePatternDestination || p.Bps == 0 {
		plan.ApplicationFeeCents = 0
		return plan, nil
	}
	fee := decimal.NewFromInt(plan.AmountCents).
		Mul(decimal.NewFromInt(p.Bps)).
		Div(decimal.NewFromInt(10000)).
		Round(0).
		IntPart()
	if fee >= plan.AmountCents {
		return Plan{}, fmt.Errorf("platform fee %d is not below amount %d", fee, plan.AmountCents)
	}
	plan.ApplicationFeeCents = fee
	return plan, nil
}
