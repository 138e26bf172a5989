// Package policy decides whether a connected provider account can take
// payments. The decision is a govaluate expression over the capability
// flags a provider reports, so the rule can change through configuration.
package policy

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/smartmenu-payments/internal/payment"
)

// DefaultAccountRule enables an account that can charge (either flag) and
// pay out.
const DefaultAccountRule = "(charges_enabled || card_payments_active) && payouts_enabled"

// AccountFacts are the capability flags extracted from an account.updated
// payload.
type AccountFacts struct {
	ChargesEnabled     bool
	PayoutsEnabled     bool
	DetailsSubmitted   bool
	CardPaymentsActive bool
	TransfersActive    bool
}

func (f AccountFacts) parameters() map[string]interface{} {
	return map[string]interface{}{
		"charges_enabled":      f.ChargesEnabled,
		"payouts_enabled":      f.PayoutsEnabled,
		"details_submitted":    f.DetailsSubmitted,
		"card_payments_active": f.CardPaymentsActive,
		"transfers_active":     f.TransfersActive,
	}
}

// AccountPolicy evaluates the account-enabled rule.
type AccountPolicy struct {
	rule       string
	expression *govaluate.EvaluableExpression
}

// NewAccountPolicy compiles rule. An empty rule selects DefaultAccountRule.
// The rule is trial-evaluated so that unknown parameters or a non-boolean
// result fail here instead of on the first webhook.
func NewAccountPolicy(rule string) (*AccountPolicy, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		rule = DefaultAccountRule
	}
	expr, err := govaluate.NewEvaluableExpression(rule)
	if err != nil {
		return nil, fmt.Errorf("failed to compile account rule '%s': %w", rule, err)
	}
	p := &AccountPolicy{rule: rule, expression: expr}
	if _, err := p.Enabled(AccountFacts{}); err != nil {
		return nil, err
	}
	return p, nil
}

// Rule returns the expression in use.
func (p *AccountPolicy) Rule() string {
	return p.rule
}

// Enabled reports whether the rule holds for facts.
func (p *AccountPolicy) Enabled(facts AccountFacts) (bool, error) {
	result, err := p.expression.Evaluate(facts.parameters())
	if err != nil {
		return false, fmt.Errorf("error evaluating account rule '%s': %w", p.rule, err)
	}
	enabled, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("account rule '%s' did not evaluate to a boolean (got %T)", p.rule, result)
	}
	return enabled, nil
}

// Status maps the rule outcome to the stored account status.
func (p *AccountPolicy) Status(facts AccountFacts) (payment.AccountStatus, error) {
	enabled, err := p.Enabled(facts)
	if err != nil {
		return payment.AccountPending, err
	}
	if enabled {
		return payment.AccountEnabled, nil
	}
	return payment.AccountPending, nil
}
