// Package fundsflow decides the settlement topology of a charge.
//
// The pattern is computed once when a payment attempt is created and frozen
// onto the attempt: provider-side settlement cannot be changed afterwards.
package fundsflow

import (
	"github.com/yourorg/smartmenu-payments/internal/payment"
)

// ChargePatternFor returns the charge pattern for a restaurant's merchant
// model. The platform being merchant of record routes funds through the
// platform account (destination); any other model, including unknown or
// empty values, charges the restaurant's connected account directly.
//
// provider and restaurantID are accepted so that per-provider or
// per-restaurant overrides can be added without changing callers.
func ChargePatternFor(provider string, model payment.MerchantModel, restaurantID string) payment.ChargePattern {
	switch model {
	case payment.MerchantModelSmartmenuMOR:
		return payment.ChargePatternDestination
	default:
		return payment.ChargePatternDirect
	}
}
