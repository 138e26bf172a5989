// Package payment holds the state-bearing entities of the payment pipeline:
// payment attempts and refunds (the mutable state machines), the per-restaurant
// payment profile and connected provider accounts.
package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MerchantModel records who is merchant of record for a restaurant.
type MerchantModel string

const (
	MerchantModelRestaurantMOR MerchantModel = "restaurant_mor"
	MerchantModelSmartmenuMOR  MerchantModel = "smartmenu_mor"
)

// ChargePattern is the provider-level settlement topology of an attempt.
type ChargePattern string

const (
	ChargePatternDirect      ChargePattern = "direct"
	ChargePatternDestination ChargePattern = "destination"
)

// AccountStatus is the charge/payout readiness of a connected account.
type AccountStatus string

const (
	AccountEnabled AccountStatus = "enabled"
	AccountPending AccountStatus = "pending"
)

// Profile is the per-restaurant payment configuration.
type Profile struct {
	ID              uint          `json:"-" gorm:"primaryKey"`
	RestaurantID    string        `json:"restaurant_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_profiles_restaurant"`
	MerchantModel   MerchantModel `json:"merchant_model" gorm:"type:varchar(32);not null"`
	PrimaryProvider string        `json:"primary_provider" gorm:"type:varchar(32);not null"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Profile) TableName() string { return "payment_profiles" }

// Attempt is one attempt to collect payment for an order.
type Attempt struct {
	ID                  string        `json:"id" gorm:"type:varchar(36);primaryKey"`
	OrderID             string        `json:"order_id" gorm:"type:varchar(64);not null;index:ix_payment_attempts_order"`
	RestaurantID        string        `json:"restaurant_id" gorm:"type:varchar(64);not null;index:ix_payment_attempts_restaurant"`
	Provider            string        `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_attempts_provider_payment,priority:1"`
	ProviderPaymentID   *string       `json:"provider_payment_id,omitempty" gorm:"type:varchar(255);uniqueIndex:ux_payment_attempts_provider_payment,priority:2"`
	AmountCents         int64         `json:"amount_cents" gorm:"not null"`
	Currency            string        `json:"currency" gorm:"type:char(3);not null"`
	Status              AttemptStatus `json:"status" gorm:"type:varchar(32);not null"`
	ChargePattern       ChargePattern `json:"charge_pattern" gorm:"type:varchar(32);not null"`
	MerchantModel       MerchantModel `json:"merchant_model" gorm:"type:varchar(32);not null"`
	ApplicationFeeCents int64         `json:"application_fee_cents" gorm:"not null;default:0"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

func (Attempt) TableName() string { return "payment_attempts" }

// Refund is a refund against a payment attempt.
type Refund struct {
	ID               string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	AttemptID        string         `json:"payment_attempt_id" gorm:"type:varchar(36);not null;index:ix_payment_refunds_attempt"`
	OrderID          string         `json:"order_id" gorm:"type:varchar(64);not null"`
	RestaurantID     string         `json:"restaurant_id" gorm:"type:varchar(64);not null"`
	Provider         string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_refunds_provider_refund,priority:1"`
	ProviderRefundID string         `json:"provider_refund_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_refunds_provider_refund,priority:2"`
	AmountCents      int64          `json:"amount_cents" gorm:"not null"`
	Currency         string         `json:"currency" gorm:"type:char(3);not null"`
	Status           RefundStatus   `json:"status" gorm:"type:varchar(32);not null"`
	ProviderResponse datatypes.JSON `json:"provider_response,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (Refund) TableName() string { return "payment_refunds" }

// ProviderAccount is a restaurant's connected sub-account with a provider.
type ProviderAccount struct {
	ID                uint          `json:"-" gorm:"primaryKey"`
	Provider          string        `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_provider_accounts_provider_account,priority:1"`
	ProviderAccountID string        `json:"provider_account_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_provider_accounts_provider_account,priority:2"`
	RestaurantID      string        `json:"restaurant_id" gorm:"type:varchar(64);not null;index:ix_provider_accounts_restaurant"`
	Status            AccountStatus `json:"status" gorm:"type:varchar(32);not null"`
	ChargesEnabled    bool          `json:"charges_enabled" gorm:"not null;default:false"`
	PayoutsEnabled    bool          `json:"payouts_enabled" gorm:"not null;default:false"`
	DetailsSubmitted  bool          `json:"details_submitted" gorm:"not null;default:false"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (ProviderAccount) TableName() string { return "provider_accounts" }

// Order is the snapshot of an order handed in by the ordering system.
// It is not persisted by this module.
type Order struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Currency     string          `json:"currency"`
	GrossTotal   decimal.Decimal `json:"gross_total"`
	Tip          decimal.Decimal `json:"tip"`
	Items        []OrderItem     `json:"items"`
}

// OrderItem is one ordered line; Price is in major units.
type OrderItem struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}
