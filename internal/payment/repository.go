package payment

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists payment entities. Every method takes the *gorm.DB to
// run on so callers can pass a transaction. Finders return (nil, nil) when
// no row matches.
type Repository interface {
	FindOrCreateProfile(ctx context.Context, db *gorm.DB, defaults Profile) (*Profile, error)

	CreateAttempt(ctx context.Context, db *gorm.DB, attempt *Attempt) error
	SetProviderPaymentID(ctx context.Context, db *gorm.DB, attemptID string, providerPaymentID string, updatedAt time.Time) error
	FindAttempt(ctx context.Context, db *gorm.DB, id string) (*Attempt, error)
	FindAttemptByProviderPaymentID(ctx context.Context, db *gorm.DB, provider string, providerPaymentID string) (*Attempt, error)
	FindUncorrelatedAttemptForOrder(ctx context.Context, db *gorm.DB, provider string, orderID string) (*Attempt, error)
	UpdateAttemptStatus(ctx context.Context, db *gorm.DB, id string, from AttemptStatus, to AttemptStatus, updatedAt time.Time) (bool, error)

	CreateRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindRefundByProviderRefundID(ctx context.Context, db *gorm.DB, provider string, providerRefundID string) (*Refund, error)
	UpdateRefundStatus(ctx context.Context, db *gorm.DB, id string, from RefundStatus, to RefundStatus, response datatypes.JSON, updatedAt time.Time) (bool, error)

	UpsertProviderAccount(ctx context.Context, db *gorm.DB, account *ProviderAccount) error
	FindProviderAccount(ctx context.Context, db *gorm.DB, provider string, providerAccountID string) (*ProviderAccount, error)
	FindRestaurantAccount(ctx context.Context, db *gorm.DB, provider string, restaurantID string) (*ProviderAccount, error)
}

type repo struct{}

// NewRepository returns the gorm-backed Repository.
func NewRepository() Repository {
	return &repo{}
}

func (r *repo) FindOrCreateProfile(ctx context.Context, db *gorm.DB, defaults Profile) (*Profile, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "restaurant_id"}}, DoNothing: true}).
		Create(&defaults)
	if res.Error != nil {
		return nil, res.Error
	}

	var profile Profile
	if err := db.WithContext(ctx).Where("restaurant_id = ?", defaults.RestaurantID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repo) CreateAttempt(ctx context.Context, db *gorm.DB, attempt *Attempt) error {
	return db.WithContext(ctx).Create(attempt).Error
}

func (r *repo) SetProviderPaymentID(ctx context.Context, db *gorm.DB, attemptID string, providerPaymentID string, updatedAt time.Time) error {
	return db.WithContext(ctx).Model(&Attempt{}).
		Where("id = ?", attemptID).
		Updates(map[string]any{"provider_payment_id": providerPaymentID, "updated_at": updatedAt}).Error
}

func (r *repo) FindAttempt(ctx context.Context, db *gorm.DB, id string) (*Attempt, error) {
	var attempt Attempt
	return first(db.WithContext(ctx).Where("id = ?", id), &attempt)
}

func (r *repo) FindAttemptByProviderPaymentID(ctx context.Context, db *gorm.DB, provider string, providerPaymentID string) (*Attempt, error) {
	var attempt Attempt
	return first(db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID), &attempt)
}

func (r *repo) FindUncorrelatedAttemptForOrder(ctx context.Context, db *gorm.DB, provider string, orderID string) (*Attempt, error) {
	var attempt Attempt
	return first(db.WithContext(ctx).
		Where("provider = ? AND order_id = ? AND provider_payment_id IS NULL", provider, orderID).
		Order("created_at DESC"), &attempt)
}

// UpdateAttemptStatus moves the attempt only if it is still in from, so two
// concurrent deliveries cannot both apply the same transition.
func (r *repo) UpdateAttemptStatus(ctx context.Context, db *gorm.DB, id string, from AttemptStatus, to AttemptStatus, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&Attempt{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": updatedAt})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CreateRefund(ctx context.Context, db *gorm.DB, refund *Refund) error {
	return db.WithContext(ctx).Create(refund).Error
}

func (r *repo) FindRefundByProviderRefundID(ctx context.Context, db *gorm.DB, provider string, providerRefundID string) (*Refund, error) {
	var refund Refund
	return first(db.WithContext(ctx).
		Where("provider = ? AND provider_refund_id = ?", provider, providerRefundID), &refund)
}

func (r *repo) UpdateRefundStatus(ctx context.Context, db *gorm.DB, id string, from RefundStatus, to RefundStatus, response datatypes.JSON, updatedAt time.Time) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": updatedAt}
	if len(response) > 0 {
		updates["provider_response"] = response
	}
	res := db.WithContext(ctx).Model(&Refund{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpsertProviderAccount(ctx context.Context, db *gorm.DB, account *ProviderAccount) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "provider_account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"restaurant_id", "status", "charges_enabled", "payouts_enabled", "details_submitted", "updated_at",
			}),
		}).
		Create(account).Error
}

func (r *repo) FindProviderAccount(ctx context.Context, db *gorm.DB, provider string, providerAccountID string) (*ProviderAccount, error) {
	var account ProviderAccount
	return first(db.WithContext(ctx).
		Where("provider = ? AND provider_account_id = ?", provider, providerAccountID), &account)
}

func (r *repo) FindRestaurantAccount(ctx context.Context, db *gorm.DB, provider string, restaurantID string) (*ProviderAccount, error) {
	var account ProviderAccount
	return first(db.WithContext(ctx).
		Where("provider = ? AND restaurant_id = ?", provider, restaurantID).
		Order("updated_at DESC"), &account)
}

func first[T any](q *gorm.DB, dest *T) (*T, error) {
	if err := q.First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return dest, nil
}
