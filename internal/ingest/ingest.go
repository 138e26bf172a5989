// Package ingest applies provider webhook deliveries to payment state and
// records them in the ledger. Each delivery runs in one transaction: the
// entity transition and the ledger append commit together or not at all,
// and a redelivered event is absorbed by the ledger's unique index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yourorg/smartmenu-payments/internal/event"
	"github.com/yourorg/smartmenu-payments/internal/ledger"
	"github.com/yourorg/smartmenu-payments/internal/payment"
	"github.com/yourorg/smartmenu-payments/internal/policy"
)

var (
	// ErrEntityNotFound marks a delivery whose attempt, refund or restaurant
	// could not be resolved. It is reported in Result, never returned.
	ErrEntityNotFound = errors.New("ingest: entity not found")
	// ErrInvalidPayload is returned when the body is not a provider event.
	ErrInvalidPayload = errors.New("ingest: invalid payload")
)

// Outcome summarizes what a delivery did.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeEntityNotFound Outcome = "entity_not_found"
	OutcomeIgnored        Outcome = "ignored"
)

var webhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "smartmenu_webhook_events_total",
		Help: "Webhook deliveries partitioned by provider, event type and outcome.",
	},
	[]string{"provider", "type", "outcome"},
)

// GetWebhookEventsTotal returns the delivery counter.
func GetWebhookEventsTotal() *prometheus.CounterVec {
	return webhookEventsTotal
}

// Delivery is one webhook call. ProviderEventID, ProviderEventType and
// OccurredAt are taken from the payload envelope when left empty.
type Delivery struct {
	Provider          event.Provider
	ProviderEventID   string
	ProviderEventType string
	OccurredAt        time.Time
	Payload           []byte
}

// Result describes a processed delivery.
type Result struct {
	// Handled is false for event types without a handler.
	Handled bool
	Outcome Outcome
	// Ledger is nil when the event type produces no ledger row.
	Ledger *ledger.AppendResult
	// EntityErr wraps ErrEntityNotFound when no entity was transitioned.
	EntityErr error
}

// handling is what a handler decided inside the transaction.
type handling struct {
	event     *event.Normalized
	entityErr error
}

type handlerFunc func(ctx context.Context, tx *gorm.DB, d Delivery, obj object) (handling, error)

// Ingestor dispatches deliveries by provider event type.
type Ingestor struct {
	db       *gorm.DB
	repo     payment.Repository
	ledger   *ledger.Ledger
	accounts *policy.AccountPolicy
	log      *zap.Logger
	now      func() time.Time
	handlers map[string]handlerFunc
}

// NewIngestor wires an Ingestor. All dependencies except log are required.
func NewIngestor(db *gorm.DB, repo payment.Repository, l *ledger.Ledger, accounts *policy.AccountPolicy, log *zap.Logger) *Ingestor {
	if db == nil {
		panic("DB cannot be nil")
	}
	if repo == nil {
		panic("Repository cannot be nil")
	}
	if l == nil {
		panic("Ledger cannot be nil")
	}
	if accounts == nil {
		panic("AccountPolicy cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	i := &Ingestor{
		db:       db,
		repo:     repo,
		ledger:   l,
		accounts: accounts,
		log:      log.Named("ingest"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	i.handlers = map[string]handlerFunc{
		"checkout.session.completed":            i.checkoutSession(payment.AttemptSucceeded, event.TypeSucceeded),
		"checkout.session.async_payment_failed": i.checkoutSession(payment.AttemptFailed, event.TypeFailed),
		"checkout.session.expired":              i.checkoutSession(payment.AttemptCanceled, event.TypeFailed),
		"refund.updated":                        i.refundUpdated,
		"refund.failed":                         i.refundUpdated,
		"account.updated":                       i.accountUpdated,
	}
	return i
}

// HandledTypes lists the provider event types with a handler.
func (i *Ingestor) HandledTypes() []string {
	types := make([]string, 0, len(i.handlers))
	for t := range i.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Ingest processes one delivery. It is safe to call concurrently and any
// number of times with the same delivery. Only payload, normalization and
// store failures are returned as errors; a missing entity is reported
// through Result.EntityErr so the transport can still acknowledge.
func (i *Ingestor) Ingest(ctx context.Context, d Delivery) (Result, error) {
	ctx, span := otel.Tracer("ingest").Start(ctx, "Ingestor.Ingest")
	defer span.End()

	provider, err := event.ParseProvider(string(d.Provider))
	if err != nil {
		i.fail(span, d, err)
		return Result{}, err
	}
	d.Provider = provider

	env, obj, err := parsePayload(d.Payload)
	if err != nil {
		i.fail(span, d, err)
		return Result{}, err
	}
	if d.ProviderEventID == "" {
		d.ProviderEventID = env.ID
	}
	if d.ProviderEventType == "" {
		d.ProviderEventType = env.Type
	}
	if d.OccurredAt.IsZero() && env.Created > 0 {
		d.OccurredAt = time.Unix(env.Created, 0).UTC()
	}
	span.SetAttributes(
		attribute.String("webhook.provider", string(d.Provider)),
		attribute.String("webhook.event_id", d.ProviderEventID),
		attribute.String("webhook.event_type", d.ProviderEventType),
	)

	handler, ok := i.handlers[d.ProviderEventType]
	if !ok {
		i.log.Debug("ignoring unhandled webhook event type",
			zap.String("provider", string(d.Provider)),
			zap.String("event_id", d.ProviderEventID),
			zap.String("event_type", d.ProviderEventType),
		)
		webhookEventsTotal.WithLabelValues(string(d.Provider), "other", string(OutcomeIgnored)).Inc()
		return Result{Outcome: OutcomeIgnored}, nil
	}

	result := Result{Handled: true}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		h, err := handler(ctx, tx, d, obj)
		if err != nil {
			return err
		}
		result.EntityErr = h.entityErr
		if h.event == nil {
			return nil
		}
		appended, err := i.ledger.Append(ctx, tx, *h.event, d.Payload)
		if err != nil {
			return err
		}
		result.Ledger = &appended
		return nil
	})
	if err != nil {
		i.fail(span, d, err)
		return Result{}, err
	}

	switch {
	case result.Ledger != nil && result.Ledger.Outcome == ledger.AlreadyExists:
		result.Outcome = OutcomeDuplicate
	case result.EntityErr != nil:
		result.Outcome = OutcomeEntityNotFound
		i.log.Warn("webhook entity not found",
			zap.String("provider", string(d.Provider)),
			zap.String("event_id", d.ProviderEventID),
			zap.String("event_type", d.ProviderEventType),
			zap.Error(result.EntityErr),
		)
	default:
		result.Outcome = OutcomeApplied
	}

	span.SetAttributes(attribute.String("webhook.outcome", string(result.Outcome)))
	webhookEventsTotal.WithLabelValues(string(d.Provider), d.ProviderEventType, string(result.Outcome)).Inc()
	return result, nil
}

func (i *Ingestor) fail(span trace.Span, d Delivery, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	webhookEventsTotal.WithLabelValues(string(d.Provider), typeLabel(d.ProviderEventType), "error").Inc()
	i.log.Error("webhook ingest failed",
		zap.String("provider", string(d.Provider)),
		zap.String("event_id", d.ProviderEventID),
		zap.String("event_type", d.ProviderEventType),
		zap.Error(err),
	)
}

func typeLabel(t string) string {
	if t == "" {
		return "unknown"
	}
	return t
}

func (i *Ingestor) normalize(d Delivery, entity event.EntityType, entityID string, typ event.Type, amount *int64, obj object) (*event.Normalized, error) {
	metadata := map[string]string{"provider_object_id": obj.ID}
	for k, v := range obj.Metadata {
		metadata[k] = v
	}
	ev, err := event.New(event.Params{
		Provider:          d.Provider,
		ProviderEventID:   d.ProviderEventID,
		ProviderEventType: d.ProviderEventType,
		OccurredAt:        d.OccurredAt,
		EntityType:        entity,
		EntityID:          entityID,
		EventType:         typ,
		AmountCents:       amount,
		Currency:          obj.Currency,
		Metadata:          metadata,
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (i *Ingestor) checkoutSession(target payment.AttemptStatus, typ event.Type) handlerFunc {
	return func(ctx context.Context, tx *gorm.DB, d Delivery, obj object) (handling, error) {
		attempt, err := i.resolveAttempt(ctx, tx, d, obj)
		if err != nil {
			return handling{}, err
		}

		entityID := obj.ID
		var entityErr error
		if attempt == nil {
			entityErr = fmt.Errorf("%w: payment attempt for %s session %s", ErrEntityNotFound, d.Provider, obj.ID)
		} else {
			entityID = attempt.ID
			if err := i.transitionAttempt(ctx, tx, d, attempt, target); err != nil {
				return handling{}, err
			}
		}

		ev, err := i.normalize(d, event.EntityPaymentAttempt, entityID, typ, obj.AmountTotal, obj)
		if err != nil {
			return handling{}, err
		}
		return handling{event: ev, entityErr: entityErr}, nil
	}
}

// resolveAttempt finds the attempt by its session id, then falls back to the
// newest uncorrelated attempt for metadata.order_id and correlates it.
func (i *Ingestor) resolveAttempt(ctx context.Context, tx *gorm.DB, d Delivery, obj object) (*payment.Attempt, error) {
	provider := string(d.Provider)
	attempt, err := i.repo.FindAttemptByProviderPaymentID(ctx, tx, provider, obj.ID)
	if err != nil || attempt != nil {
		return attempt, err
	}

	orderID := obj.meta("order_id")
	if orderID == "" {
		return nil, nil
	}
	attempt, err = i.repo.FindUncorrelatedAttemptForOrder(ctx, tx, provider, orderID)
	if err != nil || attempt == nil {
		return nil, err
	}
	if err := i.repo.SetProviderPaymentID(ctx, tx, attempt.ID, obj.ID, i.now()); err != nil {
		return nil, err
	}
	sessionID := obj.ID
	attempt.ProviderPaymentID = &sessionID
	return attempt, nil
}

func (i *Ingestor) transitionAttempt(ctx context.Context, tx *gorm.DB, d Delivery, attempt *payment.Attempt, target payment.AttemptStatus) error {
	fields := []zap.Field{
		zap.String("event_id", d.ProviderEventID),
		zap.String("payment_attempt_id", attempt.ID),
		zap.String("from", string(attempt.Status)),
		zap.String("to", string(target)),
	}

	switch payment.PlanAttemptTransition(attempt.Status, target) {
	case payment.TransitionNoop:
		return nil
	case payment.TransitionReject:
		i.log.Warn("skipping payment attempt transition", fields...)
		return nil
	}

	moved, err := i.repo.UpdateAttemptStatus(ctx, tx, attempt.ID, attempt.Status, target, i.now())
	if err != nil {
		return err
	}
	if !moved {
		// Another delivery changed the status first.
		i.log.Info("payment attempt status changed concurrently", fields...)
		return nil
	}
	attempt.Status = target
	return nil
}

// refundStatus maps a provider refund status. ok is false when the status
// carries no terminal outcome.
func refundStatus(providerStatus string) (payment.RefundStatus, event.Type, bool) {
	switch providerStatus {
	case "succeeded":
		return payment.RefundSucceeded, event.TypeRefunded, true
	case "failed", "canceled":
		return payment.RefundFailed, event.TypeFailed, true
	default:
		return "", event.TypeUpdated, false
	}
}

func (i *Ingestor) refundUpdated(ctx context.Context, tx *gorm.DB, d Delivery, obj object) (handling, error) {
	target, typ, terminal := refundStatus(obj.Status)

	refund, err := i.repo.FindRefundByProviderRefundID(ctx, tx, string(d.Provider), obj.ID)
	if err != nil {
		return handling{}, err
	}

	entityID := obj.ID
	var entityErr error
	if refund == nil {
		entityErr = fmt.Errorf("%w: refund %s/%s", ErrEntityNotFound, d.Provider, obj.ID)
	} else {
		entityID = refund.ID
		if terminal {
			if err := i.transitionRefund(ctx, tx, d, refund, target, obj); err != nil {
				return handling{}, err
			}
		}
	}

	ev, err := i.normalize(d, event.EntityRefund, entityID, typ, obj.Amount, obj)
	if err != nil {
		return handling{}, err
	}
	return handling{event: ev, entityErr: entityErr}, nil
}

func (i *Ingestor) transitionRefund(ctx context.Context, tx *gorm.DB, d Delivery, refund *payment.Refund, target payment.RefundStatus, obj object) error {
	fields := []zap.Field{
		zap.String("event_id", d.ProviderEventID),
		zap.String("refund_id", refund.ID),
		zap.String("from", string(refund.Status)),
		zap.String("to", string(target)),
	}

	switch payment.PlanRefundTransition(refund.Status, target) {
	case payment.TransitionNoop:
		return nil
	case payment.TransitionReject:
		i.log.Warn("skipping refund transition", fields...)
		return nil
	}

	moved, err := i.repo.UpdateRefundStatus(ctx, tx, refund.ID, refund.Status, target, datatypes.JSON(obj.raw), i.now())
	if err != nil {
		return err
	}
	if !moved {
		i.log.Info("refund status changed concurrently", fields...)
		return nil
	}
	refund.Status = target
	return nil
}

// accountUpdated upserts the connected account. Account changes are not
// financial events and are not written to the ledger.
func (i *Ingestor) accountUpdated(ctx context.Context, tx *gorm.DB, d Delivery, obj object) (handling, error) {
	restaurantID := obj.meta("restaurant_id")
	if restaurantID == "" {
		return handling{entityErr: fmt.Errorf("%w: restaurant for account %s/%s", ErrEntityNotFound, d.Provider, obj.ID)}, nil
	}

	status, err := i.accounts.Status(policy.AccountFacts{
		ChargesEnabled:     obj.ChargesEnabled,
		PayoutsEnabled:     obj.PayoutsEnabled,
		DetailsSubmitted:   obj.DetailsSubmitted,
		CardPaymentsActive: obj.capabilityActive("card_payments"),
		TransfersActive:    obj.capabilityActive("transfers"),
	})
	if err != nil {
		return handling{}, err
	}

	now := i.now()
	account := &payment.ProviderAccount{
		Provider:          string(d.Provider),
		ProviderAccountID: obj.ID,
		RestaurantID:      restaurantID,
		Status:            status,
		ChargesEnabled:    obj.ChargesEnabled,
		PayoutsEnabled:    obj.PayoutsEnabled,
		DetailsSubmitted:  obj.DetailsSubmitted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := i.repo.UpsertProviderAccount(ctx, tx, account); err != nil {
		return handling{}, err
	}
	i.log.Info("provider account updated",
		zap.String("provider", account.Provider),
		zap.String("provider_account_id", account.ProviderAccountID),
		zap.String("restaurant_id", restaurantID),
		zap.String("status", string(status)),
	)
	return handling{}, nil
}
