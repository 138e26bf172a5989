// Package ledger is the append-only record of provider events. A row is
// written once per (provider, provider_event_id) and never updated or
// deleted; the unique index on that pair is the idempotency boundary for
// webhook redelivery.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourorg/smartmenu-payments/internal/event"
)

// ErrWriteFailed wraps any store failure other than a duplicate event.
// Callers should surface it so the provider redelivers later.
var ErrWriteFailed = errors.New("ledger: write failed")

// Outcome reports what Append did.
type Outcome string

const (
	Inserted      Outcome = "inserted"
	AlreadyExists Outcome = "already_exists"
)

var appendsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "smartmenu_ledger_appends_total",
		Help: "Ledger append attempts partitioned by outcome.",
	},
	[]string{"outcome"},
)

// GetAppendsTotal exposes the append counter for tests.
func GetAppendsTotal() *prometheus.CounterVec {
	return appendsTotal
}

// Event is one persisted ledger row.
type Event struct {
	ID                snowflake.ID     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider          event.Provider   `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_ledger_events_provider_event,priority:1"`
	ProviderEventID   string           `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_ledger_events_provider_event,priority:2"`
	ProviderEventType string           `json:"provider_event_type" gorm:"type:varchar(128);not null"`
	OccurredAt        time.Time        `json:"occurred_at" gorm:"not null"`
	EntityType        event.EntityType `json:"entity_type" gorm:"type:varchar(32);not null;index:ix_ledger_events_entity,priority:1"`
	EntityID          string           `json:"entity_id" gorm:"type:varchar(255);not null;index:ix_ledger_events_entity,priority:2"`
	EventType         event.Type       `json:"event_type" gorm:"type:varchar(32);not null"`
	AmountCents       *int64           `json:"amount_cents,omitempty"`
	Currency          *string          `json:"currency,omitempty" gorm:"type:char(3)"`
	Payload           datatypes.JSON   `json:"payload" gorm:"not null"`
	CreatedAt         time.Time        `json:"created_at"`
}

func (Event) TableName() string { return "ledger_events" }

// AppendResult carries the outcome and the row now stored for the event,
// whether it was just written or already present.
type AppendResult struct {
	Outcome Outcome
	Event   *Event
}

// ListFilter narrows List. Zero values mean no constraint, except Limit
// which falls back to a default page size.
type ListFilter struct {
	Provider event.Provider
	Since    time.Time
	Until    time.Time
	// AfterID resumes listing after the last row of a previous page.
	AfterID snowflake.ID
	Limit   int
}

const defaultListLimit = 1000

// Ledger appends and reads ledger rows.
type Ledger struct {
	db   *gorm.DB
	node *snowflake.Node
	log  *zap.Logger
}

// New returns a Ledger writing through db and assigning ids from node.
func New(db *gorm.DB, node *snowflake.Node, log *zap.Logger) *Ledger {
	if db == nil {
		panic("ledger: db cannot be nil")
	}
	if node == nil {
		panic("ledger: snowflake node cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{db: db, node: node, log: log.Named("ledger")}
}

// Append records ev with its raw provider payload. It runs on tx when one
// is given so the write commits together with the caller's entity update.
// A second append for the same provider event is not an error: it returns
// AlreadyExists and the row stored by the first.
func (l *Ledger) Append(ctx context.Context, tx *gorm.DB, ev event.Normalized, payload []byte) (AppendResult, error) {
	if tx == nil {
		tx = l.db
	}

	attrs := ev.LedgerAttributes()
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	row := &Event{
		ID:                l.node.Generate(),
		Provider:          attrs.Provider,
		ProviderEventID:   attrs.ProviderEventID,
		ProviderEventType: attrs.ProviderEventType,
		OccurredAt:        attrs.OccurredAt,
		EntityType:        attrs.EntityType,
		EntityID:          attrs.EntityID,
		EventType:         attrs.EventType,
		AmountCents:       attrs.AmountCents,
		Currency:          attrs.Currency,
		Payload:           datatypes.JSON(payload),
		CreatedAt:         time.Now().UTC(),
	}

	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		appendsTotal.WithLabelValues("error").Inc()
		return AppendResult{}, fmt.Errorf("%w: insert %s/%s: %v", ErrWriteFailed, attrs.Provider, attrs.ProviderEventID, res.Error)
	}

	if res.RowsAffected > 0 {
		appendsTotal.WithLabelValues(string(Inserted)).Inc()
		return AppendResult{Outcome: Inserted, Event: row}, nil
	}

	existing, err := l.find(ctx, tx, attrs.Provider, attrs.ProviderEventID)
	if err != nil {
		appendsTotal.WithLabelValues("error").Inc()
		return AppendResult{}, fmt.Errorf("%w: load existing %s/%s: %v", ErrWriteFailed, attrs.Provider, attrs.ProviderEventID, err)
	}
	appendsTotal.WithLabelValues(string(AlreadyExists)).Inc()
	l.log.Info("ledger event already recorded",
		zap.String("provider", string(attrs.Provider)),
		zap.String("provider_event_id", attrs.ProviderEventID),
	)
	return AppendResult{Outcome: AlreadyExists, Event: existing}, nil
}

func (l *Ledger) find(ctx context.Context, db *gorm.DB, provider event.Provider, providerEventID string) (*Event, error) {
	var row Event
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Find returns the row for a provider event, or nil when none exists.
func (l *Ledger) Find(ctx context.Context, provider event.Provider, providerEventID string) (*Event, error) {
	row, err := l.find(ctx, l.db, provider, providerEventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return row, err
}

// ListByEntity returns every row recorded against one entity, oldest
// occurrence first. Rows with equal occurred_at keep insertion order.
func (l *Ledger) ListByEntity(ctx context.Context, entityType event.EntityType, entityID string) ([]Event, error) {
	var rows []Event
	err := l.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("occurred_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// List returns one page of rows in insertion order. A page shorter than the
// limit is the last one; pass the final row's ID as AfterID for the next.
func (l *Ledger) List(ctx context.Context, filter ListFilter) ([]Event, error) {
	q := l.db.WithContext(ctx).Model(&Event{})
	if filter.AfterID != 0 {
		q = q.Where("id > ?", filter.AfterID)
	}
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if !filter.Since.IsZero() {
		q = q.Where("occurred_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("occurred_at < ?", filter.Until)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var rows []Event
	if err := q.Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of rows stored for a provider event. It is zero
// or one by construction.
func (l *Ledger) Count(ctx context.Context, provider event.Provider, providerEventID string) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&Event{}).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Count(&n).Error
	return n, err
}
