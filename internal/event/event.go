// Package event defines the provider-agnostic representation of a single
// provider webhook occurrence. A Normalized event is built once per delivery,
// never persisted directly, and projected into ledger attributes.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent is returned when a normalized event is missing a mandatory
// field or carries a value outside one of its closed sets.
var ErrInvalidEvent = errors.New("event: invalid normalized event")

// Provider identifies a payment provider.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderMock   Provider = "mock"
)

// EntityType names the domain entity a provider event refers to.
type EntityType string

const (
	EntityPaymentAttempt EntityType = "payment_attempt"
	EntityRefund         EntityType = "refund"
)

// Type is the internal semantic outcome of a provider event.
type Type string

const (
	TypeSucceeded Type = "succeeded"
	TypeFailed    Type = "failed"
	TypeRefunded  Type = "refunded"
	TypeUpdated   Type = "updated"
)

var (
	knownProviders   = map[Provider]struct{}{ProviderStripe: {}, ProviderMock: {}}
	knownEntityTypes = map[EntityType]struct{}{EntityPaymentAttempt: {}, EntityRefund: {}}
	knownTypes       = map[Type]struct{}{TypeSucceeded: {}, TypeFailed: {}, TypeRefunded: {}, TypeUpdated: {}}
)

// ParseProvider normalizes a provider name and checks it against the known set.
func ParseProvider(raw string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownProviders[p]; !ok {
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidEvent, raw)
	}
	return p, nil
}

// Params carries the fields used to construct a Normalized event.
type Params struct {
	Provider          Provider
	ProviderEventID   string
	ProviderEventType string
	OccurredAt        time.Time
	EntityType        EntityType
	EntityID          string
	EventType         Type
	AmountCents       *int64
	Currency          string
	Metadata          map[string]string
}

// Normalized is an immutable, provider-agnostic webhook occurrence.
type Normalized struct {
	provider          Provider
	providerEventID   string
	providerEventType string
	occurredAt        time.Time
	entityType        EntityType
	entityID          string
	eventType         Type
	amountCents       *int64
	currency          *string
	metadata          map[string]string
}

// New validates p and returns the event. Currency is upper-cased; an empty
// currency is treated as absent.
func New(p Params) (Normalized, error) {
	missing := make([]string, 0, 4)
	if p.Provider == "" {
		missing = append(missing, "provider")
	}
	if strings.TrimSpace(p.ProviderEventID) == "" {
		missing = append(missing, "provider_event_id")
	}
	if strings.TrimSpace(p.ProviderEventType) == "" {
		missing = append(missing, "provider_event_type")
	}
	if p.OccurredAt.IsZero() {
		missing = append(missing, "occurred_at")
	}
	if p.EntityType == "" {
		missing = append(missing, "entity_type")
	}
	if strings.TrimSpace(p.EntityID) == "" {
		missing = append(missing, "entity_id")
	}
	if p.EventType == "" {
		missing = append(missing, "event_type")
	}
	if len(missing) > 0 {
		return Normalized{}, fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}

	if _, ok := knownProviders[p.Provider]; !ok {
		return Normalized{}, fmt.Errorf("%w: unknown provider %q", ErrInvalidEvent, p.Provider)
	}
	if _, ok := knownEntityTypes[p.EntityType]; !ok {
		return Normalized{}, fmt.Errorf("%w: unknown entity_type %q", ErrInvalidEvent, p.EntityType)
	}
	if _, ok := knownTypes[p.EventType]; !ok {
		return Normalized{}, fmt.Errorf("%w: unknown event_type %q", ErrInvalidEvent, p.EventType)
	}

	ev := Normalized{
		provider:          p.Provider,
		providerEventID:   strings.TrimSpace(p.ProviderEventID),
		providerEventType: strings.TrimSpace(p.ProviderEventType),
		occurredAt:        p.OccurredAt.UTC(),
		entityType:        p.EntityType,
		entityID:          strings.TrimSpace(p.EntityID),
		eventType:         p.EventType,
		metadata:          copyMetadata(p.Metadata),
	}
	if p.AmountCents != nil {
		amount := *p.AmountCents
		ev.amountCents = &amount
	}
	if currency := strings.ToUpper(strings.TrimSpace(p.Currency)); currency != "" {
		ev.currency = &currency
	}
	return ev, nil
}

func (e Normalized) Provider() Provider        { return e.provider }
func (e Normalized) ProviderEventID() string   { return e.providerEventID }
func (e Normalized) ProviderEventType() string { return e.providerEventType }
func (e Normalized) OccurredAt() time.Time     { return e.occurredAt }
func (e Normalized) EntityType() EntityType    { return e.entityType }
func (e Normalized) EntityID() string          { return e.entityID }
func (e Normalized) EventType() Type           { return e.eventType }

// AmountCents returns the minor-unit amount and whether one was reported.
func (e Normalized) AmountCents() (int64, bool) {
	if e.amountCents == nil {
		return 0, false
	}
	return *e.amountCents, true
}

// Currency returns the upper-cased ISO code and whether one was reported.
func (e Normalized) Currency() (string, bool) {
	if e.currency == nil {
		return "", false
	}
	return *e.currency, true
}

// Metadata returns a copy of the provider-specific context.
func (e Normalized) Metadata() map[string]string {
	return copyMetadata(e.metadata)
}

// LedgerAttributes is the subset of a Normalized event persisted to the ledger.
type LedgerAttributes struct {
	Provider          Provider
	ProviderEventID   string
	ProviderEventType string
	OccurredAt        time.Time
	EntityType        EntityType
	EntityID          string
	EventType         Type
	AmountCents       *int64
	Currency          *string
}

// LedgerAttributes projects every field except metadata.
func (e Normalized) LedgerAttributes() LedgerAttributes {
	attrs := LedgerAttributes{
		Provider:          e.provider,
		ProviderEventID:   e.providerEventID,
		ProviderEventType: e.providerEventType,
		OccurredAt:        e.occurredAt,
		EntityType:        e.entityType,
		EntityID:          e.entityID,
		EventType:         e.eventType,
	}
	if e.amountCents != nil {
		amount := *e.amountCents
		attrs.AmountCents = &amount
	}
	if e.currency != nil {
		currency := *e.currency
		attrs.Currency = &currency
	}
	return attrs
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
