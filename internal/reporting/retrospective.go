// Package reporting summarizes ledger rows for audit and reconciliation.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourorg/smartmenu-payments/internal/event"
	"github.com/yourorg/smartmenu-payments/internal/ledger"
)

// Report summarizes a set of ledger events.
type Report struct {
	TotalEvents         int                      `json:"total_events"`
	ByEventType         map[event.Type]int       `json:"by_event_type"`
	ByEntityType        map[event.EntityType]int `json:"by_entity_type"`
	ByProvider          map[event.Provider]int   `json:"by_provider"`
	FailedEvents        int                      `json:"failed_events"`
	UnresolvedEvents    int                      `json:"unresolved_events"`     // recorded without a matching entity
	CollectedByCurrency map[string]int64         `json:"collected_by_currency"` // succeeded payment attempts
	RefundedByCurrency  map[string]int64         `json:"refunded_by_currency"`
	NetByCurrency       map[string]int64         `json:"net_by_currency"`
	DateFrom            time.Time                `json:"date_from"`
	DateTo              time.Time                `json:"date_to"`
	Span                time.Duration            `json:"span"`
}

// EventLister reads ledger rows.
type EventLister interface {
	List(ctx context.Context, filter ledger.ListFilter) ([]ledger.Event, error)
}

const defaultPageSize = 500

// Reporter generates retrospective reports from ledger rows.
type Reporter struct{}

// NewReporter creates a new Reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

func newReport() Report {
	return Report{
		ByEventType:         make(map[event.Type]int),
		ByEntityType:        make(map[event.EntityType]int),
		ByProvider:          make(map[event.Provider]int),
		CollectedByCurrency: make(map[string]int64),
		RefundedByCurrency:  make(map[string]int64),
		NetByCurrency:       make(map[string]int64),
	}
}

type entityKey struct {
	entityType event.EntityType
	entityID   string
}

// tally accumulates a report one row at a time so the ledger can be read in
// pages.
type tally struct {
	report    Report
	collected map[entityKey]struct{}
	refunded  map[entityKey]struct{}
}

func newTally() *tally {
	return &tally{
		report:    newReport(),
		collected: make(map[entityKey]struct{}),
		refunded:  make(map[entityKey]struct{}),
	}
}

func (t *tally) add(ev ledger.Event) {
	report := &t.report
	first := report.TotalEvents == 0
	report.TotalEvents++
	report.ByEventType[ev.EventType]++
	report.ByEntityType[ev.EntityType]++
	report.ByProvider[ev.Provider]++

	if first || ev.OccurredAt.Before(report.DateFrom) {
		report.DateFrom = ev.OccurredAt
	}
	if first || ev.OccurredAt.After(report.DateTo) {
		report.DateTo = ev.OccurredAt
	}

	if ev.EventType == event.TypeFailed {
		report.FailedEvents++
	}

	if unresolved(ev) {
		report.UnresolvedEvents++
		return
	}
	if ev.AmountCents == nil || ev.Currency == nil {
		return
	}
	amount, currency := *ev.AmountCents, *ev.Currency
	key := entityKey{entityType: ev.EntityType, entityID: ev.EntityID}
	switch {
	case ev.EntityType == event.EntityPaymentAttempt && ev.EventType == event.TypeSucceeded:
		if _, seen := t.collected[key]; seen {
			return
		}
		t.collected[key] = struct{}{}
		report.CollectedByCurrency[currency] += amount
		report.NetByCurrency[currency] += amount
	case ev.EventType == event.TypeRefunded:
		if _, seen := t.refunded[key]; seen {
			return
		}
		t.refunded[key] = struct{}{}
		report.RefundedByCurrency[currency] += amount
		report.NetByCurrency[currency] -= amount
	}
}

func (t *tally) finish() Report {
	t.report.Span = t.report.DateTo.Sub(t.report.DateFrom)
	return t.report
}

// unresolved reports whether the row was recorded without a matching
// entity. Ingest falls back to the provider object id as entity_id in that
// case, and internal entity ids never collide with provider ids.
func unresolved(ev ledger.Event) bool {
	if len(ev.Payload) == 0 {
		return false
	}
	var body struct {
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(ev.Payload, &body); err != nil {
		return false
	}
	return body.Data.Object.ID != "" && body.Data.Object.ID == ev.EntityID
}

// Generate analyzes events in the order given. Every row counts toward the
// event totals. Money totals take only the first succeeded or refunded row
// per entity, and skip rows that matched no entity. Rows without an amount
// or currency never reach a currency sum.
func (r *Reporter) Generate(events []ledger.Event) Report {
	t := newTally()
	for _, ev := range events {
		t.add(ev)
	}
	return t.finish()
}

// GenerateFromLedger reports on every row matching filter, reading the
// ledger page by page. filter.Limit sets the page size.
func (r *Reporter) GenerateFromLedger(ctx context.Context, src EventLister, filter ledger.ListFilter) (Report, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	t := newTally()
	for {
		page, err := src.List(ctx, filter)
		if err != nil {
			return Report{}, fmt.Errorf("failed to list ledger events after id %d: %w", filter.AfterID, err)
		}
		for _, ev := range page {
			t.add(ev)
		}
		if len(page) < filter.Limit {
			return t.finish(), nil
		}
		filter.AfterID = page[len(page)-1].ID
	}
}
