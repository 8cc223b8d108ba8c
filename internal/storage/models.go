package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/alerting"
)

var (
	// ErrNotConfigured indicates no audit database was configured.
	ErrNotConfigured = errors.New("storage: database not configured")
)

// EventRecord is one emitted alert as kept in the audit log. The log is write-mostly and is never
// read back into engine state.
type EventRecord struct {
	ID            int64
	EventID       string
	Kind          string
	AssetID       string
	Symbol        string
	Price         decimal.Decimal
	Reference     decimal.Decimal
	ChangePct     decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	Delivered     bool
	DeliveryError *string
	Payload       json.RawMessage
	OccurredAt    time.Time
	CreatedAt     time.Time
}

// EventFilter narrows ListRecentEvents. Zero values match everything.
type EventFilter struct {
	Limit   int
	AssetID string
}

// EventStore defines operations for the alert audit log.
type EventStore interface {
	EnsureSchema(ctx context.Context) error
	InsertEvent(ctx context.Context, rec EventRecord) (EventRecord, error)
	ListRecentEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error)
	DeleteEventsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// RecordFromEvent converts an event and its delivery outcome into an audit row.
func RecordFromEvent(ev alerting.Event, deliveryErr error) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, fmt.Errorf("marshal event payload: %w", err)
	}
	rec := EventRecord{
		EventID:      ev.ID,
		Kind:         string(ev.Kind),
		AssetID:      ev.AssetID,
		Symbol:       ev.Symbol,
		Price:        ev.Price,
		Reference:    ev.Reference,
		ChangePct:    ev.ChangePct,
		ThresholdPct: ev.ThresholdPct,
		Direction:    string(ev.Direction),
		Delivered:    deliveryErr == nil,
		Payload:      payload,
		OccurredAt:   ev.At.UTC(),
	}
	if deliveryErr != nil {
		msg := deliveryErr.Error()
		rec.DeliveryError = &msg
	}
	return rec, nil
}

func parseDecimals(values map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(values))
	for name, raw := range values {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		out[name] = d
	}
	return out, nil
}

func (r *EventRecord) setDecimals(price, reference, change, threshold string) error {
	parsed, err := parseDecimals(map[string]string{
		"price":         price,
		"reference":     reference,
		"change_pct":    change,
		"threshold_pct": threshold,
	})
	if err != nil {
		return err
	}
	r.Price = parsed["price"]
	r.Reference = parsed["reference"]
	r.ChangePct = parsed["change_pct"]
	r.ThresholdPct = parsed["threshold_pct"]
	return nil
}
