package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed width so that text comparison orders like time.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS alert_events (
        id             INTEGER PRIMARY KEY AUTOINCREMENT,
        event_id       TEXT    NOT NULL UNIQUE,
        kind           TEXT    NOT NULL,
        asset_id       TEXT    NOT NULL DEFAULT '',
        symbol         TEXT    NOT NULL DEFAULT '',
        price          TEXT    NOT NULL,
        reference      TEXT    NOT NULL,
        change_pct     TEXT    NOT NULL,
        threshold_pct  TEXT    NOT NULL,
        direction      TEXT    NOT NULL DEFAULT '',
        delivered      INTEGER NOT NULL,
        delivery_error TEXT,
        payload        TEXT    NOT NULL,
        occurred_at    TEXT    NOT NULL,
        created_at     TEXT    NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS alert_events_occurred_at_idx ON alert_events (occurred_at);`,
}

const (
	sqliteInsertEventSQL = `INSERT INTO alert_events (
        event_id, kind, asset_id, symbol, price, reference, change_pct, threshold_pct,
        direction, delivered, delivery_error, payload, occurred_at, created_at
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (event_id) DO UPDATE
    SET delivered = excluded.delivered,
        delivery_error = excluded.delivery_error
    RETURNING id, created_at;`

	sqliteListRecentEventsSQL = `SELECT
        id, event_id, kind, asset_id, symbol, price, reference, change_pct, threshold_pct,
        direction, delivered, delivery_error, payload, occurred_at, created_at
    FROM alert_events
    WHERE (? = '' OR asset_id = ?)
    ORDER BY occurred_at DESC, id DESC
    LIMIT ?;`

	sqliteDeleteEventsBeforeSQL = `DELETE FROM alert_events WHERE occurred_at < ?;`
)

// SQLiteStore keeps the audit log in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path. ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required for sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer and every :memory: connection is a separate database.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureSchema creates the audit table when missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertEvent persists an emitted event.
func (s *SQLiteStore) InsertEvent(ctx context.Context, rec EventRecord) (EventRecord, error) {
	if s == nil || s.db == nil {
		return EventRecord{}, ErrNotConfigured
	}

	var deliveryErr interface{}
	if rec.DeliveryError != nil {
		deliveryErr = *rec.DeliveryError
	}
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}
	delivered := 0
	if rec.Delivered {
		delivered = 1
	}

	var createdAt string
	row := s.db.QueryRowContext(ctx, sqliteInsertEventSQL,
		rec.EventID,
		rec.Kind,
		rec.AssetID,
		rec.Symbol,
		rec.Price.String(),
		rec.Reference.String(),
		rec.ChangePct.String(),
		rec.ThresholdPct.String(),
		rec.Direction,
		delivered,
		deliveryErr,
		payload,
		formatSQLiteTime(rec.OccurredAt),
		formatSQLiteTime(s.now()),
	)
	if err := row.Scan(&rec.ID, &createdAt); err != nil {
		return EventRecord{}, fmt.Errorf("insert event: %w", err)
	}
	ts, err := parseSQLiteTime(createdAt)
	if err != nil {
		return EventRecord{}, err
	}
	rec.CreatedAt = ts
	return rec, nil
}

// ListRecentEvents lists the newest events first.
func (s *SQLiteStore) ListRecentEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, sqliteListRecentEventsSQL, filter.AssetID, filter.AssetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()

	events := make([]EventRecord, 0, limit)
	for rows.Next() {
		var rec EventRecord
		var price, reference, change, threshold, payload, occurredAt, createdAt string
		var delivered int
		var deliveryErr sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.Kind,
			&rec.AssetID,
			&rec.Symbol,
			&price,
			&reference,
			&change,
			&threshold,
			&rec.Direction,
			&delivered,
			&deliveryErr,
			&payload,
			&occurredAt,
			&createdAt,
		); err != nil {
			return nil, err
		}
		if err := rec.setDecimals(price, reference, change, threshold); err != nil {
			return nil, err
		}
		if rec.OccurredAt, err = parseSQLiteTime(occurredAt); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, err
		}
		rec.Delivered = delivered != 0
		if deliveryErr.Valid {
			msg := deliveryErr.String
			rec.DeliveryError = &msg
		}
		rec.Payload = []byte(payload)
		events = append(events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteEventsBefore prunes the audit log and returns the number of removed rows.
func (s *SQLiteStore) DeleteEventsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotConfigured
	}
	res, err := s.db.ExecContext(ctx, sqliteDeleteEventsBeforeSQL, formatSQLiteTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete events before: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete events before: %w", err)
	}
	return n, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(raw string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", raw, err)
	}
	return t, nil
}

var _ EventStore = (*SQLiteStore)(nil)
