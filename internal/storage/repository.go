package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS alert_events (
        id             BIGSERIAL PRIMARY KEY,
        event_id       TEXT        NOT NULL UNIQUE,
        kind           TEXT        NOT NULL,
        asset_id       TEXT        NOT NULL DEFAULT '',
        symbol         TEXT        NOT NULL DEFAULT '',
        price          NUMERIC     NOT NULL,
        reference      NUMERIC     NOT NULL,
        change_pct     NUMERIC     NOT NULL,
        threshold_pct  NUMERIC     NOT NULL,
        direction      TEXT        NOT NULL DEFAULT '',
        delivered      BOOLEAN     NOT NULL,
        delivery_error TEXT,
        payload        JSONB       NOT NULL,
        occurred_at    TIMESTAMPTZ NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS alert_events_occurred_at_idx ON alert_events (occurred_at DESC);`,
	`CREATE INDEX IF NOT EXISTS alert_events_asset_idx ON alert_events (asset_id, occurred_at DESC);`,
}

const (
	pgInsertEventSQL = `INSERT INTO alert_events (
        event_id,
        kind,
        asset_id,
        symbol,
        price,
        reference,
        change_pct,
        threshold_pct,
        direction,
        delivered,
        delivery_error,
        payload,
        occurred_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (event_id) DO UPDATE
    SET delivered      = EXCLUDED.delivered,
        delivery_error = EXCLUDED.delivery_error
    RETURNING id, created_at;`

	pgListRecentEventsSQL = `SELECT
        id,
        event_id,
        kind,
        asset_id,
        symbol,
        price::text,
        reference::text,
        change_pct::text,
        threshold_pct::text,
        direction,
        delivered,
        delivery_error,
        payload,
        occurred_at,
        created_at
    FROM alert_events
    WHERE ($1 = '' OR asset_id = $1)
    ORDER BY occurred_at DESC, id DESC
    LIMIT $2;`

	pgDeleteEventsBeforeSQL = `DELETE FROM alert_events WHERE occurred_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PGStore keeps the audit log in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wires a pgx pool into a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PGStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PGStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// 解锁失败时直接断开连接, 会话结束后锁自动释放
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			_ = conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *PGStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the audit table when missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range pgSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertEvent persists an emitted event. Re-inserting the same event id updates its delivery status.
func (s *PGStore) InsertEvent(ctx context.Context, rec EventRecord) (EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return EventRecord{}, err
	}

	var deliveryErr interface{}
	if rec.DeliveryError != nil {
		deliveryErr = *rec.DeliveryError
	}
	payload := []byte(rec.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	row := pool.QueryRow(ctx, pgInsertEventSQL,
		rec.EventID,
		rec.Kind,
		rec.AssetID,
		rec.Symbol,
		rec.Price.String(),
		rec.Reference.String(),
		rec.ChangePct.String(),
		rec.ThresholdPct.String(),
		rec.Direction,
		rec.Delivered,
		deliveryErr,
		payload,
		rec.OccurredAt,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return EventRecord{}, fmt.Errorf("insert event: %w", err)
	}
	return rec, nil
}

// ListRecentEvents lists the newest events first.
func (s *PGStore) ListRecentEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, queryErr := pool.Query(ctx, pgListRecentEventsSQL, filter.AssetID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]EventRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanPGEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteEventsBefore prunes the audit log and returns the number of removed rows.
func (s *PGStore) DeleteEventsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, pgDeleteEventsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete events before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanPGEvent(rows pgx.Rows) (EventRecord, error) {
	var rec EventRecord
	var price, reference, change, threshold string
	var deliveryErr sql.NullString
	var payload json.RawMessage
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
		&rec.Delivered,
		&deliveryErr,
		&payload,
		&rec.OccurredAt,
		&rec.CreatedAt,
	); err != nil {
		return EventRecord{}, err
	}
	if err := rec.setDecimals(price, reference, change, threshold); err != nil {
		return EventRecord{}, err
	}
	if deliveryErr.Valid {
		msg := deliveryErr.String
		rec.DeliveryError = &msg
	}
	rec.Payload = payload
	return rec, nil
}

var (
	_ EventStore     = (*PGStore)(nil)
	_ AdvisoryLocker = (*PGStore)(nil)
)
