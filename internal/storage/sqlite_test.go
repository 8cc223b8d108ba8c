package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/alerting"
	"marketwatch/internal/config"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func testEvent(id, asset string, at time.Time) alerting.Event {
	return alerting.Event{
		ID:           id,
		Kind:         alerting.KindDailyDown,
		AssetID:      asset,
		Symbol:       "BTC",
		At:           at,
		Price:        decimal.RequireFromString("94.5"),
		Reference:    decimal.NewFromInt(100),
		ChangePct:    decimal.RequireFromString("-5.5"),
		ThresholdPct: decimal.NewFromInt(-5),
		Direction:    alerting.DirectionDown,
	}
}

func TestSQLiteInsertAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, asset := range []string{"bitcoin", "ethereum", "bitcoin"} {
		rec, err := RecordFromEvent(testEvent("evt-"+string(rune('a'+i)), asset, base.Add(time.Duration(i)*time.Minute)), nil)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		saved, err := s.InsertEvent(ctx, rec)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if saved.ID == 0 || saved.CreatedAt.IsZero() {
			t.Fatalf("insert should fill id and created_at: %+v", saved)
		}
	}

	all, err := s.ListRecentEvents(ctx, EventFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("期望 3 条记录, 实际 %d", len(all))
	}
	if all[0].EventID != "evt-c" {
		t.Fatalf("newest event should come first, got %s", all[0].EventID)
	}
	if !all[0].Price.Equal(decimal.RequireFromString("94.5")) || !all[0].ChangePct.Equal(decimal.RequireFromString("-5.5")) {
		t.Fatalf("decimals should round-trip: %+v", all[0])
	}
	if !all[0].OccurredAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("unexpected occurred_at %s", all[0].OccurredAt)
	}
	if !all[0].Delivered || all[0].DeliveryError != nil {
		t.Fatalf("delivery status should be stored: %+v", all[0])
	}

	btc, err := s.ListRecentEvents(ctx, EventFilter{AssetID: "bitcoin"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(btc) != 2 {
		t.Fatalf("expected 2 bitcoin events, got %d", len(btc))
	}
}

func TestSQLiteDeliveryFailureAndUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := testEvent("evt-1", "bitcoin", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	rec, _ := RecordFromEvent(ev, errors.New("chat not found"))
	first, err := s.InsertEvent(ctx, rec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec, _ = RecordFromEvent(ev, nil)
	second, err := s.InsertEvent(ctx, rec)
	if err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same event id should update the row: %d vs %d", first.ID, second.ID)
	}

	rows, _ := s.ListRecentEvents(ctx, EventFilter{})
	if len(rows) != 1 || !rows[0].Delivered {
		t.Fatalf("expected one delivered row, got %+v", rows)
	}
}

func TestSQLiteDeleteEventsBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		rec, _ := RecordFromEvent(testEvent("evt-"+string(rune('a'+i)), "bitcoin", base.AddDate(0, 0, i)), nil)
		if _, err := s.InsertEvent(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := s.DeleteEventsBefore(ctx, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("应删除 2 条, 实际 %d", n)
	}
	rows, _ := s.ListRecentEvents(ctx, EventFilter{})
	if len(rows) != 2 {
		t.Fatalf("expected 2 remaining rows, got %d", len(rows))
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, config.DatabaseConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("empty driver should be ErrNotConfigured, got %v", err)
	}
	if _, err := Open(ctx, config.DatabaseConfig{Driver: "mysql"}); err == nil {
		t.Fatal("unknown driver should fail")
	}

	// sqlite3 is an alias accepted by config validation as well.
	store, err := Open(ctx, config.DatabaseConfig{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("open sqlite through config: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("expected *SQLiteStore, got %T", store)
	}
}

func TestPGStoreNotConfigured(t *testing.T) {
	var s *PGStore
	if _, err := s.ListRecentEvents(context.Background(), EventFilter{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil pool should be ErrNotConfigured, got %v", err)
	}
	if _, _, err := NewPGStore(nil).TryAdvisoryLock(context.Background(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil pool lock should be ErrNotConfigured, got %v", err)
	}
}
