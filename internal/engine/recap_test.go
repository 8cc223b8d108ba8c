package engine

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"marketwatch/internal/alerting"
	"marketwatch/internal/alertstate"
	"marketwatch/internal/market"
)

func TestBuildRecapLineOHLC(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	// deliberately out of order
	points := []market.SeriesPoint{
		{At: base.Add(3 * time.Hour), PriceUSD: d("105")},
		{At: base, PriceUSD: d("100")},
		{At: base.Add(9 * time.Hour), PriceUSD: d("102")},
		{At: base.Add(6 * time.Hour), PriceUSD: d("98")},
	}

	line, ok := BuildRecapLine(testAsset("btc"), points)
	if !ok {
		t.Fatal("non-empty series should build a line")
	}
	if !line.Open.Equal(d("100")) || !line.Close.Equal(d("102")) || !line.High.Equal(d("105")) || !line.Low.Equal(d("98")) {
		t.Fatalf("unexpected OHLC: %s", spew.Sdump(line))
	}
	if !line.ChangePct.Equal(d("2")) {
		t.Fatalf("期望涨幅 2%%, 实际 %s", line.ChangePct)
	}
	if line.Name != "Bitcoin" || line.Symbol != "BTC" {
		t.Fatalf("unexpected labels: %+v", line)
	}
}

func TestBuildRecapLineEmpty(t *testing.T) {
	if _, ok := BuildRecapLine(testAsset("btc"), nil); ok {
		t.Fatal("empty series must not build a line")
	}
}

func TestRecapDueOncePerDay(t *testing.T) {
	e := newTestEngine(testAsset("btc"))

	before := time.Date(2024, 3, 1, 19, 59, 0, 0, time.UTC)
	if _, due := e.RecapDue(before); due {
		t.Fatal("recap must not be due before the configured time")
	}

	at := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	day, due := e.RecapDue(at)
	if !due || day != "2024-03-01" {
		t.Fatalf("recap should be due at 20:00, got %v %s", due, day)
	}
	e.MarkRecapSent(day)

	if _, due := e.RecapDue(at.Add(30 * time.Second)); due {
		t.Fatal("recap must not be due twice in one day")
	}
	if _, due := e.RecapDue(at.Add(3 * time.Hour)); due {
		t.Fatal("recap must not be due again before the next day")
	}

	if _, due := e.RecapDue(at.Add(24 * time.Hour)); !due {
		t.Fatal("recap should be due the next day")
	}
	if e.Snapshot().Recap.LastSentDayKey != "2024-03-01" {
		t.Fatal("snapshot should expose the recap state")
	}
}

func TestRecapDueUsesConfiguredClock(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	e := New([]market.Asset{testAsset("btc")}, alertstate.NewStore(), Options{RecapHour: 9, RecapLocation: loc}, zerolog.Nop())

	// 01:00 UTC is 09:00 in UTC+8
	if _, due := e.RecapDue(time.Date(2024, 3, 1, 0, 59, 0, 0, time.UTC)); due {
		t.Fatal("08:59 local must not be due")
	}
	if _, due := e.RecapDue(time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)); !due {
		t.Fatal("09:00 local should be due")
	}
}

func TestRecapWindowAndEvent(t *testing.T) {
	now := time.Date(2024, 3, 1, 20, 30, 0, 0, time.UTC)
	e := newTestEngine(testAsset("btc"))
	if got := e.RecapWindow(now); got != 20*time.Hour+30*time.Minute {
		t.Fatalf("unexpected window %s", got)
	}

	// 20:00 in UTC-5 is 01:00 UTC the next day; the window still covers the local day.
	est := time.FixedZone("EST", -5*3600)
	local := New(nil, nil, Options{RecapHour: 20, RecapLocation: est}, zerolog.Nop())
	if got := local.RecapWindow(time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)); got != 20*time.Hour {
		t.Fatalf("local-day window = %s", got)
	}

	fixed := New(nil, nil, Options{RecapLocation: est, RecapWindow: 24 * time.Hour}, zerolog.Nop())
	if got := fixed.RecapWindow(now); got != 24*time.Hour {
		t.Fatalf("configured window = %s", got)
	}

	ev := e.RecapEvent(now, "2024-03-01", []alerting.RecapLine{{AssetID: "btc"}})
	if ev.Kind != alerting.KindRecap || ev.RecapDay != "2024-03-01" || len(ev.Recap) != 1 || ev.ID == "" {
		t.Fatalf("unexpected recap event: %s", spew.Sdump(ev))
	}
}
