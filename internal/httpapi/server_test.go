package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/alertstate"
	"marketwatch/internal/engine"
	"marketwatch/internal/metrics"
)

type fixedState struct{ st engine.State }

func (f fixedState) Snapshot() engine.State { return f.st }

type fixedReady struct{ at time.Time }

func (f fixedReady) LastSuccess() time.Time { return f.at }

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := New(Options{}, nil, nil, zerolog.Nop())
	rec := do(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"alive"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestReadyzTracksLastCycle(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		last time.Time
		want int
	}{
		{name: "never ran", last: time.Time{}, want: http.StatusServiceUnavailable},
		{name: "fresh", last: now.Add(-5 * time.Minute), want: http.StatusOK},
		{name: "stale", last: now.Add(-20 * time.Minute), want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(Options{ReadyMaxAge: 15 * time.Minute}, nil, fixedReady{at: tc.last}, zerolog.Nop())
			s.now = func() time.Time { return now }
			rec := do(t, s.Handler(), "/readyz")
			if rec.Code != tc.want {
				t.Fatalf("期望状态 %d, 实际 %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStateReturnsSnapshot(t *testing.T) {
	st := engine.State{
		Assets: []alertstate.AssetState{{
			AssetID:      "bitcoin",
			LastPriceUSD: decimal.RequireFromString("64250.5"),
			HasLastPrice: true,
			Flags:        alertstate.DailyFlags{UpFired: true},
		}},
		Recap: alertstate.RecapState{LastSentDayKey: "2024-03-01"},
	}
	s := New(Options{}, fixedState{st: st}, nil, zerolog.Nop())

	rec := do(t, s.Handler(), "/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("state status %d", rec.Code)
	}

	var got struct {
		Assets []struct {
			AssetID      string `json:"asset_id"`
			LastPriceUSD string `json:"last_price_usd"`
			Flags        struct {
				UpFired bool `json:"up_fired"`
			} `json:"flags"`
		} `json:"assets"`
		Recap struct {
			LastSentDayKey string `json:"last_sent_day_key"`
		} `json:"recap"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(got.Assets) != 1 || got.Assets[0].AssetID != "bitcoin" || got.Assets[0].LastPriceUSD != "64250.5" {
		t.Fatalf("unexpected assets %+v", got.Assets)
	}
	if !got.Assets[0].Flags.UpFired || got.Recap.LastSentDayKey != "2024-03-01" {
		t.Fatalf("unexpected flags or recap %+v", got)
	}
}

func TestStateWithoutEngine(t *testing.T) {
	s := New(Options{}, nil, nil, zerolog.Nop())
	if rec := do(t, s.Handler(), "/state"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.EventEmitted("intraday")
	s := New(Options{Registry: m.Registry}, nil, nil, zerolog.Nop())

	rec := do(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `marketwatch_alert_events_total{kind="intraday"} 1`) {
		t.Fatalf("event counter missing from exposition")
	}
}

func TestCORSHeaders(t *testing.T) {
	s := New(Options{CORSOrigins: []string{"https://dash.example.com"}}, nil, nil, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Fatalf("allow-origin header = %q", got)
	}
}
