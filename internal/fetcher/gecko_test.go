package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestGeckoSpotPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "bitcoin,ethereum,ghost" {
			t.Fatalf("ids 参数错误: %s", got)
		}
		if r.Header.Get("x-cg-demo-api-key") != "secret" {
			t.Fatal("应携带 API key 头")
		}
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64250.5,"usd_24h_change":1.25},"ethereum":{"usd":null,"usd_24h_change":null}}`))
	}))
	defer srv.Close()

	g := NewGecko(GeckoOptions{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second}, noopLogger())
	samples, err := g.SpotPrices(context.Background(), []string{"bitcoin", "ethereum", "ghost"})
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}

	btc, ok := samples["bitcoin"]
	if !ok || !btc.Usable() {
		t.Fatalf("bitcoin sample missing or unusable: %+v", btc)
	}
	if !btc.PriceUSD.Decimal.Equal(decimal.RequireFromString("64250.5")) {
		t.Fatalf("期望价格 64250.5, 实际 %s", btc.PriceUSD.Decimal)
	}
	if !btc.Change24hPct.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("unexpected 24h change %s", btc.Change24hPct)
	}

	eth, ok := samples["ethereum"]
	if !ok {
		t.Fatal("ethereum should be present with a null price")
	}
	if eth.Usable() {
		t.Fatal("null price must not be usable")
	}
	if _, ok := samples["ghost"]; ok {
		t.Fatal("unknown ids should be absent")
	}
}

func TestGeckoSpotPricesMalformedQuoteSkipsOnlyThatAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000,"usd_24h_change":"n/a"},"ethereum":{"usd":"N/A"}}`))
	}))
	defer srv.Close()

	g := NewGecko(GeckoOptions{BaseURL: srv.URL}, noopLogger())
	samples, err := g.SpotPrices(context.Background(), []string{"bitcoin", "ethereum"})
	if err != nil {
		t.Fatalf("单个资产字段异常不应导致整体失败: %v", err)
	}

	btc := samples["bitcoin"]
	if !btc.Usable() || !btc.PriceUSD.Decimal.Equal(decimal.NewFromInt(65000)) {
		t.Fatalf("bitcoin should stay usable: %+v", btc)
	}
	if !btc.Change24hPct.IsZero() {
		t.Fatalf("unparseable change should be left at zero, got %s", btc.Change24hPct)
	}

	eth, ok := samples["ethereum"]
	if !ok {
		t.Fatal("ethereum should be present")
	}
	if eth.Usable() {
		t.Fatal("non-numeric price must not be usable")
	}
}

func TestGeckoPingUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error_code": 10002, "error_message": "invalid api key"}})
	}))
	defer srv.Close()

	g := NewGecko(GeckoOptions{BaseURL: srv.URL, APIKey: "bad"}, noopLogger())
	err := g.Ping(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("401 应映射为 ErrUnauthorized, 实际 %v", err)
	}
}

func TestGeckoPingOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"gecko_says":"(V3) To the Moon!"}`))
	}))
	defer srv.Close()

	if err := NewGecko(GeckoOptions{BaseURL: srv.URL}, noopLogger()).Ping(context.Background()); err != nil {
		t.Fatalf("ping should succeed: %v", err)
	}
}

func TestGeckoSpotPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGecko(GeckoOptions{BaseURL: srv.URL}, noopLogger())
	if _, err := g.SpotPrices(context.Background(), []string{"bitcoin"}); err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
}

func TestGeckoAthReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/coins/bitcoin":
			_, _ = w.Write([]byte(`{"id":"bitcoin","market_data":{"ath":{"usd":69045},"ath_date":{"usd":"2021-11-10T14:24:11.849Z"}}}`))
		case "/coins/newcoin":
			_, _ = w.Write([]byte(`{"id":"newcoin","market_data":{"ath":{},"ath_date":{}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"coin not found"}`))
		}
	}))
	defer srv.Close()

	g := NewGecko(GeckoOptions{BaseURL: srv.URL}, noopLogger())

	ref, err := g.AthReference(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ref.AthUSD.Equal(decimal.NewFromInt(69045)) {
		t.Fatalf("unexpected ath %s", ref.AthUSD)
	}
	if ref.AthDate.Format("2006-01-02") != "2021-11-10" {
		t.Fatalf("unexpected ath date %s", ref.AthDate)
	}

	if _, err := g.AthReference(context.Background(), "newcoin"); !errors.Is(err, ErrNoData) {
		t.Fatalf("missing ath should be ErrNoData, got %v", err)
	}
	if _, err := g.AthReference(context.Background(), "ghost"); !errors.Is(err, ErrNoData) {
		t.Fatalf("404 should be ErrNoData, got %v", err)
	}
}

func TestGeckoIntradaySeriesFiltersWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	yesterday := midnight.Add(-time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bitcoin/market_chart" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("days") != "1" {
			t.Fatalf("days 参数错误: %s", r.URL.Query().Get("days"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"prices": [][]float64{
				{float64(yesterday.UnixMilli()), 90},
				{float64(midnight.UnixMilli()), 100},
				{float64(midnight.Add(4 * time.Hour).UnixMilli()), 105},
				{float64(midnight.Add(8 * time.Hour).UnixMilli()), 98},
				{float64(now.UnixMilli()), 102},
			},
		})
	}))
	defer srv.Close()

	g := NewGecko(GeckoOptions{BaseURL: srv.URL}, noopLogger())
	g.now = func() time.Time { return now }

	points, err := g.IntradaySeries(context.Background(), "bitcoin", now.Sub(midnight))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("期望 4 个点, 实际 %d", len(points))
	}
	if !points[0].PriceUSD.Equal(decimal.NewFromInt(100)) || !points[3].PriceUSD.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("unexpected series %+v", points)
	}
}
