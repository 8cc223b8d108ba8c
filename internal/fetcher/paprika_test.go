package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	clone.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func newPaprikaTestServer(t *testing.T) (*httptest.Server, *Paprika) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/tickers/btc-bitcoin"):
			_, _ = w.Write([]byte(`{"id":"btc-bitcoin","name":"Bitcoin","symbol":"BTC","quotes":{"USD":{"price":64000.5,"percent_change_24h":1.5,"ath_price":69000,"ath_date":"2021-11-10T16:51:15Z"}}}`))
		case strings.HasSuffix(r.URL.Path, "/tickers/btc-bitcoin/historical"):
			_, _ = w.Write([]byte(`[
				{"timestamp":"2024-03-01T00:00:00Z","price":100,"volume_24h":1,"market_cap":1},
				{"timestamp":"2024-03-01T06:00:00Z","price":105,"volume_24h":1,"market_cap":1},
				{"timestamp":"2024-03-01T11:55:00Z","price":102,"volume_24h":1,"market_cap":1}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"id not found"}`))
		}
	}))

	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	p := NewPaprika(PaprikaOptions{Timeout: time.Second, Transport: redirectTransport{target: target}}, noopLogger())
	p.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return srv, p
}

func TestPaprikaSpotPrices(t *testing.T) {
	srv, p := newPaprikaTestServer(t)
	defer srv.Close()

	samples, err := p.SpotPrices(context.Background(), []string{"btc-bitcoin", "xyz-missing"})
	if err != nil {
		t.Fatalf("partial failure should not be an error: %v", err)
	}
	btc, ok := samples["btc-bitcoin"]
	if !ok || !btc.Usable() {
		t.Fatalf("btc sample missing: %+v", samples)
	}
	if !btc.PriceUSD.Decimal.Equal(decimal.RequireFromString("64000.5")) {
		t.Fatalf("unexpected price %s", btc.PriceUSD.Decimal)
	}
	if _, ok := samples["xyz-missing"]; ok {
		t.Fatal("failed id should be absent")
	}
}

func TestPaprikaSpotPricesAllFailed(t *testing.T) {
	srv, p := newPaprikaTestServer(t)
	defer srv.Close()

	if _, err := p.SpotPrices(context.Background(), []string{"xyz-missing"}); err == nil {
		t.Fatal("全部失败时应返回错误")
	}
}

func TestPaprikaAthReference(t *testing.T) {
	srv, p := newPaprikaTestServer(t)
	defer srv.Close()

	ref, err := p.AthReference(context.Background(), "btc-bitcoin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ref.AthUSD.Equal(decimal.NewFromInt(69000)) {
		t.Fatalf("unexpected ath %s", ref.AthUSD)
	}
	if ref.AthDate.Year() != 2021 {
		t.Fatalf("unexpected ath date %s", ref.AthDate)
	}
}

func TestPaprikaIntradaySeries(t *testing.T) {
	srv, p := newPaprikaTestServer(t)
	defer srv.Close()

	points, err := p.IntradaySeries(context.Background(), "btc-bitcoin", 12*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("期望 3 个点, 实际 %d", len(points))
	}
	if !points[1].PriceUSD.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("unexpected series %+v", points)
	}
}

func TestPaprikaTime(t *testing.T) {
	s := "2021-11-10T16:51:15Z"
	ts := time.Date(2021, 11, 10, 16, 51, 15, 0, time.UTC)
	if got := paprikaTime(&s); !got.Equal(ts) {
		t.Fatalf("string pointer: %s", got)
	}
	if got := paprikaTime(&ts); !got.Equal(ts) {
		t.Fatalf("time pointer: %s", got)
	}
	if got := paprikaTime(nil); !got.IsZero() {
		t.Fatalf("nil should be zero: %s", got)
	}
}
