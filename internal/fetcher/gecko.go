package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/market"
)

const (
	geckoDefaultBaseURL = "https://api.coingecko.com/api/v3"
	geckoDefaultKeyHdr  = "x-cg-demo-api-key"
)

// GeckoOptions parameterise the CoinGecko fetcher.
type GeckoOptions struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	UserAgent    string
}

// Gecko fetches prices from the CoinGecko REST API.
type Gecko struct {
	opts    GeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewGecko constructs a CoinGecko fetcher.
func NewGecko(opts GeckoOptions, logger zerolog.Logger) *Gecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = geckoDefaultBaseURL
	}
	if strings.TrimSpace(opts.APIKeyHeader) == "" {
		opts.APIKeyHeader = geckoDefaultKeyHdr
	}

	return &Gecko{
		opts:    opts,
		logger:  logger.With().Str("component", "gecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Ping checks reachability and the API key.
func (g *Gecko) Ping(ctx context.Context) error {
	if _, err := g.get(ctx, "/ping", nil); err != nil {
		return fmt.Errorf("ping coingecko: %w", err)
	}
	return nil
}

// SpotPrices queries /simple/price for all ids in one request.
func (g *Gecko) SpotPrices(ctx context.Context, ids []string) (map[string]market.PriceSample, error) {
	if len(ids) == 0 {
		return map[string]market.PriceSample{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")

	payload, err := g.get(ctx, "/simple/price", q)
	if err != nil {
		return nil, fmt.Errorf("fetch spot prices: %w", err)
	}

	var res map[string]map[string]json.RawMessage
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode spot prices: %w", err)
	}

	observed := g.now().UTC()
	out := make(map[string]market.PriceSample, len(res))
	for _, id := range ids {
		quote, ok := res[id]
		if !ok {
			continue
		}
		sample := market.PriceSample{AssetID: id, ObservedAt: observed}
		// A malformed field only invalidates this asset; the engine skips unusable samples.
		price, err := quoteField(quote, "usd")
		if err != nil {
			g.logger.Warn().Err(err).Str("asset", id).Msg("non-numeric usd price")
		}
		sample.PriceUSD = price
		change, err := quoteField(quote, "usd_24h_change")
		if err != nil {
			g.logger.Debug().Err(err).Str("asset", id).Msg("non-numeric 24h change")
		}
		if change.Valid {
			sample.Change24hPct = change.Decimal
		}
		out[id] = sample
	}
	return out, nil
}

func quoteField(quote map[string]json.RawMessage, key string) (decimal.NullDecimal, error) {
	raw, ok := quote[key]
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	var v decimal.NullDecimal
	if err := json.Unmarshal(raw, &v); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

// AthReference reads market_data.ath from /coins/{id}.
func (g *Gecko) AthReference(ctx context.Context, id string) (market.AthReference, error) {
	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("market_data", "true")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")
	q.Set("sparkline", "false")

	payload, err := g.get(ctx, "/coins/"+url.PathEscape(id), q)
	if err != nil {
		return market.AthReference{}, fmt.Errorf("fetch ath for %s: %w", id, err)
	}

	var res coinResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return market.AthReference{}, fmt.Errorf("decode ath for %s: %w", id, err)
	}

	ath := res.MarketData.Ath["usd"]
	if !ath.Valid || !ath.Decimal.IsPositive() {
		return market.AthReference{}, ErrNoData
	}

	ref := market.AthReference{AssetID: id, AthUSD: ath.Decimal}
	if raw := res.MarketData.AthDate["usd"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			ref.AthDate = ts.UTC()
		} else {
			g.logger.Debug().Err(err).Str("asset", id).Str("ath_date", raw).Msg("unparseable ath date")
		}
	}
	return ref, nil
}

// IntradaySeries reads /coins/{id}/market_chart and keeps the points inside window.
func (g *Gecko) IntradaySeries(ctx context.Context, id string, window time.Duration) ([]market.SeriesPoint, error) {
	if window <= 0 {
		return nil, nil
	}
	days := int(math.Ceil(window.Hours() / 24))
	if days < 1 {
		days = 1
	}

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", strconv.Itoa(days))

	payload, err := g.get(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", q)
	if err != nil {
		return nil, fmt.Errorf("fetch series for %s: %w", id, err)
	}

	var res marketChartResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode series for %s: %w", id, err)
	}

	since := g.now().Add(-window)
	points := make([]market.SeriesPoint, 0, len(res.Prices))
	for _, row := range res.Prices {
		if len(row) < 2 {
			continue
		}
		at := time.UnixMilli(row[0].IntPart()).UTC()
		if at.Before(since) {
			continue
		}
		points = append(points, market.SeriesPoint{At: at, PriceUSD: row[1]})
	}
	return points, nil
}

func (g *Gecko) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "marketwatch/1.0")
	}
	if key := strings.TrimSpace(g.opts.APIKey); key != "" {
		req.Header.Set(g.opts.APIKeyHeader, key)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseGeckoError(resp.StatusCode, payload)
	}
	return payload, nil
}

type coinResponse struct {
	MarketData struct {
		Ath     map[string]decimal.NullDecimal `json:"ath"`
		AthDate map[string]string              `json:"ath_date"`
	} `json:"market_data"`
}

type marketChartResponse struct {
	Prices [][]decimal.Decimal `json:"prices"`
}

type geckoErrorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseGeckoError(status int, payload []byte) error {
	msg := strings.TrimSpace(string(payload))
	var apiErr geckoErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Error != "":
			msg = apiErr.Error
		case apiErr.Status.ErrorMessage != "":
			msg = apiErr.Status.ErrorMessage
		}
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: coingecko api error (%d): %s", ErrUnauthorized, status, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: coingecko api error (%d): %s", ErrNoData, status, msg)
	}
	if msg == "" {
		return fmt.Errorf("coingecko api error (%d)", status)
	}
	return fmt.Errorf("coingecko api error (%d): %s", status, msg)
}

var (
	_ PriceSource = (*Gecko)(nil)
	_ Pinger      = (*Gecko)(nil)
)
