package fetcher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/market"
)

// PaprikaOptions parameterise the CoinPaprika fetcher. Asset ids are CoinPaprika coin ids such as
// "btc-bitcoin".
type PaprikaOptions struct {
	APIKey    string
	Timeout   time.Duration
	Interval  string
	Transport http.RoundTripper
}

// Paprika fetches prices through the CoinPaprika API client.
type Paprika struct {
	client   *coinpaprika.Client
	interval string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewPaprika constructs a CoinPaprika fetcher.
func NewPaprika(opts PaprikaOptions, logger zerolog.Logger) *Paprika {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout, Transport: opts.Transport}

	var client *coinpaprika.Client
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		client = coinpaprika.NewClient(httpClient, coinpaprika.WithAPIKey(key))
	} else {
		client = coinpaprika.NewClient(httpClient)
	}

	interval := opts.Interval
	if interval == "" {
		interval = "5m"
	}

	return &Paprika{
		client:   client,
		interval: interval,
		logger:   logger.With().Str("component", "paprika_fetcher").Logger(),
		now:      time.Now,
	}
}

// SpotPrices requests one ticker per id. Ids that fail are logged and left out; an error is
// returned only when every id failed.
func (p *Paprika) SpotPrices(ctx context.Context, ids []string) (map[string]market.PriceSample, error) {
	out := make(map[string]market.PriceSample, len(ids))
	var lastErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ticker, err := p.client.Tickers.GetByID(id, &coinpaprika.TickersOptions{Quotes: "USD"})
		if err != nil {
			lastErr = errors.Wrapf(err, "fetch ticker %s", id)
			p.logger.Warn().Err(err).Str("asset", id).Msg("ticker request failed")
			continue
		}

		sample := market.PriceSample{AssetID: id, ObservedAt: p.now().UTC()}
		if ticker != nil && ticker.Quotes != nil {
			quote := ticker.Quotes["USD"]
			if quote.Price != nil {
				sample.PriceUSD = decimal.NewNullDecimal(decimal.NewFromFloat(*quote.Price))
			}
			if quote.PercentChange24h != nil {
				sample.Change24hPct = decimal.NewFromFloat(*quote.PercentChange24h)
			}
		}
		out[id] = sample
	}

	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// AthReference reads the ATH carried on the USD quote.
func (p *Paprika) AthReference(ctx context.Context, id string) (market.AthReference, error) {
	if err := ctx.Err(); err != nil {
		return market.AthReference{}, err
	}
	ticker, err := p.client.Tickers.GetByID(id, &coinpaprika.TickersOptions{Quotes: "USD"})
	if err != nil {
		return market.AthReference{}, errors.Wrapf(err, "fetch ath for %s", id)
	}
	if ticker == nil || ticker.Quotes == nil {
		return market.AthReference{}, ErrNoData
	}

	quote, ok := ticker.Quotes["USD"]
	if !ok || quote.ATHPrice == nil || *quote.ATHPrice <= 0 {
		return market.AthReference{}, ErrNoData
	}

	return market.AthReference{
		AssetID: id,
		AthUSD:  decimal.NewFromFloat(*quote.ATHPrice),
		AthDate: paprikaTime(quote.ATHDate),
	}, nil
}

// IntradaySeries requests historical ticks starting at now-window.
func (p *Paprika) IntradaySeries(ctx context.Context, id string, window time.Duration) ([]market.SeriesPoint, error) {
	if window <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := p.now().Add(-window).UTC()
	ticks, err := p.client.Tickers.GetHistoricalTickersByID(id, &coinpaprika.TickersHistoricalOptions{
		Quote:    "usd",
		Limit:    5000,
		Interval: p.interval,
		Start:    start,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch series for %s", id)
	}

	points := make([]market.SeriesPoint, 0, len(ticks))
	for _, tick := range ticks {
		if tick == nil || tick.Timestamp == nil || tick.Price == nil {
			continue
		}
		if tick.Timestamp.Before(start) {
			continue
		}
		points = append(points, market.SeriesPoint{At: tick.Timestamp.UTC(), PriceUSD: decimal.NewFromFloat(*tick.Price)})
	}
	return points, nil
}

// paprikaTime accepts the date shapes the client has used for ath_date.
func paprikaTime(v any) time.Time {
	switch t := v.(type) {
	case *time.Time:
		if t != nil {
			return t.UTC()
		}
	case time.Time:
		return t.UTC()
	case *string:
		if t != nil {
			return paprikaTime(*t)
		}
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

var _ PriceSource = (*Paprika)(nil)
