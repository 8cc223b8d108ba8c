package fetcher

import (
	"context"
	"errors"
	"time"

	"marketwatch/internal/market"
)

// ErrNoData is returned when the source has no value for the requested asset.
var ErrNoData = errors.New("fetcher: no data")

// ErrUnauthorized is returned by Ping when the source rejects the configured credential.
var ErrUnauthorized = errors.New("fetcher: credential rejected")

// PriceSource retrieves spot prices, all-time-high references and intraday series.
type PriceSource interface {
	// SpotPrices returns one sample per requested id. Ids unknown to the source are absent from the map;
	// a known id without a numeric price carries an invalid PriceUSD.
	SpotPrices(ctx context.Context, ids []string) (map[string]market.PriceSample, error)
	AthReference(ctx context.Context, id string) (market.AthReference, error)
	// IntradaySeries returns points observed within the window ending now, oldest first.
	IntradaySeries(ctx context.Context, id string, window time.Duration) ([]market.SeriesPoint, error)
}

// Pinger is implemented by sources that can validate their credential at startup.
type Pinger interface {
	Ping(ctx context.Context) error
}
