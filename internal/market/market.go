package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultAthBuffer is applied when an asset does not configure its own ATH buffer (0.05%).
var DefaultAthBuffer = decimal.RequireFromString("0.0005")

// Asset is a monitored coin with its alert thresholds.
type Asset struct {
	ID           string
	Symbol       string
	Name         string
	IntradayPct  decimal.Decimal
	DailyUpPct   decimal.Decimal
	DailyDownPct decimal.Decimal
	// AthBufferPct is a fraction: 0.0005 means the price must clear the ATH by 0.05%.
	AthBufferPct decimal.NullDecimal
}

// AthBuffer resolves the configured buffer or the default.
func (a Asset) AthBuffer() decimal.Decimal {
	if a.AthBufferPct.Valid {
		return a.AthBufferPct.Decimal
	}
	return DefaultAthBuffer
}

// DisplayName prefers the configured name and falls back to the symbol, then the identifier.
func (a Asset) DisplayName() string {
	switch {
	case a.Name != "":
		return a.Name
	case a.Symbol != "":
		return a.Symbol
	default:
		return a.ID
	}
}

// PriceSample is one spot observation for an asset.
type PriceSample struct {
	AssetID      string
	PriceUSD     decimal.NullDecimal
	Change24hPct decimal.Decimal
	ObservedAt   time.Time
}

// Usable reports whether the sample carries a positive price.
func (s PriceSample) Usable() bool {
	return s.PriceUSD.Valid && s.PriceUSD.Decimal.IsPositive()
}

// AthReference is the canonical all-time-high published by the price source.
type AthReference struct {
	AssetID string
	AthUSD  decimal.Decimal
	AthDate time.Time
}

// SeriesPoint is one entry of an intraday price series.
type SeriesPoint struct {
	At       time.Time
	PriceUSD decimal.Decimal
}

// IDs returns the identifiers of the given assets in order.
func IDs(assets []Asset) []string {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	return ids
}
