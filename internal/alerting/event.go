package alerting

import (
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/market"
)

// Kind classifies an alert event.
type Kind string

const (
	KindIntraday  Kind = "intraday"
	KindDailyUp   Kind = "daily_up"
	KindDailyDown Kind = "daily_down"
	KindNewATH    Kind = "new_ath"
	KindRecap     Kind = "recap"
)

// Direction of a price move.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// DirectionOf classifies the sign of a change.
func DirectionOf(d decimal.Decimal) Direction {
	switch d.Sign() {
	case 1:
		return DirectionUp
	case -1:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

// Event is everything a notifier needs to render one alert.
//
// Reference holds the prior poll price for intraday events, the day-open price for daily
// events and the prior official ATH for new-ATH events.
type Event struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Asset        market.Asset    `json:"-"`
	AssetID      string          `json:"asset_id,omitempty"`
	Symbol       string          `json:"symbol,omitempty"`
	At           time.Time       `json:"at"`
	Price        decimal.Decimal `json:"price"`
	Reference    decimal.Decimal `json:"reference"`
	ChangePct    decimal.Decimal `json:"change_pct"`
	ThresholdPct decimal.Decimal `json:"threshold_pct"`
	Direction    Direction       `json:"direction,omitempty"`
	AthDate      *time.Time      `json:"ath_date,omitempty"`
	RecapDay     string          `json:"recap_day,omitempty"`
	Recap        []RecapLine     `json:"recap,omitempty"`
}

// RecapLine is the OHLC summary of one asset for the recap day.
type RecapLine struct {
	AssetID   string          `json:"asset_id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	ChangePct decimal.Decimal `json:"change_pct"`
}
