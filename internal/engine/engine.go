package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/alerting"
	"marketwatch/internal/alertstate"
	"marketwatch/internal/market"
)

const (
	DefaultIntradayCooldown = 15 * time.Minute
)

var (
	// DefaultAthHysteresis requires each announcement to clear the previous one by 0.3%.
	DefaultAthHysteresis = decimal.RequireFromString("0.003")

	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Options tune the evaluation rules.
type Options struct {
	IntradayCooldown time.Duration
	AthHysteresis    decimal.Decimal
	RecapHour        int
	RecapMinute      int
	// RecapLocation is the wall clock the recap time is compared against. Nil means time.Local.
	RecapLocation *time.Location
	// RecapWindow is the span of the recap series, ending at the recap time. Zero means since
	// midnight on the recap wall clock.
	RecapWindow time.Duration
}

// Engine turns price samples into alert events. Every access to the store goes through mu.
type Engine struct {
	mu     sync.Mutex
	assets []market.Asset
	store  *alertstate.Store
	opts   Options
	logger zerolog.Logger
	newID  func() string
}

// State is a point-in-time copy of the engine's store.
type State struct {
	Assets []alertstate.AssetState `json:"assets"`
	Recap  alertstate.RecapState   `json:"recap"`
}

// New builds an engine over the given store. The store must not be shared with anything else.
func New(assets []market.Asset, store *alertstate.Store, opts Options, logger zerolog.Logger) *Engine {
	if store == nil {
		store = alertstate.NewStore()
	}
	if opts.IntradayCooldown <= 0 {
		opts.IntradayCooldown = DefaultIntradayCooldown
	}
	if opts.AthHysteresis.IsNegative() || opts.AthHysteresis.IsZero() {
		opts.AthHysteresis = DefaultAthHysteresis
	}
	if opts.RecapLocation == nil {
		opts.RecapLocation = time.Local
	}

	cp := make([]market.Asset, len(assets))
	copy(cp, assets)

	return &Engine{
		assets: cp,
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "engine").Logger(),
		newID:  func() string { return uuid.NewString() },
	}
}

// Assets returns the configured assets in order.
func (e *Engine) Assets() []market.Asset {
	out := make([]market.Asset, len(e.assets))
	copy(out, e.assets)
	return out
}

// Evaluate runs one price cycle. Assets without a usable sample are skipped. Events come back in
// asset order; within an asset the order is intraday, daily-up, daily-down, new ATH.
func (e *Engine) Evaluate(now time.Time, samples map[string]market.PriceSample) []alerting.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	now = now.UTC()
	dayKey := alertstate.DayKey(now)

	var events []alerting.Event
	for _, asset := range e.assets {
		sample, ok := samples[asset.ID]
		if !ok {
			e.logger.Warn().Str("asset", asset.ID).Msg("no price sample this cycle; skipping")
			continue
		}
		if !sample.Usable() {
			e.logger.Warn().Str("asset", asset.ID).Msg("missing or non-positive price; skipping")
			continue
		}
		events = append(events, e.evaluateAsset(now, dayKey, asset, sample.PriceUSD.Decimal)...)
	}
	return events
}

func (e *Engine) evaluateAsset(now time.Time, dayKey string, asset market.Asset, price decimal.Decimal) []alerting.Event {
	st := e.store.Asset(asset.ID)
	var events []alerting.Event

	if st.RollDay(dayKey, price) {
		e.logger.Debug().Str("asset", asset.ID).Str("day", dayKey).Str("open", price.String()).Msg("day open set")
	}
	open := st.DayOpen.OpenPriceUSD
	dailyChange := pctChange(price, open)

	if ev, ok := e.evaluateIntraday(now, asset, st, price); ok {
		events = append(events, ev)
	}
	st.LastPriceUSD = price
	st.HasLastPrice = true

	if !st.Flags.UpFired && dailyChange.GreaterThanOrEqual(asset.DailyUpPct) {
		st.Flags.UpFired = true
		events = append(events, e.event(now, alerting.KindDailyUp, asset, price, open, dailyChange, asset.DailyUpPct))
	}
	if !st.Flags.DownFired && dailyChange.LessThanOrEqual(asset.DailyDownPct) {
		st.Flags.DownFired = true
		events = append(events, e.event(now, alerting.KindDailyDown, asset, price, open, dailyChange, asset.DailyDownPct))
	}

	if ev, ok := e.evaluateAth(now, asset, st, price); ok {
		events = append(events, ev)
	}
	return events
}

func (e *Engine) evaluateIntraday(now time.Time, asset market.Asset, st *alertstate.AssetState, price decimal.Decimal) (alerting.Event, bool) {
	if !st.HasLastPrice || !st.LastPriceUSD.IsPositive() {
		return alerting.Event{}, false
	}
	diff := pctChange(price, st.LastPriceUSD)
	if diff.Abs().LessThan(asset.IntradayPct) {
		return alerting.Event{}, false
	}
	if !st.CooldownElapsed(now, e.opts.IntradayCooldown) {
		e.logger.Debug().Str("asset", asset.ID).Str("diff_pct", diff.StringFixed(2)).Msg("intraday move inside cooldown")
		return alerting.Event{}, false
	}
	st.LastIntradayAlertAt = now
	return e.event(now, alerting.KindIntraday, asset, price, st.LastPriceUSD, diff, asset.IntradayPct), true
}

func (e *Engine) event(now time.Time, kind alerting.Kind, asset market.Asset, price, reference, change, threshold decimal.Decimal) alerting.Event {
	return alerting.Event{
		ID:           e.newID(),
		Kind:         kind,
		Asset:        asset,
		AssetID:      asset.ID,
		Symbol:       asset.Symbol,
		At:           now,
		Price:        price,
		Reference:    reference,
		ChangePct:    change,
		ThresholdPct: threshold,
		Direction:    alerting.DirectionOf(change),
	}
}

// Snapshot copies the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{Assets: e.store.Snapshot(), Recap: e.store.Recap}
}

// pctChange is (current-base)/base*100, zero when base is zero.
func pctChange(current, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return current.Sub(base).Div(base).Mul(hundred)
}
