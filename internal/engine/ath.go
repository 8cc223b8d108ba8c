package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/alerting"
	"marketwatch/internal/alertstate"
	"marketwatch/internal/market"
)

// evaluateAth fires when price clears the buffered official ATH and the last announced level
// times (1+hysteresis). Announced levels therefore only ever increase.
func (e *Engine) evaluateAth(now time.Time, asset market.Asset, st *alertstate.AssetState, price decimal.Decimal) (alerting.Event, bool) {
	rec := st.Ath
	if rec == nil || !rec.AthUSD.IsPositive() {
		return alerting.Event{}, false
	}

	threshold := rec.AthUSD.Mul(one.Add(rec.BufferPct))
	if price.LessThan(threshold) {
		return alerting.Event{}, false
	}
	floor := rec.LastAnnouncedUSD.Mul(one.Add(e.opts.AthHysteresis))
	if price.LessThan(floor) {
		return alerting.Event{}, false
	}

	gain := pctChange(price, rec.AthUSD)
	ev := e.event(now, alerting.KindNewATH, asset, price, rec.AthUSD, gain, rec.BufferPct.Mul(hundred))
	if !rec.AthDate.IsZero() {
		athDate := rec.AthDate
		ev.AthDate = &athDate
	}
	rec.LastAnnouncedUSD = price

	e.logger.Info().Str("asset", asset.ID).Str("price", price.String()).Str("ath", rec.AthUSD.String()).Msg("new ath announced")
	return ev, true
}

// ApplyAthReferences stores freshly fetched ATH values. Assets missing from refs keep their
// previous record. LastAnnouncedUSD is carried forward, or seeded with the official ATH so an
// existing high does not alert on its own. It returns the number of records updated.
func (e *Engine) ApplyAthReferences(now time.Time, refs map[string]market.AthReference) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := 0
	for _, asset := range e.assets {
		ref, ok := refs[asset.ID]
		if !ok || !ref.AthUSD.IsPositive() {
			continue
		}
		st := e.store.Asset(asset.ID)
		if st.Ath == nil {
			st.Ath = &alertstate.AthRecord{}
		}
		st.Ath.AthUSD = ref.AthUSD
		st.Ath.AthDate = ref.AthDate
		st.Ath.BufferPct = asset.AthBuffer()
		st.Ath.RefreshedAt = now.UTC()
		if !st.Ath.LastAnnouncedUSD.IsPositive() {
			st.Ath.LastAnnouncedUSD = ref.AthUSD
		}
		applied++
	}
	return applied
}
