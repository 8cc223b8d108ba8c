package engine

import (
	"sort"
	"time"

	"marketwatch/internal/alerting"
	"marketwatch/internal/alertstate"
	"marketwatch/internal/market"
)

// RecapDue reports whether the recap should go out now and returns today's UTC day key.
// The configured hour:minute is read on the recap wall clock, inclusive.
func (e *Engine) RecapDue(now time.Time) (string, bool) {
	dayKey := alertstate.DayKey(now)

	local := now.In(e.opts.RecapLocation)
	target := time.Date(local.Year(), local.Month(), local.Day(), e.opts.RecapHour, e.opts.RecapMinute, 0, 0, e.opts.RecapLocation)
	if local.Before(target) {
		return dayKey, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return dayKey, e.store.Recap.LastSentDayKey != dayKey
}

// MarkRecapSent records that the recap for dayKey went out.
func (e *Engine) MarkRecapSent(dayKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Recap.LastSentDayKey = dayKey
}

// RecapWindow is how far back the recap series reaches from now.
func (e *Engine) RecapWindow(now time.Time) time.Duration {
	if e.opts.RecapWindow > 0 {
		return e.opts.RecapWindow
	}
	local := now.In(e.opts.RecapLocation)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.opts.RecapLocation)
	return now.Sub(midnight)
}

// BuildRecapLine derives OHLC from a same-day series. It returns false for an empty series.
func BuildRecapLine(asset market.Asset, points []market.SeriesPoint) (alerting.RecapLine, bool) {
	if len(points) == 0 {
		return alerting.RecapLine{}, false
	}
	sorted := make([]market.SeriesPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	line := alerting.RecapLine{
		AssetID: asset.ID,
		Symbol:  asset.Symbol,
		Name:    asset.DisplayName(),
		Open:    sorted[0].PriceUSD,
		Close:   sorted[len(sorted)-1].PriceUSD,
		High:    sorted[0].PriceUSD,
		Low:     sorted[0].PriceUSD,
	}
	for _, p := range sorted[1:] {
		if p.PriceUSD.GreaterThan(line.High) {
			line.High = p.PriceUSD
		}
		if p.PriceUSD.LessThan(line.Low) {
			line.Low = p.PriceUSD
		}
	}
	line.ChangePct = pctChange(line.Close, line.Open)
	return line, true
}

// RecapEvent wraps the per-asset lines into one recap event.
func (e *Engine) RecapEvent(now time.Time, dayKey string, lines []alerting.RecapLine) alerting.Event {
	return alerting.Event{
		ID:       e.newID(),
		Kind:     alerting.KindRecap,
		At:       now.UTC(),
		RecapDay: dayKey,
		Recap:    lines,
	}
}
