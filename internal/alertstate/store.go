package alertstate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const dayKeyLayout = "2006-01-02"

// DayKey returns the UTC calendar date used to detect day boundaries.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayKeyLayout)
}

// DayOpen is the baseline price of the current UTC day.
type DayOpen struct {
	OpenPriceUSD decimal.Decimal `json:"open_price_usd"`
	DayKey       string          `json:"day_key"`
}

// DailyFlags records which daily trend alerts already fired today.
type DailyFlags struct {
	UpFired   bool `json:"up_fired"`
	DownFired bool `json:"down_fired"`
}

// AthRecord tracks the official ATH and the last level we announced.
type AthRecord struct {
	AthUSD           decimal.Decimal `json:"ath_usd"`
	AthDate          time.Time       `json:"ath_date"`
	BufferPct        decimal.Decimal `json:"buffer_pct"`
	LastAnnouncedUSD decimal.Decimal `json:"last_announced_usd"`
	RefreshedAt      time.Time       `json:"refreshed_at"`
}

// AssetState is the mutable record kept per asset.
type AssetState struct {
	AssetID             string          `json:"asset_id"`
	LastPriceUSD        decimal.Decimal `json:"last_price_usd"`
	HasLastPrice        bool            `json:"has_last_price"`
	DayOpen             *DayOpen        `json:"day_open,omitempty"`
	Flags               DailyFlags      `json:"flags"`
	Ath                 *AthRecord      `json:"ath,omitempty"`
	LastIntradayAlertAt time.Time       `json:"last_intraday_alert_at"`
}

// RollDay replaces the day-open record when dayKey differs from the live one and resets the
// daily flags. It reports whether a rollover happened.
func (s *AssetState) RollDay(dayKey string, price decimal.Decimal) bool {
	if s.DayOpen != nil && s.DayOpen.DayKey == dayKey {
		return false
	}
	s.DayOpen = &DayOpen{OpenPriceUSD: price, DayKey: dayKey}
	s.Flags = DailyFlags{}
	return true
}

// CooldownElapsed reports whether an intraday alert may fire at now.
func (s *AssetState) CooldownElapsed(now time.Time, cooldown time.Duration) bool {
	if s.LastIntradayAlertAt.IsZero() {
		return true
	}
	return now.Sub(s.LastIntradayAlertAt) >= cooldown
}

// RecapState is process-wide and guards against a second recap in one UTC day.
type RecapState struct {
	LastSentDayKey string `json:"last_sent_day_key"`
}

// Store holds all alert state in memory. It is not safe for concurrent use; the engine
// serialises every access.
type Store struct {
	assets map[string]*AssetState
	Recap  RecapState
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{assets: make(map[string]*AssetState)}
}

// Asset returns the record for id, creating it on first use.
func (s *Store) Asset(id string) *AssetState {
	st, ok := s.assets[id]
	if !ok {
		st = &AssetState{AssetID: id}
		s.assets[id] = st
	}
	return st
}

// Lookup returns the record for id without creating it.
func (s *Store) Lookup(id string) (*AssetState, bool) {
	st, ok := s.assets[id]
	return st, ok
}

// Snapshot copies every record, ordered by asset id.
func (s *Store) Snapshot() []AssetState {
	out := make([]AssetState, 0, len(s.assets))
	for _, st := range s.assets {
		cp := *st
		if st.DayOpen != nil {
			day := *st.DayOpen
			cp.DayOpen = &day
		}
		if st.Ath != nil {
			ath := *st.Ath
			cp.Ath = &ath
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}
