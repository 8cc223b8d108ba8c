package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/alertstate"
	"marketwatch/internal/engine"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/market"
	"marketwatch/internal/service"
)

// SimulateAlert 通过两次合成价格驱动一个全新的引擎，并把产生的告警投递到配置的目标。
// The first price seeds the state, the second is evaluated against it.
func (a *App) SimulateAlert(ctx context.Context, assetKey string, from, to decimal.Decimal) error {
	asset, ok := a.Config.FindAsset(assetKey)
	if !ok {
		return fmt.Errorf("asset %q is not configured", assetKey)
	}

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()

	eng := engine.New([]market.Asset{asset}, alertstate.NewStore(), engine.Options{
		IntradayCooldown: a.Config.Alerting.IntradayCooldown,
		AthHysteresis:    a.Config.AthHysteresis(),
	}, a.Logger)

	source := &staticSource{}
	svc := service.New(service.Options{DeliveryTimeout: a.Config.Alerting.DeliveryTimeout}, eng, source, notifier, nil, nil, nil, nil, a.Logger)

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	for _, price := range []decimal.Decimal{from, to} {
		source.set(asset.ID, price)
		if err := svc.ProcessBucket(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}

// staticSource serves one fixed price per asset.
type staticSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func (s *staticSource) set(id string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prices == nil {
		s.prices = make(map[string]decimal.Decimal)
	}
	s.prices[id] = price
}

func (s *staticSource) SpotPrices(_ context.Context, ids []string) (map[string]market.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]market.PriceSample, len(ids))
	for _, id := range ids {
		if p, ok := s.prices[id]; ok {
			out[id] = market.PriceSample{AssetID: id, PriceUSD: decimal.NewNullDecimal(p), ObservedAt: time.Now().UTC()}
		}
	}
	return out, nil
}

func (s *staticSource) AthReference(_ context.Context, _ string) (market.AthReference, error) {
	return market.AthReference{}, fetcher.ErrNoData
}

func (s *staticSource) IntradaySeries(_ context.Context, _ string, _ time.Duration) ([]market.SeriesPoint, error) {
	return nil, fetcher.ErrNoData
}

var _ fetcher.PriceSource = (*staticSource)(nil)
