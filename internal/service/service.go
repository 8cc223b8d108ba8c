package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/alerting"
	"marketwatch/internal/alertstate"
	"marketwatch/internal/engine"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/market"
	"marketwatch/internal/metrics"
	"marketwatch/internal/scheduler"
	"marketwatch/internal/storage"
)

// Options tune the periodic tasks around the engine.
type Options struct {
	AthRefreshEvery time.Duration
	RecapCheckEvery time.Duration
	RecapEnabled    bool
	DeliveryTimeout time.Duration
	// Retention prunes audit rows older than this once a day. Zero keeps everything.
	Retention time.Duration
	LockKey   int64
}

// Service orchestrates fetching, evaluation, delivery and the audit log.
type Service struct {
	engine   *engine.Engine
	source   fetcher.PriceSource
	notifier alerting.Notifier
	events   storage.EventStore
	locker   storage.AdvisoryLocker
	metrics  *metrics.Metrics
	sched    *scheduler.Scheduler
	cron     *scheduler.Cron
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time

	lastSuccess atomic.Int64
}

// New wires the service. events, m, sched and cron may be nil; the matching feature is then off.
func New(opts Options, eng *engine.Engine, source fetcher.PriceSource, notifier alerting.Notifier, events storage.EventStore, m *metrics.Metrics, sched *scheduler.Scheduler, cron *scheduler.Cron, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = alerting.NewLogNotifier(logger)
	}

	var locker storage.AdvisoryLocker
	if l, ok := events.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		engine:   eng,
		source:   source,
		notifier: notifier,
		events:   events,
		locker:   locker,
		metrics:  m,
		sched:    sched,
		cron:     cron,
		opts:     opts,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
	}
}

// LastSuccess is the time of the last cycle that evaluated prices.
func (s *Service) LastSuccess() time.Time {
	ns := s.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Run starts the ATH refresh and recap jobs and the aligned price loop. It blocks until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}

	var wg sync.WaitGroup
	if s.cron != nil {
		if err := s.registerJobs(ctx); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.cron.Run(ctx)
		}()
	}

	err := s.sched.Run(ctx, s.ProcessBucket)
	wg.Wait()
	return err
}

func (s *Service) registerJobs(ctx context.Context) error {
	jobs := []scheduler.Job{{
		Name:  "ath-refresh",
		Every: s.opts.AthRefreshEvery,
		Run:   s.RefreshAth,
	}}
	if s.opts.RecapEnabled {
		jobs = append(jobs, scheduler.Job{
			Name:  "recap-check",
			Every: s.opts.RecapCheckEvery,
			Run:   s.CheckRecap,
		})
	}
	if s.events != nil && s.opts.Retention > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:      "audit-prune",
			Every:     24 * time.Hour,
			WaitFirst: true,
			Run:       s.PruneAudit,
		})
	}

	for _, job := range jobs {
		if err := s.cron.Add(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// ProcessBucket 执行单个时间桶的价格检查。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.metrics.ObserveCycle("error", 0, bucket)
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		s.metrics.ObserveCycle("skipped", 0, bucket)
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, bucket)
}

func (s *Service) executeCycle(ctx context.Context, bucket time.Time) error {
	started := s.now()

	samples, err := s.source.SpotPrices(ctx, market.IDs(s.engine.Assets()))
	if err != nil {
		s.metrics.FetchFailed("spot")
		s.metrics.ObserveCycle("error", s.now().Sub(started), started)
		return fmt.Errorf("fetch spot prices: %w", err)
	}
	for id, sample := range samples {
		if sample.Usable() {
			s.metrics.ObservePrice(id, sample.PriceUSD.Decimal)
		}
	}

	now := s.now()
	events := s.engine.Evaluate(now, samples)
	s.lastSuccess.Store(now.UnixNano())

	for _, ev := range events {
		_ = s.dispatch(ctx, ev)
	}

	s.logger.Info().Time("bucket", bucket).
		Int("samples", len(samples)).
		Int("events", len(events)).
		Msg("price cycle evaluated")
	s.metrics.ObserveCycle("ok", s.now().Sub(started), now)
	return nil
}

// dispatch delivers one event and appends it to the audit log. Delivery failures are logged and
// never retried; engine state has already moved on.
func (s *Service) dispatch(ctx context.Context, ev alerting.Event) error {
	s.metrics.EventEmitted(string(ev.Kind))

	deliverCtx := ctx
	if s.opts.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		deliverCtx, cancel = context.WithTimeout(ctx, s.opts.DeliveryTimeout)
		defer cancel()
	}

	err := s.notifier.Notify(deliverCtx, ev)
	log := s.logger.With().Str("event_id", ev.ID).Str("kind", string(ev.Kind)).Str("asset", ev.AssetID).Logger()
	switch {
	case errors.Is(err, alerting.ErrDestinationUnresolved):
		log.Warn().Msg("destination unresolved; alert skipped")
		s.metrics.DeliveryFailed(string(ev.Kind))
	case err != nil:
		log.Error().Err(err).Msg("failed to dispatch alert")
		s.metrics.DeliveryFailed(string(ev.Kind))
	default:
		log.Info().Msg("alert dispatched")
	}

	s.audit(ctx, ev, err)
	return err
}

func (s *Service) audit(ctx context.Context, ev alerting.Event, deliveryErr error) {
	if s.events == nil {
		return
	}
	rec, err := storage.RecordFromEvent(ev, deliveryErr)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to build audit record")
		return
	}
	if _, err := s.events.InsertEvent(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to persist audit record")
	}
}

// RefreshAth fetches the canonical ATH of every asset. Failed assets keep their previous record.
func (s *Service) RefreshAth(ctx context.Context) error {
	assets := s.engine.Assets()
	refs := make(map[string]market.AthReference, len(assets))
	for _, asset := range assets {
		ref, err := s.source.AthReference(ctx, asset.ID)
		if err != nil {
			if errors.Is(err, fetcher.ErrNoData) {
				s.logger.Debug().Str("asset", asset.ID).Msg("no ath data published")
				continue
			}
			s.metrics.FetchFailed("ath")
			s.logger.Warn().Err(err).Str("asset", asset.ID).Msg("ath refresh failed; keeping previous record")
			continue
		}
		refs[asset.ID] = ref
	}

	applied := s.engine.ApplyAthReferences(s.now(), refs)
	s.logger.Info().Int("applied", applied).Int("assets", len(assets)).Msg("ath references refreshed")
	return nil
}

// CheckRecap sends the daily recap once the configured time has passed.
func (s *Service) CheckRecap(ctx context.Context) error {
	now := s.now()
	dayKey, due := s.engine.RecapDue(now)
	if !due {
		return nil
	}

	sent, err := s.sendRecap(ctx, now, dayKey)
	if err != nil {
		return err
	}
	if sent {
		s.engine.MarkRecapSent(dayKey)
	}
	return nil
}

// SendRecap builds and delivers a recap right away without touching the once-per-day guard.
// It reports whether a recap had any lines to send.
func (s *Service) SendRecap(ctx context.Context) (bool, error) {
	now := s.now()
	return s.sendRecap(ctx, now, alertstate.DayKey(now))
}

func (s *Service) sendRecap(ctx context.Context, now time.Time, dayKey string) (bool, error) {
	window := s.engine.RecapWindow(now)
	var lines []alerting.RecapLine
	for _, asset := range s.engine.Assets() {
		points, err := s.source.IntradaySeries(ctx, asset.ID, window)
		if err != nil {
			s.metrics.FetchFailed("series")
			s.logger.Warn().Err(err).Str("asset", asset.ID).Msg("recap series unavailable; asset omitted")
			continue
		}
		line, ok := engine.BuildRecapLine(asset, points)
		if !ok {
			s.logger.Warn().Str("asset", asset.ID).Msg("empty recap series; asset omitted")
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		s.logger.Warn().Str("day", dayKey).Msg("no recap lines; will retry")
		return false, nil
	}

	// A failed delivery still counts as sent.
	_ = s.dispatch(ctx, s.engine.RecapEvent(now, dayKey, lines))
	return true, nil
}

// PruneAudit removes audit rows older than the retention window.
func (s *Service) PruneAudit(ctx context.Context) error {
	if s.events == nil || s.opts.Retention <= 0 {
		return nil
	}
	cutoff := s.now().Add(-s.opts.Retention)
	n, err := s.events.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune audit log: %w", err)
	}
	s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("audit log pruned")
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
