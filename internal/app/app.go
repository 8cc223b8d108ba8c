package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/alerting"
	"marketwatch/internal/alertstate"
	"marketwatch/internal/config"
	"marketwatch/internal/engine"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/httpapi"
	"marketwatch/internal/metrics"
	"marketwatch/internal/scheduler"
	"marketwatch/internal/service"
	"marketwatch/internal/storage"
	"marketwatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newSource builds the configured price source. When ping_on_start is set, rejected credentials
// abort startup; other ping failures are only logged.
func (a *App) newSource(ctx context.Context) (fetcher.PriceSource, error) {
	cfg := a.Config.PriceSource
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	var source fetcher.PriceSource
	switch cfg.Provider {
	case "coinpaprika":
		source = fetcher.NewPaprika(fetcher.PaprikaOptions{
			APIKey:   cfg.APIKey,
			Timeout:  cfg.RequestTimeout,
			Interval: cfg.SeriesInterval,
		}, a.Logger)
	default:
		source = fetcher.NewGecko(fetcher.GeckoOptions{
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			APIKeyHeader: cfg.APIKeyHeader,
			Timeout:      cfg.RequestTimeout,
			UserAgent:    userAgent,
		}, a.Logger)
	}

	if pinger, ok := source.(fetcher.Pinger); ok && cfg.PingOnStart {
		if err := pinger.Ping(ctx); err != nil {
			if errors.Is(err, fetcher.ErrUnauthorized) {
				return nil, fmt.Errorf("price source rejected credentials: %w", err)
			}
			a.Logger.Warn().Err(err).Str("provider", cfg.Provider).Msg("price source ping failed; continuing")
		}
	}
	return source, nil
}

// newNotifier resolves the single destination. The returned closer is never nil.
func (a *App) newNotifier() (alerting.Notifier, func(), error) {
	cfg := a.Config.Alerting
	noop := func() {}

	switch cfg.Destination {
	case "telegram":
		n, err := alerting.NewTelegramNotifier(alerting.TelegramOptions{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			APIBase:  cfg.Telegram.APIBase,
			Timeout:  cfg.DeliveryTimeout,
		}, a.Logger)
		if err != nil {
			return nil, noop, err
		}
		return n, noop, nil
	case "webhook":
		n, err := alerting.NewWebhookNotifier(cfg.Webhook.URL, cfg.DeliveryTimeout, a.Logger)
		if err != nil {
			return nil, noop, err
		}
		return n, noop, nil
	case "nats":
		n, err := alerting.NewNATSNotifier(alerting.NATSOptions{
			URL:           cfg.NATS.URL,
			Subject:       cfg.NATS.Subject,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, a.Logger)
		if err != nil {
			return nil, noop, err
		}
		return n, n.Close, nil
	default:
		return alerting.NewLogNotifier(a.Logger), noop, nil
	}
}

// openStore opens the audit log. A nil store with a nil error means auditing is off.
func (a *App) openStore(ctx context.Context) (storage.EventStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newEngine() (*engine.Engine, error) {
	loc, err := a.Config.RecapLocation()
	if err != nil {
		return nil, err
	}
	return engine.New(a.Config.MarketAssets(), alertstate.NewStore(), engine.Options{
		IntradayCooldown: a.Config.Alerting.IntradayCooldown,
		AthHysteresis:    a.Config.AthHysteresis(),
		RecapHour:        a.Config.Recap.Hour,
		RecapMinute:      a.Config.Recap.Minute,
		RecapLocation:    loc,
		RecapWindow:      a.Config.Recap.Window,
	}, a.Logger), nil
}

func (a *App) serviceOptions() service.Options {
	return service.Options{
		AthRefreshEvery: a.Config.Scheduler.AthRefreshInterval,
		RecapCheckEvery: a.Config.Scheduler.RecapCheckInterval,
		RecapEnabled:    a.Config.Recap.Enabled,
		DeliveryTimeout: a.Config.Alerting.DeliveryTimeout,
		Retention:       a.Config.Database.Retention,
		LockKey:         a.Config.Database.AdvisoryLockKey,
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.Logger.Info().Str("version", version.String()).Int("assets", len(a.Config.Assets)).Msg("starting monitoring service")

	source, err := a.newSource(ctx)
	if err != nil {
		return err
	}
	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.driver not configured; audit log disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	eng, err := a.newEngine()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)
	cron := scheduler.NewCron(a.Logger)
	m := metrics.New()

	svc := service.New(a.serviceOptions(), eng, source, notifier, store, m, sched, cron, a.Logger)

	var wg sync.WaitGroup
	if a.Config.HTTP.Enabled {
		api := httpapi.New(httpapi.Options{
			Addr:        a.Config.HTTP.Addr,
			CORSOrigins: a.Config.HTTP.CORSOrigins,
			ReadyMaxAge: a.Config.HTTP.ReadyMaxAge,
			Registry:    m.Registry,
		}, eng, svc, a.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("status api stopped")
			}
		}()
	}

	err = svc.Run(ctx)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting an intraday series.
type ExportOptions struct {
	Asset     string
	Window    time.Duration
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Asset string
}
