package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"marketwatch/internal/logging"
	"marketwatch/internal/market"
)

const envPrefix = "MARKETWATCH"

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	PriceSource PriceSourceConfig `mapstructure:"price_source"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Recap       RecapConfig       `mapstructure:"recap"`
	Assets      []AssetConfig     `mapstructure:"assets"`
	Database    DatabaseConfig    `mapstructure:"database"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// PriceSourceConfig selects and configures the market data API.
type PriceSourceConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APIKeyHeader   string        `mapstructure:"api_key_header"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	PingOnStart    bool          `mapstructure:"ping_on_start"`
	SeriesInterval string        `mapstructure:"series_interval"`
}

// SchedulerConfig governs the three periodic tasks.
type SchedulerConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	AlignToBucket      bool          `mapstructure:"align_to_bucket"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
	AthRefreshInterval time.Duration `mapstructure:"ath_refresh_interval"`
	RecapCheckInterval time.Duration `mapstructure:"recap_check_interval"`
}

// AlertingConfig defines evaluation tuning and the single delivery destination.
type AlertingConfig struct {
	Destination      string         `mapstructure:"destination"`
	IntradayCooldown time.Duration  `mapstructure:"intraday_cooldown"`
	AthHysteresis    float64        `mapstructure:"ath_hysteresis"`
	DeliveryTimeout  time.Duration  `mapstructure:"delivery_timeout"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
	Webhook          WebhookConfig  `mapstructure:"webhook"`
	NATS             NATSConfig     `mapstructure:"nats"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig is a JSON POST destination.
type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

// NATSConfig publishes alerts to one subject.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// RecapConfig sets the daily recap wall-clock time.
type RecapConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Hour     int    `mapstructure:"hour"`
	Minute   int    `mapstructure:"minute"`
	Timezone string `mapstructure:"timezone"`
	// Window is how much history the recap covers, ending at the recap time. Zero means since
	// local midnight.
	Window time.Duration `mapstructure:"window"`
}

// AssetConfig is one monitored coin. Percentages are in percent; ath_buffer_pct is a fraction.
type AssetConfig struct {
	ID           string   `mapstructure:"id"`
	Symbol       string   `mapstructure:"symbol"`
	Name         string   `mapstructure:"name"`
	IntradayPct  float64  `mapstructure:"intraday_pct"`
	DailyUpPct   float64  `mapstructure:"daily_up_pct"`
	DailyDownPct float64  `mapstructure:"daily_down_pct"`
	AthBufferPct *float64 `mapstructure:"ath_buffer_pct"`
}

// DatabaseConfig selects the optional audit log backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Retention       time.Duration `mapstructure:"retention"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// HTTPConfig controls the status API.
type HTTPConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	ReadyMaxAge time.Duration `mapstructure:"ready_max_age"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	ChartWidth    int    `mapstructure:"chart_width"`
	ChartHeight   int    `mapstructure:"chart_height"`
	OutputDir     string `mapstructure:"output_dir"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotenv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotenv exports variables from file without overriding the real environment.
func loadDotenv(file string) error {
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("price_source.provider", "coingecko")
	v.SetDefault("price_source.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("price_source.api_key", "")
	v.SetDefault("price_source.api_key_header", "x-cg-demo-api-key")
	v.SetDefault("price_source.request_timeout", "10s")
	v.SetDefault("price_source.user_agent", "marketwatch/1.0")
	v.SetDefault("price_source.ping_on_start", true)
	v.SetDefault("price_source.series_interval", "5m")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.ath_refresh_interval", "24h")
	v.SetDefault("scheduler.recap_check_interval", "1m")

	v.SetDefault("alerting.destination", "log")
	v.SetDefault("alerting.intraday_cooldown", "15m")
	v.SetDefault("alerting.ath_hysteresis", 0.003)
	v.SetDefault("alerting.delivery_timeout", "10s")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.webhook.url", "")
	v.SetDefault("alerting.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("alerting.nats.subject", "marketwatch.alerts")
	v.SetDefault("alerting.nats.max_reconnects", -1)
	v.SetDefault("alerting.nats.reconnect_wait", "2s")

	v.SetDefault("recap.enabled", true)
	v.SetDefault("recap.hour", 20)
	v.SetDefault("recap.minute", 0)
	v.SetDefault("recap.timezone", "Local")
	v.SetDefault("recap.window", "24h")

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "marketwatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention", "720h")
	v.SetDefault("database.advisory_lock_key", int64(0x6d6b7477))

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("http.ready_max_age", "15m")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.chart_width", 1200)
	v.SetDefault("export.chart_height", 600)
	v.SetDefault("export.output_dir", ".")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.AthRefreshInterval <= 0 || c.Scheduler.RecapCheckInterval <= 0 {
		return fmt.Errorf("scheduler.ath_refresh_interval and scheduler.recap_check_interval must be greater than zero")
	}

	switch c.PriceSource.Provider {
	case "coingecko", "coinpaprika":
	default:
		return fmt.Errorf("price_source.provider %q is not supported", c.PriceSource.Provider)
	}

	if err := c.validateAssets(); err != nil {
		return err
	}

	if c.Alerting.IntradayCooldown < 0 {
		return fmt.Errorf("alerting.intraday_cooldown cannot be negative")
	}
	if c.Alerting.AthHysteresis < 0 {
		return fmt.Errorf("alerting.ath_hysteresis cannot be negative")
	}
	switch c.Alerting.Destination {
	case "log":
	case "telegram":
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	case "webhook":
		if c.Alerting.Webhook.URL == "" {
			return fmt.Errorf("alerting.webhook.url 必须配置")
		}
	case "nats":
		if c.Alerting.NATS.URL == "" || c.Alerting.NATS.Subject == "" {
			return fmt.Errorf("alerting.nats.url and alerting.nats.subject are required")
		}
	default:
		return fmt.Errorf("alerting.destination %q is not supported", c.Alerting.Destination)
	}

	if c.Recap.Hour < 0 || c.Recap.Hour > 23 || c.Recap.Minute < 0 || c.Recap.Minute > 59 {
		return fmt.Errorf("recap time %02d:%02d is invalid", c.Recap.Hour, c.Recap.Minute)
	}
	if c.Recap.Window < 0 {
		return fmt.Errorf("recap.window cannot be negative")
	}
	if _, err := c.RecapLocation(); err != nil {
		return err
	}

	switch DatabaseDriver(c.Database.Driver) {
	case "none":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	return nil
}

// DatabaseDriver normalises database.driver, folding aliases onto "none", "postgres" and "sqlite".
// Unknown names are returned lowercased.
func DatabaseDriver(name string) string {
	switch driver := strings.ToLower(strings.TrimSpace(name)); driver {
	case "", "none":
		return "none"
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return driver
	}
}

func (c *Config) validateAssets() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i, a := range c.Assets {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("assets[%d].id is required", i)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("asset %s configured twice", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.IntradayPct <= 0 {
			return fmt.Errorf("asset %s: intraday_pct must be greater than zero", a.ID)
		}
		// A zero threshold would fire on the first sample of every day.
		if a.DailyUpPct <= 0 {
			return fmt.Errorf("asset %s: daily_up_pct must be greater than zero", a.ID)
		}
		if a.DailyDownPct >= 0 {
			return fmt.Errorf("asset %s: daily_down_pct must be negative", a.ID)
		}
		if a.AthBufferPct != nil && *a.AthBufferPct < 0 {
			return fmt.Errorf("asset %s: ath_buffer_pct cannot be negative", a.ID)
		}
	}
	return nil
}

// MarketAssets converts the configured assets into domain values.
func (c *Config) MarketAssets() []market.Asset {
	out := make([]market.Asset, 0, len(c.Assets))
	for _, a := range c.Assets {
		asset := market.Asset{
			ID:           a.ID,
			Symbol:       strings.ToUpper(a.Symbol),
			Name:         a.Name,
			IntradayPct:  decimal.NewFromFloat(a.IntradayPct),
			DailyUpPct:   decimal.NewFromFloat(a.DailyUpPct),
			DailyDownPct: decimal.NewFromFloat(a.DailyDownPct),
		}
		if asset.Symbol == "" {
			asset.Symbol = strings.ToUpper(a.ID)
		}
		if a.AthBufferPct != nil {
			asset.AthBufferPct = decimal.NewNullDecimal(decimal.NewFromFloat(*a.AthBufferPct))
		}
		out = append(out, asset)
	}
	return out
}

// FindAsset returns the configured asset with the given id or symbol.
func (c *Config) FindAsset(key string) (market.Asset, bool) {
	for _, a := range c.MarketAssets() {
		if strings.EqualFold(a.ID, key) || strings.EqualFold(a.Symbol, key) {
			return a, true
		}
	}
	return market.Asset{}, false
}

// RecapLocation resolves recap.timezone. Empty or "Local" is the process zone.
func (c *Config) RecapLocation() (*time.Location, error) {
	tz := strings.TrimSpace(c.Recap.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("recap.timezone: %w", err)
	}
	return loc, nil
}

// AthHysteresis returns alerting.ath_hysteresis as a decimal fraction.
func (c *Config) AthHysteresis() decimal.Decimal {
	return decimal.NewFromFloat(c.Alerting.AthHysteresis)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
