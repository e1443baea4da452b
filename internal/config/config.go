// Package config defines the top-level configuration for vgbot and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VGBOT_* environment variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Risk      RiskConfig      `toml:"risk"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Guardrail GuardrailConfig `toml:"guardrail"`
	Regime    RegimeConfig    `toml:"regime"`
	Tiers     []TierConfig    `toml:"tiers"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Broker    BrokerConfig    `toml:"broker"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig controls the cycle runner.
type EngineConfig struct {
	Symbols      []string `toml:"symbols"`
	Timeframe    string   `toml:"timeframe"`
	HistoryLimit int      `toml:"history_limit"`
	Interval     duration `toml:"interval"`
	Workers      int      `toml:"workers"`
	LockTTL      duration `toml:"lock_ttl"`
	SizingBuffer float64  `toml:"sizing_buffer"`
}

// RiskConfig holds portfolio-level limits. Percentages are whole percent
// (5 means 5%).
type RiskConfig struct {
	StartingBalance      float64 `toml:"starting_balance"`
	PortfolioMaxRiskPct  float64 `toml:"portfolio_max_risk_pct"`
	MaxOpenPositions     int     `toml:"max_open_positions"`
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses"`
	MaxDailyLossPct      float64 `toml:"max_daily_loss_pct"`
}

// LifecycleConfig holds candle counts for cooldown and checkpoints.
type LifecycleConfig struct {
	CooldownCandles    int `toml:"cooldown_candles"`
	Checkpoint1Candles int `toml:"checkpoint1_candles"`
	Checkpoint2Candles int `toml:"checkpoint2_candles"`
}

// GuardrailConfig holds execution pipeline parameters.
type GuardrailConfig struct {
	Whitelist        []string `toml:"whitelist"`
	DuplicateWindow  duration `toml:"duplicate_window"`
	BuyPriceFactor   float64  `toml:"buy_price_factor"`
	SellPriceFactor  float64  `toml:"sell_price_factor"`
	FillPollInterval duration `toml:"fill_poll_interval"`
	FillTimeout      duration `toml:"fill_timeout"`
}

// RegimeConfig holds range analysis thresholds.
type RegimeConfig struct {
	Lookback               int     `toml:"lookback"`
	ChopThresholdPct       float64 `toml:"chop_threshold_pct"`
	MinRangePct            float64 `toml:"min_range_pct"`
	ExhaustionThresholdPct float64 `toml:"exhaustion_threshold_pct"`
}

// TierConfig is one [[tiers]] entry. An entry with asset "*" replaces the
// fallback tier used for unlisted assets.
type TierConfig struct {
	Asset               string  `toml:"asset"`
	MaxRiskPct          float64 `toml:"max_risk_pct"`
	SpreadLimit         float64 `toml:"spread_limit"`
	MaxPositionNotional float64 `toml:"max_position_notional"`
	MinNotional         float64 `toml:"min_notional"`
	Restricted          bool    `toml:"restricted"`
}

// StrategyConfig selects the built-in signal provider. Params are passed
// through to the provider's factory.
type StrategyConfig struct {
	Name   string         `toml:"name"`
	Params map[string]any `toml:"params"`
}

// BrokerConfig points at the exchange bridge sidecar.
type BrokerConfig struct {
	BridgeURL    string   `toml:"bridge_url"`
	APIKey       string   `toml:"api_key"`
	Timeout      duration `toml:"timeout"`
	PaperBalance float64  `toml:"paper_balance"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	RegimeTTL  duration `toml:"regime_ttl"`
	StreamMax  int64    `toml:"stream_max"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving closed trades to S3.
type ArchiveConfig struct {
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// ControlRateLimit caps control requests per client per minute. It
	// needs Redis; 0 disables the limit.
	ControlRateLimit int `toml:"control_rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Symbols:      []string{"BTC/USD", "ETH/USD"},
			Timeframe:    "15m",
			HistoryLimit: 200,
			Interval:     duration{15 * time.Minute},
			Workers:      4,
			LockTTL:      duration{2 * time.Minute},
			SizingBuffer: 0.002,
		},
		Risk: RiskConfig{
			StartingBalance:      10000,
			PortfolioMaxRiskPct:  3,
			MaxOpenPositions:     6,
			MaxConsecutiveLosses: 5,
			MaxDailyLossPct:      5,
		},
		Lifecycle: LifecycleConfig{
			CooldownCandles:    8,
			Checkpoint1Candles: 6,
			Checkpoint2Candles: 12,
		},
		Guardrail: GuardrailConfig{
			DuplicateWindow:  duration{10 * time.Second},
			BuyPriceFactor:   0.999,
			SellPriceFactor:  1.001,
			FillPollInterval: duration{500 * time.Millisecond},
			FillTimeout:      duration{5 * time.Second},
		},
		Regime: RegimeConfig{
			Lookback:               96,
			ChopThresholdPct:       1.0,
			MinRangePct:            0.5,
			ExhaustionThresholdPct: 10.0,
		},
		Broker: BrokerConfig{
			BridgeURL:    "http://localhost:8787",
			Timeout:      duration{10 * time.Second},
			PaperBalance: 10000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "vgbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			RegimeTTL:  duration{time.Hour},
			StreamMax:  10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vgbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			ControlRateLimit: 10,
		},
		Notify: NotifyConfig{
			Events: []string{domain.EventHalted, domain.EventResumed, domain.EventExitFailed, domain.EventPartialFill, domain.EventTradeClosed},
		},
		Strategy: StrategyConfig{Name: "range_reversion"},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Strategy.Name) == "" {
		errs = append(errs, "strategy: name must be set")
	}

	// Engine
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: symbols must not be empty")
	}
	if _, err := ParseTimeframe(c.Engine.Timeframe); err != nil {
		errs = append(errs, "engine: "+err.Error())
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, "engine: workers must be >= 1")
	}
	if c.Engine.Interval.Duration <= 0 {
		errs = append(errs, "engine: interval must be > 0")
	}
	if c.Engine.HistoryLimit < c.Regime.Lookback {
		errs = append(errs, fmt.Sprintf("engine: history_limit %d is below regime lookback %d", c.Engine.HistoryLimit, c.Regime.Lookback))
	}
	if c.Engine.SizingBuffer < 0 {
		errs = append(errs, "engine: sizing_buffer must be >= 0")
	}

	// Risk
	if c.Risk.StartingBalance <= 0 {
		errs = append(errs, "risk: starting_balance must be > 0")
	}
	if c.Risk.PortfolioMaxRiskPct <= 0 || c.Risk.PortfolioMaxRiskPct > 100 {
		errs = append(errs, "risk: portfolio_max_risk_pct must be in (0, 100]")
	}
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.MaxConsecutiveLosses < 1 {
		errs = append(errs, "risk: max_consecutive_losses must be >= 1")
	}
	if c.Risk.MaxDailyLossPct <= 0 {
		errs = append(errs, "risk: max_daily_loss_pct must be > 0")
	}

	// Lifecycle
	if c.Lifecycle.CooldownCandles < 0 {
		errs = append(errs, "lifecycle: cooldown_candles must be >= 0")
	}
	if c.Lifecycle.Checkpoint1Candles < 1 || c.Lifecycle.Checkpoint2Candles <= c.Lifecycle.Checkpoint1Candles {
		errs = append(errs, "lifecycle: checkpoints must satisfy 1 <= checkpoint1_candles < checkpoint2_candles")
	}

	// Guardrail
	if c.Guardrail.BuyPriceFactor <= 0 || c.Guardrail.SellPriceFactor <= 0 {
		errs = append(errs, "guardrail: price factors must be > 0")
	}
	if c.Guardrail.FillPollInterval.Duration <= 0 {
		errs = append(errs, "guardrail: fill_poll_interval must be > 0")
	}
	if c.Guardrail.FillTimeout.Duration < c.Guardrail.FillPollInterval.Duration {
		errs = append(errs, "guardrail: fill_timeout must be >= fill_poll_interval")
	}
	if c.Guardrail.DuplicateWindow.Duration < 0 {
		errs = append(errs, "guardrail: duplicate_window must be >= 0")
	}

	// Regime
	if c.Regime.Lookback < 2 {
		errs = append(errs, "regime: lookback must be >= 2")
	}
	if c.Regime.MinRangePct < 0 || c.Regime.ChopThresholdPct < 0 {
		errs = append(errs, "regime: thresholds must be >= 0")
	}
	if c.Regime.ExhaustionThresholdPct <= c.Regime.ChopThresholdPct {
		errs = append(errs, "regime: exhaustion_threshold_pct must exceed chop_threshold_pct")
	}

	// Tiers
	seen := make(map[string]bool, len(c.Tiers))
	for i, t := range c.Tiers {
		asset := strings.ToUpper(strings.TrimSpace(t.Asset))
		if asset == "" {
			errs = append(errs, fmt.Sprintf("tiers[%d]: asset must not be empty", i))
			continue
		}
		if seen[asset] {
			errs = append(errs, fmt.Sprintf("tiers[%d]: duplicate asset %q", i, asset))
		}
		seen[asset] = true
		if t.MaxRiskPct <= 0 || t.MaxPositionNotional <= 0 {
			errs = append(errs, fmt.Sprintf("tiers[%d] %s: max_risk_pct and max_position_notional must be > 0", i, asset))
		}
		if t.SpreadLimit <= 0 || t.SpreadLimit >= 1 {
			errs = append(errs, fmt.Sprintf("tiers[%d] %s: spread_limit must be in (0, 1)", i, asset))
		}
		if t.MinNotional < 0 {
			errs = append(errs, fmt.Sprintf("tiers[%d] %s: min_notional must be >= 0", i, asset))
		}
	}

	// Broker
	if c.Mode == "trade" || c.Mode == "paper" {
		if c.Broker.BridgeURL == "" {
			errs = append(errs, "broker: bridge_url must be set for mode "+c.Mode)
		}
	}
	if c.Mode == "paper" && c.Broker.PaperBalance <= 0 {
		errs = append(errs, "broker: paper_balance must be > 0 in paper mode")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled || c.Mode == "monitor" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseTimeframe converts an exchange timeframe such as "15m", "1h" or "1d"
// into the bar duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if strings.HasSuffix(tf, "d") {
		d, err := time.ParseDuration(strings.TrimSuffix(tf, "d") + "h")
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("invalid timeframe %q", tf)
		}
		return d * 24, nil
	}
	d, err := time.ParseDuration(tf)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	return d, nil
}
