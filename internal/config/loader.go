package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VGBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VGBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "VGBOT_ENGINE_SYMBOLS")
	setStr(&cfg.Engine.Timeframe, "VGBOT_ENGINE_TIMEFRAME")
	setInt(&cfg.Engine.HistoryLimit, "VGBOT_ENGINE_HISTORY_LIMIT")
	setDuration(&cfg.Engine.Interval, "VGBOT_ENGINE_INTERVAL")
	setInt(&cfg.Engine.Workers, "VGBOT_ENGINE_WORKERS")
	setDuration(&cfg.Engine.LockTTL, "VGBOT_ENGINE_LOCK_TTL")
	setFloat64(&cfg.Engine.SizingBuffer, "VGBOT_ENGINE_SIZING_BUFFER")

	setStr(&cfg.Strategy.Name, "VGBOT_STRATEGY_NAME")

	// ── Risk ──
	setFloat64(&cfg.Risk.StartingBalance, "VGBOT_RISK_STARTING_BALANCE")
	setFloat64(&cfg.Risk.PortfolioMaxRiskPct, "VGBOT_RISK_PORTFOLIO_MAX_RISK_PCT")
	setInt(&cfg.Risk.MaxOpenPositions, "VGBOT_RISK_MAX_OPEN_POSITIONS")
	setInt(&cfg.Risk.MaxConsecutiveLosses, "VGBOT_RISK_MAX_CONSECUTIVE_LOSSES")
	setFloat64(&cfg.Risk.MaxDailyLossPct, "VGBOT_RISK_MAX_DAILY_LOSS_PCT")

	// ── Lifecycle ──
	setInt(&cfg.Lifecycle.CooldownCandles, "VGBOT_LIFECYCLE_COOLDOWN_CANDLES")
	setInt(&cfg.Lifecycle.Checkpoint1Candles, "VGBOT_LIFECYCLE_CHECKPOINT1_CANDLES")
	setInt(&cfg.Lifecycle.Checkpoint2Candles, "VGBOT_LIFECYCLE_CHECKPOINT2_CANDLES")

	// ── Guardrail ──
	setStringSlice(&cfg.Guardrail.Whitelist, "VGBOT_GUARDRAIL_WHITELIST")
	setDuration(&cfg.Guardrail.DuplicateWindow, "VGBOT_GUARDRAIL_DUPLICATE_WINDOW")
	setFloat64(&cfg.Guardrail.BuyPriceFactor, "VGBOT_GUARDRAIL_BUY_PRICE_FACTOR")
	setFloat64(&cfg.Guardrail.SellPriceFactor, "VGBOT_GUARDRAIL_SELL_PRICE_FACTOR")
	setDuration(&cfg.Guardrail.FillPollInterval, "VGBOT_GUARDRAIL_FILL_POLL_INTERVAL")
	setDuration(&cfg.Guardrail.FillTimeout, "VGBOT_GUARDRAIL_FILL_TIMEOUT")

	// ── Regime ──
	setInt(&cfg.Regime.Lookback, "VGBOT_REGIME_LOOKBACK")
	setFloat64(&cfg.Regime.ChopThresholdPct, "VGBOT_REGIME_CHOP_THRESHOLD_PCT")
	setFloat64(&cfg.Regime.MinRangePct, "VGBOT_REGIME_MIN_RANGE_PCT")
	setFloat64(&cfg.Regime.ExhaustionThresholdPct, "VGBOT_REGIME_EXHAUSTION_THRESHOLD_PCT")

	// ── Broker ──
	setStr(&cfg.Broker.BridgeURL, "VGBOT_BROKER_BRIDGE_URL")
	setStr(&cfg.Broker.APIKey, "VGBOT_BROKER_API_KEY")
	setDuration(&cfg.Broker.Timeout, "VGBOT_BROKER_TIMEOUT")
	setFloat64(&cfg.Broker.PaperBalance, "VGBOT_BROKER_PAPER_BALANCE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "VGBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "VGBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "VGBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VGBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VGBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VGBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VGBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VGBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VGBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VGBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VGBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "VGBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VGBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VGBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VGBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VGBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VGBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VGBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.RegimeTTL, "VGBOT_REDIS_REGIME_TTL")
	setInt64(&cfg.Redis.StreamMax, "VGBOT_REDIS_STREAM_MAX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VGBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VGBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VGBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "VGBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VGBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VGBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VGBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VGBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "VGBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "VGBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VGBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VGBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "VGBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "VGBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.ControlRateLimit, "VGBOT_SERVER_CONTROL_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VGBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VGBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VGBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VGBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VGBOT_MODE")
	setStr(&cfg.LogLevel, "VGBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
