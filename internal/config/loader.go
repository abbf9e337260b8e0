package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration from the given TOML file, then applies overrides
// from the process environment. A .env file in the working directory is
// loaded first if present; missing .env is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides config fields from CROSSARB_* environment variables.
// Secrets in particular are expected to arrive this way rather than living
// in the config file.
func applyEnv(cfg *Config) {
	setStr("CROSSARB_MODE", &cfg.Mode)
	setStr("CROSSARB_LOG_LEVEL", &cfg.LogLevel)

	setStr("CROSSARB_POLYMARKET_CLOB_HOST", &cfg.Polymarket.ClobHost)
	setStr("CROSSARB_POLYMARKET_WS_HOST", &cfg.Polymarket.WsHost)
	setStr("CROSSARB_POLYMARKET_API_KEY", &cfg.Polymarket.ApiKey)
	setStr("CROSSARB_POLYMARKET_API_SECRET", &cfg.Polymarket.ApiSecret)

	setStr("CROSSARB_KALSHI_BASE_URL", &cfg.Kalshi.BaseURL)
	setStr("CROSSARB_KALSHI_WS_URL", &cfg.Kalshi.WsURL)
	setStr("CROSSARB_KALSHI_API_KEY", &cfg.Kalshi.ApiKey)
	setStr("CROSSARB_KALSHI_API_TOKEN", &cfg.Kalshi.ApiToken)

	setStr("CROSSARB_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("CROSSARB_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("CROSSARB_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("CROSSARB_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("CROSSARB_POSTGRES_USER", &cfg.Postgres.User)
	setStr("CROSSARB_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setBool("CROSSARB_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setStr("CROSSARB_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("CROSSARB_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("CROSSARB_REDIS_DB", &cfg.Redis.DB)
	setBool("CROSSARB_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled)

	setStr("CROSSARB_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("CROSSARB_S3_REGION", &cfg.S3.Region)
	setStr("CROSSARB_S3_BUCKET", &cfg.S3.Bucket)
	setStr("CROSSARB_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("CROSSARB_S3_SECRET_KEY", &cfg.S3.SecretKey)

	setFloat64("CROSSARB_DETECTOR_MIN_PROFIT", &cfg.Detector.MinProfit)
	setFloat64("CROSSARB_DETECTOR_DEFAULT_FEE_RATE", &cfg.Detector.DefaultFeeRate)
	setDuration("CROSSARB_DETECTOR_STALE_AFTER", &cfg.Detector.StaleAfter)

	setFloat64("CROSSARB_RISK_MAX_POSITION_SIZE", &cfg.Risk.MaxPositionSize)
	setFloat64("CROSSARB_RISK_MAX_AGGREGATE_EXPOSURE", &cfg.Risk.MaxAggregateExposure)
	setInt("CROSSARB_RISK_BREAKER_FAILURES", &cfg.Risk.BreakerFailures)
	setDuration("CROSSARB_RISK_BREAKER_COOLDOWN", &cfg.Risk.BreakerCooldown)

	setDuration("CROSSARB_EXECUTION_LEG_TIMEOUT", &cfg.Execution.LegTimeout)
	setInt("CROSSARB_EXECUTION_SUBMIT_RETRIES", &cfg.Execution.SubmitRetries)
	setStr("CROSSARB_EXECUTION_UNWIND_POLICY", &cfg.Execution.UnwindPolicy)
	setFloat64("CROSSARB_EXECUTION_UNWIND_SLIPPAGE", &cfg.Execution.UnwindSlippage)

	setStr("CROSSARB_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("CROSSARB_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("CROSSARB_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL)
}

func setStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *duration) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
