// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CROSSARB_* environment
// variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Detector   DetectorConfig   `toml:"detector"`
	Risk       RiskConfig       `toml:"risk"`
	Execution  ExecutionConfig  `toml:"execution"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Pairs      []PairConfig     `toml:"pairs"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints and credentials. The
// auth header values are produced by an external signer; this process never
// holds wallet keys.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	WsHost    string `toml:"ws_host"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// KalshiConfig holds Kalshi exchange endpoints and credentials.
type KalshiConfig struct {
	BaseURL  string `toml:"base_url"`
	WsURL    string `toml:"ws_url"`
	ApiKey   string `toml:"api_key"`
	ApiToken string `toml:"api_token"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// DetectorConfig holds detection thresholds.
type DetectorConfig struct {
	// MinProfit is the minimum margin per contract, as a fraction of the
	// $1.00 payout.
	MinProfit float64 `toml:"min_profit"`
	// DefaultFeeRate applies to pairs without their own fee_rate.
	DefaultFeeRate float64 `toml:"default_fee_rate"`
	// StaleAfter is the maximum quote age usable for detection.
	StaleAfter duration `toml:"stale_after"`
}

// RiskConfig holds position limits and circuit-breaker parameters.
type RiskConfig struct {
	MaxPositionSize      float64  `toml:"max_position_size"`
	MaxAggregateExposure float64  `toml:"max_aggregate_exposure"`
	BreakerFailures      int      `toml:"breaker_failures"`
	BreakerCooldown      duration `toml:"breaker_cooldown"`
}

// ExecutionConfig holds order execution parameters.
type ExecutionConfig struct {
	LegTimeout         duration `toml:"leg_timeout"`
	SubmitRetries      int      `toml:"submit_retries"`
	RetryBackoff       duration `toml:"retry_backoff"`
	StatusPollInterval duration `toml:"status_poll_interval"`
	ReconcileTimeout   duration `toml:"reconcile_timeout"`
	ReconcileAttempts  int      `toml:"reconcile_attempts"`
	// UnwindPolicy: "always_hedge" or "accept_exposure".
	UnwindPolicy string `toml:"unwind_policy"`
	// UnwindSlippage bounds how far past breakeven an unwind order may be
	// priced to cross the book, as a fraction of the payout.
	UnwindSlippage float64 `toml:"unwind_slippage"`
	FillTolerance  float64 `toml:"fill_tolerance"`
}

// ArchiveConfig holds cold-storage retention parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// PairConfig binds one logical event to one instrument per venue.
type PairConfig struct {
	Name         string  `toml:"name"`
	PolymarketID string  `toml:"polymarket_id"`
	KalshiTicker string  `toml:"kalshi_ticker"`
	FeeRate      float64 `toml:"fee_rate"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "250ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "250ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost: "https://clob.polymarket.com",
			WsHost:   "wss://ws-subscriptions-clob.polymarket.com",
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:   "wss://api.elections.kalshi.com/trade-api/ws/v2",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
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
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "crossarb-archive",
			ForcePathStyle: true,
		},
		Detector: DetectorConfig{
			MinProfit:      0.02,
			DefaultFeeRate: 0.01,
			StaleAfter:     duration{5 * time.Second},
		},
		Risk: RiskConfig{
			MaxPositionSize:      100,
			MaxAggregateExposure: 1000,
			BreakerFailures:      3,
			BreakerCooldown:      duration{30 * time.Second},
		},
		Execution: ExecutionConfig{
			LegTimeout:         duration{3 * time.Second},
			SubmitRetries:      2,
			RetryBackoff:       duration{250 * time.Millisecond},
			StatusPollInterval: duration{100 * time.Millisecond},
			ReconcileTimeout:   duration{5 * time.Second},
			ReconcileAttempts:  3,
			UnwindPolicy:       string(domain.UnwindAlwaysHedge),
			UnwindSlippage:     0.05,
			FillTolerance:      0,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{6 * time.Hour},
		},
		Mode:     "detect",
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "detect", "paper", "trade":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Detector.MinProfit < 0 || c.Detector.MinProfit >= 1 {
		return fmt.Errorf("config: detector.min_profit %v out of range [0,1)", c.Detector.MinProfit)
	}
	if c.Detector.StaleAfter.Duration <= 0 {
		return fmt.Errorf("config: detector.stale_after must be positive")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("config: risk.max_position_size must be positive")
	}
	if c.Risk.MaxAggregateExposure <= 0 {
		return fmt.Errorf("config: risk.max_aggregate_exposure must be positive")
	}
	if c.Risk.BreakerFailures <= 0 {
		return fmt.Errorf("config: risk.breaker_failures must be positive")
	}
	if c.Execution.LegTimeout.Duration <= 0 {
		return fmt.Errorf("config: execution.leg_timeout must be positive")
	}
	switch domain.UnwindPolicy(c.Execution.UnwindPolicy) {
	case domain.UnwindAlwaysHedge, domain.UnwindAcceptExposure:
	default:
		return fmt.Errorf("config: unknown execution.unwind_policy %q", c.Execution.UnwindPolicy)
	}
	if c.Execution.UnwindSlippage < 0 || c.Execution.UnwindSlippage >= 1 {
		return fmt.Errorf("config: execution.unwind_slippage %v out of range [0,1)", c.Execution.UnwindSlippage)
	}

	names := make(map[string]bool, len(c.Pairs))
	for _, p := range c.Pairs {
		if p.Name == "" {
			return fmt.Errorf("config: pair with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("config: duplicate pair name %q", p.Name)
		}
		names[p.Name] = true
	}

	if strings.ToLower(c.Mode) == "trade" {
		if c.Polymarket.ApiKey == "" || c.Kalshi.ApiKey == "" {
			return fmt.Errorf("config: trade mode requires venue API credentials")
		}
	}
	return nil
}

// MarketPairs converts the configured pairs to their domain form.
func (c *Config) MarketPairs() []domain.MarketPair {
	out := make([]domain.MarketPair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		out = append(out, domain.MarketPair{
			Name:         p.Name,
			PolymarketID: p.PolymarketID,
			KalshiTicker: p.KalshiTicker,
			FeeRate:      p.FeeRate,
		})
	}
	return out
}
