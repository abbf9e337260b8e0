package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "paper"
log_level = "debug"

[detector]
min_profit = 0.03
stale_after = "2s"

[risk]
max_position_size = 50.0
breaker_failures = 5
breaker_cooldown = "10s"

[execution]
unwind_policy = "accept_exposure"

[[pairs]]
name = "fed-decision-march"
polymarket_id = "0xabc"
kalshi_ticker = "FED-25MAR"
fee_rate = 0.02

[[pairs]]
name = "election-winner"
polymarket_id = "0xdef"
kalshi_ticker = "PRES-24"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "paper" {
		t.Errorf("mode = %q, want paper", cfg.Mode)
	}
	if cfg.Detector.MinProfit != 0.03 {
		t.Errorf("min_profit = %v, want 0.03", cfg.Detector.MinProfit)
	}
	if cfg.Detector.StaleAfter.Duration != 2*time.Second {
		t.Errorf("stale_after = %v, want 2s", cfg.Detector.StaleAfter.Duration)
	}
	if cfg.Risk.BreakerFailures != 5 {
		t.Errorf("breaker_failures = %d, want 5", cfg.Risk.BreakerFailures)
	}
	if cfg.Execution.UnwindPolicy != "accept_exposure" {
		t.Errorf("unwind_policy = %q", cfg.Execution.UnwindPolicy)
	}
	// Untouched sections keep defaults.
	if cfg.Execution.LegTimeout.Duration != 3*time.Second {
		t.Errorf("leg_timeout = %v, want default 3s", cfg.Execution.LegTimeout.Duration)
	}

	pairs := cfg.MarketPairs()
	if len(pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(pairs))
	}
	if pairs[0].KalshiTicker != "FED-25MAR" || pairs[0].FeeRate != 0.02 {
		t.Errorf("unexpected pair: %+v", pairs[0])
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CROSSARB_MODE", "paper")
	t.Setenv("CROSSARB_DETECTOR_MIN_PROFIT", "0.05")
	t.Setenv("CROSSARB_RISK_BREAKER_COOLDOWN", "1m")
	t.Setenv("CROSSARB_REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "paper" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Detector.MinProfit != 0.05 {
		t.Errorf("min_profit = %v", cfg.Detector.MinProfit)
	}
	if cfg.Risk.BreakerCooldown.Duration != time.Minute {
		t.Errorf("cooldown = %v", cfg.Risk.BreakerCooldown.Duration)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "yolo" }},
		{"negative min_profit", func(c *Config) { c.Detector.MinProfit = -0.01 }},
		{"zero position size", func(c *Config) { c.Risk.MaxPositionSize = 0 }},
		{"bad unwind policy", func(c *Config) { c.Execution.UnwindPolicy = "pray" }},
		{"unwind slippage at payout", func(c *Config) { c.Execution.UnwindSlippage = 1 }},
		{"duplicate pair", func(c *Config) {
			c.Pairs = []PairConfig{{Name: "a"}, {Name: "a"}}
		}},
		{"trade without creds", func(c *Config) { c.Mode = "trade" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
