package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized option from spec.md §6, with the defaults
// shown there. Loaded once at startup and passed through the application
// context — never a package-level singleton.
type Config struct {
	MinGapPct            float64 `yaml:"min_gap_pct"`
	MaxGapPct            float64 `yaml:"max_gap_pct"`
	MinVolumeRatio       float64 `yaml:"min_volume_ratio"`
	ATRStopMult          float64 `yaml:"atr_stop_mult"`
	MinStopDollars       float64 `yaml:"min_stop_dollars"`
	MinStopPct           float64 `yaml:"min_stop_pct"`
	TargetMult           float64 `yaml:"target_mult"`
	BreakevenThreshold   float64 `yaml:"breakeven_threshold"`
	QuickProfitThreshold float64 `yaml:"quick_profit_threshold"`
	QuickProfitWindowS   int     `yaml:"quick_profit_window_s"`
	TierIncrement        float64 `yaml:"tier_increment"`
	TierBuffer           float64 `yaml:"tier_buffer"`
	StopOutCooldownS     int     `yaml:"stop_out_cooldown_s"`
	PendingEntryLockS    int     `yaml:"pending_entry_lock_s"`
	MaxConcurrent        int     `yaml:"max_concurrent"`
	TradeCapLosing       int     `yaml:"trade_cap_losing"`
	TradeCapWinning      int     `yaml:"trade_cap_winning"`
	RiskPerTrade         float64 `yaml:"risk_per_trade"`
	DailyLossLimit       float64 `yaml:"daily_loss_limit"`
	TradingCutoffLocal   string  `yaml:"trading_cutoff_local"`
	PositionCloseLocal   string  `yaml:"position_close_local"`
	PostOpenDelayS       int     `yaml:"post_open_delay_s"`
	ScannerPeriodS       int     `yaml:"scanner_period_s"`
	MonitorPeriodS       int     `yaml:"monitor_period_s"`
	BrokerRateLimitPerMin int    `yaml:"broker_rate_limit_per_min"`
	MarketTimezone       string  `yaml:"market_timezone"`
	PerSymbolNotionalCap float64 `yaml:"per_symbol_notional_cap"`
}

// Default returns the production-ready defaults enumerated in spec.md §6.
func Default() *Config {
	return &Config{
		MinGapPct:             0.75,
		MaxGapPct:             20.0,
		MinVolumeRatio:        1.5,
		ATRStopMult:           1.5,
		MinStopDollars:        0.30,
		MinStopPct:            1.2,
		TargetMult:            2.5,
		BreakevenThreshold:    15,
		QuickProfitThreshold:  20,
		QuickProfitWindowS:    600,
		TierIncrement:         50,
		TierBuffer:            30,
		StopOutCooldownS:      1200,
		PendingEntryLockS:     300,
		MaxConcurrent:         5,
		TradeCapLosing:        10,
		TradeCapWinning:       20,
		RiskPerTrade:          100,
		DailyLossLimit:        600,
		TradingCutoffLocal:    "14:00",
		PositionCloseLocal:    "13:50",
		PostOpenDelayS:        1800,
		ScannerPeriodS:        3,
		MonitorPeriodS:        1,
		BrokerRateLimitPerMin: 200,
		MarketTimezone:        "America/New_York",
		PerSymbolNotionalCap:  25000,
	}
}

// Load reads a YAML document from configPath, starting from Default() so a
// partial file only overrides what it names, then validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate enforces the invariants the rest of the system assumes hold.
func (c *Config) Validate() error {
	if c.MinGapPct <= 0 || c.MaxGapPct <= c.MinGapPct {
		return fmt.Errorf("gap band invalid: min=%f max=%f", c.MinGapPct, c.MaxGapPct)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.TradeCapWinning < c.TradeCapLosing {
		return fmt.Errorf("trade_cap_winning (%d) must be >= trade_cap_losing (%d)", c.TradeCapWinning, c.TradeCapLosing)
	}
	if c.DailyLossLimit <= 0 {
		return fmt.Errorf("daily_loss_limit must be positive, got %f", c.DailyLossLimit)
	}
	if c.BrokerRateLimitPerMin <= 0 {
		return fmt.Errorf("broker_rate_limit_per_min must be positive, got %d", c.BrokerRateLimitPerMin)
	}
	if _, err := time.LoadLocation(c.MarketTimezone); err != nil {
		return fmt.Errorf("market_timezone %q: %w", c.MarketTimezone, err)
	}
	return nil
}

// ScannerPeriod and MonitorPeriod convert the configured seconds into
// time.Duration for the Coordinator's two timers.
func (c *Config) ScannerPeriod() time.Duration { return time.Duration(c.ScannerPeriodS) * time.Second }
func (c *Config) MonitorPeriod() time.Duration { return time.Duration(c.MonitorPeriodS) * time.Second }
func (c *Config) QuickProfitWindow() time.Duration {
	return time.Duration(c.QuickProfitWindowS) * time.Second
}
func (c *Config) StopOutCooldown() time.Duration {
	return time.Duration(c.StopOutCooldownS) * time.Second
}
func (c *Config) PendingEntryLock() time.Duration {
	return time.Duration(c.PendingEntryLockS) * time.Second
}
func (c *Config) PostOpenDelay() time.Duration { return time.Duration(c.PostOpenDelayS) * time.Second }

// TradeCap returns the dynamic per-day trade cap from invariant I8: 10 while
// flat-or-losing, 20 once the day is in the green.
func (c *Config) TradeCap(realizedPnL float64) int {
	if realizedPnL <= 0 {
		return c.TradeCapLosing
	}
	return c.TradeCapWinning
}
