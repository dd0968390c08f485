package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ProfilesDoc is a second, independently-maintained configuration document:
// named risk-posture overlays an operator can switch between without
// touching the primary config.yaml. Kept on yaml.v2 deliberately — it predates
// the yaml.v3 migration of Config and nobody has unified the two loaders.
type ProfilesDoc struct {
	Active   string                 `yaml:"active_profile"`
	Profiles map[string]RiskProfile `yaml:"profiles"`
}

// RiskProfile overrides a subset of Config's risk-posture fields. Zero values
// mean "inherit the base Config value" — ApplyTo only overwrites non-zero
// fields.
type RiskProfile struct {
	Name             string  `yaml:"name"`
	Description      string  `yaml:"description"`
	RiskPerTrade     float64 `yaml:"risk_per_trade"`
	DailyLossLimit   float64 `yaml:"daily_loss_limit"`
	MaxConcurrent    int     `yaml:"max_concurrent"`
	TradeCapLosing   int     `yaml:"trade_cap_losing"`
	TradeCapWinning  int     `yaml:"trade_cap_winning"`
}

// LoadProfiles reads the profiles document from configPath.
func LoadProfiles(configPath string) (*ProfilesDoc, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read profiles config: %w", err)
	}
	var doc ProfilesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profiles config: %w", err)
	}
	return &doc, nil
}

// ActiveProfile returns the currently-selected profile, or ok=false if unset
// or unknown.
func (d *ProfilesDoc) ActiveProfile() (RiskProfile, bool) {
	if d.Active == "" {
		return RiskProfile{}, false
	}
	p, ok := d.Profiles[d.Active]
	return p, ok
}

// ApplyTo overlays the profile's non-zero fields onto cfg, returning a new
// Config so the base default is never mutated in place.
func (p RiskProfile) ApplyTo(cfg *Config) *Config {
	out := *cfg
	if p.RiskPerTrade != 0 {
		out.RiskPerTrade = p.RiskPerTrade
	}
	if p.DailyLossLimit != 0 {
		out.DailyLossLimit = p.DailyLossLimit
	}
	if p.MaxConcurrent != 0 {
		out.MaxConcurrent = p.MaxConcurrent
	}
	if p.TradeCapLosing != 0 {
		out.TradeCapLosing = p.TradeCapLosing
	}
	if p.TradeCapWinning != 0 {
		out.TradeCapWinning = p.TradeCapWinning
	}
	return &out
}

// DefaultProfiles returns a safe baseline document with a conservative and
// an aggressive profile, used when no profiles.yaml is supplied.
func DefaultProfiles() *ProfilesDoc {
	return &ProfilesDoc{
		Active: "conservative",
		Profiles: map[string]RiskProfile{
			"conservative": {
				Name:            "Conservative",
				Description:     "Default risk posture from spec defaults",
				RiskPerTrade:    100,
				DailyLossLimit:  600,
				MaxConcurrent:   5,
				TradeCapLosing:  10,
				TradeCapWinning: 20,
			},
			"aggressive": {
				Name:            "Aggressive",
				Description:     "Larger size and wider daily-loss budget for strong trend days",
				RiskPerTrade:    200,
				DailyLossLimit:  1200,
				MaxConcurrent:   8,
				TradeCapLosing:  14,
				TradeCapWinning: 28,
			},
		},
	}
}
