package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Order sizing units.
const (
	SizingQuote = "quote"
	SizingBase  = "base"
)

// BotConfig is the per-bot configuration, immutable within a tick.
type BotConfig struct {
	ID        string `yaml:"id"`
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
	Active    bool   `yaml:"active"`

	// Indicator windows
	CandleLimit int `yaml:"candle_limit"`
	RSIPeriod   int `yaml:"rsi_period"`
	EMAPeriod   int `yaml:"ema_period"`

	// Thresholds
	RSIBuyThreshold     float64 `yaml:"rsi_buy"`
	RSISellThreshold    float64 `yaml:"rsi_sell"`
	EMATolerancePercent float64 `yaml:"ema_tolerance_pct"`

	// Deep-oversold override: both fields or neither.
	RSIDeepOversold         *float64 `yaml:"rsi_deep_oversold,omitempty"`
	EMAToleranceDeepPercent *float64 `yaml:"ema_tolerance_deep_pct,omitempty"`

	// MACD confirmation filter
	UseMACDFilter bool `yaml:"use_macd_filter"`
	MACDFast      int  `yaml:"macd_fast"`
	MACDSlow      int  `yaml:"macd_slow"`
	MACDSignal    int  `yaml:"macd_signal"`

	// Sizing: "quote" buys a quote-currency notional, "base" a base-asset
	// amount (inverse-quoted instruments).
	SizingUnit string  `yaml:"sizing_unit"`
	OrderSize  float64 `yaml:"order_size"`
	MinSellQty float64 `yaml:"min_sell_qty"`

	DryRun bool `yaml:"dry_run"`

	// Risk limits. CooldownMinutes defaults when omitted; -1 disables it.
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	MaxDrawdownPercent   float64 `yaml:"max_drawdown_pct"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	CooldownMinutes      int     `yaml:"cooldown_minutes"`
}

// CooldownDisabled turns the reopen cooldown off for a bot.
const CooldownDisabled = -1

type botsFile struct {
	Bots []BotConfig `yaml:"bots"`
}

// LoadBots parses and validates the bots YAML file.
func LoadBots(path string) ([]BotConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bots file: %w", err)
	}

	var f botsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse bots file: %w", err)
	}

	seen := make(map[string]bool, len(f.Bots))
	for i := range f.Bots {
		b := &f.Bots[i]
		applyDefaults(b)
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("bot %q: %w", b.ID, err)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("duplicate bot id %q", b.ID)
		}
		seen[b.ID] = true
	}
	return f.Bots, nil
}

func applyDefaults(b *BotConfig) {
	if b.Timeframe == "" {
		b.Timeframe = "1h"
	}
	if b.CandleLimit == 0 {
		b.CandleLimit = 100
	}
	if b.RSIPeriod == 0 {
		b.RSIPeriod = 14
	}
	if b.EMAPeriod == 0 {
		b.EMAPeriod = 20
	}
	if b.RSIBuyThreshold == 0 {
		b.RSIBuyThreshold = 40
	}
	if b.RSISellThreshold == 0 {
		b.RSISellThreshold = 60
	}
	if b.MACDFast == 0 {
		b.MACDFast = 12
	}
	if b.MACDSlow == 0 {
		b.MACDSlow = 26
	}
	if b.MACDSignal == 0 {
		b.MACDSignal = 9
	}
	if b.SizingUnit == "" {
		b.SizingUnit = SizingQuote
	}
	if b.CooldownMinutes == 0 {
		b.CooldownMinutes = 60
	}
	if b.CooldownMinutes == CooldownDisabled {
		b.CooldownMinutes = 0
	}
}

// Validate rejects configurations that must never reach the decision engine.
func (b *BotConfig) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if b.RSIPeriod < 2 {
		return fmt.Errorf("rsi_period must be >= 2, got %d", b.RSIPeriod)
	}
	if b.EMAPeriod < 2 {
		return fmt.Errorf("ema_period must be >= 2, got %d", b.EMAPeriod)
	}
	if b.RSIBuyThreshold >= b.RSISellThreshold {
		return fmt.Errorf("rsi_buy (%.1f) must be below rsi_sell (%.1f)",
			b.RSIBuyThreshold, b.RSISellThreshold)
	}
	if (b.RSIDeepOversold == nil) != (b.EMAToleranceDeepPercent == nil) {
		return fmt.Errorf("rsi_deep_oversold and ema_tolerance_deep_pct must be configured together")
	}
	if b.RSIDeepOversold != nil && *b.RSIDeepOversold >= b.RSIBuyThreshold {
		return fmt.Errorf("rsi_deep_oversold (%.1f) must be below rsi_buy (%.1f)",
			*b.RSIDeepOversold, b.RSIBuyThreshold)
	}
	if b.EMATolerancePercent < 0 {
		return fmt.Errorf("ema_tolerance_pct must not be negative")
	}
	if b.UseMACDFilter && b.MACDSlow <= b.MACDFast {
		return fmt.Errorf("macd_slow (%d) must exceed macd_fast (%d)", b.MACDSlow, b.MACDFast)
	}
	if b.SizingUnit != SizingQuote && b.SizingUnit != SizingBase {
		return fmt.Errorf("sizing_unit must be \"quote\" or \"base\", got %q", b.SizingUnit)
	}
	if b.OrderSize <= 0 {
		return fmt.Errorf("order_size must be positive")
	}
	if b.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes must be >= 0 or -1 to disable")
	}
	if b.MaxDrawdownPercent < 0 {
		return fmt.Errorf("max_drawdown_pct must not be negative")
	}
	return nil
}
