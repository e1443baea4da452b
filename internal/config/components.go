package config

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/domain"
	"github.com/alanyoungcy/vgbot/internal/engine"
	"github.com/alanyoungcy/vgbot/internal/guardrail"
	"github.com/alanyoungcy/vgbot/internal/lifecycle"
	"github.com/alanyoungcy/vgbot/internal/regime"
	"github.com/alanyoungcy/vgbot/internal/risk"
)

// fallbackAsset names the [[tiers]] entry that replaces the fallback tier.
const fallbackAsset = "*"

// TierTable merges the [[tiers]] entries over the built-in asset table.
// Entries for built-in assets replace them entirely.
func (c *Config) TierTable() domain.TierTable {
	fallback := domain.DefaultFallbackTier()
	byAsset := make(map[string]domain.InstrumentTier)
	order := make([]string, 0, len(c.Tiers)+6)
	for _, t := range domain.DefaultTiers() {
		byAsset[t.Asset] = t
		order = append(order, t.Asset)
	}
	for _, tc := range c.Tiers {
		asset := strings.ToUpper(strings.TrimSpace(tc.Asset))
		tier := domain.InstrumentTier{
			Asset:               asset,
			MaxRiskPct:          decimal.NewFromFloat(tc.MaxRiskPct),
			SpreadLimit:         decimal.NewFromFloat(tc.SpreadLimit),
			MaxPositionNotional: decimal.NewFromFloat(tc.MaxPositionNotional),
			MinNotional:         decimal.NewFromFloat(tc.MinNotional),
			Restricted:          tc.Restricted,
		}
		if asset == fallbackAsset {
			tier.Asset = ""
			fallback = tier
			continue
		}
		if _, ok := byAsset[asset]; !ok {
			order = append(order, asset)
		}
		byAsset[asset] = tier
	}
	tiers := make([]domain.InstrumentTier, 0, len(order))
	for _, a := range order {
		tiers = append(tiers, byAsset[a])
	}
	return domain.NewTierTable(fallback, tiers...)
}

// RiskParams maps the [risk] section onto the risk gate.
func (c *Config) RiskParams() risk.Config {
	return risk.Config{
		StartingBalance:      decimal.NewFromFloat(c.Risk.StartingBalance),
		PortfolioMaxRiskPct:  decimal.NewFromFloat(c.Risk.PortfolioMaxRiskPct),
		MaxOpenPositions:     c.Risk.MaxOpenPositions,
		MaxConsecutiveLosses: c.Risk.MaxConsecutiveLosses,
		MaxDailyLossPct:      decimal.NewFromFloat(c.Risk.MaxDailyLossPct),
		Tiers:                c.TierTable(),
	}
}

// LifecycleParams maps the [lifecycle] section.
func (c *Config) LifecycleParams() lifecycle.Config {
	return lifecycle.Config{
		CooldownCandles:    c.Lifecycle.CooldownCandles,
		Checkpoint1Candles: c.Lifecycle.Checkpoint1Candles,
		Checkpoint2Candles: c.Lifecycle.Checkpoint2Candles,
	}
}

// GuardrailParams maps the [guardrail] section. An empty whitelist means the
// built-in one.
func (c *Config) GuardrailParams() guardrail.Config {
	out := guardrail.DefaultConfig()
	if len(c.Guardrail.Whitelist) > 0 {
		out.Whitelist = make([]string, 0, len(c.Guardrail.Whitelist))
		for _, s := range c.Guardrail.Whitelist {
			out.Whitelist = append(out.Whitelist, domain.NormalizeSymbol(s))
		}
	}
	out.Tiers = c.TierTable()
	out.DuplicateWindow = c.Guardrail.DuplicateWindow.Duration
	out.BuyPriceFactor = decimal.NewFromFloat(c.Guardrail.BuyPriceFactor)
	out.SellPriceFactor = decimal.NewFromFloat(c.Guardrail.SellPriceFactor)
	out.FillPollInterval = c.Guardrail.FillPollInterval.Duration
	out.FillTimeout = c.Guardrail.FillTimeout.Duration
	return out
}

// RegimeParams maps the [regime] section. Zone boundaries keep their
// defaults.
func (c *Config) RegimeParams() regime.Config {
	out := regime.DefaultConfig()
	out.Lookback = c.Regime.Lookback
	out.ChopThresholdPct = c.Regime.ChopThresholdPct
	out.MinRangePct = c.Regime.MinRangePct
	out.ExhaustionThresholdPct = c.Regime.ExhaustionThresholdPct
	return out
}

// EngineParams maps the [engine] section. Symbols are normalised to
// BASE/QUOTE.
func (c *Config) EngineParams() (engine.Config, error) {
	bar, err := ParseTimeframe(c.Engine.Timeframe)
	if err != nil {
		return engine.Config{}, err
	}
	symbols := make([]string, 0, len(c.Engine.Symbols))
	for _, s := range c.Engine.Symbols {
		symbols = append(symbols, domain.NormalizeSymbol(s))
	}
	return engine.Config{
		Mode:         strings.ToLower(c.Mode),
		Symbols:      symbols,
		Timeframe:    c.Engine.Timeframe,
		BarDuration:  bar,
		HistoryLimit: c.Engine.HistoryLimit,
		Interval:     c.Engine.Interval.Duration,
		Workers:      c.Engine.Workers,
		LockTTL:      c.Engine.LockTTL.Duration,
		SizingBuffer: decimal.NewFromFloat(c.Engine.SizingBuffer),
	}, nil
}
