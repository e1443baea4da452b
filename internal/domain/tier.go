package domain

import "github.com/shopspring/decimal"

// InstrumentTier is the static risk configuration for one asset.
type InstrumentTier struct {
	Asset string
	// MaxRiskPct caps a single position at this percentage of balance.
	MaxRiskPct decimal.Decimal
	// SpreadLimit is the widest acceptable (ask-bid)/ask as a fraction.
	SpreadLimit decimal.Decimal
	// MaxPositionNotional caps a single position in quote currency.
	MaxPositionNotional decimal.Decimal
	// MinNotional is the smallest order the venue accepts.
	MinNotional decimal.Decimal
	// Restricted assets may only be entered long.
	Restricted bool
}

// TierTable looks up tiers by asset, falling back to a default tier for
// unlisted assets. It is immutable after construction.
type TierTable struct {
	tiers    map[string]InstrumentTier
	fallback InstrumentTier
}

// NewTierTable builds a table from tiers keyed by their Asset field.
func NewTierTable(fallback InstrumentTier, tiers ...InstrumentTier) TierTable {
	m := make(map[string]InstrumentTier, len(tiers))
	for _, t := range tiers {
		m[AssetOf(t.Asset)] = t
	}
	return TierTable{tiers: m, fallback: fallback}
}

// ForSymbol returns the tier for the symbol's base asset.
func (t TierTable) ForSymbol(symbol string) InstrumentTier {
	asset := AssetOf(symbol)
	if tier, ok := t.tiers[asset]; ok {
		return tier
	}
	fb := t.fallback
	fb.Asset = asset
	return fb
}

// Known reports whether the asset has an explicit tier.
func (t TierTable) Known(symbol string) bool {
	_, ok := t.tiers[AssetOf(symbol)]
	return ok
}

func pct(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// DefaultFallbackTier applies to assets without an explicit tier.
func DefaultFallbackTier() InstrumentTier {
	return InstrumentTier{
		MaxRiskPct:          pct("0.75"),
		SpreadLimit:         pct("0.001"),
		MaxPositionNotional: pct("5000"),
		MinNotional:         pct("10"),
	}
}

// DefaultTiers is the built-in asset table.
func DefaultTiers() []InstrumentTier {
	return []InstrumentTier{
		{Asset: "BTC", MaxRiskPct: pct("0.75"), SpreadLimit: pct("0.0005"), MaxPositionNotional: pct("5000"), MinNotional: pct("10")},
		{Asset: "ETH", MaxRiskPct: pct("0.75"), SpreadLimit: pct("0.0005"), MaxPositionNotional: pct("3000"), MinNotional: pct("10")},
		{Asset: "XRP", MaxRiskPct: pct("0.50"), SpreadLimit: pct("0.0008"), MaxPositionNotional: pct("500"), MinNotional: pct("10")},
		{Asset: "DOGE", MaxRiskPct: pct("0.30"), SpreadLimit: pct("0.0012"), MaxPositionNotional: pct("200"), MinNotional: pct("10"), Restricted: true},
		{Asset: "SHIB", MaxRiskPct: pct("0.20"), SpreadLimit: pct("0.0020"), MaxPositionNotional: pct("100"), MinNotional: pct("10"), Restricted: true},
		{Asset: "TRUMP", MaxRiskPct: pct("0.10"), SpreadLimit: pct("0.0025"), MaxPositionNotional: pct("50"), MinNotional: pct("10"), Restricted: true},
	}
}

// DefaultTierTable is NewTierTable(DefaultFallbackTier(), DefaultTiers()...).
func DefaultTierTable() TierTable {
	return NewTierTable(DefaultFallbackTier(), DefaultTiers()...)
}
