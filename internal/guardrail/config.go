package guardrail

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// Config holds pipeline parameters.
type Config struct {
	// Whitelist lists tradeable symbols in BASE/QUOTE form.
	Whitelist []string
	// Tiers supplies spread limits, minimum notionals and restricted flags.
	Tiers domain.TierTable
	// DuplicateWindow rejects a second order for a symbol submitted within
	// this window. Default 10s.
	DuplicateWindow time.Duration
	// BuyPriceFactor multiplies the bid for buy limits. Default 0.999.
	BuyPriceFactor decimal.Decimal
	// SellPriceFactor multiplies the ask for sell limits. Default 1.001.
	SellPriceFactor decimal.Decimal
	// FillPollInterval is the order status poll period. Default 500ms.
	FillPollInterval time.Duration
	// FillTimeout bounds the fill wait. Default 5s.
	FillTimeout time.Duration
}

// DefaultWhitelist is every built-in asset against USD and USDT.
func DefaultWhitelist() []string {
	assets := []string{"BTC", "ETH", "XRP", "DOGE", "SHIB", "TRUMP", "LTC", "BCH", "LINK"}
	out := make([]string, 0, len(assets)*2)
	for _, a := range assets {
		out = append(out, a+"/USD", a+"/USDT")
	}
	return out
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Whitelist:        DefaultWhitelist(),
		Tiers:            domain.DefaultTierTable(),
		DuplicateWindow:  10 * time.Second,
		BuyPriceFactor:   decimal.RequireFromString("0.999"),
		SellPriceFactor:  decimal.RequireFromString("1.001"),
		FillPollInterval: 500 * time.Millisecond,
		FillTimeout:      5 * time.Second,
	}
}
