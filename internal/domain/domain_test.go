package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"btc_usd":   "BTC/USD",
		"ETH-USDT":  "ETH/USDT",
		" XRP/USD ": "XRP/USD",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeSymbol(in), in)
	}
	assert.Equal(t, "DOGE", AssetOf("doge-usd"))
	assert.Equal(t, "SHIB", AssetOf("SHIB"))
}

func TestTierTableFallback(t *testing.T) {
	table := DefaultTierTable()

	btc := table.ForSymbol("BTC/USD")
	assert.True(t, btc.MaxPositionNotional.Equal(decimal.NewFromInt(5000)))
	assert.False(t, btc.Restricted)

	assert.True(t, table.ForSymbol("TRUMP_USD").Restricted)

	unknown := table.ForSymbol("ADA/USD")
	assert.False(t, table.Known("ADA/USD"))
	assert.Equal(t, "ADA", unknown.Asset)
	assert.True(t, unknown.MaxRiskPct.Equal(decimal.RequireFromString("0.75")))
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusFilled.Terminal())
	assert.True(t, ParseOrderStatus("canceled").Terminal())
	assert.False(t, OrderStatusPartiallyFilled.Terminal())
	assert.Equal(t, OrderStatusNew, ParseOrderStatus("open"))
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
	s, ok := ParseSide("long")
	assert.True(t, ok)
	assert.Equal(t, SideBuy, s)
}
