package risk

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vgbot/internal/clock"
	"github.com/alanyoungcy/vgbot/internal/domain"
)

var (
	t0  = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	log = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newGate(t *testing.T, mutate func(*Config)) (*Gate, *clock.Fake) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewFake(t0)
	return NewGate(cfg, clk, log), clk
}

// looseTiers lifts the per-tier caps so breaker tests are not blocked by
// sizing rules.
func looseTiers(c *Config) {
	fb := domain.DefaultFallbackTier()
	fb.MaxRiskPct = d("100")
	fb.MaxPositionNotional = d("1000000")
	c.Tiers = domain.NewTierTable(fb)
	c.PortfolioMaxRiskPct = d("100")
}

func TestBTCTierRiskCapDenies4190(t *testing.T) {
	g, _ := newGate(t, nil)

	// 0.05 BTC at 83,800 is $4,190: inside the $5,000 notional cap but far
	// beyond 0.75% of $10,000.
	dec := g.CanOpenPosition("BTC/USD", domain.SideBuy, d("0.05"), d("83800"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, RuleTierRisk, dec.Rule)
	assert.Contains(t, dec.Reason, "75.00")

	ok := g.CanOpenPosition("BTC/USD", domain.SideBuy, d("0.0008"), d("83800"))
	assert.True(t, ok.Allowed, ok.Reason)
}

func TestTierNotionalCapCheckedBeforeRiskCap(t *testing.T) {
	g, _ := newGate(t, nil)
	dec := g.CanOpenPosition("ETH/USD", domain.SideBuy, d("2"), d("2000"))
	assert.Equal(t, RuleTierNotional, dec.Rule)
}

func TestFiveLossesDenySixthEntry(t *testing.T) {
	g, _ := newGate(t, nil)

	for i := 0; i < 5; i++ {
		_, err := g.OpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
		require.NoError(t, err, "open %d", i)
		c, err := g.ClosePosition("BTC/USD", d("49000"), "stop")
		require.NoError(t, err)
		require.True(t, c.PnL.Equal(d("-1")))
	}

	dec := g.CanOpenPosition("ETH/USD", domain.SideBuy, d("0.01"), d("3000"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, RuleConsecutiveLosses, dec.Rule)
	assert.Contains(t, dec.Reason, "max consecutive losses")
	assert.Equal(t, 5, g.Stats().ConsecutiveLosses)
	assert.Equal(t, 5, g.Stats().Losses)
}

func TestWinResetsLossStreak(t *testing.T) {
	g, _ := newGate(t, nil)
	for i := 0; i < 4; i++ {
		_, err := g.OpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
		require.NoError(t, err)
		_, err = g.ClosePosition("BTC/USD", d("49900"), "stop")
		require.NoError(t, err)
	}
	_, err := g.OpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
	require.NoError(t, err)
	_, err = g.ClosePosition("BTC/USD", d("50000"), "flat")
	require.NoError(t, err)
	assert.Equal(t, 0, g.Stats().ConsecutiveLosses)
}

func TestStatsCountsBreakEvenSeparately(t *testing.T) {
	g, _ := newGate(t, nil)
	for _, exit := range []string{"50100", "50000", "49900"} {
		_, err := g.OpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
		require.NoError(t, err)
		_, err = g.ClosePosition("BTC/USD", d(exit), "test")
		require.NoError(t, err)
	}

	s := g.Stats()
	assert.Equal(t, 3, s.ClosedPositions)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.BreakEven)
	assert.Equal(t, 1, s.Losses)
}

func TestManualLossStreakReset(t *testing.T) {
	g, _ := newGate(t, func(c *Config) { c.MaxConsecutiveLosses = 1 })
	_, err := g.OpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
	require.NoError(t, err)
	_, err = g.ClosePosition("BTC/USD", d("40000"), "stop")
	require.NoError(t, err)
	require.Equal(t, RuleConsecutiveLosses, g.CanOpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000")).Rule)

	g.ResetLossStreak()
	assert.True(t, g.CanOpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000")).Allowed)
}

func TestDailyLossBreakerAndRollover(t *testing.T) {
	g, clk := newGate(t, looseTiers)

	_, err := g.OpenPosition("BTC/USD", domain.SideBuy, d("1"), d("1000"))
	require.NoError(t, err)
	_, err = g.ClosePosition("BTC/USD", d("500"), "crash")
	require.NoError(t, err)

	dec := g.CanOpenPosition("ETH/USD", domain.SideBuy, d("1"), d("100"))
	assert.Equal(t, RuleDailyLoss, dec.Rule)

	clk.Advance(24 * time.Hour)
	dec = g.CanOpenPosition("ETH/USD", domain.SideBuy, d("1"), d("100"))
	assert.True(t, dec.Allowed, dec.Reason)

	s := g.Stats()
	assert.True(t, s.DailyLoss.IsZero())
	assert.True(t, s.DayStartBalance.Equal(d("9500")))
	assert.True(t, s.Balance.Equal(d("9500")))
}

func TestRolloverResetsLossStreakButNotHalt(t *testing.T) {
	g, clk := newGate(t, func(c *Config) { c.MaxConsecutiveLosses = 1 })
	_, err := g.OpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
	require.NoError(t, err)
	_, err = g.ClosePosition("BTC/USD", d("49000"), "stop")
	require.NoError(t, err)

	g.HaltTrading("operator")
	clk.Advance(48 * time.Hour)

	dec := g.CanOpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
	assert.Equal(t, RuleHalted, dec.Rule)
	assert.Contains(t, dec.Reason, "operator")

	g.ResumeTrading()
	dec = g.CanOpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
	assert.True(t, dec.Allowed, dec.Reason)
	halted, _ := g.Halted()
	assert.False(t, halted)
}

func TestZeroDayStartBalanceDenies(t *testing.T) {
	g, _ := newGate(t, func(c *Config) { c.StartingBalance = decimal.Zero })
	dec := g.CanOpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
	assert.Equal(t, RuleDailyLoss, dec.Rule)
}

func TestMaxOpenPositions(t *testing.T) {
	g, _ := newGate(t, func(c *Config) {
		looseTiers(c)
		c.MaxOpenPositions = 2
	})
	for _, s := range []string{"A/USD", "B/USD"} {
		_, err := g.OpenPosition(s, domain.SideBuy, d("1"), d("10"))
		require.NoError(t, err)
	}
	dec := g.CanOpenPosition("C/USD", domain.SideBuy, d("1"), d("10"))
	assert.Equal(t, RuleMaxPositions, dec.Rule)
}

func TestPortfolioExposureCap(t *testing.T) {
	g, _ := newGate(t, nil)
	// BTC and ETH each allow $75; the portfolio allows $300.
	for _, s := range []string{"BTC/USD", "ETH/USD", "BTC/USDT", "ETH/USDT"} {
		_, err := g.OpenPosition(s, domain.SideBuy, d("0.01"), d("7000"))
		require.NoError(t, err, s)
	}
	dec := g.CanOpenPosition("XRP/USD", domain.SideBuy, d("30"), d("1"))
	assert.Equal(t, RulePortfolioRisk, dec.Rule)

	e := g.CurrentExposure()
	assert.True(t, e.Total.Equal(d("280")))
	assert.True(t, e.MaxAllowed.Equal(d("300")))
	assert.True(t, e.PerAsset["BTC"].Equal(d("140")))
	assert.Len(t, e.Positions, 4)
	assert.True(t, e.Pct.Equal(d("2.8")))
}

func TestRestrictedSellDenied(t *testing.T) {
	g, _ := newGate(t, nil)

	dec := g.CanOpenPosition("DOGE/USD", domain.SideSell, d("100"), d("0.1"))
	assert.False(t, dec.Allowed)
	assert.Equal(t, RuleRestrictedSide, dec.Rule)

	_, err := g.OpenPosition("DOGE/USD", domain.SideSell, d("100"), d("0.1"))
	assert.ErrorIs(t, err, domain.ErrEntryDenied)

	assert.True(t, g.CanOpenPosition("DOGE/USD", domain.SideBuy, d("100"), d("0.1")).Allowed)
}

func TestOpenPositionInvariants(t *testing.T) {
	g, _ := newGate(t, nil)

	_, err := g.OpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
	require.NoError(t, err)
	_, err = g.OpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
	assert.ErrorIs(t, err, domain.ErrPositionExists)

	_, err = g.ClosePosition("ETH/USD", d("1"), "none")
	assert.ErrorIs(t, err, domain.ErrNoOpenPosition)

	assert.Equal(t, RuleInvalidOrder, g.CanOpenPosition("ETH/USD", domain.SideBuy, decimal.Zero, d("1")).Rule)
}

func TestShortPnLMirrored(t *testing.T) {
	g, _ := newGate(t, nil)
	_, err := g.OpenPosition("BTC/USD", domain.SideSell, d("0.001"), d("50000"))
	require.NoError(t, err)
	c, err := g.ClosePosition("BTC/USD", d("48000"), "target")
	require.NoError(t, err)
	assert.True(t, c.PnL.Equal(d("2")))
	assert.True(t, g.Stats().Balance.Equal(d("10002")))
	assert.Equal(t, "target", c.Record().CloseReason)
	assert.Len(t, g.History(), 1)
}

func TestSuggestQuantity(t *testing.T) {
	g, _ := newGate(t, nil)
	q := g.SuggestQuantity("BTC/USD", d("50000"))
	assert.True(t, q.Equal(d("0.0015")), q.String())
	assert.True(t, g.CanOpenPosition("BTC/USD", domain.SideBuy, q, d("50000")).Allowed)
	assert.True(t, g.SuggestQuantity("BTC/USD", decimal.Zero).IsZero())
}

func TestConcurrentOpenSameSymbol(t *testing.T) {
	g, _ := newGate(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.OpenPosition("BTC/USD", domain.SideBuy, d("0.001"), d("50000"))
			if err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrPositionExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, g.Stats().OpenPositions)
}
