package lifecycle

import (
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

func newManager(t *testing.T) (*Manager, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))
	return NewManager(DefaultConfig(), clk, slog.New(slog.NewTextHandler(io.Discard, nil))), clk
}

func openReq(symbol string, side domain.Side, entry, qty string) OpenRequest {
	return OpenRequest{
		Symbol:           symbol,
		Side:             side,
		EntryPrice:       decimal.RequireFromString(entry),
		Qty:              decimal.RequireFromString(qty),
		RegimePosition:   0.12,
		RegimeVolatility: 2.5,
	}
}

func TestOpenTradeSingleActiveRecord(t *testing.T) {
	m, _ := newManager(t)

	tr, err := m.OpenTrade(openReq("BTC/USD", domain.SideBuy, "50000", "0.001"))
	require.NoError(t, err)
	assert.Equal(t, StateArmed, tr.State)
	require.Len(t, tr.Transitions, 1)

	_, err = m.OpenTrade(openReq("BTC/USD", domain.SideBuy, "50000", "0.001"))
	assert.ErrorIs(t, err, domain.ErrTradeExists)

	d := m.CanEnterTrade("BTC/USD")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "already active")
	assert.True(t, m.CanEnterTrade("ETH/USD").Allowed)
}

func TestConcurrentOpenTrade(t *testing.T) {
	m, _ := newManager(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.OpenTrade(openReq("ETH/USD", domain.SideBuy, "3000", "0.01")); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Len(t, m.ActiveTrades(), 1)
}

func TestCloseThenCooldownCount(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.OpenTrade(openReq("BTC/USD", domain.SideBuy, "50000", "0.001"))
	require.NoError(t, err)
	_, err = m.CloseTrade("BTC/USD", decimal.RequireFromString("51000"), "target")
	require.NoError(t, err)

	for i := 0; i < DefaultConfig().CooldownCandles; i++ {
		assert.False(t, m.CanEnterTrade("BTC/USD").Allowed, "after %d decrements", i)
		_, err := m.OpenTrade(openReq("BTC/USD", domain.SideBuy, "50000", "0.001"))
		assert.ErrorIs(t, err, domain.ErrTradeCooldown)
		m.DecrementCooldowns()
	}
	assert.True(t, m.CanEnterTrade("BTC/USD").Allowed)
	assert.Equal(t, 0, m.Cooldown("BTC/USD"))

	m.DecrementCooldowns()
	assert.Equal(t, 0, m.Cooldown("BTC/USD"))
}

func TestCloseTradePnL(t *testing.T) {
	m, clk := newManager(t)

	_, err := m.OpenTrade(openReq("BTC/USD", domain.SideBuy, "50000", "0.002"))
	require.NoError(t, err)
	clk.Advance(time.Hour)
	long, err := m.CloseTrade("BTC/USD", decimal.RequireFromString("51000"), "target")
	require.NoError(t, err)
	assert.True(t, long.PnL.Equal(decimal.RequireFromString("2")), long.PnL.String())
	assert.True(t, long.PnLPct.Equal(decimal.RequireFromString("2")), long.PnLPct.String())
	assert.Equal(t, StateExitConfirmed, long.State)
	assert.Equal(t, "target", long.ExitReason)
	assert.Equal(t, time.Hour, long.ExitTime.Sub(long.EntryTime))

	_, err = m.OpenTrade(openReq("ETH/USD", domain.SideSell, "3000", "1"))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	short, err := m.CloseTrade("ETH/USD", decimal.RequireFromString("3300"), "stop")
	require.NoError(t, err)
	assert.True(t, short.PnL.Equal(decimal.RequireFromString("-300")))
	assert.True(t, short.PnLPct.Equal(decimal.RequireFromString("-10")))

	_, err = m.CloseTrade("ETH/USD", decimal.NewFromInt(1), "again")
	assert.ErrorIs(t, err, domain.ErrNoActiveTrade)

	_, ok := m.CurrentTrade("ETH/USD")
	assert.False(t, ok)
	assert.Len(t, m.History("ETH/USD"), 1)
	all := m.AllHistory()
	require.Len(t, all, 2)
	assert.Equal(t, "BTC/USD", all[0].Symbol)
}

func TestZeroNotionalPnLPct(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.OpenTrade(openReq("X/USD", domain.SideBuy, "0", "1"))
	require.NoError(t, err)
	tr, err := m.CloseTrade("X/USD", decimal.NewFromInt(1), "test")
	require.NoError(t, err)
	assert.True(t, tr.PnLPct.IsZero())
}

func TestAdvanceForwardOnly(t *testing.T) {
	m, _ := newManager(t)
	require.ErrorIs(t, m.Advance("BTC/USD", StateOpen, ""), domain.ErrNoActiveTrade)

	_, err := m.OpenTrade(openReq("BTC/USD", domain.SideBuy, "50000", "0.001"))
	require.NoError(t, err)

	require.NoError(t, m.Advance("BTC/USD", StateEntryPending, "submitted"))
	require.NoError(t, m.Advance("BTC/USD", StateOpen, "filled"))
	require.NoError(t, m.Advance("BTC/USD", StateOpen, "again"))
	assert.ErrorIs(t, m.Advance("BTC/USD", StateEntryPending, ""), domain.ErrIllegalTransition)
	assert.ErrorIs(t, m.Advance("BTC/USD", StateExitConfirmed, ""), domain.ErrIllegalTransition)
	assert.ErrorIs(t, m.Advance("BTC/USD", StateCheckpoint1, ""), domain.ErrIllegalTransition)

	tr, _ := m.CurrentTrade("BTC/USD")
	states := make([]string, 0, len(tr.Transitions))
	for _, x := range tr.Transitions {
		states = append(states, x.State)
	}
	assert.Equal(t, []string{"ARMED", "ENTRY_PENDING", "OPEN"}, states)
}

func TestAdvanceCheckpointOnce(t *testing.T) {
	m, _ := newManager(t)
	assert.Nil(t, m.AdvanceCheckpoint("BTC/USD", 20))

	_, err := m.OpenTrade(openReq("BTC/USD", domain.SideBuy, "50000", "0.001"))
	require.NoError(t, err)
	assert.Nil(t, m.AdvanceCheckpoint("BTC/USD", 7), "armed trades have no checkpoints")
	require.NoError(t, m.Advance("BTC/USD", StateOpen, "filled"))

	assert.Empty(t, m.AdvanceCheckpoint("BTC/USD", 5))
	assert.Equal(t, []State{StateCheckpoint1}, m.AdvanceCheckpoint("BTC/USD", 6))
	assert.Empty(t, m.AdvanceCheckpoint("BTC/USD", 6))
	assert.Empty(t, m.AdvanceCheckpoint("BTC/USD", 9))
	assert.Equal(t, []State{StateCheckpoint2}, m.AdvanceCheckpoint("BTC/USD", 12))
	assert.Empty(t, m.AdvanceCheckpoint("BTC/USD", 30))

	tr, _ := m.CurrentTrade("BTC/USD")
	assert.Equal(t, StateCheckpoint2, tr.State)
	assert.Equal(t, 6, tr.Checkpoint1.Candle)
	assert.Equal(t, 12, tr.Checkpoint2.Candle)
}

func TestAdvanceCheckpointJump(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.OpenTrade(openReq("BTC/USD", domain.SideBuy, "50000", "0.001"))
	require.NoError(t, err)
	require.NoError(t, m.Advance("BTC/USD", StateOpen, "filled"))

	assert.Equal(t, []State{StateCheckpoint1, StateCheckpoint2}, m.AdvanceCheckpoint("BTC/USD", 14))

	require.NoError(t, m.Advance("BTC/USD", StateExiting, "exhaustion"))
	assert.Nil(t, m.AdvanceCheckpoint("BTC/USD", 40))
}

func TestMarkCheckpoint(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.OpenTrade(openReq("BTC/USD", domain.SideBuy, "50000", "0.001"))
	require.NoError(t, err)
	require.NoError(t, m.Advance("BTC/USD", StateOpen, "filled"))

	assert.ErrorIs(t, m.MarkCheckpoint("BTC/USD", 1, true, "early"), domain.ErrIllegalTransition)
	m.AdvanceCheckpoint("BTC/USD", 6)
	require.NoError(t, m.MarkCheckpoint("BTC/USD", 1, false, "no revert"))
	require.NoError(t, m.MarkCheckpoint("BTC/USD", 1, true, "ignored"))
	assert.ErrorIs(t, m.MarkCheckpoint("BTC/USD", 3, true, ""), domain.ErrIllegalTransition)

	tr, _ := m.CurrentTrade("BTC/USD")
	assert.True(t, tr.Checkpoint1.Evaluated)
	assert.False(t, tr.Checkpoint1.Passed)
	assert.Equal(t, "no revert", tr.Checkpoint1.Reason)

	closed, err := m.CloseTrade("BTC/USD", decimal.NewFromInt(49000), "checkpoint 1 failed")
	require.NoError(t, err)
	rec := closed.Record()
	require.NotNil(t, rec.Checkpoint1Passed)
	assert.False(t, *rec.Checkpoint1Passed)
	assert.Nil(t, rec.Checkpoint2Passed)
}

func TestStats(t *testing.T) {
	m, _ := newManager(t)
	s := m.Stats()
	assert.Zero(t, s.TotalTrades)
	assert.Zero(t, s.WinRatePct)
	assert.True(t, s.AvgPnL.IsZero())

	trades := []struct {
		symbol, exit string
	}{
		{"A/USD", "110"}, // +10
		{"B/USD", "95"},  // -5
		{"C/USD", "130"}, // +30
		{"D/USD", "100"}, // flat
	}
	for _, tr := range trades {
		_, err := m.OpenTrade(openReq(tr.symbol, domain.SideBuy, "100", "1"))
		require.NoError(t, err)
		_, err = m.CloseTrade(tr.symbol, decimal.RequireFromString(tr.exit), "test")
		require.NoError(t, err)
	}

	s = m.Stats()
	assert.Equal(t, 4, s.TotalTrades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 50.0, s.WinRatePct, 1e-9)
	assert.True(t, s.TotalPnL.Equal(decimal.NewFromInt(35)))
	assert.True(t, s.AvgPnL.Equal(decimal.RequireFromString("8.75")))
	assert.True(t, s.MaxWin.Equal(decimal.NewFromInt(30)))
	assert.True(t, s.MaxLoss.Equal(decimal.NewFromInt(-5)))
}
