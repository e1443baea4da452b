package engine

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/alanyoungcy/vgbot/internal/guardrail"
	"github.com/alanyoungcy/vgbot/internal/lifecycle"
	"github.com/alanyoungcy/vgbot/internal/regime"
	"github.com/alanyoungcy/vgbot/internal/risk"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeMarket struct {
	mu      sync.Mutex
	bars    map[string][]domain.Bar
	barsErr map[string]error
	quotes  map[string]domain.Ticker
}

func (f *fakeMarket) Bars(_ context.Context, symbol, _ string, _ int) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.barsErr[symbol]; err != nil {
		return nil, err
	}
	return f.bars[symbol], nil
}

func (f *fakeMarket) Ticker(_ context.Context, symbol string) (domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes[symbol], nil
}

type fakeBroker struct {
	mu        sync.Mutex
	placeErr  error
	neverFill bool
	// partial is the fraction of each order reported filled while it rests.
	partial    decimal.Decimal
	placeDelay time.Duration
	placed     []domain.LimitOrder
	orders     map[string]domain.LimitOrder
	cancels    int

	inflight    int
	maxInflight int
}

func (b *fakeBroker) PlaceLimitOrder(_ context.Context, o domain.LimitOrder) (string, error) {
	b.mu.Lock()
	b.placed = append(b.placed, o)
	if b.placeErr != nil {
		b.mu.Unlock()
		return "", b.placeErr
	}
	id := fmt.Sprintf("ord-%d", len(b.placed))
	if b.orders == nil {
		b.orders = make(map[string]domain.LimitOrder)
	}
	b.orders[id] = o
	b.inflight++
	b.maxInflight = max(b.maxInflight, b.inflight)
	delay := b.placeDelay
	b.mu.Unlock()

	time.Sleep(delay)
	return id, nil
}

func (b *fakeBroker) OrderStatus(_ context.Context, _, id string) (domain.OrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.neverFill {
		return domain.OrderState{OrderID: id, Status: domain.OrderStatusNew}, nil
	}
	if o := b.orders[id]; b.partial.IsPositive() {
		return domain.OrderState{
			OrderID:   id,
			Status:    domain.OrderStatusPartiallyFilled,
			FilledQty: o.Qty.Mul(b.partial),
			AvgPrice:  o.Price,
		}, nil
	}
	b.inflight--
	return domain.OrderState{OrderID: id, Status: domain.OrderStatusFilled}, nil
}

func (b *fakeBroker) CancelOrder(context.Context, string, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels++
	return nil
}

func (b *fakeBroker) placedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.placed)
}

type fakeSignals struct {
	mu    sync.Mutex
	entry map[string]domain.Signal
	exit  bool
}

func (s *fakeSignals) EntrySignal(_ context.Context, symbol string, _ []domain.Bar) (domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig, ok := s.entry[symbol]; ok {
		return sig, nil
	}
	return domain.SignalHold, nil
}

func (s *fakeSignals) ExitSignal(context.Context, string, []domain.Bar, domain.PositionView) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit, nil
}

type memTrades struct {
	mu   sync.Mutex
	rows []domain.TradeRecord
}

func (m *memTrades) Insert(_ context.Context, t domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, t)
	return nil
}
func (m *memTrades) GetByID(context.Context, string) (domain.TradeRecord, error) {
	return domain.TradeRecord{}, domain.ErrNotFound
}
func (m *memTrades) ListBySymbol(context.Context, string, domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}
func (m *memTrades) ListClosedBefore(context.Context, time.Time, int) ([]domain.TradeRecord, error) {
	return nil, nil
}
func (m *memTrades) DeleteClosedBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memRejections struct {
	mu   sync.Mutex
	rows []domain.RejectionRecord
}

func (m *memRejections) Insert(_ context.Context, r domain.RejectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, r)
	return nil
}
func (m *memRejections) ListBySymbol(context.Context, string, domain.ListOpts) ([]domain.RejectionRecord, error) {
	return nil, nil
}
func (m *memRejections) CountByStage(context.Context, time.Time) (map[string]int64, error) {
	return nil, nil
}

type fixture struct {
	runner     *Runner
	market     *fakeMarket
	broker     *fakeBroker
	signals    *fakeSignals
	clk        *clock.Fake
	gate       *risk.Gate
	life       *lifecycle.Manager
	pipeline   *guardrail.Pipeline
	trades     *memTrades
	rejections *memRejections
}

// rangeBars is 96 bars spanning 98..102 whose final close is last.
func rangeBars(start time.Time, last float64) []domain.Bar {
	bars := make([]domain.Bar, 96)
	for i := range bars {
		bars[i] = domain.Bar{Timestamp: start.Add(time.Duration(i) * 15 * time.Minute), Open: 100, High: 102, Low: 98, Close: 100}
	}
	bars[95].Close = last
	bars[95].Low = min(last, 98)
	return bars
}

// wideBars spans 80..120, about 40% volatility.
func wideBars(start time.Time) []domain.Bar {
	bars := rangeBars(start, 100)
	for i := range bars {
		bars[i].High, bars[i].Low = 120, 80
	}
	return bars
}

type tierOverride struct {
	gate     *domain.TierTable
	pipeline *domain.TierTable
	riskCfg  func(*risk.Config)
}

func newFixture(t *testing.T, tiers tierOverride) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	f := &fixture{
		market: &fakeMarket{
			bars:    map[string][]domain.Bar{},
			barsErr: map[string]error{},
			quotes: map[string]domain.Ticker{
				"BTC/USD":  {Symbol: "BTC/USD", Bid: decimal.RequireFromString("98.19"), Ask: decimal.RequireFromString("98.2"), Last: decimal.RequireFromString("98.2")},
				"ETH/USD":  {Symbol: "ETH/USD", Bid: decimal.RequireFromString("98.19"), Ask: decimal.RequireFromString("98.2"), Last: decimal.RequireFromString("98.2")},
				"DOGE/USD": {Symbol: "DOGE/USD", Bid: decimal.RequireFromString("98.19"), Ask: decimal.RequireFromString("98.2"), Last: decimal.RequireFromString("98.2")},
			},
		},
		broker:     &fakeBroker{},
		signals:    &fakeSignals{entry: map[string]domain.Signal{}},
		clk:        clk,
		trades:     &memTrades{},
		rejections: &memRejections{},
	}
	f.market.bars["BTC/USD"] = rangeBars(clk.Now(), 98.2)
	f.market.bars["ETH/USD"] = rangeBars(clk.Now(), 98.2)
	f.market.bars["DOGE/USD"] = rangeBars(clk.Now(), 98.2)

	riskCfg := risk.DefaultConfig()
	if tiers.gate != nil {
		riskCfg.Tiers = *tiers.gate
	}
	if tiers.riskCfg != nil {
		tiers.riskCfg(&riskCfg)
	}
	guardCfg := guardrail.DefaultConfig()
	if tiers.pipeline != nil {
		guardCfg.Tiers = *tiers.pipeline
	}

	f.gate = risk.NewGate(riskCfg, clk, quiet)
	f.life = lifecycle.NewManager(lifecycle.DefaultConfig(), clk, quiet)
	f.pipeline = guardrail.NewPipeline(guardCfg, f.market, f.broker, clk, quiet)

	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTC/USD"}
	r, err := NewRunner(cfg, Deps{
		History:    f.market,
		Tickers:    f.market,
		Signals:    f.signals,
		Analyzer:   regime.NewAnalyzer(regime.DefaultConfig(), clk, quiet),
		Gate:       f.gate,
		Pipeline:   f.pipeline,
		Lifecycle:  f.life,
		Trades:     f.trades,
		Rejections: f.rejections,
		Clock:      clk,
	}, quiet)
	require.NoError(t, err)
	f.runner = r
	return f
}

func (f *fixture) open(t *testing.T) lifecycle.Trade {
	t.Helper()
	f.signals.entry["BTC/USD"] = domain.SignalBuy
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))
	tr, ok := f.life.CurrentTrade("BTC/USD")
	require.True(t, ok, "expected an open trade")
	return tr
}

func TestEntryRecordedAfterFill(t *testing.T) {
	f := newFixture(t, tierOverride{})
	tr := f.open(t)

	assert.Equal(t, lifecycle.StateOpen, tr.State)
	var states []string
	for _, x := range tr.Transitions {
		states = append(states, x.State)
	}
	assert.Equal(t, []string{"ARMED", "ENTRY_PENDING", "OPEN"}, states)

	pos, ok := f.gate.Position("BTC/USD")
	require.True(t, ok)
	assert.True(t, pos.Qty.Equal(tr.Qty))
	assert.True(t, pos.Notional.LessThanOrEqual(decimal.NewFromInt(75)), pos.Notional.String())
	assert.True(t, tr.EntryPrice.Equal(decimal.RequireFromString("98.09181")), tr.EntryPrice.String())
	assert.Equal(t, 1, f.pipeline.Stats().Executed)
}

func TestFailedExecutionRecordsNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeBroker)
		stage string
	}{
		{"placement error", func(b *fakeBroker) { b.placeErr = errors.New("venue down") }, "placement"},
		{"fill timeout", func(b *fakeBroker) { b.neverFill = true }, "no_fill"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tierOverride{})
			tt.setup(f.broker)
			f.signals.entry["BTC/USD"] = domain.SignalBuy

			require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))

			_, ok := f.life.CurrentTrade("BTC/USD")
			assert.False(t, ok)
			_, ok = f.gate.Position("BTC/USD")
			assert.False(t, ok)
			assert.True(t, f.life.CanEnterTrade("BTC/USD").Allowed)
			require.Len(t, f.rejections.rows, 1)
			assert.Equal(t, tt.stage, f.rejections.rows[0].Stage)
		})
	}
}

func TestConcurrentEntriesShareExposureCap(t *testing.T) {
	// $100 portfolio cap, $75 per tier: two full-size entries cannot both fit.
	f := newFixture(t, tierOverride{riskCfg: func(c *risk.Config) { c.PortfolioMaxRiskPct = decimal.NewFromInt(1) }})
	f.runner.cfg.Symbols = []string{"BTC/USD", "ETH/USD"}
	f.runner.cfg.Workers = 2
	f.broker.placeDelay = 20 * time.Millisecond
	f.signals.entry["BTC/USD"] = domain.SignalBuy
	f.signals.entry["ETH/USD"] = domain.SignalBuy

	require.NoError(t, f.runner.RunCycle(context.Background()))

	halted, reason := f.gate.Halted()
	assert.False(t, halted, reason)
	exp := f.gate.CurrentExposure()
	assert.True(t, exp.Total.LessThanOrEqual(decimal.NewFromInt(100)), exp.Total.String())
	assert.Equal(t, f.broker.placedCount(), f.gate.Stats().OpenPositions)
	assert.Equal(t, 1, f.broker.maxInflight)
	for _, symbol := range []string{"BTC/USD", "ETH/USD"} {
		pos, ok := f.gate.Position(symbol)
		if !ok {
			continue
		}
		tr, ok := f.life.CurrentTrade(symbol)
		require.True(t, ok, symbol)
		assert.True(t, tr.Qty.Equal(pos.Qty), symbol)
	}
}

func TestPartialEntryHaltsForReconciliation(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.broker.partial = decimal.RequireFromString("0.5")
	f.signals.entry["BTC/USD"] = domain.SignalBuy

	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))

	halted, reason := f.gate.Halted()
	assert.True(t, halted)
	assert.Contains(t, reason, "partially filled")
	_, ok := f.life.CurrentTrade("BTC/USD")
	assert.False(t, ok)
	_, ok = f.gate.Position("BTC/USD")
	assert.False(t, ok)
	require.Len(t, f.rejections.rows, 1)
	assert.Equal(t, "no_fill", f.rejections.rows[0].Stage)
}

func TestRiskDenialSkipsPipeline(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.gate.HaltTrading("test")
	f.signals.entry["BTC/USD"] = domain.SignalBuy

	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))
	assert.Zero(t, f.broker.placedCount())
	assert.Zero(t, f.pipeline.Stats().Rejected)
}

func TestUntradeableRegimeStops(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.market.bars["BTC/USD"] = f.market.bars["BTC/USD"][:50]
	f.signals.entry["BTC/USD"] = domain.SignalBuy

	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))
	assert.Zero(t, f.broker.placedCount())
}

func TestRestrictedSellDeniedByEachGate(t *testing.T) {
	doge := domain.DefaultTiers()[3]
	require.Equal(t, "DOGE", doge.Asset)
	doge.Restricted = false
	doge.MaxRiskPct = decimal.NewFromInt(1)
	doge.SpreadLimit = decimal.RequireFromString("0.01")
	unrestricted := domain.NewTierTable(domain.DefaultFallbackTier(), doge)
	restrictedDoge := doge
	restrictedDoge.Restricted = true
	restrictedLoose := domain.NewTierTable(domain.DefaultFallbackTier(), restrictedDoge)

	run := func(t *testing.T, tiers tierOverride) *fixture {
		f := newFixture(t, tiers)
		f.runner.cfg.Symbols = []string{"DOGE/USD"}
		f.signals.entry["DOGE/USD"] = domain.SignalSell
		require.NoError(t, f.runner.ProcessSymbol(context.Background(), "DOGE/USD"))
		_, ok := f.gate.Position("DOGE/USD")
		assert.False(t, ok)
		_, ok = f.life.CurrentTrade("DOGE/USD")
		assert.False(t, ok)
		return f
	}

	t.Run("risk gate only", func(t *testing.T) {
		f := run(t, tierOverride{gate: &restrictedLoose, pipeline: &unrestricted})
		assert.Zero(t, f.broker.placedCount())
	})
	t.Run("guardrail only", func(t *testing.T) {
		f := run(t, tierOverride{gate: &unrestricted, pipeline: &restrictedLoose})
		assert.Zero(t, f.broker.placedCount())
		assert.Equal(t, 1, f.pipeline.Stats().ByStage[guardrail.StageRestrictedSide])
	})
	t.Run("both", func(t *testing.T) {
		f := run(t, tierOverride{gate: &restrictedLoose, pipeline: &restrictedLoose})
		assert.Zero(t, f.broker.placedCount())
	})
}

func TestExhaustionExitClosesEverywhere(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.open(t)

	f.clk.Advance(time.Minute)
	f.market.bars["BTC/USD"] = wideBars(f.clk.Now())
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))

	_, ok := f.life.CurrentTrade("BTC/USD")
	assert.False(t, ok)
	_, ok = f.gate.Position("BTC/USD")
	assert.False(t, ok)
	assert.Equal(t, 8, f.life.Cooldown("BTC/USD"))

	require.Len(t, f.trades.rows, 1)
	assert.Equal(t, "volatility exhaustion", f.trades.rows[0].ExitReason)
	assert.True(t, f.trades.rows[0].PnL.Equal(f.gate.History()[0].PnL))
	last := f.broker.placed[len(f.broker.placed)-1]
	assert.Equal(t, domain.SideSell, last.Side)
}

func TestFailedExitRetriedNextCycle(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.open(t)

	f.clk.Advance(time.Minute)
	f.market.bars["BTC/USD"] = wideBars(f.clk.Now())
	f.broker.placeErr = errors.New("timeout")
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))

	tr, ok := f.life.CurrentTrade("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, lifecycle.StateExiting, tr.State)
	_, ok = f.gate.Position("BTC/USD")
	assert.True(t, ok)

	f.broker.placeErr = nil
	f.clk.Advance(15 * time.Second)
	f.market.bars["BTC/USD"] = rangeBars(f.clk.Now(), 100)
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))

	_, ok = f.life.CurrentTrade("BTC/USD")
	assert.False(t, ok)
	require.Len(t, f.trades.rows, 1)
	assert.Equal(t, "volatility exhaustion", f.trades.rows[0].ExitReason)
}

func TestPartialExitRetriesRemainder(t *testing.T) {
	f := newFixture(t, tierOverride{})
	tr := f.open(t)

	f.clk.Advance(time.Minute)
	f.market.bars["BTC/USD"] = wideBars(f.clk.Now())
	f.broker.partial = decimal.RequireFromString("0.5")
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))

	cur, ok := f.life.CurrentTrade("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, lifecycle.StateExiting, cur.State)
	require.Len(t, f.broker.placed, 2)
	assert.True(t, f.broker.placed[1].Qty.Equal(tr.Qty))
	assert.False(t, f.gate.Stats().Halted)

	f.broker.partial = decimal.Zero
	f.clk.Advance(15 * time.Second)
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))

	require.Len(t, f.broker.placed, 3)
	retry := f.broker.placed[2]
	assert.Equal(t, domain.SideSell, retry.Side)
	assert.True(t, retry.Qty.Equal(tr.Qty.Sub(tr.Qty.Mul(decimal.RequireFromString("0.5")))), retry.Qty.String())
	sold := f.broker.placed[1].Qty.Mul(decimal.RequireFromString("0.5")).Add(retry.Qty)
	assert.True(t, sold.Equal(tr.Qty), "sold %s of %s", sold, tr.Qty)

	_, ok = f.life.CurrentTrade("BTC/USD")
	assert.False(t, ok)
	_, ok = f.gate.Position("BTC/USD")
	assert.False(t, ok)
	require.Len(t, f.gate.History(), 1)
	assert.True(t, f.gate.History()[0].ExitPrice.Equal(retry.Price), f.gate.History()[0].ExitPrice.String())
	require.Len(t, f.trades.rows, 1)
	assert.Equal(t, "volatility exhaustion", f.trades.rows[0].ExitReason)
}

func TestCheckpointOneFailureExits(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.open(t)

	f.clk.Advance(6 * 15 * time.Minute)
	f.market.bars["BTC/USD"] = rangeBars(f.clk.Now(), 97.9)
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))

	_, ok := f.life.CurrentTrade("BTC/USD")
	assert.False(t, ok)
	hist := f.life.History("BTC/USD")
	require.Len(t, hist, 1)
	assert.Contains(t, hist[0].ExitReason, "checkpoint 1 failed")
	assert.True(t, hist[0].Checkpoint1.Evaluated)
	assert.False(t, hist[0].Checkpoint1.Passed)
}

func TestCheckpointOnePassKeepsTrade(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.open(t)

	f.clk.Advance(6 * 15 * time.Minute)
	f.market.bars["BTC/USD"] = rangeBars(f.clk.Now(), 101)
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))

	tr, ok := f.life.CurrentTrade("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, lifecycle.StateCheckpoint1, tr.State)
	assert.True(t, tr.Checkpoint1.Passed)
}

func TestStrategyExitSignal(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.open(t)

	f.clk.Advance(time.Minute)
	f.signals.exit = true
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))
	require.Len(t, f.trades.rows, 1)
	assert.Equal(t, "strategy exit", f.trades.rows[0].ExitReason)
}

func TestLiquidate(t *testing.T) {
	f := newFixture(t, tierOverride{})
	_, err := f.runner.Liquidate(context.Background(), "BTC/USD", "")
	assert.ErrorIs(t, err, domain.ErrNoActiveTrade)

	f.open(t)
	f.clk.Advance(time.Minute)
	res, err := f.runner.Liquidate(context.Background(), "BTC/USD", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "operator liquidation", f.trades.rows[0].ExitReason)
}

func TestRunCycleIsolatesSymbolErrors(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.runner.cfg.Symbols = []string{"ETH/USD", "BTC/USD"}
	f.market.barsErr["ETH/USD"] = errors.New("history unavailable")
	f.signals.entry["BTC/USD"] = domain.SignalBuy

	err := f.runner.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history unavailable")
	_, ok := f.life.CurrentTrade("BTC/USD")
	assert.True(t, ok)
	assert.EqualValues(t, 1, f.runner.Status().Cycles)
}

func TestRunCycleDecrementsCooldownOnce(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.open(t)
	f.clk.Advance(time.Minute)
	_, err := f.runner.Liquidate(context.Background(), "BTC/USD", "")
	require.NoError(t, err)
	f.signals.entry["BTC/USD"] = domain.SignalHold

	require.NoError(t, f.runner.RunCycle(context.Background()))
	assert.Equal(t, 7, f.life.Cooldown("BTC/USD"))
}

func TestResetLossStreak(t *testing.T) {
	f := newFixture(t, tierOverride{riskCfg: func(c *risk.Config) { c.MaxConsecutiveLosses = 1 }})
	_, err := f.gate.OpenPosition("ETH/USD", domain.SideBuy, decimal.RequireFromString("0.1"), decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = f.gate.ClosePosition("ETH/USD", decimal.NewFromInt(90), "stop")
	require.NoError(t, err)

	f.signals.entry["BTC/USD"] = domain.SignalBuy
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))
	assert.Zero(t, f.broker.placedCount())

	f.runner.ResetLossStreak(context.Background())
	assert.Zero(t, f.gate.Stats().ConsecutiveLosses)
	require.NoError(t, f.runner.ProcessSymbol(context.Background(), "BTC/USD"))
	assert.Equal(t, 1, f.broker.placedCount())
}

func TestHaltResume(t *testing.T) {
	f := newFixture(t, tierOverride{})
	f.runner.Halt(context.Background(), "maintenance")
	st := f.runner.Status()
	assert.True(t, st.Halted)
	assert.Equal(t, "maintenance", st.HaltReason)

	f.runner.Resume(context.Background())
	assert.False(t, f.runner.Status().Halted)
}
