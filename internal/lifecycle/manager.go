// Package lifecycle tracks each symbol's trade through its forward-only state
// machine, schedules checkpoints and enforces the post-exit cooldown.
package lifecycle

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/clock"
	"github.com/alanyoungcy/vgbot/internal/domain"
)

// Config holds lifecycle parameters, all in candles.
type Config struct {
	// CooldownCandles blocks re-entry after a close. Default 8.
	CooldownCandles int
	// Checkpoint1Candles is the revert check. Default 6.
	Checkpoint1Candles int
	// Checkpoint2Candles is the exhaustion check. Default 12.
	Checkpoint2Candles int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{CooldownCandles: 8, Checkpoint1Candles: 6, Checkpoint2Candles: 12}
}

// Decision is an eligibility answer.
type Decision struct {
	Allowed bool
	Reason  string
}

// Checkpoint records when a checkpoint was reached and what the caller
// concluded there.
type Checkpoint struct {
	Reached   bool   `json:"reached"`
	Candle    int    `json:"candle"`
	Evaluated bool   `json:"evaluated"`
	Passed    bool   `json:"passed"`
	Reason    string `json:"reason,omitempty"`
}

// Trade is one lifecycle record.
type Trade struct {
	ID               string              `json:"id"`
	Symbol           string              `json:"symbol"`
	Side             domain.Side         `json:"side"`
	EntryPrice       decimal.Decimal     `json:"entry_price"`
	Qty              decimal.Decimal     `json:"qty"`
	EntryTime        time.Time           `json:"entry_time"`
	RegimePosition   float64             `json:"regime_position"`
	RegimeVolatility float64             `json:"regime_volatility"`
	State            State               `json:"state"`
	Transitions      []domain.Transition `json:"transitions"`
	Checkpoint1      Checkpoint          `json:"checkpoint_1"`
	Checkpoint2      Checkpoint          `json:"checkpoint_2"`

	ExitPrice  decimal.Decimal `json:"exit_price"`
	ExitTime   time.Time       `json:"exit_time"`
	ExitReason string          `json:"exit_reason,omitempty"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPct     decimal.Decimal `json:"pnl_pct"`
}

func (t Trade) clone() Trade {
	t.Transitions = append([]domain.Transition(nil), t.Transitions...)
	return t
}

// Notional is entry price times quantity.
func (t Trade) Notional() decimal.Decimal { return t.EntryPrice.Mul(t.Qty) }

// Record converts a closed trade to its persisted form.
func (t Trade) Record() domain.TradeRecord {
	r := domain.TradeRecord{
		ID:              t.ID,
		Symbol:          t.Symbol,
		Side:            t.Side,
		EntryPrice:      t.EntryPrice,
		ExitPrice:       t.ExitPrice,
		Qty:             t.Qty,
		PnL:             t.PnL,
		PnLPct:          t.PnLPct,
		EntryTime:       t.EntryTime,
		ExitTime:        t.ExitTime,
		ExitReason:      t.ExitReason,
		EntryPosition:   t.RegimePosition,
		EntryVolatility: t.RegimeVolatility,
		Transitions:     append([]domain.Transition(nil), t.Transitions...),
	}
	if t.Checkpoint1.Evaluated {
		p := t.Checkpoint1.Passed
		r.Checkpoint1Passed = &p
	}
	if t.Checkpoint2.Evaluated {
		p := t.Checkpoint2.Passed
		r.Checkpoint2Passed = &p
	}
	return r
}

// OpenRequest describes a filled entry.
type OpenRequest struct {
	Symbol           string
	Side             domain.Side
	EntryPrice       decimal.Decimal
	Qty              decimal.Decimal
	RegimePosition   float64
	RegimeVolatility float64
}

// Manager owns active trades, history and cooldowns.
type Manager struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	active    map[string]*Trade
	history   map[string][]Trade
	cooldowns map[string]int
}

// NewManager creates a Manager. A nil clock uses the wall clock.
func NewManager(cfg Config, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		cfg:       cfg,
		clock:     clk,
		logger:    logger.With(slog.String("component", "lifecycle")),
		active:    make(map[string]*Trade),
		history:   make(map[string][]Trade),
		cooldowns: make(map[string]int),
	}
}

// CanEnterTrade reports whether a new trade may be created for symbol.
func (m *Manager) CanEnterTrade(symbol string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canEnterLocked(symbol)
}

func (m *Manager) canEnterLocked(symbol string) Decision {
	if t, ok := m.active[symbol]; ok {
		return Decision{Reason: fmt.Sprintf("%s: trade already active (%s)", symbol, t.State)}
	}
	if c := m.cooldowns[symbol]; c > 0 {
		return Decision{Reason: fmt.Sprintf("%s: in cooldown (%d candles remaining)", symbol, c)}
	}
	return Decision{Allowed: true}
}

// OpenTrade creates an ARMED trade after re-checking eligibility.
func (m *Manager) OpenTrade(req OpenRequest) (Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[req.Symbol]; ok {
		return Trade{}, fmt.Errorf("lifecycle: open %s: %w", req.Symbol, domain.ErrTradeExists)
	}
	if c := m.cooldowns[req.Symbol]; c > 0 {
		return Trade{}, fmt.Errorf("lifecycle: open %s: %w (%d candles remaining)", req.Symbol, domain.ErrTradeCooldown, c)
	}

	now := m.clock.Now()
	t := &Trade{
		ID:               uuid.NewString(),
		Symbol:           req.Symbol,
		Side:             req.Side,
		EntryPrice:       req.EntryPrice,
		Qty:              req.Qty,
		EntryTime:        now,
		RegimePosition:   req.RegimePosition,
		RegimeVolatility: req.RegimeVolatility,
	}
	m.transitionLocked(t, StateArmed, "trade created")
	m.active[req.Symbol] = t

	m.logger.Info("trade armed",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("entry_price", req.EntryPrice.String()),
		slog.String("qty", req.Qty.String()),
		slog.Float64("regime_position", req.RegimePosition),
	)
	return t.clone(), nil
}

func (m *Manager) transitionLocked(t *Trade, s State, note string) {
	t.State = s
	t.Transitions = append(t.Transitions, domain.Transition{State: string(s), At: m.clock.Now(), Note: note})
}

// Advance moves the active trade forward to ENTRY_PENDING, OPEN or EXITING.
// Re-entering the current state is a no-op.
func (m *Manager) Advance(symbol string, to State, note string) error {
	switch to {
	case StateEntryPending, StateOpen, StateExiting:
	default:
		return fmt.Errorf("lifecycle: advance %s to %s: %w", symbol, to, domain.ErrIllegalTransition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[symbol]
	if !ok {
		return fmt.Errorf("lifecycle: advance %s: %w", symbol, domain.ErrNoActiveTrade)
	}
	switch {
	case to.rank() == t.State.rank():
		return nil
	case to.rank() < t.State.rank():
		return fmt.Errorf("lifecycle: advance %s from %s to %s: %w", symbol, t.State, to, domain.ErrIllegalTransition)
	}
	m.transitionLocked(t, to, note)
	m.logger.Debug("trade advanced", slog.String("symbol", symbol), slog.String("state", string(to)))
	return nil
}

// AdvanceCheckpoint enters CHECKPOINT_1 and CHECKPOINT_2 the first time
// candlesOpen reaches each threshold and returns the states newly entered.
// It does nothing before the entry fills or once the trade is exiting.
func (m *Manager) AdvanceCheckpoint(symbol string, candlesOpen int) []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[symbol]
	if !ok || !t.State.InMarket() || t.State.rank() >= StateExiting.rank() {
		return nil
	}

	var entered []State
	if candlesOpen >= m.cfg.Checkpoint1Candles && !t.Checkpoint1.Reached {
		t.Checkpoint1 = Checkpoint{Reached: true, Candle: candlesOpen}
		m.transitionLocked(t, StateCheckpoint1, fmt.Sprintf("candle %d", candlesOpen))
		entered = append(entered, StateCheckpoint1)
	}
	if candlesOpen >= m.cfg.Checkpoint2Candles && !t.Checkpoint2.Reached {
		t.Checkpoint2 = Checkpoint{Reached: true, Candle: candlesOpen}
		m.transitionLocked(t, StateCheckpoint2, fmt.Sprintf("candle %d", candlesOpen))
		entered = append(entered, StateCheckpoint2)
	}
	for _, s := range entered {
		m.logger.Debug("checkpoint reached",
			slog.String("symbol", symbol),
			slog.String("state", string(s)),
			slog.Int("candles_open", candlesOpen),
		)
	}
	return entered
}

// MarkCheckpoint records the evaluation result of checkpoint n (1 or 2).
// A checkpoint is evaluated once; later marks are ignored.
func (m *Manager) MarkCheckpoint(symbol string, n int, passed bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[symbol]
	if !ok {
		return fmt.Errorf("lifecycle: mark checkpoint %s: %w", symbol, domain.ErrNoActiveTrade)
	}
	var cp *Checkpoint
	switch n {
	case 1:
		cp = &t.Checkpoint1
	case 2:
		cp = &t.Checkpoint2
	default:
		return fmt.Errorf("lifecycle: mark checkpoint %d: %w", n, domain.ErrIllegalTransition)
	}
	if !cp.Reached {
		return fmt.Errorf("lifecycle: mark checkpoint %d on %s before it was reached: %w", n, symbol, domain.ErrIllegalTransition)
	}
	if cp.Evaluated {
		return nil
	}
	cp.Evaluated = true
	cp.Passed = passed
	cp.Reason = reason
	m.logger.Info("checkpoint evaluated",
		slog.String("symbol", symbol),
		slog.Int("checkpoint", n),
		slog.Bool("passed", passed),
		slog.String("reason", reason),
	)
	return nil
}

// CloseTrade confirms the exit, realises P&L, archives the trade and starts
// the cooldown.
func (m *Manager) CloseTrade(symbol string, exitPrice decimal.Decimal, reason string) (Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[symbol]
	if !ok {
		return Trade{}, fmt.Errorf("lifecycle: close %s: %w", symbol, domain.ErrNoActiveTrade)
	}

	pnl := exitPrice.Sub(t.EntryPrice).Mul(t.Qty)
	if t.Side == domain.SideSell {
		pnl = pnl.Neg()
	}
	t.ExitPrice = exitPrice
	t.ExitTime = m.clock.Now()
	t.ExitReason = reason
	t.PnL = pnl
	t.PnLPct = decimal.Zero
	if notional := t.Notional(); !notional.IsZero() {
		t.PnLPct = pnl.Div(notional).Mul(decimal.NewFromInt(100)).Round(4)
	}
	m.transitionLocked(t, StateExitConfirmed, reason)

	closed := t.clone()
	m.history[symbol] = append(m.history[symbol], closed)
	delete(m.active, symbol)
	m.cooldowns[symbol] = m.cfg.CooldownCandles

	m.logger.Info("trade closed",
		slog.String("symbol", symbol),
		slog.String("reason", reason),
		slog.String("pnl", pnl.StringFixed(2)),
		slog.String("pnl_pct", closed.PnLPct.StringFixed(2)),
		slog.Int("cooldown", m.cfg.CooldownCandles),
	)
	return closed.clone(), nil
}

// DecrementCooldowns ticks every positive cooldown down by one.
func (m *Manager) DecrementCooldowns() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s, c := range m.cooldowns {
		if c > 1 {
			m.cooldowns[s] = c - 1
		} else {
			delete(m.cooldowns, s)
		}
	}
}

// Cooldown returns the remaining cooldown for symbol.
func (m *Manager) Cooldown(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldowns[symbol]
}

// CurrentTrade returns a copy of the active trade for symbol.
func (m *Manager) CurrentTrade(symbol string) (Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[symbol]
	if !ok {
		return Trade{}, false
	}
	return t.clone(), true
}

// ActiveTrades returns copies of all active trades ordered by symbol.
func (m *Manager) ActiveTrades() []Trade {
	m.mu.Lock()
	out := make([]Trade, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t.clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// History returns closed trades for symbol, oldest first.
func (m *Manager) History(symbol string) []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[symbol]
	out := make([]Trade, len(h))
	for i, t := range h {
		out[i] = t.clone()
	}
	return out
}

// AllHistory returns every closed trade ordered by exit time.
func (m *Manager) AllHistory() []Trade {
	m.mu.Lock()
	var out []Trade
	for _, h := range m.history {
		for _, t := range h {
			out = append(out, t.clone())
		}
	}
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExitTime.Before(out[j].ExitTime) })
	return out
}

// Stats aggregates closed trades.
type Stats struct {
	TotalTrades int             `json:"total_trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	WinRatePct  float64         `json:"win_rate_pct"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	AvgPnL      decimal.Decimal `json:"avg_pnl"`
	MaxWin      decimal.Decimal `json:"max_win"`
	MaxLoss     decimal.Decimal `json:"max_loss"`
	Active      int             `json:"active"`
}

// Stats returns aggregate results. An empty history yields zeros.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		TotalPnL: decimal.Zero,
		AvgPnL:   decimal.Zero,
		MaxWin:   decimal.Zero,
		MaxLoss:  decimal.Zero,
		Active:   len(m.active),
	}
	for _, h := range m.history {
		for _, t := range h {
			s.TotalTrades++
			s.TotalPnL = s.TotalPnL.Add(t.PnL)
			switch {
			case t.PnL.IsPositive():
				s.Wins++
				s.MaxWin = decimal.Max(s.MaxWin, t.PnL)
			case t.PnL.IsNegative():
				s.Losses++
				s.MaxLoss = decimal.Min(s.MaxLoss, t.PnL)
			}
		}
	}
	if s.TotalTrades > 0 {
		s.WinRatePct = float64(s.Wins) / float64(s.TotalTrades) * 100
		s.AvgPnL = s.TotalPnL.Div(decimal.NewFromInt(int64(s.TotalTrades)))
	}
	return s
}
