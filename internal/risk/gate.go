// Package risk implements the portfolio risk gate: per-tier position caps,
// portfolio exposure limits and the loss circuit breakers.
package risk

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

var hundred = decimal.NewFromInt(100)

// Config holds the gate parameters. Percentages are in percent units.
type Config struct {
	// StartingBalance seeds the account balance. Default 10000.
	StartingBalance decimal.Decimal
	// PortfolioMaxRiskPct caps total open notional as a percentage of
	// balance. Default 3.
	PortfolioMaxRiskPct decimal.Decimal
	// MaxOpenPositions caps concurrently open positions. Default 6.
	MaxOpenPositions int
	// MaxConsecutiveLosses trips the loss-streak breaker. Default 5.
	MaxConsecutiveLosses int
	// MaxDailyLossPct trips the daily-loss breaker. Default 5.
	MaxDailyLossPct decimal.Decimal
	// Tiers supplies per-asset caps.
	Tiers domain.TierTable
}

// DefaultConfig returns the documented defaults with the built-in tiers.
func DefaultConfig() Config {
	return Config{
		StartingBalance:      decimal.NewFromInt(10000),
		PortfolioMaxRiskPct:  decimal.NewFromInt(3),
		MaxOpenPositions:     6,
		MaxConsecutiveLosses: 5,
		MaxDailyLossPct:      decimal.NewFromInt(5),
		Tiers:                domain.DefaultTierTable(),
	}
}

// Rule identifies which gate check produced a denial.
type Rule string

const (
	RuleNone              Rule = ""
	RuleInvalidOrder      Rule = "invalid_order"
	RuleHalted            Rule = "halted"
	RulePositionExists    Rule = "position_exists"
	RuleConsecutiveLosses Rule = "consecutive_losses"
	RuleDailyLoss         Rule = "daily_loss"
	RuleMaxPositions      Rule = "max_positions"
	RuleTierNotional      Rule = "tier_notional"
	RuleTierRisk          Rule = "tier_risk"
	RulePortfolioRisk     Rule = "portfolio_risk"
	RuleRestrictedSide    Rule = "restricted_side"
)

// Decision is the gate's answer. Allowed is false whenever Reason is set.
type Decision struct {
	Allowed bool
	Rule    Rule
	Reason  string
}

func deny(rule Rule, format string, args ...any) Decision {
	return Decision{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Position is an open position owned by the gate.
type Position struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       domain.Side     `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Notional   decimal.Decimal `json:"notional"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// ClosedPosition is a position after ClosePosition.
type ClosedPosition struct {
	Position
	ExitPrice decimal.Decimal `json:"exit_price"`
	PnL       decimal.Decimal `json:"pnl"`
	Reason    string          `json:"reason"`
	ClosedAt  time.Time       `json:"closed_at"`
}

// Record converts the closed position to its persisted form.
func (c ClosedPosition) Record() domain.PositionRecord {
	return domain.PositionRecord{
		ID:          c.ID,
		Symbol:      c.Symbol,
		Side:        c.Side,
		Qty:         c.Qty,
		EntryPrice:  c.EntryPrice,
		ExitPrice:   c.ExitPrice,
		Notional:    c.Notional,
		PnL:         c.PnL,
		OpenedAt:    c.OpenedAt,
		ClosedAt:    c.ClosedAt,
		CloseReason: c.Reason,
	}
}

// Gate tracks balance, open positions and loss counters behind one mutex.
type Gate struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu                sync.Mutex
	balance           decimal.Decimal
	dayStartBalance   decimal.Decimal
	dailyLoss         decimal.Decimal
	day               string
	consecutiveLosses int
	halted            bool
	haltReason        string
	open              map[string]Position
	closed            []ClosedPosition
}

// NewGate creates a Gate. A nil clock uses the wall clock.
func NewGate(cfg Config, clk clock.Clock, logger *slog.Logger) *Gate {
	if clk == nil {
		clk = clock.Real{}
	}
	g := &Gate{
		cfg:             cfg,
		clock:           clk,
		logger:          logger.With(slog.String("component", "risk")),
		balance:         cfg.StartingBalance,
		dayStartBalance: cfg.StartingBalance,
		open:            make(map[string]Position),
	}
	g.day = dayKey(clk.Now())
	return g
}

func dayKey(t time.Time) string { return t.UTC().Format(time.DateOnly) }

// CanOpenPosition evaluates the gate rules in order and stops at the first
// failure. It may reset the daily counters when the UTC day has rolled over.
func (g *Gate) CanOpenPosition(symbol string, side domain.Side, qty, price decimal.Decimal) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.evaluateLocked(symbol, side, qty, price)
	if !d.Allowed {
		g.logger.Info("entry denied",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
			slog.String("rule", string(d.Rule)),
			slog.String("reason", d.Reason),
		)
	}
	return d
}

func (g *Gate) evaluateLocked(symbol string, side domain.Side, qty, price decimal.Decimal) Decision {
	if !side.Valid() || !qty.IsPositive() || !price.IsPositive() {
		return deny(RuleInvalidOrder, "invalid order: side=%q qty=%s price=%s", side, qty, price)
	}
	if g.halted {
		return deny(RuleHalted, "trading halted: %s", g.haltReason)
	}
	g.rolloverLocked()

	if _, ok := g.open[symbol]; ok {
		return deny(RulePositionExists, "position already open for %s", symbol)
	}
	if g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		return deny(RuleConsecutiveLosses, "max consecutive losses reached (%d/%d)",
			g.consecutiveLosses, g.cfg.MaxConsecutiveLosses)
	}
	if !g.dayStartBalance.IsPositive() {
		return deny(RuleDailyLoss, "daily loss limit: day-start balance %s is not positive", g.dayStartBalance)
	}
	if lossPct := g.dailyLoss.Div(g.dayStartBalance).Mul(hundred); lossPct.GreaterThanOrEqual(g.cfg.MaxDailyLossPct) {
		return deny(RuleDailyLoss, "daily loss limit reached (%s%% >= %s%%)",
			lossPct.StringFixed(2), g.cfg.MaxDailyLossPct)
	}
	if len(g.open) >= g.cfg.MaxOpenPositions {
		return deny(RuleMaxPositions, "max open positions reached (%d/%d)", len(g.open), g.cfg.MaxOpenPositions)
	}

	tier := g.cfg.Tiers.ForSymbol(symbol)
	notional := qty.Mul(price)
	if notional.GreaterThan(tier.MaxPositionNotional) {
		return deny(RuleTierNotional, "notional %s exceeds %s tier cap %s",
			notional.StringFixed(2), tier.Asset, tier.MaxPositionNotional.StringFixed(2))
	}
	if riskCap := g.balance.Mul(tier.MaxRiskPct).Div(hundred); notional.GreaterThan(riskCap) {
		return deny(RuleTierRisk, "notional %s exceeds %s risk cap %s (%s%% of %s)",
			notional.StringFixed(2), tier.Asset, riskCap.StringFixed(2), tier.MaxRiskPct, g.balance.StringFixed(2))
	}
	exposure := g.exposureLocked().Add(notional)
	if portfolioCap := g.portfolioCapLocked(); exposure.GreaterThan(portfolioCap) {
		return deny(RulePortfolioRisk, "portfolio exposure %s exceeds cap %s",
			exposure.StringFixed(2), portfolioCap.StringFixed(2))
	}
	if tier.Restricted && side == domain.SideSell {
		return deny(RuleRestrictedSide, "%s is entry-only: %s not allowed", tier.Asset, side)
	}
	return Decision{Allowed: true}
}

// rolloverLocked resets the daily counters and the loss streak when the UTC
// day changed since the last check. The halt flag is left alone.
func (g *Gate) rolloverLocked() {
	today := dayKey(g.clock.Now())
	if today == g.day {
		return
	}
	g.logger.Info("daily counters reset",
		slog.String("previous_day", g.day),
		slog.String("day", today),
		slog.String("daily_loss", g.dailyLoss.String()),
		slog.Int("consecutive_losses", g.consecutiveLosses),
	)
	g.day = today
	g.dailyLoss = decimal.Zero
	g.dayStartBalance = g.balance
	g.consecutiveLosses = 0
}

func (g *Gate) exposureLocked() decimal.Decimal {
	total := decimal.Zero
	for _, p := range g.open {
		total = total.Add(p.Notional)
	}
	return total
}

func (g *Gate) portfolioCapLocked() decimal.Decimal {
	return g.balance.Mul(g.cfg.PortfolioMaxRiskPct).Div(hundred)
}

// OpenPosition re-runs the gate and records the position. A denial returns
// an error wrapping domain.ErrEntryDenied (or domain.ErrPositionExists) and
// leaves state untouched.
func (g *Gate) OpenPosition(symbol string, side domain.Side, qty, price decimal.Decimal) (Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if d := g.evaluateLocked(symbol, side, qty, price); !d.Allowed {
		if d.Rule == RulePositionExists {
			return Position{}, fmt.Errorf("risk: open %s: %w", symbol, domain.ErrPositionExists)
		}
		return Position{}, fmt.Errorf("risk: open %s: %w: %s", symbol, domain.ErrEntryDenied, d.Reason)
	}
	p := Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		EntryPrice: price,
		Notional:   qty.Mul(price),
		OpenedAt:   g.clock.Now(),
	}
	g.open[symbol] = p
	g.logger.Info("position opened",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("qty", qty.String()),
		slog.String("price", price.String()),
		slog.String("notional", p.Notional.StringFixed(2)),
	)
	return p, nil
}

// ClosePosition realises P&L, updates the balance and loss counters and
// archives the position.
func (g *Gate) ClosePosition(symbol string, exitPrice decimal.Decimal, reason string) (ClosedPosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.open[symbol]
	if !ok {
		return ClosedPosition{}, fmt.Errorf("risk: close %s: %w", symbol, domain.ErrNoOpenPosition)
	}
	g.rolloverLocked()

	pnl := exitPrice.Sub(p.EntryPrice).Mul(p.Qty)
	if p.Side == domain.SideSell {
		pnl = pnl.Neg()
	}
	g.balance = g.balance.Add(pnl)
	if pnl.IsNegative() {
		g.consecutiveLosses++
		g.dailyLoss = g.dailyLoss.Add(pnl.Neg())
	} else {
		g.consecutiveLosses = 0
	}

	c := ClosedPosition{
		Position:  p,
		ExitPrice: exitPrice,
		PnL:       pnl,
		Reason:    reason,
		ClosedAt:  g.clock.Now(),
	}
	g.closed = append(g.closed, c)
	delete(g.open, symbol)

	g.logger.Info("position closed",
		slog.String("symbol", symbol),
		slog.String("pnl", pnl.StringFixed(2)),
		slog.String("balance", g.balance.StringFixed(2)),
		slog.Int("consecutive_losses", g.consecutiveLosses),
		slog.String("reason", reason),
	)
	return c, nil
}

// SuggestQuantity returns the largest quantity at price that satisfies the
// tier notional, tier risk and portfolio caps. It returns zero when nothing
// fits.
func (g *Gate) SuggestQuantity(symbol string, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	tier := g.cfg.Tiers.ForSymbol(symbol)
	limit := decimal.Min(
		tier.MaxPositionNotional,
		g.balance.Mul(tier.MaxRiskPct).Div(hundred),
		g.portfolioCapLocked().Sub(g.exposureLocked()),
	)
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return limit.Div(price).Truncate(8)
}

// HaltTrading sets the sticky halt flag.
func (g *Gate) HaltTrading(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.halted = true
	g.haltReason = reason
	g.logger.Warn("trading halted", slog.String("reason", reason))
}

// ResumeTrading clears the halt flag.
func (g *Gate) ResumeTrading() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.halted {
		g.logger.Warn("trading resumed", slog.String("previous_reason", g.haltReason))
	}
	g.halted = false
	g.haltReason = ""
}

// Halted reports the halt flag and its reason.
func (g *Gate) Halted() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted, g.haltReason
}

// ResetLossStreak clears the consecutive-loss breaker.
func (g *Gate) ResetLossStreak() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveLosses = 0
}

// Position returns the open position for symbol.
func (g *Gate) Position(symbol string) (Position, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.open[symbol]
	return p, ok
}

// History returns closed positions, oldest first.
func (g *Gate) History() []ClosedPosition {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ClosedPosition(nil), g.closed...)
}

// Exposure is a reporting snapshot of open risk.
type Exposure struct {
	Balance    decimal.Decimal            `json:"balance"`
	Total      decimal.Decimal            `json:"total"`
	Pct        decimal.Decimal            `json:"pct"`
	MaxAllowed decimal.Decimal            `json:"max_allowed"`
	PerAsset   map[string]decimal.Decimal `json:"per_asset"`
	Positions  []Position                 `json:"positions"`
}

// CurrentExposure reports open exposure. It is never used for gating.
func (g *Gate) CurrentExposure() Exposure {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := Exposure{
		Balance:    g.balance,
		Total:      g.exposureLocked(),
		MaxAllowed: g.portfolioCapLocked(),
		PerAsset:   make(map[string]decimal.Decimal, len(g.open)),
		Positions:  make([]Position, 0, len(g.open)),
	}
	if g.balance.IsPositive() {
		e.Pct = e.Total.Div(g.balance).Mul(hundred).Round(4)
	}
	for _, p := range g.open {
		asset := domain.AssetOf(p.Symbol)
		e.PerAsset[asset] = e.PerAsset[asset].Add(p.Notional)
		e.Positions = append(e.Positions, p)
	}
	sort.Slice(e.Positions, func(i, j int) bool { return e.Positions[i].Symbol < e.Positions[j].Symbol })
	return e
}

// Stats summarises the account.
type Stats struct {
	Balance           decimal.Decimal `json:"balance"`
	StartingBalance   decimal.Decimal `json:"starting_balance"`
	DayStartBalance   decimal.Decimal `json:"day_start_balance"`
	DailyLoss         decimal.Decimal `json:"daily_loss"`
	TotalPnL          decimal.Decimal `json:"total_pnl"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	OpenPositions     int             `json:"open_positions"`
	ClosedPositions   int             `json:"closed_positions"`
	Wins              int             `json:"wins"`
	Losses            int             `json:"losses"`
	BreakEven         int             `json:"break_even"`
	Halted            bool            `json:"halted"`
	HaltReason        string          `json:"halt_reason,omitempty"`
}

// Stats returns account counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Stats{
		Balance:           g.balance,
		StartingBalance:   g.cfg.StartingBalance,
		DayStartBalance:   g.dayStartBalance,
		DailyLoss:         g.dailyLoss,
		TotalPnL:          decimal.Zero,
		ConsecutiveLosses: g.consecutiveLosses,
		OpenPositions:     len(g.open),
		ClosedPositions:   len(g.closed),
		Halted:            g.halted,
		HaltReason:        g.haltReason,
	}
	for _, c := range g.closed {
		s.TotalPnL = s.TotalPnL.Add(c.PnL)
		switch {
		case c.PnL.IsPositive():
			s.Wins++
		case c.PnL.IsNegative():
			s.Losses++
		default:
			s.BreakEven++
		}
	}
	return s
}
