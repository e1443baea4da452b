// Package guardrail runs every order through a fixed chain of pre-trade
// checks, places it as a limit order and waits a bounded time for the fill.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/clock"
	"github.com/alanyoungcy/vgbot/internal/domain"
)

// Stage names the guardrail that rejected an order.
type Stage string

const (
	StageNone           Stage = ""
	StageWhitelist      Stage = "whitelist"
	StageSpread         Stage = "spread"
	StageRestrictedSide Stage = "restricted_side"
	StageDuplicate      Stage = "duplicate"
	StageLimitPrice     Stage = "limit_price"
	StageMinNotional    Stage = "min_notional"
	StagePlacement      Stage = "placement"
	StageOrderStatus    Stage = "order_status"
	StageOrderTerminal  Stage = "order_terminal"
	StageNoFill         Stage = "no_fill"
)

// Intent says whether an order opens or closes a position.
type Intent string

const (
	IntentEntry Intent = "entry"
	IntentExit  Intent = "exit"
)

// Request is one order to run through the pipeline.
type Request struct {
	Symbol string
	Side   domain.Side
	Qty    decimal.Decimal
	Intent Intent
}

// Result is the outcome of Execute. Execution failures are reported here,
// never as errors.
type Result struct {
	Success    bool            `json:"success"`
	Stage      Stage           `json:"stage,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       domain.Side     `json:"side"`
	Intent     Intent          `json:"intent"`
	Qty        decimal.Decimal `json:"qty"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	OrderID    string          `json:"order_id,omitempty"`
	FilledQty  decimal.Decimal `json:"filled_qty"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	At         time.Time       `json:"at"`
}

// Rejection returns the rejection row for a failed result.
func (r Result) Rejection() Rejection {
	return Rejection{
		Symbol: r.Symbol,
		Side:   r.Side,
		Qty:    r.Qty,
		Intent: r.Intent,
		Stage:  r.Stage,
		Reason: r.Reason,
		At:     r.At,
	}
}

// Rejection is one failed execution.
type Rejection struct {
	Symbol string          `json:"symbol"`
	Side   domain.Side     `json:"side"`
	Qty    decimal.Decimal `json:"qty"`
	Intent Intent          `json:"intent"`
	Stage  Stage           `json:"stage"`
	Reason string          `json:"reason"`
	At     time.Time       `json:"at"`
}

// Record converts the rejection to its persisted form.
func (r Rejection) Record() domain.RejectionRecord {
	return domain.RejectionRecord{
		Symbol: r.Symbol,
		Side:   r.Side,
		Qty:    r.Qty,
		Stage:  string(r.Stage),
		Reason: r.Reason,
		At:     r.At,
	}
}

// Execution is one confirmed fill.
type Execution struct {
	Symbol  string          `json:"symbol"`
	Side    domain.Side     `json:"side"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	OrderID string          `json:"order_id"`
	Intent  Intent          `json:"intent"`
	At      time.Time       `json:"at"`
}

// Pipeline is the execution guardrail chain. Its history and duplicate
// stamps are owned by the instance.
type Pipeline struct {
	cfg       Config
	tickers   domain.TickerProvider
	broker    domain.Broker
	clock     clock.Clock
	dedup     *Dedup
	whitelist map[string]struct{}
	logger    *slog.Logger

	mu         sync.Mutex
	executions []Execution
	rejections []Rejection
}

// NewPipeline creates a Pipeline. A nil clock uses the wall clock.
func NewPipeline(cfg Config, tickers domain.TickerProvider, broker domain.Broker, clk clock.Clock, logger *slog.Logger) *Pipeline {
	if clk == nil {
		clk = clock.Real{}
	}
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, s := range cfg.Whitelist {
		wl[domain.NormalizeSymbol(s)] = struct{}{}
	}
	return &Pipeline{
		cfg:       cfg,
		tickers:   tickers,
		broker:    broker,
		clock:     clk,
		dedup:     NewDedup(cfg.DuplicateWindow, clk),
		whitelist: wl,
		logger:    logger.With(slog.String("component", "guardrail")),
	}
}

// Execute runs req through every stage in order and stops at the first
// rejection. Only the fill wait blocks.
func (p *Pipeline) Execute(ctx context.Context, req Request) Result {
	if req.Intent == "" {
		req.Intent = IntentEntry
	}
	res := Result{
		Symbol: req.Symbol,
		Side:   req.Side,
		Intent: req.Intent,
		Qty:    req.Qty,
	}

	key := domain.NormalizeSymbol(req.Symbol)
	p.dedup.Cleanup()

	// 1. whitelist
	if _, ok := p.whitelist[key]; !ok || !req.Side.Valid() {
		return p.reject(ctx, res, StageWhitelist, fmt.Sprintf("%s %q not tradeable", req.Symbol, req.Side))
	}
	tier := p.cfg.Tiers.ForSymbol(req.Symbol)

	// 2. spread
	tk, err := p.tickers.Ticker(ctx, req.Symbol)
	if err != nil {
		return p.reject(ctx, res, StageSpread, fmt.Sprintf("ticker unavailable: %v", err))
	}
	if !tk.Bid.IsPositive() || !tk.Ask.IsPositive() {
		return p.reject(ctx, res, StageSpread, fmt.Sprintf("invalid quote bid=%s ask=%s", tk.Bid, tk.Ask))
	}
	if tk.Bid.GreaterThan(tk.Ask) {
		return p.reject(ctx, res, StageSpread, fmt.Sprintf("crossed quote bid=%s ask=%s", tk.Bid, tk.Ask))
	}
	if spread := tk.Ask.Sub(tk.Bid).Div(tk.Ask); spread.GreaterThan(tier.SpreadLimit) {
		return p.reject(ctx, res, StageSpread, fmt.Sprintf("spread %s exceeds limit %s",
			spread.StringFixed(6), tier.SpreadLimit))
	}

	// 3. restricted side, entries only
	if req.Intent == IntentEntry && tier.Restricted && req.Side == domain.SideSell {
		return p.reject(ctx, res, StageRestrictedSide, fmt.Sprintf("%s is entry-only: %s not allowed", tier.Asset, req.Side))
	}

	// 4. duplicate window
	if recent, age := p.dedup.Recent(key); recent {
		return p.reject(ctx, res, StageDuplicate, fmt.Sprintf("order submitted %s ago (window %s)",
			age.Round(time.Millisecond), p.cfg.DuplicateWindow))
	}

	// 5. limit price
	var limit decimal.Decimal
	if req.Side == domain.SideBuy {
		limit = tk.Bid.Mul(p.cfg.BuyPriceFactor)
	} else {
		limit = tk.Ask.Mul(p.cfg.SellPriceFactor)
	}
	if !limit.IsPositive() {
		return p.reject(ctx, res, StageLimitPrice, fmt.Sprintf("limit price %s not positive", limit))
	}
	res.LimitPrice = limit

	// 6. minimum notional
	if notional := req.Qty.Mul(limit); notional.LessThan(tier.MinNotional) || !req.Qty.IsPositive() {
		return p.reject(ctx, res, StageMinNotional, fmt.Sprintf("notional %s below minimum %s",
			notional.StringFixed(2), tier.MinNotional.StringFixed(2)))
	}

	// 7. placement
	if !p.dedup.Claim(key) {
		return p.reject(ctx, res, StageDuplicate, "concurrent order for symbol")
	}
	orderID, err := p.broker.PlaceLimitOrder(ctx, domain.LimitOrder{
		Symbol: req.Symbol,
		Side:   req.Side,
		Qty:    req.Qty,
		Price:  limit,
	})
	if err != nil {
		return p.reject(ctx, res, StagePlacement, fmt.Sprintf("place order: %v", err))
	}
	res.OrderID = orderID

	// 8. fill confirmation
	return p.awaitFill(ctx, res)
}

func (p *Pipeline) reject(ctx context.Context, res Result, stage Stage, reason string) Result {
	res.Success = false
	res.Stage = stage
	res.Reason = reason
	res.At = p.clock.Now()

	p.mu.Lock()
	p.rejections = append(p.rejections, res.Rejection())
	p.mu.Unlock()

	p.logger.WarnContext(ctx, "order rejected",
		slog.String("symbol", res.Symbol),
		slog.String("side", string(res.Side)),
		slog.String("intent", string(res.Intent)),
		slog.String("stage", string(stage)),
		slog.String("reason", reason),
	)
	return res
}

func (p *Pipeline) accept(ctx context.Context, res Result) Result {
	res.Success = true
	res.At = p.clock.Now()

	p.mu.Lock()
	p.executions = append(p.executions, Execution{
		Symbol:  res.Symbol,
		Side:    res.Side,
		Qty:     res.FilledQty,
		Price:   res.FillPrice,
		OrderID: res.OrderID,
		Intent:  res.Intent,
		At:      res.At,
	})
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "order filled",
		slog.String("symbol", res.Symbol),
		slog.String("side", string(res.Side)),
		slog.String("intent", string(res.Intent)),
		slog.String("order_id", res.OrderID),
		slog.String("qty", res.FilledQty.String()),
		slog.String("price", res.FillPrice.String()),
	)
	return res
}

// Reset clears execution history and duplicate stamps.
func (p *Pipeline) Reset() {
	p.dedup.Reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executions = nil
	p.rejections = nil
}

// Rejections returns rejections for symbol, or all when symbol is empty.
func (p *Pipeline) Rejections(symbol string) []Rejection {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Rejection
	for _, r := range p.rejections {
		if symbol == "" || r.Symbol == symbol {
			out = append(out, r)
		}
	}
	return out
}

// Executions returns every confirmed fill, oldest first.
func (p *Pipeline) Executions() []Execution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Execution(nil), p.executions...)
}
