package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/domain"
	"github.com/alanyoungcy/vgbot/internal/guardrail"
	"github.com/alanyoungcy/vgbot/internal/lifecycle"
	"github.com/alanyoungcy/vgbot/internal/regime"
)

// manage advances checkpoints for an open trade and closes it on the first
// exit trigger. A trade left EXITING by a failed exit is retried.
func (r *Runner) manage(ctx context.Context, trade lifecycle.Trade, snap regime.Snapshot, bars []domain.Bar) error {
	symbol := trade.Symbol

	if trade.State == lifecycle.StateExiting {
		reason := "retry exit"
		if n := len(trade.Transitions); n > 0 && trade.Transitions[n-1].Note != "" {
			reason = trade.Transitions[n-1].Note
		}
		_, err := r.exit(ctx, trade, reason)
		return err
	}
	if !trade.State.InMarket() {
		return nil
	}

	candles := int(r.clock.Now().Sub(trade.EntryTime) / r.cfg.BarDuration)
	var reason string
	for _, cp := range r.deps.Lifecycle.AdvanceCheckpoint(symbol, candles) {
		if why := r.evaluateCheckpoint(trade, cp, snap, bars); why != "" && reason == "" {
			reason = why
		}
	}

	if reason == "" {
		if d := r.deps.Analyzer.ShouldExitOnExhaustion(snap); d.Allowed {
			reason = d.Reason
		}
	}
	if reason == "" {
		exit, err := r.deps.Signals.ExitSignal(ctx, symbol, bars, domain.PositionView{
			Symbol:     symbol,
			Side:       trade.Side,
			EntryPrice: trade.EntryPrice,
			Qty:        trade.Qty,
		})
		if err != nil {
			return fmt.Errorf("engine: exit signal %s: %w", symbol, err)
		}
		if exit {
			reason = "strategy exit"
		}
	}
	if reason == "" {
		return nil
	}
	_, err := r.exit(ctx, trade, reason)
	return err
}

// evaluateCheckpoint marks the checkpoint and returns an exit reason when it
// failed. Checkpoint 1 requires the price to have moved in the trade's
// favour; checkpoint 2 fails on range exhaustion.
func (r *Runner) evaluateCheckpoint(trade lifecycle.Trade, cp lifecycle.State, snap regime.Snapshot, bars []domain.Bar) string {
	var (
		n      int
		passed = true
		reason string
	)
	switch cp {
	case lifecycle.StateCheckpoint1:
		n = 1
		if len(bars) == 0 {
			reason = "no price data"
			break
		}
		last := bars[len(bars)-1].Close
		entry := trade.EntryPrice.InexactFloat64()
		favourable := last > entry
		if trade.Side == domain.SideSell {
			favourable = last < entry
		}
		passed = favourable
		reason = fmt.Sprintf("close %.8g vs entry %.8g", last, entry)
	case lifecycle.StateCheckpoint2:
		n = 2
		if d := r.deps.Analyzer.ShouldExitOnExhaustion(snap); d.Allowed {
			passed = false
			reason = d.Reason
		} else {
			reason = fmt.Sprintf("volatility %.2f%%", snap.VolatilityPct)
		}
	default:
		return ""
	}

	if err := r.deps.Lifecycle.MarkCheckpoint(trade.Symbol, n, passed, reason); err != nil {
		r.logger.Error("mark checkpoint failed", slog.String("symbol", trade.Symbol), slog.String("error", err.Error()))
	}
	if passed {
		return ""
	}
	return fmt.Sprintf("checkpoint %d failed: %s", n, reason)
}

// partialExit accumulates exit fills left behind by cancelled orders.
type partialExit struct {
	qty      decimal.Decimal
	notional decimal.Decimal
}

func (p partialExit) add(qty, price decimal.Decimal) partialExit {
	return partialExit{qty: p.qty.Add(qty), notional: p.notional.Add(qty.Mul(price))}
}

func (r *Runner) partialFor(tradeID string) partialExit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partials[tradeID]
}

// exit sends the closing order for whatever quantity is still held and, on
// fill, books the close in the risk gate and the lifecycle manager at the
// average exit price. A failed order leaves the trade EXITING.
func (r *Runner) exit(ctx context.Context, trade lifecycle.Trade, reason string) (guardrail.Result, error) {
	symbol := trade.Symbol
	if err := r.deps.Lifecycle.Advance(symbol, lifecycle.StateExiting, reason); err != nil {
		return guardrail.Result{}, fmt.Errorf("engine: exit %s: %w", symbol, err)
	}

	done := r.partialFor(trade.ID)
	res := r.deps.Pipeline.Execute(ctx, guardrail.Request{
		Symbol: symbol,
		Side:   trade.Side.Opposite(),
		Qty:    trade.Qty.Sub(done.qty),
		Intent: guardrail.IntentExit,
	})
	if !res.Success {
		r.recordRejection(ctx, res)
		if res.FilledQty.IsPositive() {
			r.recordPartialExit(ctx, trade, done, res)
		}
		r.audit(ctx, domain.EventExitFailed, symbol, map[string]any{"reason": reason, "stage": string(res.Stage), "detail": res.Reason})
		r.notify(ctx, domain.EventExitFailed, "Exit failed",
			fmt.Sprintf("%s: %s (%s)", symbol, res.Reason, reason))
		return res, nil
	}
	r.recordExecution(res)

	exitPrice := res.FillPrice
	if done.qty.IsPositive() {
		total := done.add(res.FilledQty, res.FillPrice)
		exitPrice = total.notional.Div(total.qty)
	}
	r.mu.Lock()
	delete(r.partials, trade.ID)
	r.mu.Unlock()

	pos, err := r.deps.Gate.ClosePosition(symbol, exitPrice, reason)
	if err != nil {
		r.Halt(ctx, fmt.Sprintf("closed %s but risk gate refused: %v", symbol, err))
		return res, fmt.Errorf("engine: record close %s: %w", symbol, err)
	}
	closed, err := r.deps.Lifecycle.CloseTrade(symbol, exitPrice, reason)
	if err != nil {
		r.Halt(ctx, fmt.Sprintf("closed %s but lifecycle refused: %v", symbol, err))
		return res, fmt.Errorf("engine: record close %s: %w", symbol, err)
	}

	if m := r.deps.Metrics; m != nil {
		m.ObserveTrade(closed.PnL)
	}
	r.persistClose(ctx, closed.Record(), pos.Record())

	detail := map[string]any{
		"trade_id": closed.ID,
		"side":     string(closed.Side),
		"exit":     exitPrice.String(),
		"pnl":      closed.PnL.StringFixed(2),
		"pnl_pct":  closed.PnLPct.StringFixed(2),
		"reason":   reason,
	}
	r.audit(ctx, domain.EventTradeClosed, symbol, detail)
	r.emit(ctx, domain.ChannelTrades, domain.Event{Kind: domain.EventTradeClosed, Symbol: symbol, Detail: detail})
	r.notify(ctx, domain.EventTradeClosed, "Trade closed",
		fmt.Sprintf("%s %s pnl %s (%s%%): %s", closed.Side, symbol, closed.PnL.StringFixed(2), closed.PnLPct.StringFixed(2), reason))
	return res, nil
}

// recordPartialExit remembers the quantity a cancelled exit did fill so the
// retry only sells what is still held.
func (r *Runner) recordPartialExit(ctx context.Context, trade lifecycle.Trade, done partialExit, res guardrail.Result) {
	total := done.add(res.FilledQty, res.FillPrice)
	r.mu.Lock()
	r.partials[trade.ID] = total
	r.mu.Unlock()

	remaining := trade.Qty.Sub(total.qty)
	r.audit(ctx, domain.EventPartialFill, trade.Symbol, map[string]any{
		"trade_id":   trade.ID,
		"order_id":   res.OrderID,
		"filled_qty": res.FilledQty.String(),
		"price":      res.FillPrice.String(),
		"remaining":  remaining.String(),
		"intent":     string(res.Intent),
	})
	r.notify(ctx, domain.EventPartialFill, "Exit partially filled",
		fmt.Sprintf("%s filled %s of %s; %s still held", trade.Symbol, res.FilledQty, res.Qty, remaining))
	r.logger.WarnContext(ctx, "exit partially filled",
		slog.String("symbol", trade.Symbol),
		slog.String("filled_qty", res.FilledQty.String()),
		slog.String("remaining", remaining.String()),
	)
}

// Liquidate closes the open trade for symbol immediately.
func (r *Runner) Liquidate(ctx context.Context, symbol, reason string) (guardrail.Result, error) {
	if r.deps.Locks != nil {
		unlock, err := r.deps.Locks.Acquire(ctx, "symbol:"+symbol, r.cfg.LockTTL)
		if err != nil {
			return guardrail.Result{}, fmt.Errorf("engine: liquidate %s: %w", symbol, err)
		}
		defer unlock()
	}
	trade, ok := r.deps.Lifecycle.CurrentTrade(symbol)
	if !ok {
		return guardrail.Result{}, fmt.Errorf("engine: liquidate %s: %w", symbol, domain.ErrNoActiveTrade)
	}
	if reason == "" {
		reason = "operator liquidation"
	}
	return r.exit(ctx, trade, reason)
}
