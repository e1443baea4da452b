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

func (r *Runner) maybeEnter(ctx context.Context, symbol string, snap regime.Snapshot, bars []domain.Bar) error {
	if d := r.deps.Analyzer.CanTrade(snap); !d.Allowed {
		r.logger.DebugContext(ctx, "regime not tradeable", slog.String("symbol", symbol), slog.String("reason", d.Reason))
		return nil
	}

	sig, err := r.deps.Signals.EntrySignal(ctx, symbol, bars)
	if err != nil {
		return fmt.Errorf("engine: entry signal %s: %w", symbol, err)
	}
	side, ok := sig.Side()
	if !ok {
		return nil
	}

	if d := r.deps.Lifecycle.CanEnterTrade(symbol); !d.Allowed {
		r.logger.DebugContext(ctx, "entry blocked by lifecycle", slog.String("symbol", symbol), slog.String("reason", d.Reason))
		return nil
	}

	// Workers size against the exposure booked by earlier entries, so sizing
	// through booking runs one symbol at a time.
	r.entryMu.Lock()
	defer r.entryMu.Unlock()

	tk, err := r.deps.Tickers.Ticker(ctx, symbol)
	if err != nil {
		return fmt.Errorf("engine: ticker %s: %w", symbol, err)
	}
	price := decimal.Max(tk.Last, tk.Ask).Mul(decimal.NewFromInt(1).Add(r.cfg.SizingBuffer))
	qty := r.deps.Gate.SuggestQuantity(symbol, price)
	if !qty.IsPositive() {
		r.logger.InfoContext(ctx, "no room to size entry", slog.String("symbol", symbol))
		return nil
	}

	if d := r.deps.Gate.CanOpenPosition(symbol, side, qty, price); !d.Allowed {
		if m := r.deps.Metrics; m != nil {
			m.RiskDenials.WithLabelValues(string(d.Rule)).Inc()
		}
		return nil
	}

	res := r.deps.Pipeline.Execute(ctx, guardrail.Request{
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Intent: guardrail.IntentEntry,
	})
	if !res.Success {
		r.recordRejection(ctx, res)
		if res.FilledQty.IsPositive() {
			r.reconcilePartialEntry(ctx, res)
		}
		return nil
	}
	r.recordExecution(res)

	return r.recordOpen(ctx, res, snap)
}

// reconcilePartialEntry halts trading when a cancelled entry left a
// partial fill at the venue. That quantity is not booked anywhere.
func (r *Runner) reconcilePartialEntry(ctx context.Context, res guardrail.Result) {
	detail := map[string]any{
		"side":       string(res.Side),
		"order_id":   res.OrderID,
		"filled_qty": res.FilledQty.String(),
		"order_qty":  res.Qty.String(),
		"price":      res.FillPrice.String(),
		"intent":     string(res.Intent),
	}
	r.audit(ctx, domain.EventPartialFill, res.Symbol, detail)
	r.notify(ctx, domain.EventPartialFill, "Entry partially filled",
		fmt.Sprintf("%s %s filled %s of %s before cancel", res.Side, res.Symbol, res.FilledQty, res.Qty))
	r.Halt(ctx, fmt.Sprintf("entry %s %s partially filled %s of %s; reconcile venue position",
		res.Side, res.Symbol, res.FilledQty, res.Qty))
}

// recordOpen books a confirmed entry fill in the risk gate and then the
// lifecycle manager. Either refusing is a bookkeeping fault: trading is
// halted so an operator can reconcile the venue position.
func (r *Runner) recordOpen(ctx context.Context, res guardrail.Result, snap regime.Snapshot) error {
	pos, err := r.deps.Gate.OpenPosition(res.Symbol, res.Side, res.FilledQty, res.FillPrice)
	if err != nil {
		r.Halt(ctx, fmt.Sprintf("filled %s %s but risk gate refused: %v", res.Side, res.Symbol, err))
		return fmt.Errorf("engine: record open %s: %w", res.Symbol, err)
	}

	trade, err := r.deps.Lifecycle.OpenTrade(lifecycle.OpenRequest{
		Symbol:           res.Symbol,
		Side:             res.Side,
		EntryPrice:       res.FillPrice,
		Qty:              res.FilledQty,
		RegimePosition:   snap.Position,
		RegimeVolatility: snap.VolatilityPct,
	})
	if err != nil {
		r.Halt(ctx, fmt.Sprintf("filled %s %s but lifecycle refused: %v", res.Side, res.Symbol, err))
		return fmt.Errorf("engine: record open %s: %w", res.Symbol, err)
	}
	for _, step := range []struct {
		state lifecycle.State
		note  string
	}{
		{lifecycle.StateEntryPending, "order " + res.OrderID},
		{lifecycle.StateOpen, "filled at " + res.FillPrice.String()},
	} {
		if err := r.deps.Lifecycle.Advance(res.Symbol, step.state, step.note); err != nil {
			return fmt.Errorf("engine: record open %s: %w", res.Symbol, err)
		}
	}

	detail := map[string]any{
		"trade_id":    trade.ID,
		"position_id": pos.ID,
		"side":        string(res.Side),
		"qty":         res.FilledQty.String(),
		"price":       res.FillPrice.String(),
		"order_id":    res.OrderID,
		"regime_pos":  snap.Position,
	}
	r.audit(ctx, domain.EventTradeOpened, res.Symbol, detail)
	r.emit(ctx, domain.ChannelTrades, domain.Event{Kind: domain.EventTradeOpened, Symbol: res.Symbol, Detail: detail})
	r.notify(ctx, domain.EventTradeOpened, "Trade opened",
		fmt.Sprintf("%s %s %s @ %s", res.Side, res.FilledQty, res.Symbol, res.FillPrice))

	r.logger.InfoContext(ctx, "trade opened",
		slog.String("symbol", res.Symbol),
		slog.String("side", string(res.Side)),
		slog.String("qty", res.FilledQty.String()),
		slog.String("price", res.FillPrice.String()),
	)
	return nil
}
