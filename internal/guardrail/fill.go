package guardrail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// awaitFill polls the order until it fills, reaches another terminal status
// or the timeout elapses. Anything short of FILLED, including a partial fill,
// is cancelled and reported as a failure.
func (p *Pipeline) awaitFill(ctx context.Context, res Result) Result {
	deadline := p.clock.Now().Add(p.cfg.FillTimeout)
	var last domain.OrderState

	for {
		st, err := p.broker.OrderStatus(ctx, res.Symbol, res.OrderID)
		if err != nil {
			p.cancel(ctx, res)
			return p.reject(ctx, res, StageOrderStatus, fmt.Sprintf("order %s status: %v", res.OrderID, err))
		}
		last = st

		switch {
		case st.Status == domain.OrderStatusFilled:
			res.FilledQty = st.FilledQty
			if !res.FilledQty.IsPositive() {
				res.FilledQty = res.Qty
			}
			res.FillPrice = st.AvgPrice
			if !res.FillPrice.IsPositive() {
				res.FillPrice = res.LimitPrice
			}
			return p.accept(ctx, res)
		case st.Status.Terminal():
			res = partialFill(res, st)
			return p.reject(ctx, res, StageOrderTerminal, fmt.Sprintf("order %s %s", res.OrderID, st.Status))
		}

		if !p.clock.Now().Before(deadline) {
			break
		}
		if err := p.clock.Sleep(ctx, p.cfg.FillPollInterval); err != nil {
			break
		}
	}

	p.cancel(ctx, res)
	res = partialFill(res, last)
	return p.reject(ctx, res, StageNoFill, fmt.Sprintf("no fill within %s (filled %s of %s)",
		p.cfg.FillTimeout, last.FilledQty, res.Qty))
}

// partialFill copies what a failed order did fill onto res. The average
// price falls back to the limit price when the venue omits it.
func partialFill(res Result, st domain.OrderState) Result {
	res.FilledQty = st.FilledQty
	if res.FilledQty.IsPositive() {
		res.FillPrice = st.AvgPrice
		if !res.FillPrice.IsPositive() {
			res.FillPrice = res.LimitPrice
		}
	}
	return res
}

// cancel uses a context detached from the caller's cancellation so an
// expired cycle still withdraws the resting order.
func (p *Pipeline) cancel(ctx context.Context, res Result) {
	if err := p.broker.CancelOrder(context.WithoutCancel(ctx), res.Symbol, res.OrderID); err != nil {
		p.logger.ErrorContext(ctx, "cancel failed",
			slog.String("symbol", res.Symbol),
			slog.String("order_id", res.OrderID),
			slog.String("error", err.Error()),
		)
	}
}
