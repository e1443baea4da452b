// Package paper simulates order execution in memory. Orders fill in full at
// their limit price as soon as they are placed; market data still comes
// from a real HistoryProvider.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/clock"
	"github.com/alanyoungcy/vgbot/internal/domain"
)

// ErrInsufficientBalance is returned when a BUY costs more than the cash
// balance.
var ErrInsufficientBalance = errors.New("paper: insufficient balance")

// Broker is a simulated domain.Broker. It tracks a quote-currency cash
// balance; BUY debits it and SELL credits it.
type Broker struct {
	mu     sync.Mutex
	clock  clock.Clock
	cash   decimal.Decimal
	orders map[string]order
}

type order struct {
	symbol string
	state  domain.OrderState
}

// NewBroker creates a Broker holding balance in cash.
func NewBroker(balance decimal.Decimal, clk clock.Clock) *Broker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Broker{
		clock:  clk,
		cash:   balance,
		orders: make(map[string]order),
	}
}

// PlaceLimitOrder fills the order immediately at its limit price.
func (b *Broker) PlaceLimitOrder(_ context.Context, o domain.LimitOrder) (string, error) {
	if !o.Side.Valid() {
		return "", fmt.Errorf("paper: invalid side %q", o.Side)
	}
	if !o.Qty.IsPositive() || !o.Price.IsPositive() {
		return "", fmt.Errorf("paper: qty and price must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	notional := o.Qty.Mul(o.Price)
	if o.Side == domain.SideBuy {
		if notional.GreaterThan(b.cash) {
			return "", fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, notional.StringFixed(2), b.cash.StringFixed(2))
		}
		b.cash = b.cash.Sub(notional)
	} else {
		b.cash = b.cash.Add(notional)
	}

	id := uuid.NewString()
	b.orders[id] = order{
		symbol: o.Symbol,
		state: domain.OrderState{
			OrderID:   id,
			Status:    domain.OrderStatusFilled,
			FilledQty: o.Qty,
			AvgPrice:  o.Price,
			UpdatedAt: b.clock.Now(),
		},
	}
	return id, nil
}

// OrderStatus returns the recorded state of an order.
func (b *Broker) OrderStatus(_ context.Context, symbol, orderID string) (domain.OrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok || o.symbol != symbol {
		return domain.OrderState{}, fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	return o.state, nil
}

// CancelOrder is a no-op for filled orders and fails for unknown ones.
func (b *Broker) CancelOrder(_ context.Context, symbol, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok || o.symbol != symbol {
		return fmt.Errorf("paper: cancel %s: %w", orderID, domain.ErrNotFound)
	}
	if o.state.Status.Terminal() {
		return nil
	}
	o.state.Status = domain.OrderStatusCancelled
	o.state.UpdatedAt = b.clock.Now()
	b.orders[orderID] = o
	return nil
}

// Balance returns the current cash balance.
func (b *Broker) Balance() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

var _ domain.Broker = (*Broker)(nil)
