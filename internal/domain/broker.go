package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// HistoryProvider returns OHLCV history, oldest bar first.
type HistoryProvider interface {
	Bars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)
}

// TickerProvider returns the current top of book.
type TickerProvider interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
}

// LimitOrder is a request to rest a limit order on the venue.
type LimitOrder struct {
	Symbol string
	Side   Side
	Qty    decimal.Decimal
	Price  decimal.Decimal
}

// Broker places and tracks orders. Implementations must not retry
// internally.
type Broker interface {
	PlaceLimitOrder(ctx context.Context, order LimitOrder) (orderID string, err error)
	OrderStatus(ctx context.Context, symbol, orderID string) (OrderState, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// PositionView is what a SignalProvider sees of the currently open trade.
type PositionView struct {
	Symbol     string
	Side       Side
	EntryPrice decimal.Decimal
	Qty        decimal.Decimal
}

// SignalProvider is the directional oracle. It never sees risk state.
type SignalProvider interface {
	EntrySignal(ctx context.Context, symbol string, bars []Bar) (Signal, error)
	ExitSignal(ctx context.Context, symbol string, bars []Bar, pos PositionView) (bool, error)
}
