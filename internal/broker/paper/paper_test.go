package paper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vgbot/internal/clock"
	"github.com/alanyoungcy/vgbot/internal/domain"
)

var t0 = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBrokerFillsAtLimit(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(dec("1000"), clock.NewFake(t0))

	id, err := b.PlaceLimitOrder(ctx, domain.LimitOrder{Symbol: "BTC/USD", Side: domain.SideBuy, Qty: dec("0.01"), Price: dec("60000")})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := b.OrderStatus(ctx, "BTC/USD", id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, st.Status)
	assert.True(t, st.FilledQty.Equal(dec("0.01")))
	assert.True(t, st.AvgPrice.Equal(dec("60000")))
	assert.Equal(t, t0, st.UpdatedAt)
	assert.True(t, b.Balance().Equal(dec("400")))

	_, err = b.PlaceLimitOrder(ctx, domain.LimitOrder{Symbol: "BTC/USD", Side: domain.SideSell, Qty: dec("0.01"), Price: dec("61000")})
	require.NoError(t, err)
	assert.True(t, b.Balance().Equal(dec("1010")))
}

func TestBrokerRejectsOverspend(t *testing.T) {
	b := NewBroker(dec("100"), nil)
	_, err := b.PlaceLimitOrder(context.Background(), domain.LimitOrder{Symbol: "ETH/USD", Side: domain.SideBuy, Qty: dec("1"), Price: dec("2500")})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, b.Balance().Equal(dec("100")))
}

func TestBrokerValidatesOrder(t *testing.T) {
	b := NewBroker(dec("100"), nil)
	_, err := b.PlaceLimitOrder(context.Background(), domain.LimitOrder{Symbol: "ETH/USD", Side: "HOLD", Qty: dec("1"), Price: dec("1")})
	assert.Error(t, err)
	_, err = b.PlaceLimitOrder(context.Background(), domain.LimitOrder{Symbol: "ETH/USD", Side: domain.SideBuy, Qty: decimal.Zero, Price: dec("1")})
	assert.Error(t, err)
}

func TestBrokerUnknownOrder(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(dec("1000"), nil)
	_, err := b.OrderStatus(ctx, "BTC/USD", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, b.CancelOrder(ctx, "BTC/USD", "missing"), domain.ErrNotFound)

	id, err := b.PlaceLimitOrder(ctx, domain.LimitOrder{Symbol: "BTC/USD", Side: domain.SideBuy, Qty: dec("0.001"), Price: dec("60000")})
	require.NoError(t, err)
	_, err = b.OrderStatus(ctx, "ETH/USD", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, b.CancelOrder(ctx, "BTC/USD", id))
}

type stubHistory struct{ bars []domain.Bar }

func (s stubHistory) Bars(context.Context, string, string, int) ([]domain.Bar, error) {
	return s.bars, nil
}

func TestTickerUsesLastClose(t *testing.T) {
	h := stubHistory{bars: []domain.Bar{{Timestamp: t0.Add(-time.Hour), Close: 99}, {Timestamp: t0, Close: 100.5}}}
	tk := NewTicker(h, "15m", clock.NewFake(t0))

	q, err := tk.Ticker(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, q.Last.Equal(dec("100.5")))
	assert.True(t, q.Bid.Equal(q.Ask))
	assert.Equal(t, t0, q.At)

	tk.SetPrice("BTC/USD", dec("42"))
	q, err = tk.Ticker(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, q.Last.Equal(dec("42")))

	tk.SetPrice("BTC/USD", decimal.Zero)
	q, err = tk.Ticker(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, q.Last.Equal(dec("100.5")))
}

func TestTickerNoBars(t *testing.T) {
	tk := NewTicker(stubHistory{}, "15m", nil)
	_, err := tk.Ticker(context.Background(), "BTC/USD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
