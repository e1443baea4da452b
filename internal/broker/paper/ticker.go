package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/clock"
	"github.com/alanyoungcy/vgbot/internal/domain"
)

// Ticker derives a top of book from the most recent bar's close. Bid and
// Ask equal Last. SetPrice pins a symbol to a fixed price.
type Ticker struct {
	history   domain.HistoryProvider
	timeframe string
	clock     clock.Clock

	mu     sync.RWMutex
	pinned map[string]decimal.Decimal
}

// NewTicker creates a Ticker reading bars of the given timeframe.
func NewTicker(history domain.HistoryProvider, timeframe string, clk clock.Clock) *Ticker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ticker{
		history:   history,
		timeframe: timeframe,
		clock:     clk,
		pinned:    make(map[string]decimal.Decimal),
	}
}

// SetPrice pins symbol at price. A non-positive price removes the pin.
func (t *Ticker) SetPrice(symbol string, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !price.IsPositive() {
		delete(t.pinned, symbol)
		return
	}
	t.pinned[symbol] = price
}

// Ticker returns the pinned price or the latest close.
func (t *Ticker) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	t.mu.RLock()
	p, ok := t.pinned[symbol]
	t.mu.RUnlock()
	if ok {
		return domain.Ticker{Symbol: symbol, Last: p, Bid: p, Ask: p, At: t.clock.Now()}, nil
	}

	bars, err := t.history.Bars(ctx, symbol, t.timeframe, 1)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("paper: ticker %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return domain.Ticker{}, fmt.Errorf("paper: ticker %s: %w", symbol, domain.ErrNotFound)
	}
	last := decimal.NewFromFloat(bars[len(bars)-1].Close)
	return domain.Ticker{Symbol: symbol, Last: last, Bid: last, Ask: last, At: bars[len(bars)-1].Timestamp}, nil
}

var _ domain.TickerProvider = (*Ticker)(nil)
