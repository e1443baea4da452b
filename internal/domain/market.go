package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Ticker is a top-of-book snapshot.
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	At     time.Time
}

// NormalizeSymbol rewrites "BTC_USD" and "BTC-USD" as "BTC/USD".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "_", "/")
	return strings.ReplaceAll(s, "-", "/")
}

// AssetOf returns the base asset of a symbol ("BTC/USD" -> "BTC").
func AssetOf(symbol string) string {
	s := NormalizeSymbol(symbol)
	if i := strings.Index(s, "/"); i >= 0 {
		return s[:i]
	}
	return s
}
