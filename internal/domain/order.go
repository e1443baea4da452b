package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide normalises "buy"/"BUY"/"long" style input.
func ParseSide(v string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY", "LONG":
		return SideBuy, true
	case "SELL", "SHORT":
		return SideSell, true
	default:
		return "", false
	}
}

// OrderStatus is the broker-reported state of a submitted order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further fills can occur.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// ParseOrderStatus maps venue spellings onto OrderStatus. Unknown values map
// to OrderStatusNew so callers keep polling.
func ParseOrderStatus(v string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "FILLED", "DONE", "MATCHED":
		return OrderStatusFilled
	case "PARTIALLY_FILLED", "PARTIAL":
		return OrderStatusPartiallyFilled
	case "CANCELLED", "CANCELED":
		return OrderStatusCancelled
	case "REJECTED", "FAILED":
		return OrderStatusRejected
	case "EXPIRED":
		return OrderStatusExpired
	default:
		return OrderStatusNew
	}
}

// OrderState is a single status poll result.
type OrderState struct {
	OrderID   string
	Status    OrderStatus
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	UpdatedAt time.Time
}
