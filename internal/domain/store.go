package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeRecord is a closed lifecycle trade as persisted.
type TradeRecord struct {
	ID                string          `json:"id"`
	Symbol            string          `json:"symbol"`
	Side              Side            `json:"side"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	ExitPrice         decimal.Decimal `json:"exit_price"`
	Qty               decimal.Decimal `json:"qty"`
	PnL               decimal.Decimal `json:"pnl"`
	PnLPct            decimal.Decimal `json:"pnl_pct"`
	EntryTime         time.Time       `json:"entry_time"`
	ExitTime          time.Time       `json:"exit_time"`
	ExitReason        string          `json:"exit_reason"`
	EntryPosition     float64         `json:"entry_position"`
	EntryVolatility   float64         `json:"entry_volatility"`
	Checkpoint1Passed *bool           `json:"checkpoint1_passed,omitempty"`
	Checkpoint2Passed *bool           `json:"checkpoint2_passed,omitempty"`
	Transitions       []Transition    `json:"transitions"`
}

// Transition is one lifecycle state change.
type Transition struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
	Note  string    `json:"note,omitempty"`
}

// PositionRecord is a closed risk-gate position as persisted.
type PositionRecord struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Qty         decimal.Decimal `json:"qty"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Notional    decimal.Decimal `json:"notional"`
	PnL         decimal.Decimal `json:"pnl"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at"`
	CloseReason string          `json:"close_reason"`
}

// RejectionRecord is a guardrail rejection as persisted.
type RejectionRecord struct {
	ID     int64           `json:"id"`
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Qty    decimal.Decimal `json:"qty"`
	Stage  string          `json:"stage"`
	Reason string          `json:"reason"`
	At     time.Time       `json:"at"`
}

// TradeStore persists closed lifecycle trades.
type TradeStore interface {
	Insert(ctx context.Context, t TradeRecord) error
	GetByID(ctx context.Context, id string) (TradeRecord, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]TradeRecord, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]TradeRecord, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists closed risk positions.
type PositionStore interface {
	Insert(ctx context.Context, p PositionRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]PositionRecord, error)
	SumPnL(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// RejectionStore persists guardrail rejections.
type RejectionStore interface {
	Insert(ctx context.Context, r RejectionRecord) error
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]RejectionRecord, error)
	CountByStage(ctx context.Context, since time.Time) (map[string]int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
