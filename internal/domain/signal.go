package domain

import "time"

// Signal is a strategy's directional opinion for one cycle.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Side converts an actionable signal to an order side.
func (s Signal) Side() (Side, bool) {
	switch s {
	case SignalBuy:
		return SideBuy, true
	case SignalSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Bus channels.
const (
	ChannelTrades     = "vgbot:trades"
	ChannelRejections = "vgbot:rejections"
	ChannelControl    = "vgbot:control"
	ChannelRegime     = "vgbot:regime"
)

// Event kinds published on the bus and written to the audit log.
const (
	EventTradeOpened   = "trade_opened"
	EventTradeClosed   = "trade_closed"
	EventRejection     = "rejection"
	EventHalted        = "trading_halted"
	EventResumed       = "trading_resumed"
	EventExitFailed    = "exit_failed"
	EventPartialFill   = "partial_fill"
	EventStreakReset   = "loss_streak_reset"
	EventRegimeUpdated = "regime_updated"
)

// Event is the envelope published on the SignalBus.
type Event struct {
	Kind   string         `json:"kind"`
	Symbol string         `json:"symbol,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
	At     time.Time      `json:"at"`
}

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode          string   `json:"mode"`
	Symbols       []string `json:"symbols"`
	Halted        bool     `json:"halted"`
	HaltReason    string   `json:"halt_reason,omitempty"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	OpenPositions int      `json:"open_positions"`
	Cycles        int64    `json:"cycles"`
}
