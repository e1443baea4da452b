package domain

import (
	"context"
	"time"
)

// RegimeState is the cacheable form of a regime snapshot.
type RegimeState struct {
	Symbol        string    `json:"symbol"`
	Ready         bool      `json:"ready"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Position      float64   `json:"position"`
	VolatilityPct float64   `json:"volatility_pct"`
	Zone          string    `json:"zone"`
	Chop          bool      `json:"chop"`
	Exhaustion    bool      `json:"exhaustion"`
	Expansion     float64   `json:"expansion"`
	LastClose     float64   `json:"last_close"`
	At            time.Time `json:"at"`
}

// RegimeCache shares the latest regime per symbol across processes.
type RegimeCache interface {
	Set(ctx context.Context, state RegimeState) error
	Get(ctx context.Context, symbol string) (RegimeState, error)
	All(ctx context.Context) ([]RegimeState, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter throttles requests per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
