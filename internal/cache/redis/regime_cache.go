package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// DefaultRegimeTTL bounds how long a published regime stays readable.
const DefaultRegimeTTL = time.Hour

// RegimeCache implements domain.RegimeCache with one JSON string per symbol
// and a set indexing the symbols that have been written.
//
// Key schema:
//
//	vgbot:regime:{symbol}  - JSON RegimeState, expires after ttl
//	vgbot:regime:symbols   - set of symbols
type RegimeCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRegimeCache creates a RegimeCache. ttl <= 0 selects DefaultRegimeTTL.
func NewRegimeCache(c *Client, ttl time.Duration) *RegimeCache {
	if ttl <= 0 {
		ttl = DefaultRegimeTTL
	}
	return &RegimeCache{rdb: c.Underlying(), ttl: ttl}
}

func regimeKey(symbol string) string { return keyPrefix + "regime:" + symbol }

var regimeIndexKey = keyPrefix + "regime:symbols"

// Set stores the state and indexes its symbol.
func (rc *RegimeCache) Set(ctx context.Context, state domain.RegimeState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal regime %s: %w", state.Symbol, err)
	}
	pipe := rc.rdb.TxPipeline()
	pipe.Set(ctx, regimeKey(state.Symbol), data, rc.ttl)
	pipe.SAdd(ctx, regimeIndexKey, state.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set regime %s: %w", state.Symbol, err)
	}
	return nil
}

// Get returns the cached state or domain.ErrNotFound.
func (rc *RegimeCache) Get(ctx context.Context, symbol string) (domain.RegimeState, error) {
	data, err := rc.rdb.Get(ctx, regimeKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RegimeState{}, domain.ErrNotFound
		}
		return domain.RegimeState{}, fmt.Errorf("redis: get regime %s: %w", symbol, err)
	}
	var st domain.RegimeState
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.RegimeState{}, fmt.Errorf("redis: unmarshal regime %s: %w", symbol, err)
	}
	return st, nil
}

// All returns every unexpired state sorted by symbol.
func (rc *RegimeCache) All(ctx context.Context) ([]domain.RegimeState, error) {
	symbols, err := rc.rdb.SMembers(ctx, regimeIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list regime symbols: %w", err)
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = regimeKey(s)
	}
	vals, err := rc.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget regimes: %w", err)
	}
	out := make([]domain.RegimeState, 0, len(vals))
	for _, v := range vals {
		data, ok := payloadBytes(v)
		if !ok {
			continue
		}
		var st domain.RegimeState
		if err := json.Unmarshal(data, &st); err != nil {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Compile-time interface check.
var _ domain.RegimeCache = (*RegimeCache)(nil)
