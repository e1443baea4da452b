// Package strategy holds the built-in directional signal providers. They
// stand in for an external strategy: the engine only ever sees the
// domain.SignalProvider contract.
package strategy

import (
	"fmt"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// Provider is a named domain.SignalProvider.
type Provider interface {
	domain.SignalProvider
	Name() string
}

// ZoneClassifier vets range positions for entry. *regime.Analyzer
// satisfies it.
type ZoneClassifier interface {
	EntryZone(position float64, side domain.Side, restricted bool) bool
	DangerZone(position float64) bool
}

// Config holds strategy configuration.
type Config struct {
	Name   string
	Params map[string]any
	// Tiers tells providers which assets are restricted to long entries.
	Tiers domain.TierTable
	// Zones, when set, must also accept a range entry.
	Zones ZoneClassifier
}

// floatParam reads a numeric parameter. TOML integers decode as int64.
func (c Config) floatParam(key string, def float64) (float64, error) {
	v, ok := c.Params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("strategy %s: param %q: want number, got %T", c.Name, key, v)
	}
}

func (c Config) intParam(key string, def int) (int, error) {
	f, err := c.floatParam(key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("strategy %s: param %q: want integer, got %v", c.Name, key, f)
	}
	return int(f), nil
}
