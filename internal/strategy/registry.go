package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory builds a Provider from its configuration.
type Factory func(cfg Config, logger *slog.Logger) (Provider, error)

// Registry maps strategy names to factories. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns a Registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(RangeReversionName, func(cfg Config, logger *slog.Logger) (Provider, error) {
		return NewRangeReversion(cfg, logger)
	})
	r.Register(MeanReversionName, func(cfg Config, logger *slog.Logger) (Provider, error) {
		return NewMeanReversion(cfg, logger)
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs the provider named by cfg.Name.
func (r *Registry) Build(cfg Config, logger *slog.Logger) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered (known: %v)", cfg.Name, r.List())
	}
	return f(cfg, logger)
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
