package guardrail

import (
	"sync"
	"time"

	"github.com/alanyoungcy/vgbot/internal/clock"
)

// Dedup remembers when an order was last submitted per symbol and rejects a
// new submission inside the window. It is safe for concurrent use.
type Dedup struct {
	clock  clock.Clock
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time // symbol -> last submission
}

// NewDedup creates a Dedup with the given window.
func NewDedup(window time.Duration, clk clock.Clock) *Dedup {
	return &Dedup{
		clock:  clk,
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Recent reports whether symbol was submitted within the window, and how
// long ago.
func (d *Dedup) Recent(symbol string) (bool, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recentLocked(symbol)
}

func (d *Dedup) recentLocked(symbol string) (bool, time.Duration) {
	last, ok := d.seen[symbol]
	if !ok {
		return false, 0
	}
	age := d.clock.Now().Sub(last)
	return age < d.window, age
}

// Claim stamps symbol as submitted now unless it is already inside the
// window, in which case it returns false and leaves the stamp alone.
func (d *Dedup) Claim(symbol string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if recent, _ := d.recentLocked(symbol); recent {
		return false
	}
	d.seen[symbol] = d.clock.Now()
	return true
}

// Cleanup removes stamps older than the window.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	for s, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, s)
		}
	}
}

// Reset forgets every stamp.
func (d *Dedup) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]time.Time)
}
