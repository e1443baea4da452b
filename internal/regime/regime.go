// Package regime classifies the recent price range of an instrument and
// decides whether it is quiet, tradeable or exhausted.
package regime

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/vgbot/internal/clock"
	"github.com/alanyoungcy/vgbot/internal/domain"
)

// Status distinguishes a computed snapshot from the insufficient-data case.
type Status int

const (
	StatusInsufficient Status = iota
	StatusReady
)

func (s Status) String() string {
	if s == StatusReady {
		return "ready"
	}
	return "insufficient"
}

// Zone buckets the range position.
type Zone string

const (
	ZoneUnknown    Zone = "UNKNOWN"
	ZoneBottom     Zone = "BOTTOM"
	ZoneLowerRange Zone = "LOWER_RANGE"
	ZoneMiddle     Zone = "MIDDLE"
	ZoneUpperRange Zone = "UPPER_RANGE"
	ZoneTop        Zone = "TOP"
)

// Config holds analyzer thresholds. Percentages are in percent units
// (1.0 means 1%).
type Config struct {
	// Lookback is the number of bars in the rolling window. Default 96.
	Lookback int
	// ChopThresholdPct: volatility below this is chop. Default 1.0.
	ChopThresholdPct float64
	// MinRangePct: volatility below this is too small to trade. Default 0.5.
	MinRangePct float64
	// ExhaustionThresholdPct: volatility above this forces exits. Default 10.0.
	ExhaustionThresholdPct float64

	// Zone boundaries on the [0,1] range position.
	BottomMax float64 // 0.20
	LowerMax  float64 // 0.35
	MiddleMax float64 // 0.65
	UpperMax  float64 // 0.80

	// Entry zone thresholds used by EntryZone.
	BuyEntryMax           float64 // 0.20
	RestrictedBuyEntryMax float64 // 0.15
	SellEntryMin          float64 // 0.80
	// DangerLow and DangerHigh bound the mid-range no-entry band.
	DangerLow  float64 // 0.30
	DangerHigh float64 // 0.70
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Lookback:               96,
		ChopThresholdPct:       1.0,
		MinRangePct:            0.5,
		ExhaustionThresholdPct: 10.0,
		BottomMax:              0.20,
		LowerMax:               0.35,
		MiddleMax:              0.65,
		UpperMax:               0.80,
		BuyEntryMax:            0.20,
		RestrictedBuyEntryMax:  0.15,
		SellEntryMin:           0.80,
		DangerLow:              0.30,
		DangerHigh:             0.70,
	}
}

// Snapshot is the regime of one symbol at one point in time. Fields other
// than Symbol, Status, Position, Zone and Timestamp are zero unless Status is
// StatusReady.
type Snapshot struct {
	Symbol        string    `json:"symbol"`
	Status        Status    `json:"-"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	RangeSize     float64   `json:"range_size"`
	Position      float64   `json:"position"`
	VolatilityPct float64   `json:"volatility_pct"`
	Zone          Zone      `json:"zone"`
	Chop          bool      `json:"chop"`
	Exhaustion    bool      `json:"exhaustion"`
	MinRangeMet   bool      `json:"min_range_met"`
	Expansion     float64   `json:"expansion"`
	LastClose     float64   `json:"last_close"`
	Bars          int       `json:"bars"`
	Timestamp     time.Time `json:"timestamp"`
}

// Ready reports whether the snapshot was computed from enough history.
func (s Snapshot) Ready() bool { return s.Status == StatusReady }

// State converts the snapshot into its cacheable domain form.
func (s Snapshot) State() domain.RegimeState {
	return domain.RegimeState{
		Symbol:        s.Symbol,
		Ready:         s.Ready(),
		High:          s.High,
		Low:           s.Low,
		Position:      s.Position,
		VolatilityPct: s.VolatilityPct,
		Zone:          string(s.Zone),
		Chop:          s.Chop,
		Exhaustion:    s.Exhaustion,
		Expansion:     s.Expansion,
		LastClose:     s.LastClose,
		At:            s.Timestamp,
	}
}

// Decision is a yes/no answer with a reason when the answer is no (or, for
// exhaustion, when it is yes).
type Decision struct {
	Allowed bool
	Reason  string
}

// Analyzer computes regime snapshots and caches the latest one per symbol.
type Analyzer struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Snapshot
}

// NewAnalyzer creates an Analyzer. A nil clock uses the wall clock.
func NewAnalyzer(cfg Config, clk clock.Clock, logger *slog.Logger) *Analyzer {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultConfig().Lookback
	}
	return &Analyzer{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(slog.String("component", "regime")),
		cache:  make(map[string]Snapshot),
	}
}

// Config returns the analyzer's configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze classifies the last Lookback bars. Bars are oldest first. It never
// fails: short or empty history yields an insufficient snapshot.
func (a *Analyzer) Analyze(symbol string, bars []domain.Bar) Snapshot {
	snap := a.compute(symbol, bars)

	a.mu.Lock()
	a.cache[symbol] = snap
	a.mu.Unlock()

	if snap.Ready() {
		a.logger.Debug("regime analyzed",
			slog.String("symbol", symbol),
			slog.String("zone", string(snap.Zone)),
			slog.Float64("position", snap.Position),
			slog.Float64("volatility_pct", snap.VolatilityPct),
			slog.Float64("expansion", snap.Expansion),
		)
	}
	return snap
}

func (a *Analyzer) compute(symbol string, bars []domain.Bar) Snapshot {
	snap := Snapshot{
		Symbol:    symbol,
		Status:    StatusInsufficient,
		Position:  0.5,
		Zone:      ZoneUnknown,
		Expansion: 1.0,
		Bars:      len(bars),
		Timestamp: a.clock.Now(),
	}
	n := a.cfg.Lookback
	if len(bars) < n {
		return snap
	}

	window := bars[len(bars)-n:]
	high, low := windowRange(window)
	size := high - low
	last := window[len(window)-1].Close

	position := 0.5
	if size > 0 {
		position = clamp((last-low)/size, 0, 1)
	}
	var vol float64
	if last > 0 {
		vol = size / last * 100
	}

	snap.Status = StatusReady
	snap.High = high
	snap.Low = low
	snap.RangeSize = size
	snap.Position = position
	snap.VolatilityPct = vol
	snap.Zone = a.zoneFor(position)
	snap.Chop = vol < a.cfg.ChopThresholdPct
	snap.Exhaustion = vol > a.cfg.ExhaustionThresholdPct
	snap.MinRangeMet = vol >= a.cfg.MinRangePct
	snap.Expansion = a.expansion(bars, size)
	snap.LastClose = last
	if ts := window[len(window)-1].Timestamp; !ts.IsZero() {
		snap.Timestamp = ts
	}
	return snap
}

// expansion compares the current range size with the mean range size of the
// preceding Lookback windows. It needs 2*Lookback bars.
func (a *Analyzer) expansion(bars []domain.Bar, current float64) float64 {
	n := a.cfg.Lookback
	if len(bars) < 2*n {
		return 1.0
	}
	end := len(bars) - 1
	var sum float64
	for i := 0; i < n; i++ {
		hi, lo := windowRange(bars[end-i-n : end-i])
		sum += hi - lo
	}
	mean := sum / float64(n)
	if mean <= 0 {
		return 1.0
	}
	return current / mean
}

func (a *Analyzer) zoneFor(position float64) Zone {
	switch {
	case position <= a.cfg.BottomMax:
		return ZoneBottom
	case position <= a.cfg.LowerMax:
		return ZoneLowerRange
	case position <= a.cfg.MiddleMax:
		return ZoneMiddle
	case position <= a.cfg.UpperMax:
		return ZoneUpperRange
	default:
		return ZoneTop
	}
}

// CanTrade denies insufficient data, chop and ranges below the minimum.
func (a *Analyzer) CanTrade(snap Snapshot) Decision {
	if !snap.Ready() {
		return Decision{Reason: "insufficient price history"}
	}
	if snap.Chop {
		return Decision{Reason: "chop: volatility below threshold"}
	}
	if !snap.MinRangeMet {
		return Decision{Reason: "range below minimum"}
	}
	return Decision{Allowed: true}
}

// ShouldExitOnExhaustion reports Allowed=true when an open trade must be
// closed because volatility exploded past the exhaustion threshold.
func (a *Analyzer) ShouldExitOnExhaustion(snap Snapshot) Decision {
	if snap.Ready() && snap.Exhaustion {
		return Decision{Allowed: true, Reason: "volatility exhaustion"}
	}
	return Decision{}
}

// EntryZone reports whether position is an entry point for side. Restricted
// assets use the tighter buy threshold and never enter short.
func (a *Analyzer) EntryZone(position float64, side domain.Side, restricted bool) bool {
	switch side {
	case domain.SideBuy:
		limit := a.cfg.BuyEntryMax
		if restricted {
			limit = a.cfg.RestrictedBuyEntryMax
		}
		return position <= limit
	case domain.SideSell:
		return !restricted && position >= a.cfg.SellEntryMin
	default:
		return false
	}
}

// DangerZone reports whether position is in the mid-range no-entry band.
func (a *Analyzer) DangerZone(position float64) bool {
	return position >= a.cfg.DangerLow && position <= a.cfg.DangerHigh
}

// Cache returns the last snapshot computed for symbol.
func (a *Analyzer) Cache(symbol string) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.cache[symbol]
	return s, ok
}

// Snapshots returns all cached snapshots ordered by symbol.
func (a *Analyzer) Snapshots() []Snapshot {
	a.mu.Lock()
	out := make([]Snapshot, 0, len(a.cache))
	for _, s := range a.cache {
		out = append(out, s)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func windowRange(bars []domain.Bar) (high, low float64) {
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, b := range bars {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	if high < low {
		return 0, 0
	}
	return high, low
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
