// Package engine drives the trading cycle. It is the only place that calls
// the risk gate, the guardrail pipeline and the lifecycle manager together,
// and it does so in that order, recording an open only after a confirmed
// fill.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vgbot/internal/clock"
	"github.com/alanyoungcy/vgbot/internal/domain"
	"github.com/alanyoungcy/vgbot/internal/guardrail"
	"github.com/alanyoungcy/vgbot/internal/lifecycle"
	"github.com/alanyoungcy/vgbot/internal/metrics"
	"github.com/alanyoungcy/vgbot/internal/regime"
	"github.com/alanyoungcy/vgbot/internal/risk"
)

// Notifier delivers operator alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config controls the cycle.
type Config struct {
	Mode         string
	Symbols      []string
	Timeframe    string
	BarDuration  time.Duration
	HistoryLimit int
	Interval     time.Duration
	Workers      int
	LockTTL      time.Duration
	// SizingBuffer inflates the reference price used for sizing so the
	// guardrail's limit price never produces a larger notional than the
	// risk gate approved.
	SizingBuffer decimal.Decimal
}

// DefaultConfig returns a 15-minute cycle over the built-in majors.
func DefaultConfig() Config {
	return Config{
		Mode:         "paper",
		Symbols:      []string{"BTC/USD", "ETH/USD"},
		Timeframe:    "15m",
		BarDuration:  15 * time.Minute,
		HistoryLimit: 200,
		Interval:     15 * time.Minute,
		Workers:      4,
		LockTTL:      2 * time.Minute,
		SizingBuffer: decimal.RequireFromString("0.002"),
	}
}

// Deps are the runner's collaborators. The market, strategy and core fields
// are required; stores, caches, bus, locks, notifier and metrics are optional.
type Deps struct {
	History domain.HistoryProvider
	Tickers domain.TickerProvider
	Signals domain.SignalProvider

	Analyzer  *regime.Analyzer
	Gate      *risk.Gate
	Pipeline  *guardrail.Pipeline
	Lifecycle *lifecycle.Manager

	Trades     domain.TradeStore
	Positions  domain.PositionStore
	Rejections domain.RejectionStore
	Audit      domain.AuditStore
	Regimes    domain.RegimeCache
	Bus        domain.SignalBus
	Locks      domain.LockManager
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Clock      clock.Clock
}

// Runner executes trading cycles.
type Runner struct {
	cfg    Config
	deps   Deps
	clock  clock.Clock
	logger *slog.Logger

	started time.Time
	cycles  atomic.Int64

	entryMu sync.Mutex

	mu       sync.Mutex
	partials map[string]partialExit // trade ID -> exit quantity already filled
}

// NewRunner validates deps and creates a Runner.
func NewRunner(cfg Config, deps Deps, logger *slog.Logger) (*Runner, error) {
	switch {
	case deps.History == nil, deps.Tickers == nil, deps.Signals == nil:
		return nil, errors.New("engine: history, ticker and signal providers are required")
	case deps.Analyzer == nil, deps.Gate == nil, deps.Pipeline == nil, deps.Lifecycle == nil:
		return nil, errors.New("engine: analyzer, gate, pipeline and lifecycle are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BarDuration <= 0 {
		cfg.BarDuration = 15 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = deps.Analyzer.Config().Lookback * 2
	}
	return &Runner{
		cfg:      cfg,
		deps:     deps,
		clock:    deps.Clock,
		logger:   logger.With(slog.String("component", "engine")),
		started:  deps.Clock.Now(),
		partials: make(map[string]partialExit),
	}, nil
}

// Run calls RunCycle immediately and then on every interval until ctx is
// done.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "engine started",
		slog.Any("symbols", r.cfg.Symbols),
		slog.String("timeframe", r.cfg.Timeframe),
		slog.Duration("interval", r.cfg.Interval),
	)
	if err := r.RunCycle(ctx); err != nil {
		r.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunCycle(ctx); err != nil {
				r.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunCycle decrements lifecycle cooldowns once and processes every symbol on
// a bounded worker pool. Per-symbol errors are joined; one symbol failing
// never stops the others.
func (r *Runner) RunCycle(ctx context.Context) error {
	start := time.Now()
	r.deps.Lifecycle.DecrementCooldowns()

	errs := make([]error, len(r.cfg.Symbols))
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, symbol := range r.cfg.Symbols {
		g.Go(func() error {
			errs[i] = r.processLocked(ctx, symbol)
			return nil
		})
	}
	_ = g.Wait()

	r.cycles.Add(1)
	if m := r.deps.Metrics; m != nil {
		exp := r.deps.Gate.CurrentExposure()
		m.SetAccount(exp.Balance, exp.Total)
		halted, _ := r.deps.Gate.Halted()
		m.SetHalted(halted)
		m.CycleDuration.Observe(time.Since(start).Seconds())
	}
	return errors.Join(errs...)
}

func (r *Runner) processLocked(ctx context.Context, symbol string) error {
	if r.deps.Locks != nil {
		unlock, err := r.deps.Locks.Acquire(ctx, "symbol:"+symbol, r.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.DebugContext(ctx, "symbol locked elsewhere", slog.String("symbol", symbol))
			return nil
		}
		if err != nil {
			return fmt.Errorf("engine: lock %s: %w", symbol, err)
		}
		defer unlock()
	}
	return r.ProcessSymbol(ctx, symbol)
}

// ProcessSymbol runs one cycle for one symbol: regime, then either managing
// the open trade or evaluating a new entry.
func (r *Runner) ProcessSymbol(ctx context.Context, symbol string) error {
	bars, err := r.deps.History.Bars(ctx, symbol, r.cfg.Timeframe, r.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("engine: bars %s: %w", symbol, err)
	}
	snap := r.deps.Analyzer.Analyze(symbol, bars)
	r.cacheRegime(ctx, snap)

	if trade, ok := r.deps.Lifecycle.CurrentTrade(symbol); ok {
		return r.manage(ctx, trade, snap, bars)
	}
	return r.maybeEnter(ctx, symbol, snap, bars)
}

// Status summarises the runner for the operator API.
func (r *Runner) Status() domain.BotStatus {
	halted, reason := r.deps.Gate.Halted()
	return domain.BotStatus{
		Mode:          r.cfg.Mode,
		Symbols:       append([]string(nil), r.cfg.Symbols...),
		Halted:        halted,
		HaltReason:    reason,
		UptimeSeconds: int64(r.clock.Now().Sub(r.started).Seconds()),
		OpenPositions: r.deps.Gate.Stats().OpenPositions,
		Cycles:        r.cycles.Load(),
	}
}

// Halt stops new entries until Resume.
func (r *Runner) Halt(ctx context.Context, reason string) {
	r.deps.Gate.HaltTrading(reason)
	if m := r.deps.Metrics; m != nil {
		m.SetHalted(true)
	}
	r.emit(ctx, domain.ChannelControl, domain.Event{Kind: domain.EventHalted, Detail: map[string]any{"reason": reason}})
	r.notify(ctx, domain.EventHalted, "Trading halted", reason)
}

// Resume clears the halt flag.
func (r *Runner) Resume(ctx context.Context) {
	r.deps.Gate.ResumeTrading()
	if m := r.deps.Metrics; m != nil {
		m.SetHalted(false)
	}
	r.emit(ctx, domain.ChannelControl, domain.Event{Kind: domain.EventResumed})
	r.notify(ctx, domain.EventResumed, "Trading resumed", "operator resumed trading")
}

// ResetLossStreak clears the consecutive-loss breaker after an operator has
// reviewed the losing run.
func (r *Runner) ResetLossStreak(ctx context.Context) {
	prev := r.deps.Gate.Stats().ConsecutiveLosses
	r.deps.Gate.ResetLossStreak()
	detail := map[string]any{"previous": prev}
	r.audit(ctx, domain.EventStreakReset, "", detail)
	r.emit(ctx, domain.ChannelControl, domain.Event{Kind: domain.EventStreakReset, Detail: detail})
	r.logger.WarnContext(ctx, "loss streak reset", slog.Int("previous", prev))
}
