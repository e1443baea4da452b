package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vgbot/internal/broker/bridge"
	"github.com/alanyoungcy/vgbot/internal/broker/paper"
	"github.com/alanyoungcy/vgbot/internal/clock"
	"github.com/alanyoungcy/vgbot/internal/domain"
	"github.com/alanyoungcy/vgbot/internal/engine"
	"github.com/alanyoungcy/vgbot/internal/guardrail"
	"github.com/alanyoungcy/vgbot/internal/lifecycle"
	"github.com/alanyoungcy/vgbot/internal/notify"
	"github.com/alanyoungcy/vgbot/internal/regime"
	"github.com/alanyoungcy/vgbot/internal/risk"
	"github.com/alanyoungcy/vgbot/internal/server"
	"github.com/alanyoungcy/vgbot/internal/server/handler"
	"github.com/alanyoungcy/vgbot/internal/server/ws"
	"github.com/alanyoungcy/vgbot/internal/strategy"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// market is where a mode gets its data and sends its orders.
type market struct {
	history domain.HistoryProvider
	tickers domain.TickerProvider
	broker  domain.Broker
}

// core is the in-process decision stack of a trading mode.
type core struct {
	runner    *engine.Runner
	analyzer  *regime.Analyzer
	gate      *risk.Gate
	pipeline  *guardrail.Pipeline
	lifecycle *lifecycle.Manager
}

// TradeMode runs the engine against the exchange bridge: market data and
// order placement both go through the sidecar.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.String("bridge", a.cfg.Broker.BridgeURL))

	br := a.newBridge(deps)
	return a.runTrading(ctx, deps, market{history: br, tickers: br, broker: br})
}

// PaperMode reads bars from the bridge and fills orders in memory at the
// limit price. Quotes are derived from the latest close so only the bridge's
// OHLCV endpoint is required.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.String("bridge", a.cfg.Broker.BridgeURL),
		slog.Float64("paper_balance", a.cfg.Broker.PaperBalance),
	)

	br := a.newBridge(deps)
	clk := clock.Real{}
	return a.runTrading(ctx, deps, market{
		history: br,
		tickers: paper.NewTicker(br, a.cfg.Engine.Timeframe, clk),
		broker:  paper.NewBroker(decimal.NewFromFloat(a.cfg.Broker.PaperBalance), clk),
	})
}

// MonitorMode serves the operator API without an engine. Regime and history
// come from Redis and Postgres; live views answer 503.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

func (a *App) newBridge(deps *Dependencies) *bridge.Client {
	br := bridge.NewClient(a.cfg.Broker.BridgeURL, a.cfg.Broker.APIKey, a.cfg.Broker.Timeout.Duration)
	deps.HealthChecks["bridge"] = br.Health
	return br
}

// runTrading builds the decision core over m and runs the engine, the
// archive loop and (when enabled) the HTTP server until ctx is done.
func (a *App) runTrading(ctx context.Context, deps *Dependencies, m market) error {
	c, err := a.buildCore(deps, m)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.runner.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps.Archiver)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

func (a *App) buildCore(deps *Dependencies, m market) (*core, error) {
	engineCfg, err := a.cfg.EngineParams()
	if err != nil {
		return nil, fmt.Errorf("app: engine config: %w", err)
	}

	clk := clock.Real{}
	tiers := a.cfg.TierTable()

	analyzer := regime.NewAnalyzer(a.cfg.RegimeParams(), clk, a.logger)
	provider, err := strategy.NewRegistry().Build(strategy.Config{
		Name:   a.cfg.Strategy.Name,
		Params: a.cfg.Strategy.Params,
		Tiers:  tiers,
		Zones:  analyzer,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: strategy: %w", err)
	}

	c := &core{
		analyzer:  analyzer,
		gate:      risk.NewGate(a.cfg.RiskParams(), clk, a.logger),
		pipeline:  guardrail.NewPipeline(a.cfg.GuardrailParams(), m.tickers, m.broker, clk, a.logger),
		lifecycle: lifecycle.NewManager(a.cfg.LifecycleParams(), clk, a.logger),
	}

	c.runner, err = engine.NewRunner(engineCfg, engine.Deps{
		History:    m.history,
		Tickers:    m.tickers,
		Signals:    provider,
		Analyzer:   c.analyzer,
		Gate:       c.gate,
		Pipeline:   c.pipeline,
		Lifecycle:  c.lifecycle,
		Trades:     deps.TradeStore,
		Positions:  deps.PositionStore,
		Rejections: deps.RejectionStore,
		Audit:      deps.AuditStore,
		Regimes:    deps.RegimeCache,
		Bus:        deps.SignalBus,
		Locks:      deps.LockManager,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
		Clock:      clk,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return c, nil
}

// archiveLoop moves closed trades older than the retention window to S3 on
// every interval. Failures are logged and retried on the next tick.
func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver) error {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			cutoff := now.UTC().Add(-retention).Truncate(24 * time.Hour)
			n, err := archiver.ArchiveTrades(ctx, cutoff)
			if err != nil {
				a.logger.WarnContext(ctx, "trade archive failed",
					slog.Time("cutoff", cutoff),
					slog.String("error", err.Error()),
				)
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "trade archive complete", slog.Int64("archived", n))
			}
		}
	}
}

// startHTTPServer builds the handlers for the given core (nil in monitor
// mode) and starts the server, its shutdown watcher and the WebSocket hub
// on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	h := server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.logger),
		History: handler.NewHistoryHandler(deps.TradeStore, deps.PositionStore, deps.RejectionStore, deps.AuditStore, a.logger),
		Archive: handler.NewArchiveHandler(deps.BlobReader, a.logger),
	}
	var status func() domain.BotStatus
	if c != nil {
		h.Control = handler.NewControlHandler(c.runner, a.logger)
		h.Report = handler.NewReportHandler(c.lifecycle, c.gate, c.pipeline, a.logger)
		h.Regime = handler.NewRegimeHandler(c.analyzer, deps.RegimeCache, a.logger)
		status = c.runner.Status
	} else {
		h.Control = handler.NewControlHandler(nil, a.logger)
		h.Report = handler.NewReportHandler(nil, nil, nil, a.logger)
		h.Regime = handler.NewRegimeHandler(nil, deps.RegimeCache, a.logger)
	}

	// The hub relays SignalBus channels, so it only exists with Redis.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			Status:         status,
		}, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		ControlRateLimit: a.cfg.Server.ControlRateLimit,
	}, h, server.Deps{
		Hub:         hub,
		Gatherer:    deps.Registry,
		RateLimiter: deps.RateLimiter,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Compile-time checks that the core satisfies the operator views.
var (
	_ handler.Controller    = (*engine.Runner)(nil)
	_ handler.LifecycleView = (*lifecycle.Manager)(nil)
	_ handler.RiskView      = (*risk.Gate)(nil)
	_ handler.ExecutionView = (*guardrail.Pipeline)(nil)
	_ handler.RegimeView    = (*regime.Analyzer)(nil)
	_ engine.Notifier       = (*notify.Notifier)(nil)

	_ strategy.ZoneClassifier = (*regime.Analyzer)(nil)
)
