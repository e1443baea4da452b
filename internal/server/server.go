// Package server is the operator HTTP API: status, reporting, controls,
// Prometheus metrics and a WebSocket event feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/vgbot/internal/domain"
	"github.com/alanyoungcy/vgbot/internal/server/handler"
	"github.com/alanyoungcy/vgbot/internal/server/middleware"
	"github.com/alanyoungcy/vgbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// ControlRateLimit caps POST /api/control/* per client per minute.
	ControlRateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Control *handler.ControlHandler
	Report  *handler.ReportHandler
	Regime  *handler.RegimeHandler
	History *handler.HistoryHandler
	Archive *handler.ArchiveHandler
}

// Deps are optional collaborators.
type Deps struct {
	Hub         *ws.Hub
	Gatherer    prometheus.Gatherer
	RateLimiter domain.RateLimiter
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

const (
	pathHealth  = "/api/health"
	pathMetrics = "/metrics"
)

// NewServer registers every route and wraps the mux in CORS, logging and
// auth middleware. Health and metrics stay unauthenticated.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+pathHealth, handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/status", handlers.Control.Status)
	mux.HandleFunc("GET /api/stats", handlers.Report.Stats)
	mux.HandleFunc("GET /api/exposure", handlers.Report.Exposure)
	mux.HandleFunc("GET /api/execution", handlers.Report.Execution)
	mux.HandleFunc("GET /api/regime", handlers.Regime.List)
	mux.HandleFunc("GET /api/regime/{symbol}", handlers.Regime.Get)

	mux.HandleFunc("GET /api/trades/{symbol}", handlers.History.Trades)
	mux.HandleFunc("GET /api/trade/{id}", handlers.History.Trade)
	mux.HandleFunc("GET /api/positions", handlers.History.Positions)
	mux.HandleFunc("GET /api/rejections/{symbol}", handlers.History.Rejections)
	mux.HandleFunc("GET /api/audit", handlers.History.Audit)

	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archive.List)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archive.Download)
	}

	limit := middleware.RateLimit(deps.RateLimiter, "control", cfg.ControlRateLimit, time.Minute, logger)
	mux.Handle("POST /api/control/halt", limit(http.HandlerFunc(handlers.Control.Halt)))
	mux.Handle("POST /api/control/resume", limit(http.HandlerFunc(handlers.Control.Resume)))
	mux.Handle("POST /api/control/reset-loss-streak", limit(http.HandlerFunc(handlers.Control.ResetLossStreak)))
	mux.Handle("POST /api/control/liquidate/{symbol}", limit(http.HandlerFunc(handlers.Control.Liquidate)))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET "+pathMetrics, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, pathHealth, pathMetrics)(h)
	h = middleware.Logging(logger, pathHealth, pathMetrics)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
