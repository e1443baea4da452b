package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vgbot/internal/domain"
	"github.com/alanyoungcy/vgbot/internal/guardrail"
	"github.com/alanyoungcy/vgbot/internal/lifecycle"
	"github.com/alanyoungcy/vgbot/internal/metrics"
	"github.com/alanyoungcy/vgbot/internal/risk"
	"github.com/alanyoungcy/vgbot/internal/server/handler"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeController struct {
	halted     bool
	reason     string
	liquidated []string
	liqResult  guardrail.Result
	liqErr     error
	resets     int
}

func (f *fakeController) Status() domain.BotStatus {
	return domain.BotStatus{Mode: "paper", Symbols: []string{"BTC/USD"}, Halted: f.halted, HaltReason: f.reason}
}

func (f *fakeController) Halt(_ context.Context, reason string) { f.halted, f.reason = true, reason }
func (f *fakeController) Resume(context.Context) { f.halted, f.reason = false, "" }
func (f *fakeController) ResetLossStreak(context.Context) { f.resets++ }

func (f *fakeController) Liquidate(_ context.Context, symbol, _ string) (guardrail.Result, error) {
	f.liquidated = append(f.liquidated, symbol)
	return f.liqResult, f.liqErr
}

type memRegimes struct{ states map[string]domain.RegimeState }

func (m memRegimes) Set(context.Context, domain.RegimeState) error { return nil }
func (m memRegimes) Get(_ context.Context, symbol string) (domain.RegimeState, error) {
	st, ok := m.states[symbol]
	if !ok {
		return domain.RegimeState{}, domain.ErrNotFound
	}
	return st, nil
}
func (m memRegimes) All(context.Context) ([]domain.RegimeState, error) {
	out := make([]domain.RegimeState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out, nil
}

type memTrades struct{ rows []domain.TradeRecord }

func (m *memTrades) Insert(_ context.Context, t domain.TradeRecord) error {
	m.rows = append(m.rows, t)
	return nil
}
func (m *memTrades) GetByID(_ context.Context, id string) (domain.TradeRecord, error) {
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.TradeRecord{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
}
func (m *memTrades) ListBySymbol(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, r := range m.rows {
		if r.Symbol == symbol {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *memTrades) ListClosedBefore(context.Context, time.Time, int) ([]domain.TradeRecord, error) {
	return nil, nil
}
func (m *memTrades) DeleteClosedBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type denyAll struct{ calls int }

func (d *denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) {
	d.calls++
	return false, nil
}

type fixture struct {
	ctrl   *fakeController
	trades *memTrades
	srv    *Server
}

func newFixture(t *testing.T, apiKey string, limiter domain.RateLimiter, healthErr error) *fixture {
	t.Helper()
	ctrl := &fakeController{}
	trades := &memTrades{}
	gate := risk.NewGate(risk.DefaultConfig(), nil, quiet)
	lc := lifecycle.NewManager(lifecycle.DefaultConfig(), nil, quiet)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetHalted(true)

	regimes := memRegimes{states: map[string]domain.RegimeState{
		"ETH/USD": {Symbol: "ETH/USD", Ready: true, Zone: "TOP", Position: 0.9},
	}}

	h := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"postgres": func(context.Context) error { return healthErr },
		}, quiet),
		Control: handler.NewControlHandler(ctrl, quiet),
		Report:  handler.NewReportHandler(lc, gate, nil, quiet),
		Regime:  handler.NewRegimeHandler(nil, regimes, quiet),
		History: handler.NewHistoryHandler(trades, nil, nil, nil, quiet),
	}
	srv := NewServer(Config{Port: 0, APIKey: apiKey, ControlRateLimit: 5}, h, Deps{Gatherer: reg, RateLimiter: limiter}, quiet)
	return &fixture{ctrl: ctrl, trades: trades, srv: srv}
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "k", nil, nil)
	rec := f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	f = newFixture(t, "k", nil, errors.New("connection refused"))
	rec = f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["dependencies"].(map[string]any)["postgres"])
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "secret", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/status", "", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/status", "", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/status?token=secret", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/metrics", "").Code)
}

func TestControlFlow(t *testing.T) {
	f := newFixture(t, "", nil, nil)

	rec := f.do(http.MethodPost, "/api/control/halt", `{"reason":"maintenance"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.ctrl.halted)
	assert.Equal(t, "maintenance", f.ctrl.reason)
	assert.Equal(t, true, decode(t, rec)["halted"])

	rec = f.do(http.MethodPost, "/api/control/halt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator halt", f.ctrl.reason)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/control/halt", `{bad`).Code)

	rec = f.do(http.MethodPost, "/api/control/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.ctrl.halted)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/control/resume", "").Code)
}

func TestResetLossStreak(t *testing.T) {
	f := newFixture(t, "", nil, nil)

	rec := f.do(http.MethodPost, "/api/control/reset-loss-streak", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.ctrl.resets)
	assert.Equal(t, "paper", decode(t, rec)["mode"])

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/control/reset-loss-streak", "").Code)

	limited := newFixture(t, "", &denyAll{}, nil)
	assert.Equal(t, http.StatusTooManyRequests, limited.do(http.MethodPost, "/api/control/reset-loss-streak", "").Code)
	assert.Zero(t, limited.ctrl.resets)
}

func TestLiquidate(t *testing.T) {
	f := newFixture(t, "", nil, nil)

	f.ctrl.liqResult = guardrail.Result{Success: true, Symbol: "BTC/USD", Side: domain.SideSell, Qty: decimal.NewFromInt(1)}
	rec := f.do(http.MethodPost, "/api/control/liquidate/btc-usd", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BTC/USD"}, f.ctrl.liquidated)

	f.ctrl.liqResult = guardrail.Result{Success: false, Stage: guardrail.StageNoFill}
	rec = f.do(http.MethodPost, "/api/control/liquidate/BTC_USD", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "no_fill", decode(t, rec)["stage"])

	f.ctrl.liqErr = fmt.Errorf("engine: liquidate ETH/USD: %w", domain.ErrNoActiveTrade)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/control/liquidate/ETH-USD", "").Code)

	f.ctrl.liqErr = fmt.Errorf("engine: liquidate ETH/USD: %w", domain.ErrLockHeld)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/control/liquidate/ETH-USD", "").Code)
}

func TestControlRateLimited(t *testing.T) {
	limiter := &denyAll{}
	f := newFixture(t, "", limiter, nil)

	rec := f.do(http.MethodPost, "/api/control/halt", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.False(t, f.ctrl.halted)
	assert.Equal(t, 1, limiter.calls)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/status", "").Code)
	assert.Equal(t, 1, limiter.calls)
}

func TestControllerMissing(t *testing.T) {
	h := Handlers{
		Health:  handler.NewHealthHandler(nil, quiet),
		Control: handler.NewControlHandler(nil, quiet),
		Report:  handler.NewReportHandler(nil, nil, nil, quiet),
		Regime:  handler.NewRegimeHandler(nil, nil, quiet),
		History: handler.NewHistoryHandler(nil, nil, nil, nil, quiet),
	}
	srv := NewServer(Config{}, h, Deps{Gatherer: prometheus.NewRegistry()}, quiet)
	for _, path := range []string{"/api/status", "/api/stats", "/api/exposure", "/api/execution", "/api/audit", "/api/positions"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestReports(t *testing.T) {
	f := newFixture(t, "", nil, nil)

	rec := f.do(http.MethodGet, "/api/exposure", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10000", decode(t, rec)["balance"])

	rec = f.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "trades")
	assert.Contains(t, body, "account")
}

func TestRegimeFromCache(t *testing.T) {
	f := newFixture(t, "", nil, nil)

	rec := f.do(http.MethodGet, "/api/regime/eth-usd", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TOP", decode(t, rec)["zone"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/regime/XRP-USD", "").Code)
}

func TestTradesHistory(t *testing.T) {
	f := newFixture(t, "", nil, nil)
	f.trades.rows = []domain.TradeRecord{{ID: "t1", Symbol: "BTC/USD"}, {ID: "t2", Symbol: "ETH/USD"}}

	rec := f.do(http.MethodGet, "/api/trades/BTC-USD?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []domain.TradeRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/trades/BTC-USD?since=yesterday", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/trade/missing", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/trade/t2", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "", nil, nil)
	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vgbot_trading_halted 1")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "secret", nil, nil)
	rec := f.do(http.MethodOptions, "/api/control/halt", "", "Origin", "http://localhost:3000")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

type memBlobs map[string]string

func (m memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m[path]
	return ok, nil
}

func TestArchives(t *testing.T) {
	blobs := memBlobs{"archive/trades/2026/10/20261014T000000Z.jsonl": `{"id":"a"}` + "\n"}
	h := Handlers{
		Health:  handler.NewHealthHandler(nil, quiet),
		Control: handler.NewControlHandler(nil, quiet),
		Report:  handler.NewReportHandler(nil, nil, nil, quiet),
		Regime:  handler.NewRegimeHandler(nil, nil, quiet),
		History: handler.NewHistoryHandler(nil, nil, nil, nil, quiet),
		Archive: handler.NewArchiveHandler(blobs, quiet),
	}
	srv := NewServer(Config{}, h, Deps{Gatherer: prometheus.NewRegistry()}, quiet)
	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/api/archives")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []domain.BlobInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)

	assert.Equal(t, http.StatusBadRequest, get("/api/archives?prefix=secrets/").Code)

	rec = get("/api/archives/trades/2026/10/20261014T000000Z.jsonl")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"id":"a"}`+"\n", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get("/api/archives/trades/missing.jsonl").Code)
}
