package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// HistoryHandler serves persisted records. Stores are optional; without
// Postgres every endpoint answers 503.
type HistoryHandler struct {
	trades     domain.TradeStore
	positions  domain.PositionStore
	rejections domain.RejectionStore
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(trades domain.TradeStore, positions domain.PositionStore, rejections domain.RejectionStore, audit domain.AuditStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		trades:     trades,
		positions:  positions,
		rejections: rejections,
		audit:      audit,
		logger:     logger.With(slog.String("handler", "history")),
	}
}

func (h *HistoryHandler) fail(w http.ResponseWriter, r *http.Request, what string, err error) {
	h.logger.ErrorContext(r.Context(), "history query failed", slog.String("query", what), slog.String("error", err.Error()))
	writeError(w, statusFor(err), what+" query failed")
}

// Trades lists closed trades for a symbol, newest first.
// GET /api/trades/{symbol}
func (h *HistoryHandler) Trades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeUnavailable(w, "trade history")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.trades.ListBySymbol(r.Context(), symbolParam(r), opts)
	if err != nil {
		h.fail(w, r, "trades", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Trade returns one trade by ID.
// GET /api/trade/{id}
func (h *HistoryHandler) Trade(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeUnavailable(w, "trade history")
		return
	}
	t, err := h.trades.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "trade", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Positions lists recently closed risk positions and realised PnL since a
// point in time (default: the last 24h).
// GET /api/positions
func (h *HistoryHandler) Positions(w http.ResponseWriter, r *http.Request) {
	if h.positions == nil {
		writeUnavailable(w, "position history")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.positions.ListRecent(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "positions", err)
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if opts.Since != nil {
		since = *opts.Since
	}
	pnl, err := h.positions.SumPnL(r.Context(), since)
	if err != nil {
		h.fail(w, r, "positions pnl", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions":    list,
		"realized_pnl": pnl,
		"since":        since.Format(time.RFC3339),
	})
}

// Rejections lists guardrail rejections for a symbol with per-stage counts.
// GET /api/rejections/{symbol}
func (h *HistoryHandler) Rejections(w http.ResponseWriter, r *http.Request) {
	if h.rejections == nil {
		writeUnavailable(w, "rejection history")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.rejections.ListBySymbol(r.Context(), symbolParam(r), opts)
	if err != nil {
		h.fail(w, r, "rejections", err)
		return
	}
	since := time.Time{}
	if opts.Since != nil {
		since = *opts.Since
	}
	counts, err := h.rejections.CountByStage(r.Context(), since)
	if err != nil {
		h.fail(w, r, "rejection counts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rejections": list, "by_stage": counts})
}

// Audit lists audit log entries, newest first.
// GET /api/audit
func (h *HistoryHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeUnavailable(w, "audit log")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "audit", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
