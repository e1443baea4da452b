package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vgbot/internal/guardrail"
	"github.com/alanyoungcy/vgbot/internal/lifecycle"
	"github.com/alanyoungcy/vgbot/internal/risk"
)

// LifecycleView is the read side of lifecycle.Manager.
type LifecycleView interface {
	Stats() lifecycle.Stats
	ActiveTrades() []lifecycle.Trade
}

// RiskView is the read side of risk.Gate.
type RiskView interface {
	CurrentExposure() risk.Exposure
	Stats() risk.Stats
}

// ExecutionView is the read side of guardrail.Pipeline.
type ExecutionView interface {
	Stats() guardrail.Stats
	AuditLog() []guardrail.AuditEvent
}

// ReportHandler serves the in-memory reporting views. Any view may be nil.
type ReportHandler struct {
	lifecycle LifecycleView
	risk      RiskView
	execution ExecutionView
	logger    *slog.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(lc LifecycleView, rv RiskView, ev ExecutionView, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		lifecycle: lc,
		risk:      rv,
		execution: ev,
		logger:    logger.With(slog.String("handler", "report")),
	}
}

// Stats returns lifecycle results, the active trades and account counters.
// GET /api/stats
func (h *ReportHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	if h.lifecycle == nil {
		writeUnavailable(w, "lifecycle")
		return
	}
	resp := map[string]any{
		"trades": h.lifecycle.Stats(),
		"active": h.lifecycle.ActiveTrades(),
	}
	if h.risk != nil {
		resp["account"] = h.risk.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Exposure returns open notional by asset against the portfolio cap.
// GET /api/exposure
func (h *ReportHandler) Exposure(w http.ResponseWriter, _ *http.Request) {
	if h.risk == nil {
		writeUnavailable(w, "risk")
		return
	}
	writeJSON(w, http.StatusOK, h.risk.CurrentExposure())
}

// Execution returns guardrail counters. ?audit=true appends the merged
// execution/rejection log.
// GET /api/execution
func (h *ReportHandler) Execution(w http.ResponseWriter, r *http.Request) {
	if h.execution == nil {
		writeUnavailable(w, "execution")
		return
	}
	resp := map[string]any{"stats": h.execution.Stats()}
	if r.URL.Query().Get("audit") == "true" {
		resp["audit_log"] = h.execution.AuditLog()
	}
	writeJSON(w, http.StatusOK, resp)
}
