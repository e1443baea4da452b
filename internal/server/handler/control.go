package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/vgbot/internal/domain"
	"github.com/alanyoungcy/vgbot/internal/guardrail"
)

// Controller is the operator's handle on the running engine.
// *engine.Runner satisfies it.
type Controller interface {
	Status() domain.BotStatus
	Halt(ctx context.Context, reason string)
	Resume(ctx context.Context)
	ResetLossStreak(ctx context.Context)
	Liquidate(ctx context.Context, symbol, reason string) (guardrail.Result, error)
}

// ControlHandler serves bot status and the operator controls.
// A nil Controller (monitor mode) answers 503.
type ControlHandler struct {
	ctrl   Controller
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(ctrl Controller, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{ctrl: ctrl, logger: logger.With(slog.String("handler", "control"))}
}

type controlRequest struct {
	Reason string `json:"reason"`
}

func (h *ControlHandler) reason(w http.ResponseWriter, r *http.Request, def string) (string, bool) {
	var req controlRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	if s := strings.TrimSpace(req.Reason); s != "" {
		return s, true
	}
	return def, true
}

// Status returns the runner summary.
// GET /api/status
func (h *ControlHandler) Status(w http.ResponseWriter, _ *http.Request) {
	if h.ctrl == nil {
		writeUnavailable(w, "engine")
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// Halt stops new entries. Open trades keep being managed.
// POST /api/control/halt {"reason": "..."}
func (h *ControlHandler) Halt(w http.ResponseWriter, r *http.Request) {
	if h.ctrl == nil {
		writeUnavailable(w, "engine")
		return
	}
	reason, ok := h.reason(w, r, "operator halt")
	if !ok {
		return
	}
	h.ctrl.Halt(r.Context(), reason)
	h.logger.WarnContext(r.Context(), "trading halted by operator", slog.String("reason", reason))
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// Resume clears the halt flag.
// POST /api/control/resume
func (h *ControlHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if h.ctrl == nil {
		writeUnavailable(w, "engine")
		return
	}
	h.ctrl.Resume(r.Context())
	h.logger.InfoContext(r.Context(), "trading resumed by operator")
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// ResetLossStreak clears the consecutive-loss breaker.
// POST /api/control/reset-loss-streak
func (h *ControlHandler) ResetLossStreak(w http.ResponseWriter, r *http.Request) {
	if h.ctrl == nil {
		writeUnavailable(w, "engine")
		return
	}
	h.ctrl.ResetLossStreak(r.Context())
	h.logger.WarnContext(r.Context(), "loss streak reset by operator")
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// Liquidate exits the open trade on a symbol. A failed exit is reported
// with 502 and the guardrail result; the trade stays open for retry.
// POST /api/control/liquidate/{symbol}
func (h *ControlHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	if h.ctrl == nil {
		writeUnavailable(w, "engine")
		return
	}
	symbol := symbolParam(r)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	reason, ok := h.reason(w, r, "operator liquidation")
	if !ok {
		return
	}

	res, err := h.ctrl.Liquidate(r.Context(), symbol, reason)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.logger.WarnContext(r.Context(), "liquidation requested",
		slog.String("symbol", symbol),
		slog.Bool("success", res.Success),
		slog.String("stage", string(res.Stage)),
	)
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
