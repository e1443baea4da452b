package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vgbot/internal/domain"
	"github.com/alanyoungcy/vgbot/internal/regime"
)

// RegimeView is the read side of regime.Analyzer.
type RegimeView interface {
	Cache(symbol string) (regime.Snapshot, bool)
	Snapshots() []regime.Snapshot
}

// RegimeHandler serves range snapshots. The in-process analyzer is
// consulted first; the shared cache covers monitor mode.
type RegimeHandler struct {
	analyzer RegimeView
	cache    domain.RegimeCache
	logger   *slog.Logger
}

// NewRegimeHandler creates a RegimeHandler. Either source may be nil.
func NewRegimeHandler(analyzer RegimeView, cache domain.RegimeCache, logger *slog.Logger) *RegimeHandler {
	return &RegimeHandler{analyzer: analyzer, cache: cache, logger: logger.With(slog.String("handler", "regime"))}
}

// Get returns the latest regime for one symbol.
// GET /api/regime/{symbol}
func (h *RegimeHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if h.analyzer != nil {
		if snap, ok := h.analyzer.Cache(symbol); ok {
			writeJSON(w, http.StatusOK, snap.State())
			return
		}
	}
	if h.cache == nil {
		writeError(w, http.StatusNotFound, "no regime for "+symbol)
		return
	}
	st, err := h.cache.Get(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no regime for "+symbol)
			return
		}
		h.logger.ErrorContext(r.Context(), "regime cache read failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "regime cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// List returns every known regime ordered by symbol.
// GET /api/regime
func (h *RegimeHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.analyzer != nil {
		snaps := h.analyzer.Snapshots()
		out := make([]domain.RegimeState, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, s.State())
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	if h.cache == nil {
		writeJSON(w, http.StatusOK, []domain.RegimeState{})
		return
	}
	all, err := h.cache.All(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "regime cache list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "regime cache unavailable")
		return
	}
	writeJSON(w, http.StatusOK, all)
}
