package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

// archiveRoot is the only prefix clients may read.
const archiveRoot = "archive/"

// ArchiveHandler lists and streams archived trade files from blob storage.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. A nil reader answers 503.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logger.With(slog.String("handler", "archive"))}
}

// List returns the objects under ?prefix= (default archive/).
// GET /api/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeUnavailable(w, "archive storage")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = archiveRoot
	}
	if !strings.HasPrefix(prefix, archiveRoot) {
		writeError(w, http.StatusBadRequest, "prefix must start with "+archiveRoot)
		return
	}
	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive list failed", slog.String("prefix", prefix), slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "archive storage unavailable")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// Download streams one archive file as JSON lines.
// GET /api/archives/{path...}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeUnavailable(w, "archive storage")
		return
	}
	path := archiveRoot + strings.TrimPrefix(r.PathValue("path"), archiveRoot)
	if strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	body, err := h.reader.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "archive read failed", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "archive storage unavailable")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted", slog.String("path", path), slog.String("error", err.Error()))
	}
}
