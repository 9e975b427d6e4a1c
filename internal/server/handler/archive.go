package handler

import (
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
)

var archiveMonthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ArchiveHandler serves cold-archived bid and settlement data back out of
// object storage. Registered only when archival is enabled.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the given reader.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

type archiveInfo struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// ListArchives returns metadata for every stored archive file.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.blobs.List(r.Context(), domain.ArchivePrefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive listing unavailable")
		return
	}

	out := make([]archiveInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveInfo{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}

// GetArchive streams one month's JSONL archive.
// GET /api/archives/{kind}/{month}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if kind != "bids" && kind != "settlements" {
		writeError(w, http.StatusNotFound, "unknown archive kind: "+kind)
		return
	}
	month := r.PathValue("month")
	if !archiveMonthRe.MatchString(month) {
		writeError(w, http.StatusBadRequest, "month must be formatted YYYY-MM")
		return
	}

	body, err := h.blobs.Get(r.Context(), domain.ArchiveObjectPath(kind, month))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("kind", kind),
			slog.String("month", month),
			slog.String("error", err.Error()),
		)
	}
}
