package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gavelhq/gavel/internal/domain"
)

// SettlementService defines what the settlement handler needs.
type SettlementService interface {
	Get(ctx context.Context, auctionID string) (domain.Settlement, error)
	Replay(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// SettlementHandler serves settlement lookups for ended auctions.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, logger: logger}
}

// GetSettlement returns the settlement record for an ended auction.
// GET /api/auctions/{id}/settlement
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := h.settlements.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type streamEntry struct {
	ID         string          `json:"id"`
	Settlement json.RawMessage `json:"settlement"`
}

// StreamSettlements replays delivered hand-offs from the settlement stream.
// The checkout consumer passes the last stream ID it processed in ?after=
// and resumes from there.
// GET /api/settlements/stream?after=<id>&count=<n>
func (h *SettlementHandler) StreamSettlements(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	msgs, err := h.settlements.Replay(r.Context(), r.URL.Query().Get("after"), count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: settlement replay failed",
			slog.String("error", err.Error()),
		)
		writeError(w, statusForError(err), err.Error())
		return
	}

	entries := make([]streamEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, streamEntry{ID: m.ID, Settlement: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
