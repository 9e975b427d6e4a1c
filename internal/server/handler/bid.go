package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// BidService defines what the bid handler needs from the admission
// controller.
type BidService interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, kind domain.BidKind) (domain.BidResult, error)
	SetAutoBid(ctx context.Context, auctionID, bidderID string, maxAmount decimal.Decimal) (domain.CeilingResult, error)
}

// BidHandler serves the bid placement and proxy ceiling endpoints.
type BidHandler struct {
	bids   BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bids BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{bids: bids, logger: logger}
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PlaceBid submits one bid. The response always carries the current price;
// rejected bids report the rejection reason and are never broadcast.
// POST /api/auctions/{id}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	bidder := identity(r)
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	auctionID := r.PathValue("id")
	res, err := h.bids.PlaceBid(r.Context(), auctionID, bidder, req.Amount, domain.BidKindManual)
	if err != nil {
		if res.Reason != "" {
			// Domain rejection: return the result so the caller can act on
			// the fresh price.
			writeJSON(w, statusForError(err), res)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: place bid failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

type setAutoBidRequest struct {
	MaxAmount decimal.Decimal `json:"max_amount"`
}

// SetAutoBid registers or replaces the caller's proxy ceiling.
// POST /api/auctions/{id}/autobid
func (h *BidHandler) SetAutoBid(w http.ResponseWriter, r *http.Request) {
	bidder := identity(r)
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	var req setAutoBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	auctionID := r.PathValue("id")
	res, err := h.bids.SetAutoBid(r.Context(), auctionID, bidder, req.MaxAmount)
	if err != nil {
		if res.Reason != "" {
			writeJSON(w, statusForError(err), res)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: set autobid failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, res)
}
