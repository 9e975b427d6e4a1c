package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
	"github.com/gavelhq/gavel/internal/service"
)

// AuctionService defines what the auction handler needs from the service
// layer.
type AuctionService interface {
	Create(ctx context.Context, p service.CreateAuctionParams) (domain.Auction, error)
	Get(ctx context.Context, auctionID string) (domain.Auction, error)
	List(ctx context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error)
	GetState(ctx context.Context, auctionID string) (domain.AuctionState, error)
	History(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
	Pause(ctx context.Context, auctionID, actorID string) (domain.Auction, error)
	Resume(ctx context.Context, auctionID, actorID string) (domain.Auction, error)
	Cancel(ctx context.Context, auctionID, actorID string, elevated bool) (domain.Auction, error)
}

// AuctionHandler serves auction management and read endpoints.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{auctions: auctions, logger: logger}
}

type auctionView struct {
	ID            string          `json:"id"`
	SellerID      string          `json:"seller_id"`
	Title         string          `json:"title"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	BidCount      int             `json:"bid_count"`
	HighBidderID  string          `json:"high_bidder_id,omitempty"`
	Status        string          `json:"status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	WinnerID      *string         `json:"winner_id,omitempty"`
	ReserveSet    bool            `json:"reserve_set"`
	ReserveMet    bool            `json:"reserve_met"`
	CreatedAt     time.Time       `json:"created_at"`
}

// viewOf projects an auction for API responses. The reserve amount itself is
// seller-private; observers only learn whether one exists and is met.
func viewOf(a domain.Auction) auctionView {
	return auctionView{
		ID:            a.ID,
		SellerID:      a.SellerID,
		Title:         a.Title,
		StartingPrice: a.StartingPrice,
		CurrentPrice:  a.CurrentPrice,
		BidCount:      a.BidCount,
		HighBidderID:  a.HighBidderID,
		Status:        string(a.Status),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		WinnerID:      a.WinnerID,
		ReserveSet:    a.ReservePrice != nil,
		ReserveMet:    a.ReserveMet(),
		CreatedAt:     a.CreatedAt,
	}
}

type createAuctionRequest struct {
	Title         string           `json:"title"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
}

// CreateAuction creates a new listing for the calling seller.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	seller := identity(r)
	if seller == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	a, err := h.auctions.Create(r.Context(), service.CreateAuctionParams{
		SellerID:      seller,
		Title:         req.Title,
		StartingPrice: req.StartingPrice,
		ReservePrice:  req.ReservePrice,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create auction failed",
			slog.String("error", err.Error()),
		)
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(a))
}

type listAuctionsResponse struct {
	Auctions []auctionView `json:"auctions"`
}

// ListAuctions returns auctions, optionally filtered by status.
// GET /api/auctions?status=active&limit=50&offset=0
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	status := domain.AuctionStatus(r.URL.Query().Get("status"))

	auctions, err := h.auctions.List(r.Context(), status, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list auctions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list auctions")
		return
	}

	views := make([]auctionView, 0, len(auctions))
	for _, a := range auctions {
		views = append(views, viewOf(a))
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: views})
}

// GetAuction returns one auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

// GetAuctionState returns the observer snapshot used for resync.
// GET /api/auctions/{id}/state
func (h *AuctionHandler) GetAuctionState(w http.ResponseWriter, r *http.Request) {
	state, err := h.auctions.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type bidView struct {
	ID        string          `json:"id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Kind      string          `json:"kind"`
	PlacedAt  time.Time       `json:"placed_at"`
	Seq       int64           `json:"seq"`
}

type listBidsResponse struct {
	Bids []bidView `json:"bids"`
}

// ListBids returns the auction's accepted bid history, newest first.
// GET /api/auctions/{id}/bids
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.auctions.History(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	views := make([]bidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, bidView{
			ID:       b.ID,
			BidderID: b.BidderID,
			Amount:   b.Amount,
			Kind:     string(b.Kind),
			PlacedAt: b.PlacedAt,
			Seq:      b.Seq,
		})
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: views})
}

// PauseAuction suspends bidding at the seller's request.
// POST /api/auctions/{id}/pause
func (h *AuctionHandler) PauseAuction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.auctions.Pause)
}

// ResumeAuction returns a paused auction to bidding.
// POST /api/auctions/{id}/resume
func (h *AuctionHandler) ResumeAuction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.auctions.Resume)
}

// CancelAuction terminates an auction without a winner. Sellers may cancel
// only while the auction has no bids.
// POST /api/auctions/{id}/cancel
func (h *AuctionHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	actor := identity(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	a, err := h.auctions.Cancel(r.Context(), r.PathValue("id"), actor, false)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

func (h *AuctionHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, auctionID, actorID string) (domain.Auction, error),
) {
	actor := identity(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	a, err := op(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}
