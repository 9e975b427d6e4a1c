package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
)

// Ledger is the authoritative record of an auction's price, bid history, and
// lifecycle state. ApplyBid is the single mutation point for price; SetStatus
// and SetEndTime are reserved for the lifecycle scheduler.
type Ledger struct {
	auctions domain.AuctionStore
	bids     domain.BidStore
	logger   *slog.Logger
}

// NewLedger creates a Ledger over the given stores.
func NewLedger(auctions domain.AuctionStore, bids domain.BidStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		auctions: auctions,
		bids:     bids,
		logger:   logger.With(slog.String("component", "ledger")),
	}
}

// Get returns the full auction record.
func (l *Ledger) Get(ctx context.Context, auctionID string) (domain.Auction, error) {
	a, err := l.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("ledger: get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ReadState returns the observer-visible snapshot. Reads never block writers
// and may be slightly stale; the price is always re-validated at write time.
func (l *Ledger) ReadState(ctx context.Context, auctionID string) (domain.AuctionState, error) {
	a, err := l.Get(ctx, auctionID)
	if err != nil {
		return domain.AuctionState{}, err
	}
	return a.State(), nil
}

// History returns accepted bids newest-first.
func (l *Ledger) History(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	bids, err := l.bids.ListByAuction(ctx, auctionID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: bid history %s: %w", auctionID, err)
	}
	return bids, nil
}

// ApplyBid verifies the candidate amount against the auction snapshot the
// caller read, then writes the new price and appends the bid record as one
// compare-and-set step. When the stored price or bid count has moved since
// the snapshot was taken the write fails with domain.ErrStalePrice and
// nothing is recorded; the caller decides whether to resubmit against the
// new price. The bid count is part of the predicate because a first bid at
// the starting price does not move the price at all.
func (l *Ledger) ApplyBid(ctx context.Context, a domain.Auction, b domain.Bid) (domain.Auction, error) {
	required := RequiredBid(a)
	if b.Amount.LessThan(required) {
		return domain.Auction{}, domain.ErrBidTooLow
	}

	// A write that would decrease price is a fatal internal error, not a
	// rejection: it means a caller bypassed the snapshot it claims to hold.
	if a.BidCount > 0 && b.Amount.LessThan(a.CurrentPrice) {
		return domain.Auction{}, fmt.Errorf("ledger: bid %s would decrease price %s -> %s: %w",
			b.ID, a.CurrentPrice, b.Amount, domain.ErrInvariant)
	}

	upd := domain.PriceUpdate{
		Price:         b.Amount,
		BidCount:      a.BidCount + 1,
		HighBidderID:  b.BidderID,
		Expected:      a.CurrentPrice,
		ExpectedCount: a.BidCount,
	}
	if err := l.auctions.ApplyBid(ctx, a.ID, upd, b); err != nil {
		if err == domain.ErrStalePrice {
			return domain.Auction{}, domain.ErrStalePrice
		}
		return domain.Auction{}, fmt.Errorf("ledger: apply bid %s on %s: %w", b.ID, a.ID, err)
	}

	a.CurrentPrice = b.Amount
	a.BidCount++
	a.HighBidderID = b.BidderID
	a.UpdatedAt = b.PlacedAt
	return a, nil
}

// SetStatus records a lifecycle transition after checking it is legal.
// Reserved for the lifecycle scheduler and seller operations routed through
// it; bid admission never writes status.
func (l *Ledger) SetStatus(ctx context.Context, a domain.Auction, next domain.AuctionStatus) error {
	if !legalTransition(a.Status, next) {
		return fmt.Errorf("ledger: %s -> %s on %s: %w", a.Status, next, a.ID, domain.ErrBadTransition)
	}
	if err := l.auctions.SetStatus(ctx, a.ID, next); err != nil {
		return fmt.Errorf("ledger: set status %s on %s: %w", next, a.ID, err)
	}
	l.logger.InfoContext(ctx, "status transition",
		slog.String("auction_id", a.ID),
		slog.String("from", string(a.Status)),
		slog.String("to", string(next)),
	)
	return nil
}

// SetEndTime rewrites the auction deadline. Extension may push the end time
// forward but never backward, and never after a terminal status.
func (l *Ledger) SetEndTime(ctx context.Context, a domain.Auction, endTime time.Time) error {
	if a.Status.Terminal() {
		return fmt.Errorf("ledger: extend %s after %s: %w", a.ID, a.Status, domain.ErrBadTransition)
	}
	if endTime.Before(a.EndTime) {
		return fmt.Errorf("ledger: end time move backward on %s: %w", a.ID, domain.ErrInvariant)
	}
	if err := l.auctions.SetEndTime(ctx, a.ID, endTime); err != nil {
		return fmt.Errorf("ledger: set end time on %s: %w", a.ID, err)
	}
	return nil
}

// SetWinner finalizes the auction outcome at settlement.
func (l *Ledger) SetWinner(ctx context.Context, auctionID string, winnerID *string) error {
	if err := l.auctions.SetWinner(ctx, auctionID, winnerID); err != nil {
		return fmt.Errorf("ledger: set winner on %s: %w", auctionID, err)
	}
	return nil
}

// legalTransition encodes the status machine: transitions are monotonic
// except for the seller-initiated active<->paused pair.
func legalTransition(from, to domain.AuctionStatus) bool {
	switch from {
	case domain.AuctionStatusScheduled:
		return to == domain.AuctionStatusActive || to == domain.AuctionStatusCancelled
	case domain.AuctionStatusActive:
		return to == domain.AuctionStatusEndingSoon ||
			to == domain.AuctionStatusEnded ||
			to == domain.AuctionStatusPaused ||
			to == domain.AuctionStatusCancelled
	case domain.AuctionStatusEndingSoon:
		// ending_soon can fall back to active when an anti-snipe extension
		// pushes the deadline outside the warning window again.
		return to == domain.AuctionStatusEnded ||
			to == domain.AuctionStatusActive ||
			to == domain.AuctionStatusPaused ||
			to == domain.AuctionStatusCancelled
	case domain.AuctionStatusPaused:
		return to == domain.AuctionStatusActive || to == domain.AuctionStatusCancelled
	default:
		return false
	}
}
