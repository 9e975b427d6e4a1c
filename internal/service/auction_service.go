// Package service composes the engine, stores, and caches into the
// operations the API surface exposes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
	"github.com/gavelhq/gavel/internal/engine"
	"github.com/gavelhq/gavel/internal/lifecycle"
)

// CreateAuctionParams carries the seller's listing request.
type CreateAuctionParams struct {
	SellerID      string
	Title         string
	StartingPrice decimal.Decimal
	ReservePrice  *decimal.Decimal
	StartTime     time.Time
	EndTime       time.Time
}

// AuctionService handles listing management and read paths. Bids go through
// the admission controller; status transitions go through the scheduler.
type AuctionService struct {
	auctions  domain.AuctionStore
	bids      domain.BidStore
	ledger    *engine.Ledger
	scheduler *lifecycle.Scheduler
	cache     domain.StateCache
	logger    *slog.Logger
}

// NewAuctionService creates an AuctionService. cache may be nil, in which
// case every state read hits the store.
func NewAuctionService(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	ledger *engine.Ledger,
	scheduler *lifecycle.Scheduler,
	cache domain.StateCache,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		auctions:  auctions,
		bids:      bids,
		ledger:    ledger,
		scheduler: scheduler,
		cache:     cache,
		logger:    logger,
	}
}

// Create validates and persists a new listing in scheduled status. A
// listing whose start time has already passed goes live on the next sweep.
func (s *AuctionService) Create(ctx context.Context, p CreateAuctionParams) (domain.Auction, error) {
	if p.SellerID == "" {
		return domain.Auction{}, fmt.Errorf("auction_service: create: seller required: %w", domain.ErrUnauthorized)
	}
	if p.Title == "" {
		return domain.Auction{}, fmt.Errorf("auction_service: create: title required: %w", domain.ErrInvalidAmount)
	}
	if p.StartingPrice.LessThanOrEqual(decimal.Zero) {
		return domain.Auction{}, fmt.Errorf("auction_service: create: starting price must be positive: %w", domain.ErrInvalidAmount)
	}
	if p.ReservePrice != nil && p.ReservePrice.LessThan(p.StartingPrice) {
		return domain.Auction{}, fmt.Errorf("auction_service: create: reserve below starting price: %w", domain.ErrInvalidAmount)
	}
	if !p.EndTime.After(p.StartTime) {
		return domain.Auction{}, fmt.Errorf("auction_service: create: end time must follow start time: %w", domain.ErrInvalidAmount)
	}

	now := time.Now().UTC()
	a := domain.Auction{
		ID:            uuid.New().String(),
		SellerID:      p.SellerID,
		Title:         p.Title,
		StartingPrice: p.StartingPrice,
		CurrentPrice:  p.StartingPrice,
		ReservePrice:  p.ReservePrice,
		Status:        domain.AuctionStatusScheduled,
		StartTime:     p.StartTime.UTC(),
		EndTime:       p.EndTime.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: create %s: %w", a.ID, err)
	}

	s.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("seller_id", a.SellerID),
		slog.String("starting_price", a.StartingPrice.String()),
	)
	return a, nil
}

// Get returns one auction.
func (s *AuctionService) Get(ctx context.Context, auctionID string) (domain.Auction, error) {
	return s.ledger.Get(ctx, auctionID)
}

// List returns auctions, optionally filtered by status.
func (s *AuctionService) List(ctx context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	out, err := s.auctions.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list: %w", err)
	}
	return out, nil
}

// GetState returns the observer snapshot, cache first, store on a miss. The
// cache is a read accelerator only; bids always re-validate against the
// store.
func (s *AuctionService) GetState(ctx context.Context, auctionID string) (domain.AuctionState, error) {
	if s.cache != nil {
		if state, err := s.cache.GetState(ctx, auctionID); err == nil {
			return state, nil
		}
	}

	state, err := s.ledger.ReadState(ctx, auctionID)
	if err != nil {
		return domain.AuctionState{}, err
	}

	if s.cache != nil {
		if cacheErr := s.cache.SetState(ctx, state); cacheErr != nil {
			s.logger.WarnContext(ctx, "state cache set failed",
				slog.String("auction_id", auctionID),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return state, nil
}

// History returns the auction's accepted bids newest-first.
func (s *AuctionService) History(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	if _, err := s.ledger.Get(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, auctionID, opts)
}

// Pause suspends bidding. Only the seller may pause.
func (s *AuctionService) Pause(ctx context.Context, auctionID, actorID string) (domain.Auction, error) {
	if err := s.authorizeSeller(ctx, auctionID, actorID); err != nil {
		return domain.Auction{}, err
	}
	a, err := s.scheduler.Pause(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	s.invalidate(ctx, auctionID)
	return a, nil
}

// Resume returns a paused auction to bidding. Only the seller may resume.
func (s *AuctionService) Resume(ctx context.Context, auctionID, actorID string) (domain.Auction, error) {
	if err := s.authorizeSeller(ctx, auctionID, actorID); err != nil {
		return domain.Auction{}, err
	}
	a, err := s.scheduler.Resume(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	s.invalidate(ctx, auctionID)
	return a, nil
}

// Cancel terminates an auction without a winner. The seller may cancel only
// before any bid has been accepted; an elevated actor may cancel regardless.
func (s *AuctionService) Cancel(ctx context.Context, auctionID, actorID string, elevated bool) (domain.Auction, error) {
	a, err := s.ledger.Get(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	if !elevated {
		if a.SellerID != actorID {
			return domain.Auction{}, domain.ErrUnauthorized
		}
		if a.BidCount > 0 {
			return domain.Auction{}, domain.ErrHasBids
		}
	}
	a, err = s.scheduler.Cancel(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	s.invalidate(ctx, auctionID)
	return a, nil
}

func (s *AuctionService) authorizeSeller(ctx context.Context, auctionID, actorID string) error {
	a, err := s.ledger.Get(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.SellerID != actorID {
		return domain.ErrUnauthorized
	}
	return nil
}

func (s *AuctionService) invalidate(ctx context.Context, auctionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, auctionID); err != nil {
		s.logger.WarnContext(ctx, "state cache invalidate failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}
