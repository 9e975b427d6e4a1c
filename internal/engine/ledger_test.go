package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/domain"
)

func TestLedger_StatusTransitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		from domain.AuctionStatus
		to   domain.AuctionStatus
		ok   bool
	}{
		{"scheduled_to_active", domain.AuctionStatusScheduled, domain.AuctionStatusActive, true},
		{"scheduled_to_cancelled", domain.AuctionStatusScheduled, domain.AuctionStatusCancelled, true},
		{"scheduled_to_ended", domain.AuctionStatusScheduled, domain.AuctionStatusEnded, false},
		{"active_to_ending_soon", domain.AuctionStatusActive, domain.AuctionStatusEndingSoon, true},
		{"active_to_paused", domain.AuctionStatusActive, domain.AuctionStatusPaused, true},
		{"active_to_scheduled", domain.AuctionStatusActive, domain.AuctionStatusScheduled, false},
		{"ending_soon_to_ended", domain.AuctionStatusEndingSoon, domain.AuctionStatusEnded, true},
		{"ending_soon_to_active", domain.AuctionStatusEndingSoon, domain.AuctionStatusActive, true},
		{"paused_to_active", domain.AuctionStatusPaused, domain.AuctionStatusActive, true},
		{"paused_to_ended", domain.AuctionStatusPaused, domain.AuctionStatusEnded, false},
		{"ended_is_terminal", domain.AuctionStatusEnded, domain.AuctionStatusActive, false},
		{"cancelled_is_terminal", domain.AuctionStatusCancelled, domain.AuctionStatusActive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.seedAuction(t, "a1", 100, tt.from)

			err := f.ledger.SetStatus(ctx, a, tt.to)
			if tt.ok {
				require.NoError(t, err)
				got, gerr := f.ledger.Get(ctx, "a1")
				require.NoError(t, gerr)
				require.Equal(t, tt.to, got.Status)
			} else {
				require.ErrorIs(t, err, domain.ErrBadTransition)
			}
		})
	}
}

func TestLedger_SetEndTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedAuction(t, "a1", 100, domain.AuctionStatusActive)

	// Forward is fine.
	require.NoError(t, f.ledger.SetEndTime(ctx, a, a.EndTime.Add(time.Minute)))

	// Backward never.
	err := f.ledger.SetEndTime(ctx, a, a.EndTime.Add(-time.Minute))
	require.ErrorIs(t, err, domain.ErrInvariant)

	// Terminal auctions are frozen.
	ended := f.seedAuction(t, "a2", 100, domain.AuctionStatusEnded)
	err = f.ledger.SetEndTime(ctx, ended, ended.EndTime.Add(time.Minute))
	require.ErrorIs(t, err, domain.ErrBadTransition)
}

func TestLedger_RacingFirstBidsAtStartingPrice(t *testing.T) {
	// Two first bids at exactly the starting price, both taken from pre-bid
	// snapshots. The price does not move on the first acceptance, so the
	// store's bid-count predicate is the only thing standing between the
	// second write and a silent displacement of the first bidder.
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 100, domain.AuctionStatusActive)

	snapAlice, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)
	snapBob, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = f.ledger.ApplyBid(ctx, snapAlice, domain.Bid{
		ID: "b1", AuctionID: "a1", BidderID: "alice",
		Amount: amt(100), Kind: domain.BidKindManual, PlacedAt: now,
	})
	require.NoError(t, err)

	_, err = f.ledger.ApplyBid(ctx, snapBob, domain.Bid{
		ID: "b2", AuctionID: "a1", BidderID: "bob",
		Amount: amt(100), Kind: domain.BidKindManual, PlacedAt: now,
	})
	require.ErrorIs(t, err, domain.ErrStalePrice)

	n, err := f.store.Bids().Count(ctx, "a1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	a, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 1, a.BidCount)
	require.Equal(t, "alice", a.HighBidderID)
}

func TestLedger_ApplyBidBelowRequired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 100, domain.AuctionStatusActive)

	a, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)
	a.BidCount = 5 // snapshot claims prior bids at this price

	_, err = f.ledger.ApplyBid(ctx, a, domain.Bid{
		ID:        "b1",
		AuctionID: "a1",
		BidderID:  "alice",
		Amount:    amt(40),
		Kind:      domain.BidKindManual,
		PlacedAt:  time.Now().UTC(),
	})
	require.ErrorIs(t, err, domain.ErrBidTooLow)
}
