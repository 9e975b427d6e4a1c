package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/bus"
	"github.com/gavelhq/gavel/internal/domain"
	"github.com/gavelhq/gavel/internal/store/memory"
)

type fixture struct {
	store     *memory.Store
	admission *Admission
	ledger    *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	ledger := NewLedger(st.Auctions(), st.Bids(), logger)
	adm := NewAdmission(ledger, st.Ceilings(), bus.NewMemory(), st.Audit(), Config{}, logger)
	return &fixture{store: st, admission: adm, ledger: ledger}
}

func (f *fixture) seedAuction(t *testing.T, id string, starting int64, status domain.AuctionStatus) domain.Auction {
	t.Helper()
	now := time.Now().UTC()
	a := domain.Auction{
		ID:            id,
		SellerID:      "seller",
		Title:         "lot " + id,
		StartingPrice: decimal.NewFromInt(starting),
		CurrentPrice:  decimal.NewFromInt(starting),
		Status:        status,
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.store.Auctions().Create(context.Background(), a))
	return a
}

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestPlaceBid_Acceptance(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		status     domain.AuctionStatus
		bidder     string
		amount     int64
		prep       func(t *testing.T, f *fixture)
		wantErr    error
		wantReason domain.RejectReason
		wantPrice  int64
	}{
		{
			name:      "first_bid_at_starting_price",
			status:    domain.AuctionStatusActive,
			bidder:    "alice",
			amount:    100,
			wantPrice: 100,
		},
		{
			name:       "first_bid_below_starting_price",
			status:     domain.AuctionStatusActive,
			bidder:     "alice",
			amount:     99,
			wantErr:    domain.ErrBidTooLow,
			wantReason: domain.RejectTooLow,
		},
		{
			name:   "meets_increment_exactly",
			status: domain.AuctionStatusActive,
			bidder: "bob",
			prep: func(t *testing.T, f *fixture) {
				_, err := f.admission.PlaceBid(ctx, "a1", "alice", amt(100), domain.BidKindManual)
				require.NoError(t, err)
			},
			// At a current price of 100 the increment tier is 10, so the
			// minimum qualifying follow-up is 110.
			amount:    110,
			wantPrice: 110,
		},
		{
			name:   "below_increment",
			status: domain.AuctionStatusActive,
			bidder: "bob",
			prep: func(t *testing.T, f *fixture) {
				_, err := f.admission.PlaceBid(ctx, "a1", "alice", amt(100), domain.BidKindManual)
				require.NoError(t, err)
			},
			amount:     109,
			wantErr:    domain.ErrBidTooLow,
			wantReason: domain.RejectTooLow,
		},
		{
			name:   "self_outbid_rejected",
			status: domain.AuctionStatusActive,
			bidder: "alice",
			prep: func(t *testing.T, f *fixture) {
				_, err := f.admission.PlaceBid(ctx, "a1", "alice", amt(100), domain.BidKindManual)
				require.NoError(t, err)
			},
			amount:     200,
			wantErr:    domain.ErrSelfOutbid,
			wantReason: domain.RejectSelfOutbid,
		},
		{
			name:       "scheduled_not_biddable",
			status:     domain.AuctionStatusScheduled,
			bidder:     "alice",
			amount:     100,
			wantErr:    domain.ErrAuctionNotActive,
			wantReason: domain.RejectNotActive,
		},
		{
			name:       "ended_not_biddable",
			status:     domain.AuctionStatusEnded,
			bidder:     "alice",
			amount:     100,
			wantErr:    domain.ErrAuctionNotActive,
			wantReason: domain.RejectNotActive,
		},
		{
			name:       "paused_not_biddable",
			status:     domain.AuctionStatusPaused,
			bidder:     "alice",
			amount:     100,
			wantErr:    domain.ErrAuctionNotActive,
			wantReason: domain.RejectNotActive,
		},
		{
			name:      "ending_soon_still_biddable",
			status:    domain.AuctionStatusEndingSoon,
			bidder:    "alice",
			amount:    100,
			wantPrice: 100,
		},
		{
			name:       "zero_amount",
			status:     domain.AuctionStatusActive,
			bidder:     "alice",
			amount:     0,
			wantErr:    domain.ErrInvalidAmount,
			wantReason: domain.RejectInvalidAmount,
		},
		{
			name:       "negative_amount",
			status:     domain.AuctionStatusActive,
			bidder:     "alice",
			amount:     -5,
			wantErr:    domain.ErrInvalidAmount,
			wantReason: domain.RejectInvalidAmount,
		},
		{
			name:       "above_hard_cap",
			status:     domain.AuctionStatusActive,
			bidder:     "alice",
			amount:     2_000_000,
			wantErr:    domain.ErrBidTooHigh,
			wantReason: domain.RejectInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedAuction(t, "a1", 100, tt.status)
			if tt.prep != nil {
				tt.prep(t, f)
			}

			res, err := f.admission.PlaceBid(ctx, "a1", tt.bidder, amt(tt.amount), domain.BidKindManual)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.False(t, res.Accepted)
				require.Equal(t, tt.wantReason, res.Reason)
				return
			}
			require.NoError(t, err)
			require.True(t, res.Accepted)
			require.NotEmpty(t, res.BidID)
			require.True(t, res.CurrentPrice.Equal(amt(tt.wantPrice)),
				"price = %s, want %d", res.CurrentPrice, tt.wantPrice)
		})
	}
}

func TestPlaceBid_IncrementFromCurrentPrice(t *testing.T) {
	// Current price 90: next bid must be at least 95.
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 90, domain.AuctionStatusActive)

	_, err := f.admission.PlaceBid(ctx, "a1", "alice", amt(90), domain.BidKindManual)
	require.NoError(t, err)

	_, err = f.admission.PlaceBid(ctx, "a1", "bob", amt(94), domain.BidKindManual)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	res, err := f.admission.PlaceBid(ctx, "a1", "bob", amt(95), domain.BidKindManual)
	require.NoError(t, err)
	require.True(t, res.CurrentPrice.Equal(amt(95)))
}

func TestPlaceBid_ProxyCounters(t *testing.T) {
	// Bob holds a 200 ceiling. Alice's manual 120 is accepted, then the
	// engine counters for bob at 130 and alice is displaced.
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 100, domain.AuctionStatusActive)

	cres, err := f.admission.SetAutoBid(ctx, "a1", "bob", amt(200))
	require.NoError(t, err)
	require.True(t, cres.Accepted)
	// Bob's ceiling opens the bidding at the starting price.
	require.True(t, cres.CurrentPrice.Equal(amt(100)))

	res, err := f.admission.PlaceBid(ctx, "a1", "alice", amt(120), domain.BidKindManual)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, "bob", res.HighBidderID)
	require.True(t, res.CurrentPrice.Equal(amt(130)), "price = %s, want 130", res.CurrentPrice)

	// History replays newest-first: bob 130, alice 120, bob 100.
	bids, err := f.ledger.History(ctx, "a1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, bids, 3)
	require.Equal(t, "bob", bids[0].BidderID)
	require.Equal(t, domain.BidKindProxy, bids[0].Kind)
	require.True(t, bids[0].Amount.Equal(amt(130)))
	require.Equal(t, "alice", bids[1].BidderID)
	require.Equal(t, domain.BidKindManual, bids[1].Kind)
	require.True(t, bids[2].Amount.Equal(amt(100)))
}

func TestPlaceBid_ManualBeyondCeilingWins(t *testing.T) {
	// A manual bid above the standing ceiling takes the high bid for good.
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 100, domain.AuctionStatusActive)

	_, err := f.admission.SetAutoBid(ctx, "a1", "bob", amt(200))
	require.NoError(t, err)

	res, err := f.admission.PlaceBid(ctx, "a1", "alice", amt(300), domain.BidKindManual)
	require.NoError(t, err)
	require.Equal(t, "alice", res.HighBidderID)
	require.True(t, res.CurrentPrice.Equal(amt(300)))

	// Bob's exhausted ceiling is retired.
	c, err := f.store.Ceilings().Get(ctx, "a1", "bob")
	require.NoError(t, err)
	require.False(t, c.Active)
}

func TestSetAutoBid_EqualCeilingsEarlierWins(t *testing.T) {
	// Two ceilings at 500: the earlier registration holds the high bid at
	// exactly 500.
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 50, domain.AuctionStatusActive)

	_, err := f.admission.SetAutoBid(ctx, "a1", "carol", amt(500))
	require.NoError(t, err)

	res, err := f.admission.SetAutoBid(ctx, "a1", "dave", amt(500))
	require.NoError(t, err)
	require.True(t, res.CurrentPrice.Equal(amt(500)), "price = %s, want 500", res.CurrentPrice)

	a, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "carol", a.HighBidderID)
	require.True(t, a.CurrentPrice.Equal(amt(500)))

	// The loser's ceiling is retired; the winner's stays active to defend.
	c, err := f.store.Ceilings().Get(ctx, "a1", "dave")
	require.NoError(t, err)
	require.False(t, c.Active)
	c, err = f.store.Ceilings().Get(ctx, "a1", "carol")
	require.NoError(t, err)
	require.True(t, c.Active)
}

func TestSetAutoBid_StrongerChallengerTakesOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 50, domain.AuctionStatusActive)

	_, err := f.admission.SetAutoBid(ctx, "a1", "carol", amt(300))
	require.NoError(t, err)

	res, err := f.admission.SetAutoBid(ctx, "a1", "dave", amt(500))
	require.NoError(t, err)
	// Dave clears carol's 300 by one increment.
	require.True(t, res.CurrentPrice.Equal(amt(310)), "price = %s, want 310", res.CurrentPrice)

	a, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "dave", a.HighBidderID)
}

func TestSetAutoBid_WeakerChallengerRaisesDefender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 50, domain.AuctionStatusActive)

	_, err := f.admission.SetAutoBid(ctx, "a1", "carol", amt(500))
	require.NoError(t, err)

	res, err := f.admission.SetAutoBid(ctx, "a1", "dave", amt(200))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	// Carol defends just past dave's maximum.
	require.True(t, res.CurrentPrice.Equal(amt(210)), "price = %s, want 210", res.CurrentPrice)

	a, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "carol", a.HighBidderID)
}

func TestSetAutoBid_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 100, domain.AuctionStatusActive)

	// Below the starting price on a fresh auction.
	_, err := f.admission.SetAutoBid(ctx, "a1", "bob", amt(99))
	require.ErrorIs(t, err, domain.ErrCeilingTooLow)

	_, err = f.admission.PlaceBid(ctx, "a1", "alice", amt(150), domain.BidKindManual)
	require.NoError(t, err)

	// Not above the current price once bidding has started.
	_, err = f.admission.SetAutoBid(ctx, "a1", "bob", amt(150))
	require.ErrorIs(t, err, domain.ErrCeilingTooLow)

	_, err = f.admission.SetAutoBid(ctx, "a1", "bob", amt(0))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestPlaceBid_ConcurrentBiddersMonotonicPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 100, domain.AuctionStatusActive)

	var wg sync.WaitGroup
	bidders := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	for i, b := range bidders {
		wg.Add(1)
		go func(bidder string, offset int64) {
			defer wg.Done()
			// Most of these lose to a rejection; that is the point.
			_, _ = f.admission.PlaceBid(ctx, "a1", bidder, amt(100+offset*10), domain.BidKindManual)
		}(b, int64(i))
	}
	wg.Wait()

	// Whatever interleaving happened, the recorded history must be strictly
	// increasing in both sequence and amount.
	bids, err := f.ledger.History(ctx, "a1", domain.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, bids)
	for i := 1; i < len(bids); i++ {
		// Newest first.
		require.Greater(t, bids[i-1].Seq, bids[i].Seq)
		require.True(t, bids[i-1].Amount.GreaterThan(bids[i].Amount),
			"amounts must strictly increase: %s then %s", bids[i].Amount, bids[i-1].Amount)
	}

	a, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, len(bids), a.BidCount)
	require.True(t, a.CurrentPrice.Equal(bids[0].Amount))
}

func TestPlaceBid_StalePriceNotRetried(t *testing.T) {
	// Drive the CAS path directly: apply against an outdated snapshot. A
	// first bid lands at the starting price without moving it, so the bid
	// count, not the price, is what marks this snapshot stale.
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuction(t, "a1", 100, domain.AuctionStatusActive)

	stale, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)

	_, err = f.admission.PlaceBid(ctx, "a1", "alice", amt(100), domain.BidKindManual)
	require.NoError(t, err)

	// Bob's write raced alice's from a pre-bid snapshot; it must fail
	// closed rather than displace her.
	_, err = f.ledger.ApplyBid(ctx, stale, domain.Bid{
		ID:        "b-stale",
		AuctionID: "a1",
		BidderID:  "bob",
		Amount:    amt(100),
		Kind:      domain.BidKindManual,
		PlacedAt:  time.Now().UTC(),
	})
	require.ErrorIs(t, err, domain.ErrStalePrice)

	// Nothing was recorded for the losing write.
	n, err := f.store.Bids().Count(ctx, "a1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	a, err := f.ledger.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "alice", a.HighBidderID)
	require.Equal(t, 1, a.BidCount)
}

func TestPlaceBid_OutbidEventsAtSettledPrice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	b := bus.NewMemory()
	ledger := NewLedger(st.Auctions(), st.Bids(), logger)
	adm := NewAdmission(ledger, st.Ceilings(), b, st.Audit(), Config{}, logger)
	f := &fixture{store: st, admission: adm, ledger: ledger}
	f.seedAuction(t, "a1", 100, domain.AuctionStatusActive)

	events, err := b.Subscribe(ctx, domain.EventChannelPattern)
	require.NoError(t, err)

	_, err = adm.SetAutoBid(ctx, "a1", "bob", amt(200))
	require.NoError(t, err)
	_, err = adm.PlaceBid(ctx, "a1", "alice", amt(120), domain.BidKindManual)
	require.NoError(t, err)

	var accepted []domain.Event
	var outbid []domain.Event
	deadline := time.After(time.Second)
	for len(accepted) < 2 || len(outbid) < 1 {
		select {
		case raw := <-events:
			var ev domain.Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			switch ev.Type {
			case domain.EventBidAccepted:
				accepted = append(accepted, ev)
			case domain.EventOutbid:
				outbid = append(outbid, ev)
			}
		case <-deadline:
			t.Fatalf("timed out: accepted=%d outbid=%d", len(accepted), len(outbid))
		}
	}

	// The settled announcement carries the post-cascade price, never an
	// intermediate one.
	var pay domain.BidAcceptedPayload
	require.NoError(t, json.Unmarshal(accepted[len(accepted)-1].Payload, &pay))
	require.True(t, pay.Price.Equal(amt(130)))
	require.Equal(t, "bob", pay.BidderID)

	var ob domain.OutbidPayload
	require.NoError(t, json.Unmarshal(outbid[0].Payload, &ob))
	require.Equal(t, "alice", ob.PreviousBidderID)
	require.True(t, ob.NewPrice.Equal(amt(130)))
}
