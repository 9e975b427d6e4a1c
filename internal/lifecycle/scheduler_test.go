package lifecycle

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/bus"
	"github.com/gavelhq/gavel/internal/domain"
	"github.com/gavelhq/gavel/internal/engine"
	"github.com/gavelhq/gavel/internal/store/memory"
)

type fixture struct {
	store     *memory.Store
	bus       *bus.Memory
	ledger    *engine.Ledger
	scheduler *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	b := bus.NewMemory()
	ledger := engine.NewLedger(st.Auctions(), st.Bids(), logger)
	sched := NewScheduler(
		ledger, st.Auctions(), st.Ceilings(), st.Settlements(),
		b, st.Audit(), nil, Config{}, logger,
	)
	return &fixture{store: st, bus: b, ledger: ledger, scheduler: sched}
}

func (f *fixture) seed(t *testing.T, a domain.Auction) domain.Auction {
	t.Helper()
	if a.CurrentPrice.IsZero() {
		a.CurrentPrice = a.StartingPrice
	}
	require.NoError(t, f.store.Auctions().Create(context.Background(), a))
	return a
}

func baseAuction(id string, status domain.AuctionStatus, start, end time.Time) domain.Auction {
	return domain.Auction{
		ID:            id,
		SellerID:      "seller",
		Title:         "lot " + id,
		StartingPrice: decimal.NewFromInt(100),
		Status:        status,
		StartTime:     start,
		EndTime:       end,
		CreatedAt:     start,
		UpdatedAt:     start,
	}
}

func TestSweep_ActivatesDueAuctions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	f.seed(t, baseAuction("due", domain.AuctionStatusScheduled, now.Add(-time.Second), now.Add(time.Hour)))
	f.seed(t, baseAuction("future", domain.AuctionStatusScheduled, now.Add(time.Hour), now.Add(2*time.Hour)))

	require.NoError(t, f.scheduler.Sweep(ctx, now))

	a, err := f.ledger.Get(ctx, "due")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusActive, a.Status)

	a, err = f.ledger.Get(ctx, "future")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusScheduled, a.Status)
}

func TestSweep_MarksEndingSoon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	f.seed(t, baseAuction("soon", domain.AuctionStatusActive, now.Add(-time.Hour), now.Add(4*time.Minute)))
	f.seed(t, baseAuction("far", domain.AuctionStatusActive, now.Add(-time.Hour), now.Add(time.Hour)))

	require.NoError(t, f.scheduler.Sweep(ctx, now))

	a, err := f.ledger.Get(ctx, "soon")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusEndingSoon, a.Status)

	a, err = f.ledger.Get(ctx, "far")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusActive, a.Status)
}

func TestSweep_FinalizesWithWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	a := baseAuction("done", domain.AuctionStatusEndingSoon, now.Add(-time.Hour), now.Add(-time.Second))
	a.CurrentPrice = decimal.NewFromInt(250)
	a.BidCount = 4
	a.HighBidderID = "alice"
	f.seed(t, a)
	require.NoError(t, f.store.Ceilings().Upsert(ctx, domain.ProxyCeiling{
		AuctionID: "done", BidderID: "alice",
		MaxAmount: decimal.NewFromInt(400), Active: true,
		CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, f.scheduler.Sweep(ctx, now))

	got, err := f.ledger.Get(ctx, "done")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusEnded, got.Status)
	require.NotNil(t, got.WinnerID)
	require.Equal(t, "alice", *got.WinnerID)

	st, err := f.store.Settlements().Get(ctx, "done")
	require.NoError(t, err)
	require.Equal(t, "alice", st.WinnerID)
	require.True(t, st.FinalPrice.Equal(decimal.NewFromInt(250)))
	require.True(t, st.ReserveMet)
	require.Nil(t, st.DeliveredAt)

	// Ceilings are retired at close.
	c, err := f.store.Ceilings().Get(ctx, "done", "alice")
	require.NoError(t, err)
	require.False(t, c.Active)

	// A later sweep does not mint a second settlement or disturb the record.
	require.NoError(t, f.scheduler.Sweep(ctx, now.Add(time.Second)))
	st2, err := f.store.Settlements().Get(ctx, "done")
	require.NoError(t, err)
	require.Equal(t, st.CreatedAt, st2.CreatedAt)
}

func TestSweep_NoBidsEndsWithoutWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	f.seed(t, baseAuction("empty", domain.AuctionStatusActive, now.Add(-time.Hour), now.Add(-time.Second)))

	require.NoError(t, f.scheduler.Sweep(ctx, now))

	got, err := f.ledger.Get(ctx, "empty")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusEnded, got.Status)
	require.Nil(t, got.WinnerID)

	st, err := f.store.Settlements().Get(ctx, "empty")
	require.NoError(t, err)
	require.Empty(t, st.WinnerID)
}

func TestSweep_ReserveNotMetEndsWithoutWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	reserve := decimal.NewFromInt(1000)
	a := baseAuction("short", domain.AuctionStatusActive, now.Add(-time.Hour), now.Add(-time.Second))
	a.ReservePrice = &reserve
	a.CurrentPrice = decimal.NewFromInt(300)
	a.BidCount = 2
	a.HighBidderID = "bob"
	f.seed(t, a)

	require.NoError(t, f.scheduler.Sweep(ctx, now))

	got, err := f.ledger.Get(ctx, "short")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusEnded, got.Status)
	require.Nil(t, got.WinnerID)

	st, err := f.store.Settlements().Get(ctx, "short")
	require.NoError(t, err)
	require.Empty(t, st.WinnerID)
	require.False(t, st.ReserveMet)
	require.True(t, st.FinalPrice.Equal(decimal.NewFromInt(300)))
}

func TestSweep_CatchesUpAfterDowntime(t *testing.T) {
	// Deadlines well in the past are handled on the first sweep after a
	// restart; nothing depends on having observed the crossing live.
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	f.seed(t, baseAuction("stale-start", domain.AuctionStatusScheduled, now.Add(-2*time.Hour), now.Add(time.Hour)))
	f.seed(t, baseAuction("stale-end", domain.AuctionStatusActive, now.Add(-3*time.Hour), now.Add(-2*time.Hour)))

	require.NoError(t, f.scheduler.Sweep(ctx, now))

	a, err := f.ledger.Get(ctx, "stale-start")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusActive, a.Status)

	a, err = f.ledger.Get(ctx, "stale-end")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusEnded, a.Status)
}

func TestMaybeExtend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	t.Run("inside_window_extends_from_bid_time", func(t *testing.T) {
		end := now.Add(30 * time.Second)
		a := f.seed(t, baseAuction("snipe", domain.AuctionStatusEndingSoon, now.Add(-time.Hour), end))

		got, extended, err := f.scheduler.MaybeExtend(ctx, a, now)
		require.NoError(t, err)
		require.True(t, extended)
		// Bid 30s before the deadline with a 2m extension: the new end is
		// 90s past the old one.
		require.True(t, got.EndTime.Equal(now.Add(2*time.Minute)))

		stored, err := f.ledger.Get(ctx, "snipe")
		require.NoError(t, err)
		require.True(t, stored.EndTime.Equal(got.EndTime))
	})

	t.Run("outside_window_no_extension", func(t *testing.T) {
		end := now.Add(30 * time.Minute)
		a := f.seed(t, baseAuction("calm", domain.AuctionStatusActive, now.Add(-time.Hour), end))

		got, extended, err := f.scheduler.MaybeExtend(ctx, a, now)
		require.NoError(t, err)
		require.False(t, extended)
		require.True(t, got.EndTime.Equal(end))
	})

	t.Run("extension_reactivates_past_warning_window", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		st := memory.New()
		ledger := engine.NewLedger(st.Auctions(), st.Bids(), logger)
		sched := NewScheduler(
			ledger, st.Auctions(), st.Ceilings(), st.Settlements(),
			bus.NewMemory(), st.Audit(), nil,
			Config{SnipeWindow: 2 * time.Minute, SnipeExtension: 10 * time.Minute},
			logger,
		)
		lf := &fixture{store: st, ledger: ledger, scheduler: sched}

		end := now.Add(time.Minute)
		a := lf.seed(t, baseAuction("boost", domain.AuctionStatusEndingSoon, now.Add(-time.Hour), end))

		got, extended, err := sched.MaybeExtend(ctx, a, now)
		require.NoError(t, err)
		require.True(t, extended)
		require.Equal(t, domain.AuctionStatusActive, got.Status)
	})
}

func TestSellerOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now().UTC()

	f.seed(t, baseAuction("lot", domain.AuctionStatusActive, now.Add(-time.Hour), now.Add(time.Hour)))

	a, err := f.scheduler.Pause(ctx, "lot")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusPaused, a.Status)

	a, err = f.scheduler.Resume(ctx, "lot")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusActive, a.Status)

	a, err = f.scheduler.Cancel(ctx, "lot")
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusCancelled, a.Status)

	// Terminal: nothing moves it again.
	_, err = f.scheduler.Resume(ctx, "lot")
	require.ErrorIs(t, err, domain.ErrBadTransition)
}

func TestSweep_PublishesStatusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	now := time.Now().UTC()

	events, err := f.bus.Subscribe(ctx, domain.EventChannelPattern)
	require.NoError(t, err)

	f.seed(t, baseAuction("done", domain.AuctionStatusActive, now.Add(-2*time.Hour), now.Add(-time.Second)))
	require.NoError(t, f.scheduler.Sweep(ctx, now))

	var types []domain.EventType
	deadline := time.After(time.Second)
	for len(types) < 2 {
		select {
		case raw := <-events:
			var ev domain.Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			require.Equal(t, "done", ev.AuctionID)
			types = append(types, ev.Type)
		case <-deadline:
			t.Fatalf("timed out after %d events", len(types))
		}
	}
	require.Contains(t, types, domain.EventStatusChanged)
	require.Contains(t, types, domain.EventSettled)
}
