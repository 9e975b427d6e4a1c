package service

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
	"github.com/gavelhq/gavel/internal/store/memory"
)

func newSettlementFixture(t *testing.T) (*SettlementService, domain.SettlementStore, *bus.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	b := bus.NewMemory()
	svc := NewSettlementService(st.Settlements(), b, 0, logger)
	return svc, st.Settlements(), b
}

func seedSettlement(t *testing.T, store domain.SettlementStore, auctionID, winnerID string, price int64, at time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), domain.Settlement{
		AuctionID:  auctionID,
		WinnerID:   winnerID,
		FinalPrice: decimal.NewFromInt(price),
		ReserveMet: winnerID != "",
		CreatedAt:  at,
	}))
}

func TestPublishPending_MarksDelivered(t *testing.T) {
	ctx := context.Background()
	svc, store, b := newSettlementFixture(t)
	now := time.Now().UTC()
	seedSettlement(t, store, "a1", "alice", 150, now)
	seedSettlement(t, store, "a2", "", 200, now.Add(time.Second))

	require.NoError(t, svc.PublishPending(ctx))

	// Both rows are on the stream and marked delivered.
	msgs, err := b.StreamRead(ctx, SettlementStream, "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	pending, err := store.ListUndelivered(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, pending)

	// A second pass hands off nothing new.
	require.NoError(t, svc.PublishPending(ctx))
	msgs, err = b.StreamRead(ctx, SettlementStream, "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestReplay_ResumesAfterLastID(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newSettlementFixture(t)
	now := time.Now().UTC()
	seedSettlement(t, store, "a1", "alice", 150, now)
	seedSettlement(t, store, "a2", "bob", 300, now.Add(time.Second))
	require.NoError(t, svc.PublishPending(ctx))

	// Full replay from the beginning.
	all, err := svc.Replay(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	var first domain.Settlement
	require.NoError(t, json.Unmarshal(all[0].Payload, &first))
	require.Equal(t, "a1", first.AuctionID)
	require.Equal(t, "alice", first.WinnerID)

	// Resuming after the first entry returns only the second.
	rest, err := svc.Replay(ctx, all[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	var second domain.Settlement
	require.NoError(t, json.Unmarshal(rest[0].Payload, &second))
	require.Equal(t, "a2", second.AuctionID)

	// Resuming past the end returns nothing.
	tail, err := svc.Replay(ctx, rest[0].ID, 0)
	require.NoError(t, err)
	require.Empty(t, tail)
}
