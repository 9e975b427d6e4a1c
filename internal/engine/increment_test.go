package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/domain"
)

func TestMinIncrement(t *testing.T) {
	tests := []struct {
		name  string
		price int64
		want  int64
	}{
		{"bottom_band", 0, 5},
		{"below_100", 99, 5},
		{"at_100", 100, 10},
		{"below_500", 499, 10},
		{"at_500", 500, 25},
		{"below_1000", 999, 25},
		{"at_1000", 1000, 50},
		{"below_5000", 4999, 50},
		{"at_5000", 5000, 100},
		{"below_10000", 9999, 100},
		{"at_10000", 10000, 250},
		{"far_above", 250000, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinIncrement(decimal.NewFromInt(tt.price))
			require.True(t, got.Equal(decimal.NewFromInt(tt.want)),
				"MinIncrement(%d) = %s, want %d", tt.price, got, tt.want)
		})
	}
}

func TestRequiredBid(t *testing.T) {
	a := domain.Auction{
		ID:            "a1",
		StartingPrice: decimal.NewFromInt(100),
		CurrentPrice:  decimal.NewFromInt(100),
		Status:        domain.AuctionStatusActive,
		EndTime:       time.Now().Add(time.Hour),
	}

	// No accepted bids yet: the starting price itself qualifies.
	require.True(t, RequiredBid(a).Equal(decimal.NewFromInt(100)))

	a.BidCount = 3
	a.CurrentPrice = decimal.NewFromInt(90)
	require.True(t, RequiredBid(a).Equal(decimal.NewFromInt(95)))

	a.CurrentPrice = decimal.NewFromInt(120)
	require.True(t, RequiredBid(a).Equal(decimal.NewFromInt(130)))
}
