package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus represents the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusScheduled  AuctionStatus = "scheduled"
	AuctionStatusActive     AuctionStatus = "active"
	AuctionStatusEndingSoon AuctionStatus = "ending_soon"
	AuctionStatusEnded      AuctionStatus = "ended"
	AuctionStatusCancelled  AuctionStatus = "cancelled"
	AuctionStatusPaused     AuctionStatus = "paused"
)

// Biddable reports whether bids are admissible in this status. ending_soon is
// a countdown refinement of active and does not alter the bidding contract.
func (s AuctionStatus) Biddable() bool {
	return s == AuctionStatusActive || s == AuctionStatusEndingSoon
}

// Terminal reports whether the status admits no further transitions.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusEnded || s == AuctionStatusCancelled
}

// Auction is the contended resource: one listing whose price is driven up by
// competing bidders until the end time passes.
type Auction struct {
	ID            string
	SellerID      string
	Title         string
	StartingPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	ReservePrice  *decimal.Decimal
	BidCount      int
	HighBidderID  string // empty until the first accepted bid
	Status        AuctionStatus
	StartTime     time.Time
	EndTime       time.Time
	WinnerID      *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReserveMet reports whether the current price satisfies the reserve, if any.
func (a Auction) ReserveMet() bool {
	if a.ReservePrice == nil {
		return true
	}
	return a.BidCount > 0 && a.CurrentPrice.GreaterThanOrEqual(*a.ReservePrice)
}

// AuctionState is the authoritative read snapshot served to observers and
// cached between writes: exactly the tuple a reconnecting client needs to
// resync.
type AuctionState struct {
	AuctionID string          `json:"auction_id"`
	Price     decimal.Decimal `json:"price"`
	Status    AuctionStatus   `json:"status"`
	EndTime   time.Time       `json:"end_time"`
	BidCount  int             `json:"bid_count"`
}

// State projects the auction onto its observer-visible snapshot.
func (a Auction) State() AuctionState {
	return AuctionState{
		AuctionID: a.ID,
		Price:     a.CurrentPrice,
		Status:    a.Status,
		EndTime:   a.EndTime,
		BidCount:  a.BidCount,
	}
}
