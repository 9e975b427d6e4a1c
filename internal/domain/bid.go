package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidKind distinguishes bids typed in by a user from bids the engine places
// on a user's behalf against a proxy ceiling.
type BidKind string

const (
	BidKindManual BidKind = "manual"
	BidKindProxy  BidKind = "proxy"
)

// Bid is an immutable fact: once accepted and recorded it is never mutated or
// deleted. The bid log per auction is append-only, ordered by acceptance.
type Bid struct {
	ID        string
	AuctionID string
	BidderID  string
	Amount    decimal.Decimal
	Kind      BidKind
	PlacedAt  time.Time
	// Seq is the acceptance order within the auction, assigned by the store.
	// It is the ranking order for equal amounts: first to reach wins.
	Seq int64
}

// RejectReason classifies why a bid was not accepted, following the error
// taxonomy: validation and policy rejections are final, conflict rejections
// may be resubmitted against the new price, state rejections depend on a
// later status change.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectInvalidAmount RejectReason = "invalid_amount"
	RejectTooLow        RejectReason = "bid_too_low"
	RejectStalePrice    RejectReason = "stale_price"
	RejectNotActive     RejectReason = "auction_not_active"
	RejectSelfOutbid    RejectReason = "self_outbid"
)

// BidResult is the synchronous reply to a placeBid call. Rejections are
// returned here only; they are never broadcast as state changes.
type BidResult struct {
	Accepted     bool            `json:"accepted"`
	BidID        string          `json:"bid_id,omitempty"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	HighBidderID string          `json:"high_bidder_id,omitempty"`
	Reason       RejectReason    `json:"rejection_reason,omitempty"`
}

// ProxyCeiling is a standing instruction: the maximum a bidder authorizes the
// engine to bid on their behalf in one auction. At most one active ceiling
// exists per (auction, bidder) pair.
type ProxyCeiling struct {
	AuctionID string
	BidderID  string
	MaxAmount decimal.Decimal
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CeilingResult is the synchronous reply to a setAutoBid call.
type CeilingResult struct {
	Accepted      bool            `json:"accepted"`
	CeilingActive bool            `json:"ceiling_active"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Reason        RejectReason    `json:"rejection_reason,omitempty"`
}

// Settlement is the hand-off record emitted exactly once per ended auction
// for the downstream checkout collaborator.
type Settlement struct {
	AuctionID   string          `json:"auction_id"`
	WinnerID    string          `json:"winner_id"` // empty when no qualifying winner
	FinalPrice  decimal.Decimal `json:"final_price"`
	ReserveMet  bool            `json:"reserve_met"`
	CreatedAt   time.Time       `json:"created_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}
