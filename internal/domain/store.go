package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PriceUpdate carries the fields written by a single accepted bid. Expected
// and ExpectedCount are the price and bid count the writer observed before
// applying; the store must refuse the write when either no longer matches.
// Price alone cannot carry the predicate: a first bid at the starting price
// leaves it unchanged, so two racing first bids would both pass a price-only
// check.
type PriceUpdate struct {
	Price         decimal.Decimal
	BidCount      int
	HighBidderID  string
	Expected      decimal.Decimal
	ExpectedCount int
}

// AuctionStore persists auction records.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	List(ctx context.Context, status AuctionStatus, opts ListOpts) ([]Auction, error)

	// ApplyBid writes the new price and appends the bid record in one
	// indivisible step. It returns ErrStalePrice when the stored current
	// price or bid count no longer matches upd.Expected/upd.ExpectedCount;
	// in that case nothing is written.
	ApplyBid(ctx context.Context, id string, upd PriceUpdate, b Bid) error

	SetStatus(ctx context.Context, id string, status AuctionStatus) error
	SetEndTime(ctx context.Context, id string, endTime time.Time) error
	SetWinner(ctx context.Context, id string, winnerID *string) error

	// ListStartDue returns scheduled auctions whose start time has passed.
	ListStartDue(ctx context.Context, now time.Time) ([]Auction, error)
	// ListEndDue returns biddable auctions whose end time has passed.
	ListEndDue(ctx context.Context, now time.Time) ([]Auction, error)
	// ListEndingWithin returns active auctions ending inside the window.
	ListEndingWithin(ctx context.Context, now time.Time, window time.Duration) ([]Auction, error)
}

// BidStore reads the append-only bid log. Writes happen only through
// AuctionStore.ApplyBid so a price change and its bid row cannot diverge.
type BidStore interface {
	// ListByAuction returns accepted bids newest-first.
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
	// ListBefore returns bids placed strictly before the cutoff, for archival.
	ListBefore(ctx context.Context, before time.Time) ([]Bid, error)
	Count(ctx context.Context, auctionID string) (int64, error)
}

// CeilingStore persists proxy ceilings keyed by (auction, bidder).
type CeilingStore interface {
	// Upsert replaces any existing ceiling for the pair and marks it active.
	Upsert(ctx context.Context, c ProxyCeiling) error
	Get(ctx context.Context, auctionID, bidderID string) (ProxyCeiling, error)
	// ListActive returns active ceilings for the auction ordered by creation
	// time ascending; the ordering carries the proxy tie-break.
	ListActive(ctx context.Context, auctionID string) ([]ProxyCeiling, error)
	Deactivate(ctx context.Context, auctionID, bidderID string) error
	DeactivateAll(ctx context.Context, auctionID string) error
}

// SettlementStore persists the settlement outbox. Create is insert-once: a
// second settlement for the same auction is a no-op, which is what makes the
// downstream hand-off exactly-once.
type SettlementStore interface {
	Create(ctx context.Context, s Settlement) error
	Get(ctx context.Context, auctionID string) (Settlement, error)
	ListUndelivered(ctx context.Context, limit int) ([]Settlement, error)
	MarkDelivered(ctx context.Context, auctionID string) error
	ListBefore(ctx context.Context, before time.Time) ([]Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
