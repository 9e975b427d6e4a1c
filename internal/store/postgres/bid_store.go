package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. It is read-only;
// rows are appended inside AuctionStore.ApplyBid.
type BidStore struct {
	pool *pgxpool.Pool
}

var _ domain.BidStore = (*BidStore)(nil)

// NewBidStore creates a new BidStore backed by the given pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

const bidSelectCols = `id, seq, auction_id, bidder_id, amount, kind, placed_at`

// ListByAuction returns accepted bids newest-first.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE auction_id = $1 ORDER BY seq DESC`
	args := []any{auctionID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for %s: %w", auctionID, err)
	}
	defer rows.Close()
	return collectBids(rows)
}

// ListBefore returns bids placed strictly before the cutoff, oldest first.
func (s *BidStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE placed_at < $1 ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids before %s: %w", before, err)
	}
	defer rows.Close()
	return collectBids(rows)
}

// Count returns the number of accepted bids for the auction.
func (s *BidStore) Count(ctx context.Context, auctionID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bids for %s: %w", auctionID, err)
	}
	return n, nil
}

func collectBids(rows pgx.Rows) ([]domain.Bid, error) {
	var out []domain.Bid
	for rows.Next() {
		var (
			b      domain.Bid
			amount string
			kind   string
		)
		if err := rows.Scan(&b.ID, &b.Seq, &b.AuctionID, &b.BidderID, &amount, &kind, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse bid amount: %w", err)
		}
		b.Amount = v
		b.Kind = domain.BidKind(kind)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate bids: %w", err)
	}
	return out, nil
}
