package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuctionStore = (*AuctionStore)(nil)

// NewAuctionStore creates a new AuctionStore backed by the given pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `id, seller_id, title, starting_price, current_price,
	reserve_price, bid_count, high_bidder_id, status, start_time, end_time,
	winner_id, created_at, updated_at`

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	var reserve *string
	if a.ReservePrice != nil {
		v := a.ReservePrice.String()
		reserve = &v
	}

	const query = `
		INSERT INTO auctions (
			id, seller_id, title, starting_price, current_price,
			reserve_price, bid_count, high_bidder_id, status,
			start_time, end_time, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.SellerID, a.Title,
		a.StartingPrice.String(), a.CurrentPrice.String(), reserve,
		a.BidCount, a.HighBidderID, string(a.Status),
		a.StartTime, a.EndTime, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

// GetByID returns one auction by ID.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE id = $1`
	a, err := scanAuction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// List returns auctions newest-first, optionally filtered by status.
func (s *AuctionStore) List(ctx context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
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
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

// ApplyBid writes the new price and appends the bid row in one transaction.
// The price update carries the compare-and-set predicate: when the stored
// current price or bid count no longer matches the writer's snapshot the
// transaction rolls back with ErrStalePrice and neither write lands. The
// count guards first bids, which land at the starting price without moving
// it.
func (s *AuctionStore) ApplyBid(ctx context.Context, id string, upd domain.PriceUpdate, b domain.Bid) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin apply bid: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
		UPDATE auctions
		SET current_price = $1, bid_count = $2, high_bidder_id = $3, updated_at = $4
		WHERE id = $5 AND current_price = $6 AND bid_count = $7`

	tag, err := tx.Exec(ctx, update,
		upd.Price.String(), upd.BidCount, upd.HighBidderID, b.PlacedAt,
		id, upd.Expected.String(), upd.ExpectedCount,
	)
	if err != nil {
		return fmt.Errorf("postgres: apply bid price %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check auction %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrStalePrice
	}

	const insert = `
		INSERT INTO bids (id, auction_id, bidder_id, amount, kind, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, insert,
		b.ID, b.AuctionID, b.BidderID, b.Amount.String(), string(b.Kind), b.PlacedAt,
	); err != nil {
		return fmt.Errorf("postgres: append bid %s: %w", b.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit apply bid %s: %w", id, err)
	}
	return nil
}

// SetStatus changes the auction status.
func (s *AuctionStore) SetStatus(ctx context.Context, id string, status domain.AuctionStatus) error {
	const query = `UPDATE auctions SET status = $1, updated_at = NOW() WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: set auction status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetEndTime rewrites the auction deadline.
func (s *AuctionStore) SetEndTime(ctx context.Context, id string, endTime time.Time) error {
	const query = `UPDATE auctions SET end_time = $1, updated_at = NOW() WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, endTime, id)
	if err != nil {
		return fmt.Errorf("postgres: set auction end time %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetWinner records the auction outcome.
func (s *AuctionStore) SetWinner(ctx context.Context, id string, winnerID *string) error {
	const query = `UPDATE auctions SET winner_id = $1, updated_at = NOW() WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, winnerID, id)
	if err != nil {
		return fmt.Errorf("postgres: set auction winner %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListStartDue returns scheduled auctions whose start time has passed.
func (s *AuctionStore) ListStartDue(ctx context.Context, now time.Time) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + `
		FROM auctions
		WHERE status = 'scheduled' AND start_time <= $1
		ORDER BY start_time`
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list start-due auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

// ListEndDue returns biddable auctions whose end time has passed.
func (s *AuctionStore) ListEndDue(ctx context.Context, now time.Time) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + `
		FROM auctions
		WHERE status IN ('active', 'ending_soon') AND end_time <= $1
		ORDER BY end_time`
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list end-due auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

// ListEndingWithin returns biddable auctions whose deadline falls inside the
// window.
func (s *AuctionStore) ListEndingWithin(ctx context.Context, now time.Time, window time.Duration) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + `
		FROM auctions
		WHERE status IN ('active', 'ending_soon')
		  AND end_time > $1 AND end_time <= $2
		ORDER BY end_time`
	rows, err := s.pool.Query(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("postgres: list ending auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

func collectAuctions(rows pgx.Rows) ([]domain.Auction, error) {
	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate auctions: %w", err)
	}
	return out, nil
}

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var (
		a                          domain.Auction
		starting, current          string
		reserve                    *string
		status                     string
	)
	err := row.Scan(
		&a.ID, &a.SellerID, &a.Title, &starting, &current,
		&reserve, &a.BidCount, &a.HighBidderID, &status,
		&a.StartTime, &a.EndTime, &a.WinnerID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}

	if a.StartingPrice, err = decimal.NewFromString(starting); err != nil {
		return domain.Auction{}, fmt.Errorf("parse starting_price: %w", err)
	}
	if a.CurrentPrice, err = decimal.NewFromString(current); err != nil {
		return domain.Auction{}, fmt.Errorf("parse current_price: %w", err)
	}
	if reserve != nil {
		r, err := decimal.NewFromString(*reserve)
		if err != nil {
			return domain.Auction{}, fmt.Errorf("parse reserve_price: %w", err)
		}
		a.ReservePrice = &r
	}
	a.Status = domain.AuctionStatus(status)
	return a, nil
}
