package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// CeilingStore implements domain.CeilingStore using PostgreSQL.
type CeilingStore struct {
	pool *pgxpool.Pool
}

var _ domain.CeilingStore = (*CeilingStore)(nil)

// NewCeilingStore creates a new CeilingStore backed by the given pool.
func NewCeilingStore(pool *pgxpool.Pool) *CeilingStore {
	return &CeilingStore{pool: pool}
}

// Upsert replaces the pair's ceiling and reactivates it. The original
// created_at survives replacement so registration order, which carries the
// resolution tie-break, is stable.
func (s *CeilingStore) Upsert(ctx context.Context, c domain.ProxyCeiling) error {
	const query = `
		INSERT INTO proxy_ceilings (auction_id, bidder_id, max_amount, active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5)
		ON CONFLICT (auction_id, bidder_id)
		DO UPDATE SET max_amount = EXCLUDED.max_amount, active = TRUE, updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		c.AuctionID, c.BidderID, c.MaxAmount.String(), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert ceiling %s/%s: %w", c.AuctionID, c.BidderID, err)
	}
	return nil
}

// Get returns the pair's ceiling regardless of active flag.
func (s *CeilingStore) Get(ctx context.Context, auctionID, bidderID string) (domain.ProxyCeiling, error) {
	const query = `
		SELECT auction_id, bidder_id, max_amount, active, created_at, updated_at
		FROM proxy_ceilings WHERE auction_id = $1 AND bidder_id = $2`

	c, err := scanCeiling(s.pool.QueryRow(ctx, query, auctionID, bidderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProxyCeiling{}, domain.ErrNotFound
		}
		return domain.ProxyCeiling{}, fmt.Errorf("postgres: get ceiling %s/%s: %w", auctionID, bidderID, err)
	}
	return c, nil
}

// ListActive returns active ceilings in registration order.
func (s *CeilingStore) ListActive(ctx context.Context, auctionID string) ([]domain.ProxyCeiling, error) {
	const query = `
		SELECT auction_id, bidder_id, max_amount, active, created_at, updated_at
		FROM proxy_ceilings
		WHERE auction_id = $1 AND active
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ceilings for %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.ProxyCeiling
	for rows.Next() {
		c, err := scanCeiling(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ceiling: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate ceilings: %w", err)
	}
	return out, nil
}

// Deactivate retires one ceiling.
func (s *CeilingStore) Deactivate(ctx context.Context, auctionID, bidderID string) error {
	const query = `
		UPDATE proxy_ceilings SET active = FALSE, updated_at = NOW()
		WHERE auction_id = $1 AND bidder_id = $2`
	tag, err := s.pool.Exec(ctx, query, auctionID, bidderID)
	if err != nil {
		return fmt.Errorf("postgres: deactivate ceiling %s/%s: %w", auctionID, bidderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeactivateAll retires every ceiling on the auction, at close or cancel.
func (s *CeilingStore) DeactivateAll(ctx context.Context, auctionID string) error {
	const query = `
		UPDATE proxy_ceilings SET active = FALSE, updated_at = NOW()
		WHERE auction_id = $1 AND active`
	if _, err := s.pool.Exec(ctx, query, auctionID); err != nil {
		return fmt.Errorf("postgres: deactivate ceilings for %s: %w", auctionID, err)
	}
	return nil
}

func scanCeiling(row pgx.Row) (domain.ProxyCeiling, error) {
	var (
		c   domain.ProxyCeiling
		max string
	)
	if err := row.Scan(&c.AuctionID, &c.BidderID, &max, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.ProxyCeiling{}, err
	}
	v, err := decimal.NewFromString(max)
	if err != nil {
		return domain.ProxyCeiling{}, fmt.Errorf("parse max_amount: %w", err)
	}
	c.MaxAmount = v
	return c, nil
}
