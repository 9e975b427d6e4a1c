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

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

// NewSettlementStore creates a new SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Create inserts the settlement row once; re-finalizing an auction is a
// no-op, which keeps the downstream hand-off exactly-once.
func (s *SettlementStore) Create(ctx context.Context, st domain.Settlement) error {
	const query = `
		INSERT INTO settlements (auction_id, winner_id, final_price, reserve_met, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auction_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		st.AuctionID, st.WinnerID, st.FinalPrice.String(), st.ReserveMet, st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create settlement %s: %w", st.AuctionID, err)
	}
	return nil
}

// Get returns the settlement for one auction.
func (s *SettlementStore) Get(ctx context.Context, auctionID string) (domain.Settlement, error) {
	const query = `
		SELECT auction_id, winner_id, final_price, reserve_met, created_at, delivered_at
		FROM settlements WHERE auction_id = $1`

	st, err := scanSettlement(s.pool.QueryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Settlement{}, domain.ErrNotFound
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", auctionID, err)
	}
	return st, nil
}

// ListUndelivered returns settlements not yet handed off, oldest first.
func (s *SettlementStore) ListUndelivered(ctx context.Context, limit int) ([]domain.Settlement, error) {
	query := `
		SELECT auction_id, winner_id, final_price, reserve_met, created_at, delivered_at
		FROM settlements WHERE delivered_at IS NULL
		ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list undelivered settlements: %w", err)
	}
	defer rows.Close()
	return collectSettlements(rows)
}

// MarkDelivered stamps the hand-off time.
func (s *SettlementStore) MarkDelivered(ctx context.Context, auctionID string) error {
	const query = `UPDATE settlements SET delivered_at = NOW() WHERE auction_id = $1`
	tag, err := s.pool.Exec(ctx, query, auctionID)
	if err != nil {
		return fmt.Errorf("postgres: mark settlement delivered %s: %w", auctionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBefore returns settlements created strictly before the cutoff.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error) {
	const query = `
		SELECT auction_id, winner_id, final_price, reserve_met, created_at, delivered_at
		FROM settlements WHERE created_at < $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before %s: %w", before, err)
	}
	defer rows.Close()
	return collectSettlements(rows)
}

func collectSettlements(rows pgx.Rows) ([]domain.Settlement, error) {
	var out []domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate settlements: %w", err)
	}
	return out, nil
}

func scanSettlement(row pgx.Row) (domain.Settlement, error) {
	var (
		st    domain.Settlement
		price string
	)
	if err := row.Scan(&st.AuctionID, &st.WinnerID, &price, &st.ReserveMet, &st.CreatedAt, &st.DeliveredAt); err != nil {
		return domain.Settlement{}, err
	}
	v, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("parse final_price: %w", err)
	}
	st.FinalPrice = v
	return st, nil
}
