package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
)

// SettlementStream is the durable stream carrying settlement hand-offs to
// the downstream checkout consumer.
const SettlementStream = "stream:settlements"

const (
	defaultPublishInterval = 2 * time.Second
	publishBatchSize       = 100
)

// SettlementService drains the settlement outbox onto the durable stream.
// Rows are written exactly once at finalization and marked delivered only
// after the stream append succeeds, so a crash between the two replays the
// append; the auction ID keys deduplication downstream.
type SettlementService struct {
	settlements domain.SettlementStore
	bus         domain.SignalBus
	interval    time.Duration
	logger      *slog.Logger
}

// NewSettlementService creates a SettlementService. interval <= 0 selects
// the default publish cadence.
func NewSettlementService(
	settlements domain.SettlementStore,
	bus domain.SignalBus,
	interval time.Duration,
	logger *slog.Logger,
) *SettlementService {
	if interval <= 0 {
		interval = defaultPublishInterval
	}
	return &SettlementService{
		settlements: settlements,
		bus:         bus,
		interval:    interval,
		logger:      logger.With(slog.String("component", "settlement")),
	}
}

// Run drains the outbox on a ticker until ctx is cancelled.
func (s *SettlementService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.PublishPending(ctx); err != nil {
				s.logger.ErrorContext(ctx, "settlement publish failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// PublishPending hands off every undelivered settlement, oldest first. A
// failed append stops the batch so ordering is preserved on retry.
func (s *SettlementService) PublishPending(ctx context.Context) error {
	pending, err := s.settlements.ListUndelivered(ctx, publishBatchSize)
	if err != nil {
		return fmt.Errorf("settlement_service: list undelivered: %w", err)
	}

	for _, st := range pending {
		raw, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("settlement_service: marshal %s: %w", st.AuctionID, err)
		}
		if err := s.bus.StreamAppend(ctx, SettlementStream, raw); err != nil {
			return fmt.Errorf("settlement_service: append %s: %w", st.AuctionID, err)
		}
		if err := s.settlements.MarkDelivered(ctx, st.AuctionID); err != nil {
			return fmt.Errorf("settlement_service: mark delivered %s: %w", st.AuctionID, err)
		}
		s.logger.InfoContext(ctx, "settlement delivered",
			slog.String("auction_id", st.AuctionID),
			slog.String("winner_id", st.WinnerID),
			slog.String("final_price", st.FinalPrice.String()),
		)
	}
	return nil
}

// Get returns one settlement record.
func (s *SettlementService) Get(ctx context.Context, auctionID string) (domain.Settlement, error) {
	st, err := s.settlements.Get(ctx, auctionID)
	if err != nil {
		return domain.Settlement{}, err
	}
	return st, nil
}

// Replay reads delivered hand-offs from the durable stream, starting after
// lastID. A checkout consumer that lost its position resumes from the last
// entry it processed; an empty lastID replays from the beginning.
func (s *SettlementService) Replay(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if count <= 0 || count > publishBatchSize {
		count = publishBatchSize
	}
	msgs, err := s.bus.StreamRead(ctx, SettlementStream, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: replay after %q: %w", lastID, err)
	}
	return msgs, nil
}
