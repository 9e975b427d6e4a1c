package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gavelhq/gavel/internal/domain"
)

// StateSync keeps the state cache honest: every room event invalidates the
// affected auction's cached snapshot, so the next read rebuilds it from the
// store. Invalidation instead of write-through avoids racing the ledger.
type StateSync struct {
	bus    domain.SignalBus
	cache  domain.StateCache
	logger *slog.Logger
}

// NewStateSync creates a StateSync.
func NewStateSync(bus domain.SignalBus, cache domain.StateCache, logger *slog.Logger) *StateSync {
	return &StateSync{
		bus:    bus,
		cache:  cache,
		logger: logger.With(slog.String("component", "state_sync")),
	}
}

// Run consumes auction events until ctx is cancelled.
func (s *StateSync) Run(ctx context.Context) error {
	events, err := s.bus.Subscribe(ctx, domain.EventChannelPattern)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-events:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(raw, &ev); err != nil || ev.AuctionID == "" {
				continue
			}
			if err := s.cache.Invalidate(ctx, ev.AuctionID); err != nil {
				s.logger.WarnContext(ctx, "invalidate failed",
					slog.String("auction_id", ev.AuctionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
