package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gavelhq/gavel/internal/domain"
)

// stateTTL bounds staleness of cached snapshots. Every accepted bid and
// lifecycle transition rewrites the entry, so the TTL only matters for
// auctions nobody touches.
const stateTTL = 30 * time.Second

// StateCache implements domain.StateCache using Redis string values holding
// the JSON-encoded observer snapshot.
type StateCache struct {
	rdb *redis.Client
}

var _ domain.StateCache = (*StateCache)(nil)

// NewStateCache creates a StateCache backed by the given Client.
func NewStateCache(c *Client) *StateCache {
	return &StateCache{rdb: c.Underlying()}
}

func stateKey(auctionID string) string {
	return "state:" + auctionID
}

// SetState stores the snapshot.
func (sc *StateCache) SetState(ctx context.Context, state domain.AuctionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal state %s: %w", state.AuctionID, err)
	}
	if err := sc.rdb.Set(ctx, stateKey(state.AuctionID), raw, stateTTL).Err(); err != nil {
		return fmt.Errorf("redis: set state %s: %w", state.AuctionID, err)
	}
	return nil
}

// GetState returns the cached snapshot or domain.ErrNotFound on a miss.
func (sc *StateCache) GetState(ctx context.Context, auctionID string) (domain.AuctionState, error) {
	raw, err := sc.rdb.Get(ctx, stateKey(auctionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.AuctionState{}, domain.ErrNotFound
		}
		return domain.AuctionState{}, fmt.Errorf("redis: get state %s: %w", auctionID, err)
	}
	var state domain.AuctionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.AuctionState{}, fmt.Errorf("redis: unmarshal state %s: %w", auctionID, err)
	}
	return state, nil
}

// Invalidate drops the cached snapshot.
func (sc *StateCache) Invalidate(ctx context.Context, auctionID string) error {
	if err := sc.rdb.Del(ctx, stateKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate state %s: %w", auctionID, err)
	}
	return nil
}
