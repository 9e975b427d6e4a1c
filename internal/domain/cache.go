package domain

import (
	"context"
	"time"
)

// StateCache provides fast access to the latest observer-visible auction
// state. It is a read accelerator only; the ledger is always re-validated at
// write time.
type StateCache interface {
	SetState(ctx context.Context, state AuctionState) error
	GetState(ctx context.Context, auctionID string) (AuctionState, error)
	Invalidate(ctx context.Context, auctionID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking, used to elect a single lifecycle
// sweeper across replicas.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fanout for room events and durable streams for
// the settlement hand-off.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
