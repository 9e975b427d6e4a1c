package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrAuctionNotActive = errors.New("auction not active")
	ErrBidTooLow        = errors.New("bid below required increment")
	ErrBidTooHigh       = errors.New("bid above maximum allowed amount")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrStalePrice       = errors.New("price changed since read")
	ErrSelfOutbid       = errors.New("bidder already holds the high bid")
	ErrCeilingTooLow    = errors.New("ceiling below current price")
	ErrHasBids          = errors.New("auction already has bids")
	ErrBadTransition    = errors.New("illegal status transition")
	ErrInvariant        = errors.New("ledger invariant violation")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrLockHeld         = errors.New("lock already held")
)
