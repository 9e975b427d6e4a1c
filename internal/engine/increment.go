// Package engine implements the real-time bidding core: the auction ledger,
// the bid admission path, and the proxy ceiling resolver. All price mutation
// funnels through one atomic compare-and-set per auction; observers only ever
// see settled states.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// incrementTier maps a price band to the minimum amount a new bid must exceed
// the current price by. Bands are evaluated in order; the last entry is the
// open-ended top band.
type incrementTier struct {
	below decimal.Decimal // exclusive upper bound of the band
	step  decimal.Decimal
}

var incrementTiers = []incrementTier{
	{below: decimal.NewFromInt(100), step: decimal.NewFromInt(5)},
	{below: decimal.NewFromInt(500), step: decimal.NewFromInt(10)},
	{below: decimal.NewFromInt(1_000), step: decimal.NewFromInt(25)},
	{below: decimal.NewFromInt(5_000), step: decimal.NewFromInt(50)},
	{below: decimal.NewFromInt(10_000), step: decimal.NewFromInt(100)},
}

var topTierStep = decimal.NewFromInt(250)

// MinIncrement returns the minimum increment required above the given current
// price.
func MinIncrement(price decimal.Decimal) decimal.Decimal {
	for _, t := range incrementTiers {
		if price.LessThan(t.below) {
			return t.step
		}
	}
	return topTierStep
}

// RequiredBid returns the minimum qualifying amount for the auction's current
// state: the starting price when no bid has been accepted yet, otherwise the
// current price plus the tiered increment.
func RequiredBid(a domain.Auction) decimal.Decimal {
	if a.BidCount == 0 {
		return a.StartingPrice
	}
	return a.CurrentPrice.Add(MinIncrement(a.CurrentPrice))
}
