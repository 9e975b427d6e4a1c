package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// resolveLocked implements ascending-proxy (English auction) semantics. It
// runs after every accepted bid and after a ceiling registration, under the
// same per-auction lock as the triggering operation.
//
// Each pass pits the strongest qualifying challenger ceiling against the
// current high bidder's own ceiling, the defender. A challenger whose
// maximum strictly exceeds the defender's takes the high bid just past the
// defender's maximum; otherwise the defender holds it at the challenger's
// maximum, capped at its own. Equal maximums therefore settle with the
// defender, which is always the earlier registration. Every pass strictly
// raises the price, so the loop converges; the iteration cap bounds
// pathological inputs. Ceilings that can no longer improve are deactivated,
// not deleted.
//
// Displaced high bidders are accumulated into the caller's set so outbid
// notices go out once, against the settled price. Returns the settled
// auction and the kind of the last accepted bid.
func (ad *Admission) resolveLocked(
	ctx context.Context,
	a domain.Auction,
	displaced map[string]bool,
) (domain.Auction, domain.BidKind) {
	lastKind := domain.BidKindManual

	for i := 0; i < ad.cfg.ProxyIterationCap; i++ {
		ceilings, err := ad.ceilings.ListActive(ctx, a.ID)
		if err != nil {
			ad.logger.WarnContext(ctx, "proxy resolution: list ceilings failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			return a, lastKind
		}

		bidder, amount, ok := nextProxyBid(a, ceilings)
		if !ok {
			break
		}

		bid := domain.Bid{
			ID:        uuid.New().String(),
			AuctionID: a.ID,
			BidderID:  bidder,
			Amount:    amount,
			Kind:      domain.BidKindProxy,
			PlacedAt:  time.Now().UTC(),
		}

		prevHigh := a.HighBidderID
		next, err := ad.ledger.ApplyBid(ctx, a, bid)
		if err != nil {
			ad.logger.ErrorContext(ctx, "proxy bid rejected",
				slog.String("auction_id", a.ID),
				slog.String("bidder_id", bidder),
				slog.String("amount", amount.String()),
				slog.String("error", err.Error()),
			)
			return a, lastKind
		}
		a = next
		lastKind = domain.BidKindProxy
		if prevHigh != "" && prevHigh != a.HighBidderID {
			displaced[prevHigh] = true
		}

		if i == ad.cfg.ProxyIterationCap-1 {
			ad.logger.WarnContext(ctx, "proxy resolution hit iteration cap",
				slog.String("auction_id", a.ID),
				slog.Int("cap", ad.cfg.ProxyIterationCap),
			)
		}
	}

	ad.deactivateExhausted(ctx, a)
	return a, lastKind
}

// nextProxyBid computes the single proxy bid that advances the auction one
// step toward its settled state, or reports that no ceiling can act.
func nextProxyBid(a domain.Auction, ceilings []domain.ProxyCeiling) (string, decimal.Decimal, bool) {
	required := RequiredBid(a)

	challenger, defender := splitCeilings(a, ceilings)
	if challenger == nil {
		return "", decimal.Decimal{}, false
	}

	if defender == nil {
		// No standing proxy defends the high bid. The challenger takes it at
		// the minimum qualifying amount, jumped just past the strongest
		// rival ceiling so competing proxies settle in one step instead of
		// alternating minimum raises.
		amount := required
		rival := decimal.Zero
		for _, c := range ceilings {
			if c.BidderID == challenger.BidderID || c.BidderID == a.HighBidderID {
				continue
			}
			v := decimal.Min(c.MaxAmount, challenger.MaxAmount)
			if v.GreaterThan(rival) {
				rival = v
			}
		}
		if rival.GreaterThan(decimal.Zero) {
			jump := decimal.Min(challenger.MaxAmount, rival.Add(MinIncrement(rival)))
			if jump.GreaterThan(amount) {
				amount = jump
			}
		}
		return challenger.BidderID, amount, true
	}

	if challenger.MaxAmount.GreaterThan(defender.MaxAmount) {
		// Takeover: the challenger clears the defender's maximum by one
		// increment, capped at its own ceiling.
		amount := decimal.Min(challenger.MaxAmount, defender.MaxAmount.Add(MinIncrement(defender.MaxAmount)))
		if amount.LessThan(required) {
			amount = required
		}
		return challenger.BidderID, amount, true
	}

	// The defender holds: it outlasts the challenger at the challenger's
	// maximum plus one increment, capped at its own maximum. The cap is what
	// settles equal ceilings at exactly the shared amount, with the earlier
	// registration keeping the bid.
	amount := decimal.Min(defender.MaxAmount, challenger.MaxAmount.Add(MinIncrement(challenger.MaxAmount)))
	if amount.LessThan(required) {
		if defender.MaxAmount.LessThan(required) {
			return "", decimal.Decimal{}, false
		}
		amount = required
	}
	return defender.BidderID, amount, true
}

// splitCeilings returns the strongest qualifying challenger (highest maximum;
// input order is registration order, so strict comparison keeps the earliest
// on ties) and the current high bidder's defending ceiling, when it still
// covers the price.
func splitCeilings(a domain.Auction, ceilings []domain.ProxyCeiling) (challenger, defender *domain.ProxyCeiling) {
	required := RequiredBid(a)
	for i := range ceilings {
		c := &ceilings[i]
		if c.BidderID == a.HighBidderID {
			if c.MaxAmount.GreaterThan(a.CurrentPrice) {
				defender = c
			}
			continue
		}
		if c.MaxAmount.LessThan(required) {
			continue
		}
		if challenger == nil || c.MaxAmount.GreaterThan(challenger.MaxAmount) {
			challenger = c
		}
	}
	return challenger, defender
}

// deactivateExhausted retires every ceiling that can no longer improve the
// settled price. The high bidder's own ceiling stays active to defend
// against future bids, so at most one improvable ceiling remains.
func (ad *Admission) deactivateExhausted(ctx context.Context, a domain.Auction) {
	ceilings, err := ad.ceilings.ListActive(ctx, a.ID)
	if err != nil {
		return
	}
	required := RequiredBid(a)
	for _, c := range ceilings {
		if c.BidderID == a.HighBidderID {
			continue
		}
		if c.MaxAmount.LessThan(required) {
			if derr := ad.ceilings.Deactivate(ctx, c.AuctionID, c.BidderID); derr != nil {
				ad.logger.WarnContext(ctx, "ceiling deactivate failed",
					slog.String("auction_id", c.AuctionID),
					slog.String("bidder_id", c.BidderID),
					slog.String("error", derr.Error()),
				)
			}
		}
	}
}
