package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gavelhq/gavel/internal/domain"
)

// Config holds admission limits.
type Config struct {
	// MaxBid is the hard ceiling on any single bid amount.
	MaxBid decimal.Decimal
	// ProxyIterationCap bounds a single proxy resolution cascade.
	ProxyIterationCap int
}

// EndTimeExtender is the lifecycle scheduler's anti-sniping hook. It is
// consulted after every accepted bid and may push the end time forward.
type EndTimeExtender interface {
	// MaybeExtend returns the auction with its rewritten end time and true
	// when the bid landed inside the close-out window of a still-running
	// auction.
	MaybeExtend(ctx context.Context, a domain.Auction, bidAt time.Time) (domain.Auction, bool, error)
}

// Admission validates and atomically applies incoming bids. It is the sole
// writer of price state: every bid, manual or proxy, passes through PlaceBid
// or the in-cascade equivalent, serialized per auction.
type Admission struct {
	ledger   *Ledger
	ceilings domain.CeilingStore
	bus      domain.SignalBus
	audit    domain.AuditStore
	cfg      Config
	logger   *slog.Logger

	extMu    sync.RWMutex
	extender EndTimeExtender

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewAdmission creates the admission controller. The audit store may be nil.
func NewAdmission(
	ledger *Ledger,
	ceilings domain.CeilingStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Admission {
	if cfg.ProxyIterationCap <= 0 {
		cfg.ProxyIterationCap = 32
	}
	if cfg.MaxBid.IsZero() {
		cfg.MaxBid = decimal.NewFromInt(1_000_000)
	}
	return &Admission{
		ledger:   ledger,
		ceilings: ceilings,
		bus:      bus,
		audit:    audit,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "admission")),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetExtender attaches the lifecycle scheduler's anti-sniping hook. Safe to
// call before serving traffic; bids accepted without an extender simply skip
// the extension check.
func (ad *Admission) SetExtender(ext EndTimeExtender) {
	ad.extMu.Lock()
	ad.extender = ext
	ad.extMu.Unlock()
}

// auctionLock returns the per-auction mutex, creating it on first use. The
// lock covers the whole bid transaction including the proxy cascade, so the
// ledger never exposes an intermediate non-final price.
func (ad *Admission) auctionLock(auctionID string) *sync.Mutex {
	ad.lockMu.Lock()
	defer ad.lockMu.Unlock()
	mu, ok := ad.locks[auctionID]
	if !ok {
		mu = &sync.Mutex{}
		ad.locks[auctionID] = mu
	}
	return mu
}

// PlaceBid validates and applies one bid, runs proxy resolution, and
// broadcasts the settled outcome. Rejections are returned to the caller only
// and never broadcast.
func (ad *Admission) PlaceBid(
	ctx context.Context,
	auctionID, bidderID string,
	amount decimal.Decimal,
	kind domain.BidKind,
) (domain.BidResult, error) {
	if bidderID == "" {
		return domain.BidResult{Reason: domain.RejectInvalidAmount}, domain.ErrUnauthorized
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.BidResult{Reason: domain.RejectInvalidAmount}, domain.ErrInvalidAmount
	}
	if amount.GreaterThan(ad.cfg.MaxBid) {
		return domain.BidResult{Reason: domain.RejectInvalidAmount}, domain.ErrBidTooHigh
	}

	mu := ad.auctionLock(auctionID)
	mu.Lock()
	defer mu.Unlock()

	a, err := ad.ledger.Get(ctx, auctionID)
	if err != nil {
		return domain.BidResult{}, err
	}

	if !a.Status.Biddable() {
		return domain.BidResult{
			CurrentPrice: a.CurrentPrice,
			Reason:       domain.RejectNotActive,
		}, domain.ErrAuctionNotActive
	}

	// The current high bidder may not outbid themselves with a manual bid;
	// the engine's own proxy responses are exempt.
	if kind != domain.BidKindProxy && a.HighBidderID == bidderID {
		return domain.BidResult{
			CurrentPrice: a.CurrentPrice,
			Reason:       domain.RejectSelfOutbid,
		}, domain.ErrSelfOutbid
	}

	if amount.LessThan(RequiredBid(a)) {
		return domain.BidResult{
			CurrentPrice: a.CurrentPrice,
			Reason:       domain.RejectTooLow,
		}, domain.ErrBidTooLow
	}

	bid := domain.Bid{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Kind:      kind,
		PlacedAt:  time.Now().UTC(),
	}

	prevHigh := a.HighBidderID
	a, err = ad.ledger.ApplyBid(ctx, a, bid)
	if err != nil {
		if errors.Is(err, domain.ErrStalePrice) {
			// Lost the compare-and-set race. The engine does not retry; the
			// caller may resubmit against the new price.
			state, rerr := ad.ledger.Get(ctx, auctionID)
			if rerr != nil {
				return domain.BidResult{Reason: domain.RejectStalePrice}, domain.ErrStalePrice
			}
			return domain.BidResult{
				CurrentPrice: state.CurrentPrice,
				Reason:       domain.RejectStalePrice,
			}, domain.ErrStalePrice
		}
		return domain.BidResult{}, err
	}

	displaced := map[string]bool{}
	if prevHigh != "" && prevHigh != bidderID {
		displaced[prevHigh] = true
	}

	// Proxy resolution runs inside the same transaction chain, so the final
	// settled state is the first thing observers see.
	a, lastKind := ad.resolveLocked(ctx, a, displaced)

	a = ad.maybeExtend(ctx, a, bid.PlacedAt)

	ad.broadcastSettled(ctx, a, lastKind, displaced)
	ad.auditBid(ctx, bid, a)

	return domain.BidResult{
		Accepted:     true,
		BidID:        bid.ID,
		CurrentPrice: a.CurrentPrice,
		HighBidderID: a.HighBidderID,
	}, nil
}

// SetAutoBid registers or replaces a proxy ceiling and immediately runs a
// resolution pass, which may place the owner's opening proxy bid.
func (ad *Admission) SetAutoBid(
	ctx context.Context,
	auctionID, bidderID string,
	maxAmount decimal.Decimal,
) (domain.CeilingResult, error) {
	if bidderID == "" {
		return domain.CeilingResult{}, domain.ErrUnauthorized
	}
	if maxAmount.LessThanOrEqual(decimal.Zero) || maxAmount.GreaterThan(ad.cfg.MaxBid) {
		return domain.CeilingResult{Reason: domain.RejectInvalidAmount}, domain.ErrInvalidAmount
	}

	mu := ad.auctionLock(auctionID)
	mu.Lock()
	defer mu.Unlock()

	a, err := ad.ledger.Get(ctx, auctionID)
	if err != nil {
		return domain.CeilingResult{}, err
	}
	if !a.Status.Biddable() {
		return domain.CeilingResult{
			CurrentPrice: a.CurrentPrice,
			Reason:       domain.RejectNotActive,
		}, domain.ErrAuctionNotActive
	}

	// A ceiling must exceed the current price at creation time.
	if a.BidCount > 0 && maxAmount.LessThanOrEqual(a.CurrentPrice) {
		return domain.CeilingResult{
			CurrentPrice: a.CurrentPrice,
			Reason:       domain.RejectTooLow,
		}, domain.ErrCeilingTooLow
	}
	if a.BidCount == 0 && maxAmount.LessThan(a.StartingPrice) {
		return domain.CeilingResult{
			CurrentPrice: a.CurrentPrice,
			Reason:       domain.RejectTooLow,
		}, domain.ErrCeilingTooLow
	}

	now := time.Now().UTC()
	if err := ad.ceilings.Upsert(ctx, domain.ProxyCeiling{
		AuctionID: auctionID,
		BidderID:  bidderID,
		MaxAmount: maxAmount,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return domain.CeilingResult{}, err
	}

	prevCount := a.BidCount
	displaced := map[string]bool{}
	a, lastKind := ad.resolveLocked(ctx, a, displaced)

	if a.BidCount > prevCount {
		a = ad.maybeExtend(ctx, a, now)
		ad.broadcastSettled(ctx, a, lastKind, displaced)
	}

	return domain.CeilingResult{
		Accepted:      true,
		CeilingActive: true,
		CurrentPrice:  a.CurrentPrice,
	}, nil
}

// maybeExtend applies the anti-sniping hook and, on extension, republishes
// the status with the new deadline.
func (ad *Admission) maybeExtend(ctx context.Context, a domain.Auction, bidAt time.Time) domain.Auction {
	ad.extMu.RLock()
	ext := ad.extender
	ad.extMu.RUnlock()
	if ext == nil {
		return a
	}

	updated, extended, err := ext.MaybeExtend(ctx, a, bidAt)
	if err != nil {
		ad.logger.WarnContext(ctx, "anti-snipe extension failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return a
	}
	if !extended {
		return a
	}

	ad.publish(ctx, domain.EventStatusChanged, a.ID, domain.StatusChangedPayload{
		Status:  updated.Status,
		EndTime: updated.EndTime,
	})
	return updated
}

// broadcastSettled emits the settled state to the room: one bid_accepted
// with the final price plus an outbid notice per displaced high bidder.
func (ad *Admission) broadcastSettled(
	ctx context.Context,
	a domain.Auction,
	lastKind domain.BidKind,
	displaced map[string]bool,
) {
	ad.publish(ctx, domain.EventBidAccepted, a.ID, domain.BidAcceptedPayload{
		Price:    a.CurrentPrice,
		BidderID: a.HighBidderID,
		Kind:     lastKind,
		BidCount: a.BidCount,
		EndTime:  a.EndTime,
	})
	for bidder := range displaced {
		if bidder == a.HighBidderID {
			continue
		}
		ad.publish(ctx, domain.EventOutbid, a.ID, domain.OutbidPayload{
			PreviousBidderID: bidder,
			NewPrice:         a.CurrentPrice,
		})
	}
}

// publish sends one event to the auction's room channel. Delivery is
// best-effort; failures are logged and never fail the bid transaction.
func (ad *Admission) publish(ctx context.Context, t domain.EventType, auctionID string, payload any) {
	ev, err := domain.NewEvent(t, auctionID, payload)
	if err != nil {
		ad.logger.ErrorContext(ctx, "event marshal failed",
			slog.String("type", string(t)),
			slog.String("error", err.Error()),
		)
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := ad.bus.Publish(ctx, domain.EventChannel(auctionID), raw); err != nil {
		ad.logger.WarnContext(ctx, "event publish failed",
			slog.String("auction_id", auctionID),
			slog.String("type", string(t)),
			slog.String("error", err.Error()),
		)
	}
}

func (ad *Admission) auditBid(ctx context.Context, b domain.Bid, settled domain.Auction) {
	if ad.audit == nil {
		return
	}
	if err := ad.audit.Log(ctx, "bid.accepted", map[string]any{
		"auction_id":    b.AuctionID,
		"bid_id":        b.ID,
		"bidder_id":     b.BidderID,
		"amount":        b.Amount.String(),
		"kind":          string(b.Kind),
		"settled_price": settled.CurrentPrice.String(),
		"bid_count":     settled.BidCount,
	}); err != nil {
		ad.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
