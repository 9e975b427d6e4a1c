// Package lifecycle drives auction state through time: activation at start,
// countdown refinement near the end, finalization at the deadline, and the
// anti-sniping end-time extension. One sweeper runs per deployment; replicas
// coordinate through a distributed lock.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
	"github.com/gavelhq/gavel/internal/engine"
)

const sweepLockKey = "lifecycle:sweep"

// Config holds the scheduler's timing knobs.
type Config struct {
	// TickInterval is the sweep cadence.
	TickInterval time.Duration
	// SnipeWindow is how close to the deadline a bid must land to trigger an
	// extension.
	SnipeWindow time.Duration
	// SnipeExtension is the guaranteed time remaining after an extending bid:
	// the new deadline is the bid time plus this duration.
	SnipeExtension time.Duration
	// WarningWithin marks auctions ending_soon with warning urgency.
	WarningWithin time.Duration
	// CriticalWithin escalates the countdown to critical urgency.
	CriticalWithin time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SnipeWindow <= 0 {
		c.SnipeWindow = 2 * time.Minute
	}
	if c.SnipeExtension <= 0 {
		c.SnipeExtension = 2 * time.Minute
	}
	if c.WarningWithin <= 0 {
		c.WarningWithin = 5 * time.Minute
	}
	if c.CriticalWithin <= 0 {
		c.CriticalWithin = time.Minute
	}
	return c
}

// Scheduler owns every status write. It sweeps on a wall-clock ticker so a
// restart resumes exactly where time says it should, and it serves seller
// operations and the admission controller's extension hook between sweeps.
type Scheduler struct {
	ledger      *engine.Ledger
	auctions    domain.AuctionStore
	ceilings    domain.CeilingStore
	settlements domain.SettlementStore
	bus         domain.SignalBus
	audit       domain.AuditStore
	locks       domain.LockManager
	cfg         Config
	logger      *slog.Logger
}

var _ engine.EndTimeExtender = (*Scheduler)(nil)

// NewScheduler creates the scheduler. locks and audit may be nil; a nil lock
// manager means this replica always sweeps.
func NewScheduler(
	ledger *engine.Ledger,
	auctions domain.AuctionStore,
	ceilings domain.CeilingStore,
	settlements domain.SettlementStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	locks domain.LockManager,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		ledger:      ledger,
		auctions:    auctions,
		ceilings:    ceilings,
		settlements: settlements,
		bus:         bus,
		audit:       audit,
		locks:       locks,
		cfg:         cfg.withDefaults(),
		logger:      logger.With(slog.String("component", "lifecycle")),
	}
}

// Run sweeps on the configured cadence until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "lifecycle sweeper started",
		slog.Duration("tick", s.cfg.TickInterval),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "lifecycle sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx, time.Now().UTC()); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep performs one pass: activate due auctions, refine countdowns, and
// finalize expired ones. Transitions compare stored deadlines against the
// wall clock, so overdue work is caught up on the next pass no matter how
// long the process was down. Per-auction failures are logged and retried on
// the next pass.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, sweepLockKey, 2*s.cfg.TickInterval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return nil // another replica is sweeping
			}
			return fmt.Errorf("lifecycle: acquire sweep lock: %w", err)
		}
		defer unlock()
	}

	s.activateDue(ctx, now)
	s.refineCountdowns(ctx, now)
	s.finalizeDue(ctx, now)
	return nil
}

func (s *Scheduler) activateDue(ctx context.Context, now time.Time) {
	due, err := s.auctions.ListStartDue(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "list start-due failed", slog.String("error", err.Error()))
		return
	}
	for _, a := range due {
		if err := s.ledger.SetStatus(ctx, a, domain.AuctionStatusActive); err != nil {
			s.logger.ErrorContext(ctx, "activate failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.Status = domain.AuctionStatusActive
		s.publishStatus(ctx, a, s.urgencyAt(now, a.EndTime))
	}
}

// refineCountdowns moves active auctions inside the warning window to
// ending_soon and republishes the status when urgency escalates to critical.
func (s *Scheduler) refineCountdowns(ctx context.Context, now time.Time) {
	ending, err := s.auctions.ListEndingWithin(ctx, now, s.cfg.WarningWithin)
	if err != nil {
		s.logger.ErrorContext(ctx, "list ending-within failed", slog.String("error", err.Error()))
		return
	}
	for _, a := range ending {
		urgency := s.urgencyAt(now, a.EndTime)

		if a.Status == domain.AuctionStatusActive {
			if err := s.ledger.SetStatus(ctx, a, domain.AuctionStatusEndingSoon); err != nil {
				s.logger.ErrorContext(ctx, "ending_soon transition failed",
					slog.String("auction_id", a.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.Status = domain.AuctionStatusEndingSoon
			s.publishStatus(ctx, a, urgency)
			continue
		}

		// Already ending_soon: republish once when the countdown first
		// crosses into the critical window. The tick cadence bounds the
		// announcement to one per second at worst; observers treat repeats
		// as idempotent state.
		if urgency == domain.UrgencyCritical && s.crossedCritical(now, a.EndTime) {
			s.publishStatus(ctx, a, urgency)
		}
	}
}

// crossedCritical reports whether the critical boundary falls inside the
// current tick, so the escalation announcement goes out exactly once.
func (s *Scheduler) crossedCritical(now time.Time, endTime time.Time) bool {
	boundary := endTime.Add(-s.cfg.CriticalWithin)
	return !boundary.After(now) && boundary.After(now.Add(-s.cfg.TickInterval))
}

func (s *Scheduler) finalizeDue(ctx context.Context, now time.Time) {
	due, err := s.auctions.ListEndDue(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "list end-due failed", slog.String("error", err.Error()))
		return
	}
	for _, a := range due {
		if err := s.finalize(ctx, a); err != nil {
			s.logger.ErrorContext(ctx, "finalize failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// finalize closes one auction: determine the winner, record the terminal
// status, retire ceilings, and write the settlement outbox row. The status
// write happens first so no further bids can land; everything after is
// idempotent and retried on the next sweep if it fails.
func (s *Scheduler) finalize(ctx context.Context, a domain.Auction) error {
	if err := s.ledger.SetStatus(ctx, a, domain.AuctionStatusEnded); err != nil {
		return err
	}
	a.Status = domain.AuctionStatusEnded

	var winnerID string
	if a.BidCount > 0 && a.ReserveMet() {
		winnerID = a.HighBidderID
	}
	var winner *string
	if winnerID != "" {
		winner = &winnerID
	}
	if err := s.ledger.SetWinner(ctx, a.ID, winner); err != nil {
		return err
	}
	a.WinnerID = winner

	if err := s.ceilings.DeactivateAll(ctx, a.ID); err != nil {
		s.logger.WarnContext(ctx, "ceiling retirement failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.settlements.Create(ctx, domain.Settlement{
		AuctionID:  a.ID,
		WinnerID:   winnerID,
		FinalPrice: a.CurrentPrice,
		ReserveMet: a.ReserveMet(),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("create settlement: %w", err)
	}

	s.publishStatus(ctx, a, domain.UrgencyNone)
	s.publish(ctx, domain.EventSettled, a.ID, domain.SettledPayload{
		WinnerID:   winnerID,
		FinalPrice: a.CurrentPrice,
		ReserveMet: a.ReserveMet(),
	})
	s.auditEvent(ctx, "auction.ended", map[string]any{
		"auction_id":  a.ID,
		"winner_id":   winnerID,
		"final_price": a.CurrentPrice.String(),
		"bid_count":   a.BidCount,
		"reserve_met": a.ReserveMet(),
	})

	s.logger.InfoContext(ctx, "auction finalized",
		slog.String("auction_id", a.ID),
		slog.String("winner_id", winnerID),
		slog.String("final_price", a.CurrentPrice.String()),
	)
	return nil
}

// MaybeExtend implements the anti-sniping rule for the admission controller:
// a bid accepted inside the snipe window rewrites the deadline so the
// configured extension remains on the clock, measured from the bid. An
// extension that pushes the deadline back outside the warning window also
// returns the auction to active.
func (s *Scheduler) MaybeExtend(ctx context.Context, a domain.Auction, bidAt time.Time) (domain.Auction, bool, error) {
	if a.Status.Terminal() {
		return a, false, nil
	}
	remaining := a.EndTime.Sub(bidAt)
	if remaining > s.cfg.SnipeWindow {
		return a, false, nil
	}

	newEnd := bidAt.Add(s.cfg.SnipeExtension)
	if !newEnd.After(a.EndTime) {
		return a, false, nil
	}
	if err := s.ledger.SetEndTime(ctx, a, newEnd); err != nil {
		return a, false, err
	}
	a.EndTime = newEnd

	if a.Status == domain.AuctionStatusEndingSoon && newEnd.Sub(bidAt) > s.cfg.WarningWithin {
		if err := s.ledger.SetStatus(ctx, a, domain.AuctionStatusActive); err != nil {
			s.logger.WarnContext(ctx, "post-extension reactivation failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
		} else {
			a.Status = domain.AuctionStatusActive
		}
	}

	s.auditEvent(ctx, "auction.extended", map[string]any{
		"auction_id": a.ID,
		"end_time":   newEnd.Format(time.RFC3339),
	})
	return a, true, nil
}

// Pause suspends bidding at the seller's request.
func (s *Scheduler) Pause(ctx context.Context, auctionID string) (domain.Auction, error) {
	return s.transition(ctx, auctionID, domain.AuctionStatusPaused, "auction.paused")
}

// Resume returns a paused auction to bidding. The countdown refinement on
// the next sweep restores ending_soon if the deadline is near.
func (s *Scheduler) Resume(ctx context.Context, auctionID string) (domain.Auction, error) {
	return s.transition(ctx, auctionID, domain.AuctionStatusActive, "auction.resumed")
}

// Cancel terminates an auction without a winner and retires its ceilings.
func (s *Scheduler) Cancel(ctx context.Context, auctionID string) (domain.Auction, error) {
	a, err := s.transition(ctx, auctionID, domain.AuctionStatusCancelled, "auction.cancelled")
	if err != nil {
		return domain.Auction{}, err
	}
	if err := s.ceilings.DeactivateAll(ctx, auctionID); err != nil {
		s.logger.WarnContext(ctx, "ceiling retirement failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
	return a, nil
}

func (s *Scheduler) transition(
	ctx context.Context,
	auctionID string,
	next domain.AuctionStatus,
	auditEvent string,
) (domain.Auction, error) {
	a, err := s.ledger.Get(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	if err := s.ledger.SetStatus(ctx, a, next); err != nil {
		return domain.Auction{}, err
	}
	a.Status = next
	s.publishStatus(ctx, a, s.urgencyAt(time.Now().UTC(), a.EndTime))
	s.auditEvent(ctx, auditEvent, map[string]any{"auction_id": a.ID})
	return a, nil
}

// urgencyAt classifies the remaining countdown. Terminal and distant
// deadlines carry no urgency.
func (s *Scheduler) urgencyAt(now, endTime time.Time) domain.Urgency {
	remaining := endTime.Sub(now)
	switch {
	case remaining <= 0:
		return domain.UrgencyNone
	case remaining <= s.cfg.CriticalWithin:
		return domain.UrgencyCritical
	case remaining <= s.cfg.WarningWithin:
		return domain.UrgencyWarning
	default:
		return domain.UrgencyNone
	}
}

func (s *Scheduler) publishStatus(ctx context.Context, a domain.Auction, urgency domain.Urgency) {
	s.publish(ctx, domain.EventStatusChanged, a.ID, domain.StatusChangedPayload{
		Status:  a.Status,
		EndTime: a.EndTime,
		Urgency: urgency,
	})
}

func (s *Scheduler) publish(ctx context.Context, t domain.EventType, auctionID string, payload any) {
	ev, err := domain.NewEvent(t, auctionID, payload)
	if err != nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.EventChannel(auctionID), raw); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("auction_id", auctionID),
			slog.String("type", string(t)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
