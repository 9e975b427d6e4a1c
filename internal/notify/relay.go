package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gavelhq/gavel/internal/domain"
)

// Relay subscribes to the auction event stream and forwards settlement
// outcomes to the configured notification channels. It runs at the edge of
// the system so the sweeper never blocks on a slow webhook.
type Relay struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay that forwards events from bus to notifier.
func NewRelay(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run consumes the auction event stream until ctx is cancelled. Delivery
// failures are logged and never propagated; notifications are best-effort.
func (r *Relay) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, domain.EventChannelPattern)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}

	r.logger.InfoContext(ctx, "notification relay started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				r.logger.WarnContext(ctx, "malformed event",
					slog.String("error", err.Error()),
				)
				continue
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Relay) handle(ctx context.Context, ev domain.Event) {
	if ev.Type != domain.EventSettled {
		return
	}

	var p domain.SettledPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		r.logger.WarnContext(ctx, "malformed settled payload",
			slog.String("auction_id", ev.AuctionID),
			slog.String("error", err.Error()),
		)
		return
	}

	title := "Auction settled"
	var message string
	if p.WinnerID != "" {
		message = fmt.Sprintf("Auction %s sold to %s for %s.", ev.AuctionID, p.WinnerID, p.FinalPrice.StringFixed(2))
	} else if !p.ReserveMet {
		message = fmt.Sprintf("Auction %s ended with no sale: reserve not met (high bid %s).", ev.AuctionID, p.FinalPrice.StringFixed(2))
	} else {
		message = fmt.Sprintf("Auction %s ended with no bids.", ev.AuctionID)
	}

	if err := r.notifier.Notify(ctx, string(domain.EventSettled), title, message); err != nil {
		r.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("auction_id", ev.AuctionID),
			slog.String("error", err.Error()),
		)
	}
}
