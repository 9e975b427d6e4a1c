package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/gavelhq/gavel/internal/engine"
	"github.com/gavelhq/gavel/internal/lifecycle"
	"github.com/gavelhq/gavel/internal/notify"
	"github.com/gavelhq/gavel/internal/server"
	"github.com/gavelhq/gavel/internal/server/handler"
	"github.com/gavelhq/gavel/internal/server/ws"
	"github.com/gavelhq/gavel/internal/service"
)

// core holds the domain components shared by every operating mode.
type core struct {
	ledger     *engine.Ledger
	admission  *engine.Admission
	scheduler  *lifecycle.Scheduler
	auctionSvc *service.AuctionService
	settleSvc  *service.SettlementService
	stateSync  *service.StateSync
}

// buildCore constructs the ledger, admission controller, scheduler, and
// services from the wired dependencies. Every mode builds the full core; the
// mode only decides which goroutines run.
func (a *App) buildCore(deps *Dependencies) *core {
	ledger := engine.NewLedger(deps.AuctionStore, deps.BidStore, a.logger)

	admission := engine.NewAdmission(
		ledger,
		deps.CeilingStore,
		deps.SignalBus,
		deps.AuditStore,
		engine.Config{
			MaxBid:            decimal.NewFromFloat(a.cfg.Engine.MaxBid),
			ProxyIterationCap: a.cfg.Engine.ProxyIterationCap,
		},
		a.logger,
	)

	scheduler := lifecycle.NewScheduler(
		ledger,
		deps.AuctionStore,
		deps.CeilingStore,
		deps.SettlementStore,
		deps.SignalBus,
		deps.AuditStore,
		deps.LockManager,
		lifecycle.Config{
			TickInterval:   a.cfg.Lifecycle.TickInterval.Duration,
			SnipeWindow:    a.cfg.Lifecycle.SnipeWindow.Duration,
			SnipeExtension: a.cfg.Lifecycle.SnipeExtension.Duration,
			WarningWithin:  a.cfg.Lifecycle.WarningWithin.Duration,
			CriticalWithin: a.cfg.Lifecycle.CriticalWithin.Duration,
		},
		a.logger,
	)
	admission.SetExtender(scheduler)

	auctionSvc := service.NewAuctionService(
		deps.AuctionStore,
		deps.BidStore,
		ledger,
		scheduler,
		deps.StateCache,
		a.logger,
	)
	settleSvc := service.NewSettlementService(
		deps.SettlementStore,
		deps.SignalBus,
		a.cfg.Settlement.PublishInterval.Duration,
		a.logger,
	)
	stateSync := service.NewStateSync(deps.SignalBus, deps.StateCache, a.logger)

	return &core{
		ledger:     ledger,
		admission:  admission,
		scheduler:  scheduler,
		auctionSvc: auctionSvc,
		settleSvc:  settleSvc,
		stateSync:  stateSync,
	}
}

// APIMode serves the HTTP and WebSocket API. Bids placed here may extend end
// times through the scheduler hook, but the sweep loop itself does not run;
// a sweeper replica owns lifecycle transitions.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)

	a.startHTTPServer(ctx, g, deps, c)
	g.Go(func() error { return c.stateSync.Run(ctx) })

	return g.Wait()
}

// SweeperMode runs the lifecycle sweeper, settlement publisher, notification
// relay, and archival loop without serving the API.
func (a *App) SweeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweeper mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)

	g.Go(func() error { return c.scheduler.Run(ctx) })
	g.Go(func() error { return c.settleSvc.Run(ctx) })
	g.Go(func() error { return c.stateSync.Run(ctx) })
	a.startNotifyRelay(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything in one process: API, sweeper, settlement
// publisher, notification relay, and archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)

	a.startHTTPServer(ctx, g, deps, c)
	g.Go(func() error { return c.scheduler.Run(ctx) })
	g.Go(func() error { return c.settleSvc.Run(ctx) })
	g.Go(func() error { return c.stateSync.Run(ctx) })
	a.startNotifyRelay(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup when the server is enabled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, c.ledger, a.logger)

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Pingers, a.logger),
		Auctions:    handler.NewAuctionHandler(c.auctionSvc, a.logger),
		Bids:        handler.NewBidHandler(c.admission, a.logger),
		Settlements: handler.NewSettlementHandler(c.settleSvc, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		},
		handlers,
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startNotifyRelay adds the notification relay goroutine when at least one
// sender is configured.
func (a *App) startNotifyRelay(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}
	relay := notify.NewRelay(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error { return relay.Run(ctx) })
}

// startArchiveLoop adds the periodic cold-archival goroutine when archival is
// enabled and wired.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				if n, err := deps.Archiver.ArchiveBids(ctx, cutoff); err != nil {
					a.logger.ErrorContext(ctx, "bid archival failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "bids archived", slog.Int64("count", n))
				}
				if n, err := deps.Archiver.ArchiveSettlements(ctx, cutoff); err != nil {
					a.logger.ErrorContext(ctx, "settlement archival failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "settlements archived", slog.Int64("count", n))
				}
			}
		}
	})
}
