package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carbex/carbex/internal/market"
	"github.com/carbex/carbex/internal/pipeline"
	"github.com/carbex/carbex/internal/server"
	"github.com/carbex/carbex/internal/server/handler"
	"github.com/carbex/carbex/internal/server/ws"
	"github.com/carbex/carbex/internal/service"
)

// services bundles the service layer, built once per process and shared
// by the HTTP handlers.
type services struct {
	auth    *service.AuthService
	users   *service.UserService
	market  *service.MarketService
	orders  *service.OrderService
	trading *service.TradingService
	admin   *service.AdminService
	contact *service.ContactService
	sources *service.SourceService
}

// APIMode serves the REST and WebSocket API: auth, cash-market trading,
// KYC, contact requests, and the admin surface.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	if err := a.startAPI(ctx, g, deps, svcs); err != nil {
		return fmt.Errorf("api mode: %w", err)
	}

	return g.Wait()
}

// ScrapeMode runs only the reference-price scrape workers. Prices land
// in Postgres and Redis, so a separate API process picks them up
// without further coordination.
func (a *App) ScrapeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scrape mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startScraper(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the API, the scrape workers, and the nightly archiver
// in a single process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	if err := a.startAPI(ctx, g, deps, svcs); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startScraper(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// buildServices constructs the service layer from wired dependencies.
func (a *App) buildServices(deps *Dependencies) *services {
	marketSvc := service.NewMarketService(
		market.NewBooks(),
		deps.OrderStore,
		deps.TradeStore,
		deps.PriceStore,
		deps.BookCache,
		deps.PriceCache,
		deps.SignalBus,
		a.cfg.Market.BookDepth,
		a.cfg.Market.StatsCacheTTL.Duration,
		a.logger,
	)

	// The admin "test source" endpoint exercises the same HTTP client
	// the scrape workers use.
	tester := pipeline.NewSourceClient(
		a.cfg.Scrape.Timeout.Duration,
		a.cfg.Scrape.MaxRetries,
		a.cfg.Scrape.UserAgent,
	)

	return &services{
		auth: service.NewAuthService(
			deps.UserStore, deps.SessionStore, deps.AuditStore, a.cfg.Auth, a.logger,
		),
		users: service.NewUserService(
			deps.UserStore, deps.BalanceStore, deps.KYCStore,
			deps.BlobWriter, deps.AuditStore, deps.Notifier, a.logger,
		),
		market: marketSvc,
		orders: service.NewOrderService(
			deps.UserStore, deps.OrderStore, deps.AuditStore,
			marketSvc, a.cfg.Market, a.logger,
		),
		trading: service.NewTradingService(
			deps.UserStore, deps.ExecutionStore, deps.TradeStore,
			deps.IdempotencyStore, deps.LockManager, deps.RateLimiter,
			deps.SignalBus, deps.AuditStore, deps.Notifier,
			marketSvc, a.cfg.Market, a.cfg.Server.RateLimitPerMin, a.logger,
		),
		admin: service.NewAdminService(
			deps.UserStore, deps.BalanceStore, deps.KYCStore,
			deps.BlobReader, deps.AuditStore, deps.Notifier, a.logger,
		),
		contact: service.NewContactService(
			deps.ContactStore, deps.AuditStore, deps.Notifier, a.logger,
		),
		sources: service.NewSourceService(
			deps.SourceStore, deps.AuditStore, tester, a.logger,
		),
	}
}

// startAPI seeds the admin account, rebuilds the in-memory books from
// open orders, and adds the WebSocket hub and HTTP server goroutines to
// the given errgroup.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) error {
	// Both must complete before the first request is served.
	if err := svcs.auth.SeedAdmin(ctx); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := svcs.market.RebuildBooks(ctx); err != nil {
		return fmt.Errorf("rebuild books: %w", err)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.DB, a.logger),
		Auth:    handler.NewAuthHandler(svcs.auth, svcs.users, a.logger),
		Market:  handler.NewMarketHandler(svcs.market, a.logger),
		Trading: handler.NewTradingHandler(svcs.trading, a.logger),
		Orders:  handler.NewOrderHandler(svcs.orders, a.logger),
		Account: handler.NewAccountHandler(svcs.users, svcs.trading, a.logger),
		KYC:     handler.NewKYCHandler(svcs.users, a.logger),
		Contact: handler.NewContactHandler(svcs.contact, a.logger),
		Admin:   handler.NewAdminHandler(svcs.admin, a.logger),
		Sources: handler.NewSourceHandler(svcs.sources, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		ReadTimeout:     a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout:    a.cfg.Server.WriteTimeout.Duration,
	}, handlers, hub, svcs.auth, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return nil
}

// startScraper adds the reference-price scrape supervisor to the given
// errgroup.
func (a *App) startScraper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Scrape.DefaultInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	fetcher := pipeline.NewSourceClient(
		a.cfg.Scrape.Timeout.Duration,
		a.cfg.Scrape.MaxRetries,
		a.cfg.Scrape.UserAgent,
	)
	scraper := pipeline.NewPriceScraper(
		deps.SourceStore,
		deps.PriceStore,
		deps.PriceCache,
		deps.SignalBus,
		deps.Notifier,
		fetcher,
		interval,
		a.cfg.Scrape.FailureThreshold,
		a.logger,
	)

	g.Go(func() error {
		err := scraper.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("price scraper: %w", err)
	})
}

// startArchiver adds the daily cold-storage job to the given errgroup
// when archival is enabled and blob storage is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled {
		a.logger.InfoContext(ctx, "archival disabled")
		return
	}
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "archival enabled but blob storage is not wired, skipping")
		return
	}

	arch := pipeline.NewArchiver(
		deps.Archiver,
		deps.TradePruner,
		deps.Notifier,
		a.cfg.Archive.RetentionDays,
		a.cfg.Archive.HourUTC,
		a.logger,
	)

	g.Go(func() error {
		err := arch.RunDaily(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("archiver: %w", err)
	})
}
