package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openverse-labs/nftmarket/internal/server"
	"github.com/openverse-labs/nftmarket/internal/server/handler"
	"github.com/openverse-labs/nftmarket/internal/server/ws"
)

// EngineMode runs the settlement engine headless: the event relay and the
// expiry sweeper, without the HTTP or WebSocket surface.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRelay(ctx, g, deps)
	a.startSweeper(ctx, g, deps)
	return g.Wait()
}

// ServerMode runs the API surface over the engine without the expiry
// sweeper. Use it for API replicas next to a single engine-mode node so
// expired offers are swept exactly once.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRelay(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: relay, sweeper, and the HTTP/WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRelay(ctx, g, deps)
	a.startSweeper(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startRelay adds the event fan-out worker to the errgroup.
func (a *App) startRelay(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	relay := NewRelay(deps, a.logger)
	g.Go(func() error {
		err := relay.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startSweeper adds the expiry sweeper loop to the errgroup.
func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Engine.SweepInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				swept, err := deps.Engine.Sweep()
				if err != nil {
					a.logger.WarnContext(ctx, "expiry sweep failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if swept > 0 {
					a.logger.InfoContext(ctx, "expired offers swept",
						slog.Int("count", swept),
					)
				}
			}
		}
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Market, deps.Engine, a.logger),
		Listings:    handler.NewListingHandler(deps.Engine, deps.Market, deps.ListingCache, a.logger),
		Orders:      handler.NewOrderHandler(deps.Engine, a.logger),
		Settlements: handler.NewSettlementHandler(deps.Settlements, deps.Audit, a.logger),
		Admin:       handler.NewAdminHandler(deps.Authority, deps.Market, a.logger),
		Funds:       handler.NewFundsHandler(deps.Funds, a.logger),
		Assets:      handler.NewAssetHandler(deps.Assets, deps.Authority, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          deps.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
