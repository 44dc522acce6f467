package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/coinfolio/internal/domain"
	"github.com/alanyoungcy/coinfolio/internal/feed"
	"github.com/alanyoungcy/coinfolio/internal/pipeline"
	"github.com/alanyoungcy/coinfolio/internal/server"
	"github.com/alanyoungcy/coinfolio/internal/server/handler"
	"github.com/alanyoungcy/coinfolio/internal/server/ws"
)

// HandlersMode consumes ledger events and price ticks: holdings are
// reprojected and tick batches fan out into bulk balance requests.
func (a *App) HandlersMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting handlers mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHandlers(ctx, g, deps)
	return g.Wait()
}

// BalancesMode consumes balance requests: bulk requests are expanded per
// wallet and every wallet request is valued and pushed to its owner.
func (a *App) BalancesMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting balances mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startBalances(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the read API and the live-update WebSocket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every component in one process, plus the trace archiver when
// enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	a.startHandlers(ctx, g, deps)
	a.startBalances(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}

	return g.Wait()
}

func (a *App) startHandlers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.EventConsumer.RunRoutes(ctx,
			feed.Route{Stream: domain.StreamTransactionCreated, Handler: feed.Decode(deps.Projector.HandleTransactionCreated)},
			feed.Route{Stream: domain.StreamTransactionUpdated, Handler: feed.Decode(deps.Projector.HandleTransactionUpdated)},
			feed.Route{Stream: domain.StreamTransactionDeleted, Handler: feed.Decode(deps.Projector.HandleTransactionDeleted)},
			feed.Route{Stream: domain.StreamAssetTicksUpserted, Handler: feed.Decode(deps.Coordinator.HandleAssetPriceTicks)},
			feed.Route{Stream: domain.StreamCurrencyTicksUpserted, Handler: feed.Decode(deps.Coordinator.HandleCurrencyPriceTicks)},
		)
	})
}

func (a *App) startBalances(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.RequestConsumer.RunRoutes(ctx,
			feed.Route{Stream: domain.StreamBulkComputeBalance, Handler: feed.Decode(deps.Coordinator.HandleBulkCompute)},
			feed.Route{Stream: domain.StreamComputeWalletBalance, Handler: feed.Decode(deps.Notifier.HandleComputeWalletBalance)},
		)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	pingers := map[string]handler.Pinger{
		"postgres": deps.Postgres,
		"redis":    deps.Redis,
	}
	if deps.S3 != nil {
		pingers["s3"] = deps.S3
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(pingers, a.logger),
		Wallets: handler.NewWalletHandler(deps.Valuator, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
