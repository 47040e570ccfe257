package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kioskpay/gateway/internal/bootstrap"
	"github.com/kioskpay/gateway/internal/controller"
	infraRedis "github.com/kioskpay/gateway/internal/infrastructure/redis"
	"github.com/kioskpay/gateway/internal/repository/postgres"
	"github.com/kioskpay/gateway/internal/service"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "kioskpay-gateway", "kioskpay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	recordRepo := postgres.NewRecordRepository(app.Pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Services ---
	statusCache := infraRedis.NewStatusCache(app.Redis, app.Config.Redis.StatusCacheTTL)
	intentService := service.NewIntentService(recordRepo, statusCache, app.Config.Payme, app.Config.Click, app.Config.Simulate)
	statusService := service.NewStatusService(recordRepo, statusCache, app.Metrics)
	adminService := service.NewAdminService(recordRepo)
	paymeService := service.NewPaymeService(recordRepo, txManager, statusCache)
	clickService := service.NewClickService(recordRepo, txManager, statusCache, app.Config.Click)

	// --- Router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:            app.Pool,
		RedisClient:     app.Redis,
		IntentService:   intentService,
		StatusService:   statusService,
		AdminService:    adminService,
		PaymeService:    paymeService,
		ClickService:    clickService,
		IdempotencyRepo: idempotencyRepo,
		Metrics:         app.Metrics,
		ServerConfig:    app.Config.Server,
		PaymeConfig:     app.Config.Payme,
		AuthConfig:      app.Config.Auth,
	})

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Expired idempotency entries pile up at kiosk retry rates; a daily
	// sweep keeps the table bounded.
	g.Go(func() error {
		return runIdempotencyJanitor(gCtx, app, idempotencyRepo)
	})

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down server...")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				app.Logger.Error().Err(err).Msg("Server forced to shutdown")
			}
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Server error")
		os.Exit(1)
	}
	app.Logger.Info().Msg("Server exited")
}

func runIdempotencyJanitor(ctx context.Context, app *bootstrap.App, repo *postgres.IdempotencyRepository) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		deleted, err := repo.Cleanup(ctx)
		if err != nil {
			app.Logger.Error().Err(err).Msg("Idempotency cleanup failed")
			continue
		}
		if deleted > 0 {
			app.Logger.Info().Int64("deleted", deleted).Msg("Cleaned up expired idempotency keys")
		}
	}
}
