package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chris/classifieds-wallet/pkg/app"
	"github.com/chris/classifieds-wallet/pkg/config"
	"github.com/chris/classifieds-wallet/pkg/handlers"
	wshandler "github.com/chris/classifieds-wallet/pkg/handlers/websockets"
	"github.com/chris/classifieds-wallet/pkg/scheduler"
	"github.com/chris/classifieds-wallet/pkg/websockets"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wallet, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer wallet.Close()

	// Browsers connect straight to this process, so notifications go through the local hub.
	hub := websockets.NewLocalHub()
	wallet.UsePublisher(hub)

	sched, err := wallet.Scheduler(ctx)
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}
	go runSweeps(ctx, wallet, sched, cfg.SweepInterval)

	handler := handlers.NewApiHandler(wallet.Ledger, wallet.TopUps, wallet.History, wallet.Advisory)
	handler.WebSocket = wshandler.NewLocalHandler(hub)
	router := handler.Router(handlers.RouterOptions{
		Auth:           wallet.Auth,
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        wallet.Metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.HTTPPort, "storage", cfg.StorageBackend, "lock", cfg.LockBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// runSweeps reconciles every account and finishes stuck top-ups on a fixed interval.
func runSweeps(ctx context.Context, wallet *app.App, sched scheduler.Scheduler, interval time.Duration) {
	if interval <= 0 {
		return
	}
	sweeper := wallet.Sweeper(sched)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.Sweep(ctx); err != nil {
				slog.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}
