package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pledgefund/backend/internal/auth"
	"github.com/pledgefund/backend/internal/config"
	"github.com/pledgefund/backend/internal/executor"
	"github.com/pledgefund/backend/internal/gateway"
	"github.com/pledgefund/backend/internal/notify"
	"github.com/pledgefund/backend/internal/server"
	"github.com/pledgefund/backend/internal/service"
	"github.com/pledgefund/backend/internal/storage/sqlite"
	"github.com/pledgefund/backend/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	var charger gateway.Charger
	if cfg.GatewayURL != "" {
		charger = gateway.NewHTTPCharger(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)
		slog.Info("Gateway configured", "url", cfg.GatewayURL)
	} else {
		charger = gateway.NewFake()
		slog.Warn("No gateway configured, charges are simulated in memory")
	}

	publisher := notify.NewStorePublisher(store)
	coordinator := executor.NewCoordinator(store, charger, publisher,
		executor.WithFees(cfg.Fees()),
		executor.WithRetries(cfg.MaxRetries, cfg.RetryInterval),
	)
	resolver := executor.NewResolver(store, coordinator, publisher, cfg.Parallelism)

	handler := server.MakeHandlers(
		service.NewPledgeService(store, cfg.Fees(), cfg.MaxPledge),
		service.NewTriggerService(store, resolver),
		service.NewProfileService(store),
		auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Server starting", "address", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}
