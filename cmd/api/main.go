package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fhecredit/backend/internal/access"
	"github.com/fhecredit/backend/internal/auth"
	"github.com/fhecredit/backend/internal/config"
	"github.com/fhecredit/backend/internal/db"
	"github.com/fhecredit/backend/internal/domain/registry"
	"github.com/fhecredit/backend/internal/fhe"
	"github.com/fhecredit/backend/internal/http/handlers"
	"github.com/fhecredit/backend/internal/observability"
	postgresrepo "github.com/fhecredit/backend/internal/repository/postgres"
	"github.com/fhecredit/backend/internal/scoring"
	"github.com/fhecredit/backend/internal/server"
	"github.com/fhecredit/backend/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	provider, err := fhe.NewProviderFromConfig(cfg)
	if err != nil {
		logger.Error("failed to initialize fhe provider", "err", err)
		os.Exit(1)
	}
	defer provider.Close()

	jwtManager := auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSigningKey)
	gate := access.NewGate(postgresrepo.NewGrantRepository(pool))
	creditService := registry.NewService(
		postgresrepo.NewRegistryRepository(pool),
		gate,
		scoring.NewEngine(provider),
		postgresrepo.NewOutboxRepository(pool),
		postgresrepo.NewNotificationRepository(pool),
		cfg.AdminIdentity,
		logger,
	)
	creditHandler := handlers.NewCreditHandler(creditService)

	hub := ws.NewHub()
	notifier := ws.NewNotifier(postgresrepo.NewNotificationRepository(pool), hub, cfg.WSNotifyInterval)

	r := server.NewRouter(cfg, logger, server.Dependencies{
		Pinger:        pool,
		CreditHandler: creditHandler,
		WSHandler:     ws.NewHandler(hub),
		JWTManager:    jwtManager,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := notifier.Run(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("notifier stopped", "err", err)
		}
	}()

	go func() {
		logger.Info("api server starting", "addr", cfg.Addr(), "fhe_backend", cfg.FHEBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-sigCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api server stopped")
}
