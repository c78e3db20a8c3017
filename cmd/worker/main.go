package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fhecredit/backend/internal/chain"
	"github.com/fhecredit/backend/internal/config"
	"github.com/fhecredit/backend/internal/db"
	"github.com/fhecredit/backend/internal/jobs"
	"github.com/fhecredit/backend/internal/observability"
	postgresrepo "github.com/fhecredit/backend/internal/repository/postgres"
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

	writer, err := chain.NewWriterFromConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to build anchor writer", "err", err)
		os.Exit(1)
	}

	worker := jobs.NewWorker(
		postgresrepo.NewOutboxRepository(pool),
		postgresrepo.NewAnchorRepository(pool),
		writer,
		logger,
	)

	interval := cfg.WorkerPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("anchor worker started", "interval", interval.String(), "batch_size", cfg.WorkerBatchSize, "writer_mode", cfg.ChainWriterMode)
	for {
		select {
		case <-sigCtx.Done():
			logger.Info("anchor worker stopped")
			return
		case <-ticker.C:
			runCtx, runCancel := context.WithTimeout(context.Background(), 2*cfg.TxTimeout+30*time.Second)
			err := worker.RunOnce(runCtx, cfg.WorkerBatchSize)
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("anchor worker run failed", "err", err)
			}
		}
	}
}
