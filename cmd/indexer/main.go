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
	"github.com/fhecredit/backend/internal/indexer"
	"github.com/fhecredit/backend/internal/observability"
	postgresrepo "github.com/fhecredit/backend/internal/repository/postgres"
)

const indexerBatchSize = 100

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

	rpc, err := chain.NewJSONRPCClient(cfg.ChainHTTPRPC)
	if err != nil {
		logger.Error("failed to build rpc client", "err", err)
		os.Exit(1)
	}

	idxRepo := postgresrepo.NewIndexerRepository(pool)
	ingestion := indexer.NewIngestionService(
		idxRepo,
		rpc,
		cfg.RegistryContract,
		cfg.ChainStartBlock,
		cfg.ChainBlockBatch,
		cfg.ChainConfirmDepth,
	)
	projection := indexer.NewService(idxRepo, postgresrepo.NewAnchorRepository(pool))

	interval := cfg.IndexerPollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("indexer started", "interval", interval.String(), "contract", cfg.RegistryContract)
	for {
		select {
		case <-sigCtx.Done():
			logger.Info("indexer stopped")
			return
		case <-ticker.C:
			runCtx, runCancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := ingestion.RunOnce(runCtx)
			if err == nil {
				err = projection.RunOnce(runCtx, indexerBatchSize)
			}
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("indexer run failed", "err", err)
			}
		}
	}
}
