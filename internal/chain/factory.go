package chain

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fhecredit/backend/internal/config"
)

func NewWriterFromConfig(cfg config.Config, logger *slog.Logger) (AnchorWriter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.ChainWriterMode))
	if mode == "" || mode == "stub" {
		return NewStubWriter(), nil
	}
	if mode != "real" {
		return nil, fmt.Errorf("invalid CHAIN_WRITER_MODE: %s", cfg.ChainWriterMode)
	}

	client, err := NewJSONRPCClient(cfg.ChainHTTPRPC)
	if err != nil {
		return nil, err
	}
	return NewPipelineWriter(NewPipeline(client, logger), cfg.ChainWriterFrom, cfg.RegistryContract, ExecConfig{
		ConfirmationsRequired: cfg.TxConfirmations,
		Timeout:               cfg.TxTimeout,
		MaxRetries:            cfg.TxMaxRetries,
		RetryDelay:            cfg.TxRetryDelay,
		PollInterval:          cfg.TxPollInterval,
		GasLimitFallback:      cfg.ChainTxGasLimit,
	})
}
