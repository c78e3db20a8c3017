package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type TxStatus string

const (
	StatusPending    TxStatus = "pending"
	StatusConfirming TxStatus = "confirming"
	StatusConfirmed  TxStatus = "confirmed"
	StatusFailed     TxStatus = "failed"
)

// FailureKind is a stable classification, independent of the node's native
// error representation.
type FailureKind string

const (
	FailUserCancelled     FailureKind = "user_cancelled"
	FailInsufficientFunds FailureKind = "insufficient_funds"
	FailExecutionReverted FailureKind = "execution_reverted"
	FailSimulationFailed  FailureKind = "simulation_failed"
	FailTimeout           FailureKind = "timeout"
	FailUnknown           FailureKind = "unknown"
)

// ExecError is the classified failure surfaced after retries are exhausted
// or on a non-retryable failure.
type ExecError struct {
	Kind    FailureKind
	Attempt int
	TxHash  string
	Err     error
}

func (e *ExecError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s (attempt %d, tx %s): %v", e.Kind, e.Attempt, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s (attempt %d): %v", e.Kind, e.Attempt, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

func (e *ExecError) Retryable() bool {
	return e.Kind != FailUserCancelled && e.Kind != FailSimulationFailed
}

// Progress is reported to the caller as an attempt advances. Statuses are
// monotonic within an attempt: pending -> confirming -> terminal.
type Progress struct {
	Status        TxStatus
	TxHash        string
	Confirmations uint64
	Attempt       int
	Detail        string
}

type ProgressFunc func(Progress)

type ExecConfig struct {
	ConfirmationsRequired uint64
	Timeout               time.Duration
	MaxRetries            int
	RetryDelay            time.Duration
	PollInterval          time.Duration
	GasLimitFallback      uint64
}

func (c ExecConfig) withDefaults() ExecConfig {
	if c.ConfirmationsRequired == 0 {
		c.ConfirmationsRequired = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 3 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.GasLimitFallback == 0 {
		c.GasLimitFallback = 300000
	}
	return c
}

// Receipt is the final result of a confirmed execution.
type Receipt struct {
	TxHash            string
	BlockNumber       uint64
	TxIndex           uint64
	GasUsed           uint64
	EffectiveGasPrice uint64
	Confirmations     uint64
	Attempts          int
}

// attemptResult is the per-attempt value the retry driver decides from.
// There is no mutable cross-attempt error state.
type attemptResult struct {
	receipt *Receipt
	err     *ExecError
}

type Pipeline struct {
	client RPCClient
	logger *slog.Logger
}

func NewPipeline(client RPCClient, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{client: client, logger: logger}
}

// Execute durably submits msg: estimate cost (dry-run fallback, x1.5 safety
// margin), send, await the configured confirmation depth under a hard
// per-attempt deadline, and retry transient failures up to MaxRetries extra
// attempts with a fixed delay. Cancellation by the caller is never retried.
func (p *Pipeline) Execute(ctx context.Context, msg TxMessage, onProgress ProgressFunc, cfg ExecConfig) (*Receipt, error) {
	cfg = cfg.withDefaults()
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	for attempt := 1; ; attempt++ {
		res := p.runAttempt(ctx, msg, onProgress, cfg, attempt)

		if res.receipt != nil {
			res.receipt.Attempts = attempt
			return res.receipt, nil
		}

		last := res.err
		if !last.Retryable() || attempt > cfg.MaxRetries {
			return nil, last
		}

		p.logger.Warn("anchor attempt failed, retrying",
			"attempt", attempt, "kind", string(last.Kind), "err", last.Err)

		select {
		case <-ctx.Done():
			return nil, &ExecError{Kind: FailUserCancelled, Attempt: attempt, Err: ctx.Err()}
		case <-time.After(cfg.RetryDelay):
		}
	}
}

func (p *Pipeline) runAttempt(ctx context.Context, msg TxMessage, onProgress ProgressFunc, cfg ExecConfig, attempt int) attemptResult {
	fail := func(kind FailureKind, txHash string, err error) attemptResult {
		onProgress(Progress{Status: StatusFailed, TxHash: txHash, Attempt: attempt, Detail: err.Error()})
		return attemptResult{err: &ExecError{Kind: kind, Attempt: attempt, TxHash: txHash, Err: err}}
	}

	gas, execErr := p.estimate(ctx, msg, cfg, attempt)
	if execErr != nil {
		onProgress(Progress{Status: StatusFailed, Attempt: attempt, Detail: execErr.Error()})
		return attemptResult{err: execErr}
	}
	msg.Gas = gas

	txHash, err := p.client.SendTransaction(ctx, msg)
	if err != nil {
		return fail(classify(err), "", err)
	}
	onProgress(Progress{Status: StatusPending, TxHash: txHash, Attempt: attempt})

	// Hard deadline on the inclusion wait: the attempt fails instead of
	// waiting indefinitely.
	waitCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	receipt, confirmations, err := p.awaitConfirmations(waitCtx, txHash, onProgress, cfg, attempt)
	if err != nil {
		kind := classify(err)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			kind = FailTimeout
		}
		return fail(kind, txHash, err)
	}
	if receipt.Status == 0 {
		err := fmt.Errorf("transaction reverted on chain")
		return fail(FailExecutionReverted, txHash, err)
	}

	onProgress(Progress{Status: StatusConfirmed, TxHash: txHash, Confirmations: confirmations, Attempt: attempt})
	return attemptResult{receipt: &Receipt{
		TxHash:            receipt.TxHash,
		BlockNumber:       receipt.BlockNumber,
		TxIndex:           receipt.TransactionIndex,
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
		Confirmations:     confirmations,
	}}
}

// estimate tries dynamic estimation first; on failure it dry-runs the call.
// A definite revert in the dry run aborts the whole execution as
// non-retryable, anything else falls back to the conservative fixed limit.
// The x1.5 safety margin applies to whichever estimate is used.
func (p *Pipeline) estimate(ctx context.Context, msg TxMessage, cfg ExecConfig, attempt int) (uint64, *ExecError) {
	gas, err := p.client.EstimateGas(ctx, msg)
	if err == nil {
		return gas * 3 / 2, nil
	}
	if ctx.Err() != nil {
		return 0, &ExecError{Kind: FailUserCancelled, Attempt: attempt, Err: ctx.Err()}
	}
	p.logger.Warn("gas estimation failed, dry-running", "attempt", attempt, "err", err)

	if _, callErr := p.client.Call(ctx, msg); callErr != nil {
		if isRevert(callErr) {
			return 0, &ExecError{Kind: FailSimulationFailed, Attempt: attempt, Err: callErr}
		}
		if ctx.Err() != nil {
			return 0, &ExecError{Kind: FailUserCancelled, Attempt: attempt, Err: ctx.Err()}
		}
	}
	return cfg.GasLimitFallback * 3 / 2, nil
}

func (p *Pipeline) awaitConfirmations(ctx context.Context, txHash string, onProgress ProgressFunc, cfg ExecConfig, attempt int) (*TxReceipt, uint64, error) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.client.TransactionReceipt(ctx, txHash)
		if err != nil {
			return nil, 0, err
		}
		if receipt != nil {
			if receipt.Status == 0 {
				return receipt, 0, nil
			}
			head, err := p.client.BlockNumber(ctx)
			if err != nil {
				return nil, 0, err
			}
			var confirmations uint64
			if head >= receipt.BlockNumber {
				confirmations = head - receipt.BlockNumber + 1
			}
			if confirmations >= cfg.ConfirmationsRequired {
				return receipt, confirmations, nil
			}
			onProgress(Progress{Status: StatusConfirming, TxHash: txHash, Confirmations: confirmations, Attempt: attempt})
		}

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func classify(err error) FailureKind {
	if err == nil {
		return FailUnknown
	}
	if errors.Is(err, context.Canceled) {
		return FailUserCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}

	msg := strings.ToLower(err.Error())
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		msg = strings.ToLower(rpcErr.Message + " " + rpcErr.Data)
	}
	switch {
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"):
		return FailInsufficientFunds
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "revert"):
		return FailExecutionReverted
	case strings.Contains(msg, "user denied"), strings.Contains(msg, "user rejected"):
		return FailUserCancelled
	default:
		return FailUnknown
	}
}

func isRevert(err error) bool {
	return classify(err) == FailExecutionReverted
}
