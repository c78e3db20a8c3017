package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeRPC scripts node behavior per method. Zero-value fields mean "succeed
// with defaults".
type fakeRPC struct {
	mu sync.Mutex

	estimateGas uint64
	estimateErr error

	callErr error

	sendErrs []error // consumed one per call, nil entries succeed
	sentGas  []uint64

	receiptNilPolls int // polls returning no receipt before one appears
	receiptStatus   uint64
	receiptBlock    uint64

	heads []uint64 // consumed one per call, last value repeats

	sendCalls     int
	callCalls     int
	estimateCalls int
}

func (f *fakeRPC) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.heads) == 0 {
		return f.receiptBlock, nil
	}
	head := f.heads[0]
	if len(f.heads) > 1 {
		f.heads = f.heads[1:]
	}
	return head, nil
}

func (f *fakeRPC) EstimateGas(context.Context, TxMessage) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateCalls++
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	if f.estimateGas == 0 {
		return 21000, nil
	}
	return f.estimateGas, nil
}

func (f *fakeRPC) Call(context.Context, TxMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCalls++
	if f.callErr != nil {
		return "", f.callErr
	}
	return "0x", nil
}

func (f *fakeRPC) SendTransaction(_ context.Context, msg TxMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.sentGas = append(f.sentGas, msg.Gas)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("0xtx%04d", f.sendCalls), nil
}

func (f *fakeRPC) TransactionReceipt(context.Context, string) (*TxReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptNilPolls > 0 {
		f.receiptNilPolls--
		return nil, nil
	}
	return &TxReceipt{
		TxHash:      "0xtx0001",
		Status:      f.receiptStatus,
		BlockNumber: f.receiptBlock,
		GasUsed:     21000,
	}, nil
}

func fastConfig() ExecConfig {
	return ExecConfig{
		ConfirmationsRequired: 1,
		Timeout:               time.Second,
		RetryDelay:            time.Millisecond,
		PollInterval:          time.Millisecond,
		GasLimitFallback:      300000,
	}
}

func collectProgress() (ProgressFunc, *[]Progress, *sync.Mutex) {
	var mu sync.Mutex
	var events []Progress
	return func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	}, &events, &mu
}

func TestExecuteConfirmsFirstAttempt(t *testing.T) {
	rpc := &fakeRPC{estimateGas: 21000, receiptStatus: 1, receiptBlock: 100, heads: []uint64{102}}
	pipe := NewPipeline(rpc, nil)
	onProgress, events, mu := collectProgress()

	receipt, err := pipe.Execute(context.Background(), TxMessage{From: "0xfrom", To: "0xto"}, onProgress, fastConfig())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if receipt.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", receipt.Attempts)
	}
	if receipt.BlockNumber != 100 || receipt.Confirmations != 3 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if rpc.sentGas[0] != 21000*3/2 {
		t.Fatalf("expected 1.5x estimated gas, got %d", rpc.sentGas[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*events) < 2 {
		t.Fatalf("expected pending and confirmed events, got %v", *events)
	}
	if (*events)[0].Status != StatusPending {
		t.Fatalf("expected pending first, got %s", (*events)[0].Status)
	}
	if (*events)[len(*events)-1].Status != StatusConfirmed {
		t.Fatalf("expected confirmed last, got %s", (*events)[len(*events)-1].Status)
	}
}

func TestExecuteReportsConfirmingBeforeDepthReached(t *testing.T) {
	rpc := &fakeRPC{receiptStatus: 1, receiptBlock: 100, heads: []uint64{100, 101, 102}}
	pipe := NewPipeline(rpc, nil)
	onProgress, events, mu := collectProgress()

	cfg := fastConfig()
	cfg.ConfirmationsRequired = 3
	if _, err := pipe.Execute(context.Background(), TxMessage{}, onProgress, cfg); err != nil {
		t.Fatalf("execute: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawConfirming bool
	lastStatus := StatusPending
	for _, ev := range *events {
		if ev.Status == StatusConfirming {
			sawConfirming = true
		}
		if lastStatus == StatusConfirmed {
			t.Fatalf("event after terminal confirmed: %v", *events)
		}
		lastStatus = ev.Status
	}
	if !sawConfirming {
		t.Fatalf("expected a confirming event, got %v", *events)
	}
	if lastStatus != StatusConfirmed {
		t.Fatalf("expected confirmed terminal status, got %s", lastStatus)
	}
}

func TestExecuteRetriesTransientSendFailure(t *testing.T) {
	rpc := &fakeRPC{
		sendErrs:      []error{&RPCError{Code: -32000, Message: "insufficient funds for gas"}},
		receiptStatus: 1,
		receiptBlock:  50,
	}
	pipe := NewPipeline(rpc, nil)

	cfg := fastConfig()
	cfg.MaxRetries = 2
	receipt, err := pipe.Execute(context.Background(), TxMessage{}, nil, cfg)
	if err != nil {
		t.Fatalf("expected recovery on retry, got %v", err)
	}
	if receipt.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", receipt.Attempts)
	}
	if rpc.sendCalls != 2 {
		t.Fatalf("expected 2 sends, got %d", rpc.sendCalls)
	}
}

func TestExecuteSurfacesLastErrorWhenRetriesExhausted(t *testing.T) {
	rpc := &fakeRPC{
		sendErrs: []error{
			&RPCError{Code: -32000, Message: "nonce too low"},
			&RPCError{Code: -32000, Message: "insufficient funds for gas"},
		},
	}
	pipe := NewPipeline(rpc, nil)

	cfg := fastConfig()
	cfg.MaxRetries = 1
	_, err := pipe.Execute(context.Background(), TxMessage{}, nil, cfg)

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected exec error, got %v", err)
	}
	if execErr.Kind != FailInsufficientFunds {
		t.Fatalf("expected last failure's classification, got %s", execErr.Kind)
	}
	if execErr.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", execErr.Attempt)
	}
}

func TestExecuteSimulationFailureAbortsWithoutRetry(t *testing.T) {
	rpc := &fakeRPC{
		estimateErr: &RPCError{Code: -32000, Message: "estimation failed"},
		callErr:     &RPCError{Code: 3, Message: "execution reverted", Data: "0x08c379a0"},
	}
	pipe := NewPipeline(rpc, nil)

	cfg := fastConfig()
	cfg.MaxRetries = 3
	_, err := pipe.Execute(context.Background(), TxMessage{}, nil, cfg)

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected exec error, got %v", err)
	}
	if execErr.Kind != FailSimulationFailed {
		t.Fatalf("expected simulation_failed, got %s", execErr.Kind)
	}
	if execErr.Retryable() {
		t.Fatal("simulation failure must not be retryable")
	}
	if rpc.sendCalls != 0 {
		t.Fatalf("expected no send after failed simulation, got %d", rpc.sendCalls)
	}
	if rpc.estimateCalls != 1 || rpc.callCalls != 1 {
		t.Fatalf("expected single estimate and dry run, got %d/%d", rpc.estimateCalls, rpc.callCalls)
	}
}

func TestExecuteFallsBackToFixedGasLimit(t *testing.T) {
	rpc := &fakeRPC{
		estimateErr:   errors.New("method not supported"),
		receiptStatus: 1,
		receiptBlock:  10,
	}
	pipe := NewPipeline(rpc, nil)

	cfg := fastConfig()
	cfg.GasLimitFallback = 200000
	if _, err := pipe.Execute(context.Background(), TxMessage{}, nil, cfg); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rpc.sentGas[0] != 200000*3/2 {
		t.Fatalf("expected fallback gas with safety margin, got %d", rpc.sentGas[0])
	}
}

func TestExecuteClassifiesInclusionTimeout(t *testing.T) {
	rpc := &fakeRPC{receiptNilPolls: 1 << 30}
	pipe := NewPipeline(rpc, nil)

	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	_, err := pipe.Execute(context.Background(), TxMessage{}, nil, cfg)

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected exec error, got %v", err)
	}
	if execErr.Kind != FailTimeout {
		t.Fatalf("expected timeout, got %s", execErr.Kind)
	}
	if !execErr.Retryable() {
		t.Fatal("timeout should be retryable")
	}
	if execErr.TxHash == "" {
		t.Fatal("expected tx hash on timeout error")
	}
}

func TestExecuteOnChainRevert(t *testing.T) {
	rpc := &fakeRPC{receiptStatus: 0, receiptBlock: 10}
	pipe := NewPipeline(rpc, nil)

	_, err := pipe.Execute(context.Background(), TxMessage{}, nil, fastConfig())

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected exec error, got %v", err)
	}
	if execErr.Kind != FailExecutionReverted {
		t.Fatalf("expected execution_reverted, got %s", execErr.Kind)
	}
}

func TestExecuteCallerCancellationIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rpc := &fakeRPC{estimateErr: ctx.Err()}
	pipe := NewPipeline(rpc, nil)

	cfg := fastConfig()
	cfg.MaxRetries = 5
	_, err := pipe.Execute(ctx, TxMessage{}, nil, cfg)

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected exec error, got %v", err)
	}
	if execErr.Kind != FailUserCancelled {
		t.Fatalf("expected user_cancelled, got %s", execErr.Kind)
	}
	if execErr.Retryable() {
		t.Fatal("cancellation must not be retryable")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"canceled", context.Canceled, FailUserCancelled},
		{"deadline", context.DeadlineExceeded, FailTimeout},
		{"funds", &RPCError{Message: "insufficient funds for transfer"}, FailInsufficientFunds},
		{"balance", &RPCError{Message: "insufficient balance"}, FailInsufficientFunds},
		{"revert_message", &RPCError{Message: "execution reverted"}, FailExecutionReverted},
		{"revert_data", &RPCError{Message: "error", Data: "revert: denied"}, FailExecutionReverted},
		{"denied", &RPCError{Message: "user denied transaction signature"}, FailUserCancelled},
		{"unknown", errors.New("connection reset"), FailUnknown},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}
