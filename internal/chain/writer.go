package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// AnchorWriter records registry transitions on the anchor ledger.
type AnchorWriter interface {
	AnchorSubmission(ctx context.Context, identity string, occurredAt time.Time, onProgress ProgressFunc) (*Receipt, error)
	AnchorEvaluation(ctx context.Context, identity string, occurredAt time.Time, onProgress ProgressFunc) (*Receipt, error)
	AnchorApprovalRequest(ctx context.Context, identity string, occurredAt time.Time, onProgress ProgressFunc) (*Receipt, error)
}

// PipelineWriter submits anchor markers through the execution pipeline.
type PipelineWriter struct {
	pipeline     *Pipeline
	fromAddress  string
	contractAddr string
	cfg          ExecConfig
}

func NewPipelineWriter(pipeline *Pipeline, fromAddress, contractAddr string, cfg ExecConfig) (*PipelineWriter, error) {
	if !addressPattern.MatchString(strings.TrimSpace(fromAddress)) {
		return nil, fmt.Errorf("invalid CHAIN_WRITER_FROM_ADDRESS")
	}
	if !addressPattern.MatchString(strings.TrimSpace(contractAddr)) {
		return nil, fmt.Errorf("invalid CREDIT_REGISTRY_CONTRACT")
	}
	return &PipelineWriter{
		pipeline:     pipeline,
		fromAddress:  strings.TrimSpace(fromAddress),
		contractAddr: strings.TrimSpace(contractAddr),
		cfg:          cfg,
	}, nil
}

func (w *PipelineWriter) AnchorSubmission(ctx context.Context, identity string, occurredAt time.Time, onProgress ProgressFunc) (*Receipt, error) {
	return w.sendMarker(ctx, "data_submitted", identity, occurredAt, onProgress)
}

func (w *PipelineWriter) AnchorEvaluation(ctx context.Context, identity string, occurredAt time.Time, onProgress ProgressFunc) (*Receipt, error) {
	return w.sendMarker(ctx, "evaluated", identity, occurredAt, onProgress)
}

func (w *PipelineWriter) AnchorApprovalRequest(ctx context.Context, identity string, occurredAt time.Time, onProgress ProgressFunc) (*Receipt, error) {
	return w.sendMarker(ctx, "approval_requested", identity, occurredAt, onProgress)
}

func (w *PipelineWriter) sendMarker(ctx context.Context, action, identity string, occurredAt time.Time, onProgress ProgressFunc) (*Receipt, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("missing identity")
	}
	data, _ := json.Marshal(map[string]any{
		"action": action,
		"payload": map[string]any{
			"identity":    strings.TrimSpace(identity),
			"occurred_at": occurredAt.Unix(),
		},
	})
	return w.pipeline.Execute(ctx, TxMessage{
		From: w.fromAddress,
		To:   w.contractAddr,
		Data: data,
	}, onProgress, w.cfg)
}

// StubWriter fakes anchoring for local development without a node.
type StubWriter struct{}

func NewStubWriter() *StubWriter {
	return &StubWriter{}
}

func (w *StubWriter) anchor(identity string, onProgress ProgressFunc) (*Receipt, error) {
	if identity == "" {
		return nil, fmt.Errorf("missing identity")
	}
	prefix := identity
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	txHash := fmt.Sprintf("0xstub%s%x", prefix, time.Now().UTC().UnixNano())
	if onProgress != nil {
		onProgress(Progress{Status: StatusPending, TxHash: txHash, Attempt: 1})
		onProgress(Progress{Status: StatusConfirmed, TxHash: txHash, Confirmations: 1, Attempt: 1})
	}
	return &Receipt{TxHash: txHash, Confirmations: 1, Attempts: 1}, nil
}

func (w *StubWriter) AnchorSubmission(_ context.Context, identity string, _ time.Time, onProgress ProgressFunc) (*Receipt, error) {
	return w.anchor(identity, onProgress)
}

func (w *StubWriter) AnchorEvaluation(_ context.Context, identity string, _ time.Time, onProgress ProgressFunc) (*Receipt, error) {
	return w.anchor(identity, onProgress)
}

func (w *StubWriter) AnchorApprovalRequest(_ context.Context, identity string, _ time.Time, onProgress ProgressFunc) (*Receipt, error) {
	return w.anchor(identity, onProgress)
}
