package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fhecredit/backend/internal/chain"
	"github.com/fhecredit/backend/internal/domain/registry"
)

type OutboxJob struct {
	ID          int64
	Topic       string
	Payload     []byte
	Status      string
	Attempts    int32
	LastError   string
	AvailableAt time.Time
}

type OutboxRepository interface {
	ClaimPending(ctx context.Context, limit int32) ([]OutboxJob, error)
	MarkDone(ctx context.Context, jobID int64) error
	MarkRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, jobID int64, lastError string) error
}

type AnchorRepository interface {
	RecordAnchor(ctx context.Context, identity, topic, txHash string, confirmed bool) error
}

// Worker drains the anchor outbox, driving each registry transition through
// the chain writer.
type Worker struct {
	outboxRepo   OutboxRepository
	anchorRepo   AnchorRepository
	writer       chain.AnchorWriter
	logger       *slog.Logger
	maxAttempts  int32
	now          func() time.Time
	retryBackoff func(attempt int32) time.Duration
}

func NewWorker(outboxRepo OutboxRepository, anchorRepo AnchorRepository, writer chain.AnchorWriter, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		outboxRepo:  outboxRepo,
		anchorRepo:  anchorRepo,
		writer:      writer,
		logger:      logger,
		maxAttempts: 5,
		now:         func() time.Time { return time.Now().UTC() },
		retryBackoff: func(attempt int32) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			return time.Duration(attempt*15) * time.Second
		},
	}
}

func (w *Worker) RunOnce(ctx context.Context, batchSize int32) error {
	jobs, err := w.outboxRepo.ClaimPending(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			return err
		}
	}

	return nil
}

type anchorPayload struct {
	Identity   string `json:"identity"`
	OccurredAt int64  `json:"occurred_at"`
}

func (w *Worker) processJob(ctx context.Context, job OutboxJob) error {
	var anchor func(context.Context, string, time.Time, chain.ProgressFunc) (*chain.Receipt, error)
	switch job.Topic {
	case registry.OutboxTopicSubmission:
		anchor = w.writer.AnchorSubmission
	case registry.OutboxTopicEvaluation:
		anchor = w.writer.AnchorEvaluation
	case registry.OutboxTopicApprovalRequest:
		anchor = w.writer.AnchorApprovalRequest
	default:
		return w.handleJobError(ctx, job, errors.New("unsupported_topic"))
	}

	var payload anchorPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return w.handleJobError(ctx, job, errors.New("invalid_payload"))
	}
	if payload.Identity == "" {
		return w.handleJobError(ctx, job, errors.New("missing_identity"))
	}

	onProgress := func(p chain.Progress) {
		w.logger.Info("anchor progress",
			"job_id", job.ID, "topic", job.Topic, "status", string(p.Status),
			"tx_hash", p.TxHash, "confirmations", p.Confirmations, "attempt", p.Attempt)
	}

	receipt, err := anchor(ctx, payload.Identity, time.Unix(payload.OccurredAt, 0).UTC(), onProgress)
	if err != nil {
		// The pipeline already exhausted its own retries; a classified
		// non-retryable failure dead-letters the job immediately.
		var execErr *chain.ExecError
		if errors.As(err, &execErr) && !execErr.Retryable() {
			return w.outboxRepo.MarkFailed(ctx, job.ID, err.Error())
		}
		return w.handleJobError(ctx, job, err)
	}

	if err := w.anchorRepo.RecordAnchor(ctx, payload.Identity, job.Topic, receipt.TxHash, false); err != nil {
		return w.handleJobError(ctx, job, err)
	}

	return w.outboxRepo.MarkDone(ctx, job.ID)
}

func (w *Worker) handleJobError(ctx context.Context, job OutboxJob, err error) error {
	msg := err.Error()
	if job.Attempts >= w.maxAttempts {
		return w.outboxRepo.MarkFailed(ctx, job.ID, msg)
	}
	next := w.now().Add(w.retryBackoff(job.Attempts))
	return w.outboxRepo.MarkRetry(ctx, job.ID, next, msg)
}
