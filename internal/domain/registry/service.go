package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fhecredit/backend/internal/access"
	"github.com/fhecredit/backend/internal/fhe"
	"github.com/fhecredit/backend/internal/scoring"
)

const (
	OutboxTopicSubmission      = "anchor_submission"
	OutboxTopicEvaluation      = "anchor_evaluation"
	OutboxTopicApprovalRequest = "anchor_approval_request"
)

type Service struct {
	repo          Repository
	gate          *access.Gate
	engine        *scoring.Engine
	outbox        OutboxRepository
	notifications NotificationRepository
	admin         string
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(repo Repository, gate *access.Gate, engine *scoring.Engine, outbox OutboxRepository, notifications NotificationRepository, adminIdentity string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:          repo,
		gate:          gate,
		engine:        engine,
		outbox:        outbox,
		notifications: notifications,
		admin:         strings.TrimSpace(adminIdentity),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		locks:         map[string]*sync.Mutex{},
	}
}

// identityLock serializes transitions per identity so no caller observes a
// state between precondition check and effect.
func (s *Service) identityLock(identity string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[identity] = lock
	}
	return lock
}

func (s *Service) isAdmin(caller string) bool {
	return s.admin != "" && caller == s.admin
}

func validateHandle(field string, ct fhe.Ciphertext) error {
	if err := ct.Validate(); err != nil {
		return &ValidationError{Field: field, Message: err.Error()}
	}
	return nil
}

func (s *Service) validateSubmit(identity string, in SubmitInput) error {
	if strings.TrimSpace(identity) == "" {
		return &ValidationError{Field: "identity", Message: "missing identity"}
	}
	checks := []struct {
		field string
		ct    fhe.Ciphertext
	}{
		{"income", in.Income},
		{"debt", in.Debt},
		{"age", in.Age},
		{"credit_history", in.CreditHistory},
		{"payment_history", in.PaymentHistory},
	}
	for _, c := range checks {
		if err := validateHandle(c.field, c.ct); err != nil {
			return err
		}
	}
	return nil
}

// Submit records the five encrypted attributes for identity. One-shot: any
// later submit for the same identity fails with ErrAlreadySubmitted
// regardless of arguments.
func (s *Service) Submit(ctx context.Context, identity string, in SubmitInput) (*CreditRecord, error) {
	if err := s.validateSubmit(identity, in); err != nil {
		return nil, err
	}

	lock := s.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.GetRecord(ctx, identity)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadySubmitted
	}

	rec := CreditRecord{
		Identity:       identity,
		Income:         in.Income,
		Debt:           in.Debt,
		Age:            in.Age,
		CreditHistory:  in.CreditHistory,
		PaymentHistory: in.PaymentHistory,
		SubmittedAt:    s.now(),
	}
	if err := s.repo.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	for _, ct := range []fhe.Ciphertext{rec.Income, rec.Debt, rec.Age, rec.CreditHistory, rec.PaymentHistory} {
		if err := s.gate.Grant(ctx, ct, identity); err != nil {
			return nil, err
		}
	}

	s.emit(ctx, identity, NotifyDataSubmitted, rec.SubmittedAt)
	if err := s.enqueueAnchor(ctx, OutboxTopicSubmission, identity, rec.SubmittedAt); err != nil {
		return nil, fmt.Errorf("enqueue submission anchor: %w", err)
	}
	return &rec, nil
}

// Evaluate runs the scoring engine over identity's stored ciphertexts.
// Callable by the identity itself or the administrator, exactly once.
func (s *Service) Evaluate(ctx context.Context, caller, identity string) (*Evaluation, error) {
	if identity == "" {
		identity = caller
	}
	if caller != identity && !s.isAdmin(caller) {
		return nil, ErrNotAuthorized
	}

	lock := s.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.repo.GetRecord(ctx, identity)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotSubmitted
	}
	if existing, err := s.repo.GetEvaluation(ctx, identity); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAlreadyEvaluated
	}

	result, err := s.engine.Evaluate(scoring.Inputs{
		Income:         rec.Income,
		Debt:           rec.Debt,
		Age:            rec.Age,
		CreditHistory:  rec.CreditHistory,
		PaymentHistory: rec.PaymentHistory,
	})
	if err != nil {
		return nil, err
	}

	ev := Evaluation{
		Identity:    identity,
		Score:       result.Score,
		Approved:    result.Approved,
		EvaluatedAt: s.now(),
	}
	if err := s.repo.CreateEvaluation(ctx, ev); err != nil {
		return nil, err
	}

	for _, grantee := range s.resultGrantees(identity) {
		if err := s.gate.Grant(ctx, ev.Score, grantee); err != nil {
			return nil, err
		}
		if err := s.gate.Grant(ctx, ev.Approved, grantee); err != nil {
			return nil, err
		}
	}

	s.emit(ctx, identity, NotifyEvaluated, ev.EvaluatedAt)
	if err := s.enqueueAnchor(ctx, OutboxTopicEvaluation, identity, ev.EvaluatedAt); err != nil {
		return nil, fmt.Errorf("enqueue evaluation anchor: %w", err)
	}
	return &ev, nil
}

func (s *Service) resultGrantees(identity string) []string {
	if s.admin == "" || s.admin == identity {
		return []string{identity}
	}
	return []string{identity, s.admin}
}

// RequestApproval is a pure notification: no data mutation beyond the state
// transition to the terminal approval_requested.
func (s *Service) RequestApproval(ctx context.Context, identity string) error {
	lock := s.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	ev, err := s.repo.GetEvaluation(ctx, identity)
	if err != nil {
		return err
	}
	if ev == nil {
		return ErrNotEvaluated
	}
	if ev.ApprovalRequested {
		return ErrAlreadyRequested
	}

	at := s.now()
	if err := s.repo.SetApprovalRequested(ctx, identity, at); err != nil {
		return err
	}

	s.emit(ctx, identity, NotifyApprovalRequested, at)
	if err := s.enqueueAnchor(ctx, OutboxTopicApprovalRequest, identity, at); err != nil {
		return fmt.Errorf("enqueue approval anchor: %w", err)
	}
	return nil
}

func (s *Service) HasSubmitted(ctx context.Context, identity string) (bool, error) {
	rec, err := s.repo.GetRecord(ctx, identity)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

func (s *Service) IsEvaluated(ctx context.Context, identity string) (bool, error) {
	ev, err := s.repo.GetEvaluation(ctx, identity)
	if err != nil {
		return false, err
	}
	return ev != nil, nil
}

func (s *Service) TotalEvaluations(ctx context.Context) (uint64, error) {
	return s.repo.CountEvaluations(ctx)
}

func (s *Service) Status(ctx context.Context, identity string) (*StatusInfo, error) {
	info := &StatusInfo{Identity: identity, State: StateUnsubmitted}

	rec, err := s.repo.GetRecord(ctx, identity)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return info, nil
	}
	info.State = StateSubmitted
	submittedAt := rec.SubmittedAt
	info.SubmittedAt = &submittedAt

	ev, err := s.repo.GetEvaluation(ctx, identity)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return info, nil
	}
	info.State = StateEvaluated
	evaluatedAt := ev.EvaluatedAt
	info.EvaluatedAt = &evaluatedAt

	if ev.ApprovalRequested {
		info.State = StateApprovalRequested
		requestedAt := ev.ApprovalRequestedAt
		info.ApprovalRequestedAt = &requestedAt
	}
	return info, nil
}

// ReadScore hands out the encrypted score handle. The gate check is
// authoritative: in practice only the subject and the administrator hold
// grants on result handles.
func (s *Service) ReadScore(ctx context.Context, caller, identity string) (fhe.Ciphertext, error) {
	return s.readResult(ctx, caller, identity, func(ev *Evaluation) fhe.Ciphertext { return ev.Score })
}

func (s *Service) ReadApproval(ctx context.Context, caller, identity string) (fhe.Ciphertext, error) {
	return s.readResult(ctx, caller, identity, func(ev *Evaluation) fhe.Ciphertext { return ev.Approved })
}

func (s *Service) readResult(ctx context.Context, caller, identity string, pick func(*Evaluation) fhe.Ciphertext) (fhe.Ciphertext, error) {
	ev, err := s.repo.GetEvaluation(ctx, identity)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	if ev == nil {
		return fhe.Ciphertext{}, ErrNotEvaluated
	}
	ct := pick(ev)
	if err := s.gate.Require(ctx, ct, caller); err != nil {
		if errors.Is(err, access.ErrNotAuthorized) {
			return fhe.Ciphertext{}, ErrNotAuthorized
		}
		return fhe.Ciphertext{}, err
	}
	return ct, nil
}

// emit is best-effort: a lost notification never blocks a transition, but
// the drop is logged.
func (s *Service) emit(ctx context.Context, identity, kind string, at time.Time) {
	if s.notifications == nil {
		return
	}
	if err := s.notifications.Insert(ctx, Notification{Identity: identity, Kind: kind, OccurredAt: at}); err != nil {
		s.logger.Warn("notification insert failed", "identity", identity, "kind", kind, "err", err)
	}
}

// enqueueAnchor failures propagate: an accepted transition that can never be
// anchored is an error, not a silent gap.
func (s *Service) enqueueAnchor(ctx context.Context, topic, identity string, at time.Time) error {
	if s.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"identity":    identity,
		"occurred_at": at.Unix(),
	})
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, topic, payload)
}
