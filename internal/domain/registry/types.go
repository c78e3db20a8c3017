package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fhecredit/backend/internal/fhe"
)

// Per-identity lifecycle: unsubmitted -> submitted -> evaluated ->
// approval_requested (terminal).
type State string

const (
	StateUnsubmitted       State = "unsubmitted"
	StateSubmitted         State = "submitted"
	StateEvaluated         State = "evaluated"
	StateApprovalRequested State = "approval_requested"
)

var (
	ErrAlreadySubmitted = errors.New("registry: already submitted")
	ErrAlreadyEvaluated = errors.New("registry: already evaluated")
	ErrAlreadyRequested = errors.New("registry: approval already requested")
	ErrNotSubmitted     = errors.New("registry: not submitted")
	ErrNotEvaluated     = errors.New("registry: not evaluated")
	ErrNotAuthorized    = errors.New("registry: not authorized")
)

// ValidationError is resolved locally, before any store or chain interaction.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// CreditRecord holds one identity's five encrypted attributes. Created once,
// never overwritten.
type CreditRecord struct {
	Identity       string
	Income         fhe.Ciphertext
	Debt           fhe.Ciphertext
	Age            fhe.Ciphertext
	CreditHistory  fhe.Ciphertext
	PaymentHistory fhe.Ciphertext
	SubmittedAt    time.Time
}

// Evaluation holds the encrypted result for one identity. Created exactly
// once; ApprovalRequestedAt is the only field set after creation.
type Evaluation struct {
	Identity            string
	Score               fhe.Ciphertext
	Approved            fhe.Ciphertext
	EvaluatedAt         time.Time
	ApprovalRequested   bool
	ApprovalRequestedAt time.Time
}

type SubmitInput struct {
	Income         fhe.Ciphertext `json:"income"`
	Debt           fhe.Ciphertext `json:"debt"`
	Age            fhe.Ciphertext `json:"age"`
	CreditHistory  fhe.Ciphertext `json:"credit_history"`
	PaymentHistory fhe.Ciphertext `json:"payment_history"`
}

type StatusInfo struct {
	Identity            string     `json:"identity"`
	State               State      `json:"state"`
	SubmittedAt         *time.Time `json:"submitted_at,omitempty"`
	EvaluatedAt         *time.Time `json:"evaluated_at,omitempty"`
	ApprovalRequestedAt *time.Time `json:"approval_requested_at,omitempty"`
}

type Notification struct {
	ID         int64
	Identity   string
	Kind       string
	OccurredAt time.Time
}

const (
	NotifyDataSubmitted     = "data_submitted"
	NotifyEvaluated         = "evaluated"
	NotifyApprovalRequested = "approval_requested"
)

// Repository persistence contract. Absent rows surface as (nil, nil);
// uniqueness conflicts surface as the matching sentinel so concurrent
// transitions resolve deterministically.
type Repository interface {
	CreateRecord(ctx context.Context, rec CreditRecord) error
	GetRecord(ctx context.Context, identity string) (*CreditRecord, error)
	CreateEvaluation(ctx context.Context, ev Evaluation) error
	GetEvaluation(ctx context.Context, identity string) (*Evaluation, error)
	SetApprovalRequested(ctx context.Context, identity string, at time.Time) error
	CountEvaluations(ctx context.Context) (uint64, error)
}

type NotificationRepository interface {
	Insert(ctx context.Context, n Notification) error
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, topic string, payload []byte) error
}
