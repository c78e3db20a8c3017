package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fhecredit/backend/internal/domain/registry"
	"github.com/fhecredit/backend/internal/fhe"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

type RegistryRepository struct {
	pool *pgxpool.Pool
}

func NewRegistryRepository(pool *pgxpool.Pool) *RegistryRepository {
	return &RegistryRepository{pool: pool}
}

func encodeHandle(ct fhe.Ciphertext) ([]byte, error) {
	return json.Marshal(ct)
}

func decodeHandle(raw string, out *fhe.Ciphertext) error {
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode ciphertext handle: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func (r *RegistryRepository) CreateRecord(ctx context.Context, rec registry.CreditRecord) error {
	handles := make([][]byte, 0, 5)
	for _, ct := range []fhe.Ciphertext{rec.Income, rec.Debt, rec.Age, rec.CreditHistory, rec.PaymentHistory} {
		raw, err := encodeHandle(ct)
		if err != nil {
			return err
		}
		handles = append(handles, raw)
	}

	q := `
INSERT INTO credit_records (identity, income, debt, age, credit_history, payment_history, submitted_at)
VALUES ($1, $2::jsonb, $3::jsonb, $4::jsonb, $5::jsonb, $6::jsonb, $7)
`
	_, err := r.pool.Exec(ctx, q,
		rec.Identity, handles[0], handles[1], handles[2], handles[3], handles[4], rec.SubmittedAt,
	)
	if isUniqueViolation(err) {
		return registry.ErrAlreadySubmitted
	}
	return err
}

func (r *RegistryRepository) GetRecord(ctx context.Context, identity string) (*registry.CreditRecord, error) {
	q := `
SELECT identity, income::text, debt::text, age::text, credit_history::text, payment_history::text, submitted_at
FROM credit_records WHERE identity = $1
`
	out := &registry.CreditRecord{}
	var income, debt, age, creditHistory, paymentHistory string
	err := r.pool.QueryRow(ctx, q, identity).Scan(
		&out.Identity, &income, &debt, &age, &creditHistory, &paymentHistory, &out.SubmittedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields := []struct {
		raw string
		ct  *fhe.Ciphertext
	}{
		{income, &out.Income},
		{debt, &out.Debt},
		{age, &out.Age},
		{creditHistory, &out.CreditHistory},
		{paymentHistory, &out.PaymentHistory},
	}
	for _, f := range fields {
		if err := decodeHandle(f.raw, f.ct); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *RegistryRepository) CreateEvaluation(ctx context.Context, ev registry.Evaluation) error {
	score, err := encodeHandle(ev.Score)
	if err != nil {
		return err
	}
	approved, err := encodeHandle(ev.Approved)
	if err != nil {
		return err
	}

	q := `
INSERT INTO evaluations (identity, score, approved, evaluated_at, approval_requested)
VALUES ($1, $2::jsonb, $3::jsonb, $4, FALSE)
`
	_, err = r.pool.Exec(ctx, q, ev.Identity, score, approved, ev.EvaluatedAt)
	if isUniqueViolation(err) {
		return registry.ErrAlreadyEvaluated
	}
	return err
}

func (r *RegistryRepository) GetEvaluation(ctx context.Context, identity string) (*registry.Evaluation, error) {
	q := `
SELECT identity, score::text, approved::text, evaluated_at, approval_requested, approval_requested_at
FROM evaluations WHERE identity = $1
`
	out := &registry.Evaluation{}
	var score, approved string
	var requestedAt *time.Time
	err := r.pool.QueryRow(ctx, q, identity).Scan(
		&out.Identity, &score, &approved, &out.EvaluatedAt, &out.ApprovalRequested, &requestedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := decodeHandle(score, &out.Score); err != nil {
		return nil, err
	}
	if err := decodeHandle(approved, &out.Approved); err != nil {
		return nil, err
	}
	if requestedAt != nil {
		out.ApprovalRequestedAt = *requestedAt
	}
	return out, nil
}

func (r *RegistryRepository) SetApprovalRequested(ctx context.Context, identity string, at time.Time) error {
	q := `
UPDATE evaluations
SET approval_requested = TRUE, approval_requested_at = $2
WHERE identity = $1 AND approval_requested = FALSE
`
	tag, err := r.pool.Exec(ctx, q, identity, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrAlreadyRequested
	}
	return nil
}

func (r *RegistryRepository) CountEvaluations(ctx context.Context) (uint64, error) {
	var count uint64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM evaluations`).Scan(&count)
	return count, err
}
