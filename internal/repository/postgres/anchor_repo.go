package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type AnchorRepository struct {
	pool *pgxpool.Pool
}

func NewAnchorRepository(pool *pgxpool.Pool) *AnchorRepository {
	return &AnchorRepository{pool: pool}
}

func (r *AnchorRepository) RecordAnchor(ctx context.Context, identity, topic, txHash string, confirmed bool) error {
	q := `
INSERT INTO anchors (identity, topic, tx_hash, confirmed)
VALUES ($1, $2, $3, $4)
ON CONFLICT (identity, topic) DO UPDATE SET tx_hash = EXCLUDED.tx_hash, confirmed = EXCLUDED.confirmed, updated_at = NOW()
`
	_, err := r.pool.Exec(ctx, q, identity, topic, txHash, confirmed)
	return err
}

func (r *AnchorRepository) ConfirmAnchor(ctx context.Context, txHash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE anchors SET confirmed = TRUE, updated_at = NOW() WHERE tx_hash = $1`, txHash)
	return err
}
