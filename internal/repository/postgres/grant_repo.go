package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type GrantRepository struct {
	pool *pgxpool.Pool
}

func NewGrantRepository(pool *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{pool: pool}
}

func (r *GrantRepository) Grant(ctx context.Context, handleID, identity string) error {
	q := `
INSERT INTO access_grants (handle_id, identity)
VALUES ($1, $2)
ON CONFLICT (handle_id, identity) DO NOTHING
`
	_, err := r.pool.Exec(ctx, q, handleID, identity)
	return err
}

func (r *GrantRepository) IsPermitted(ctx context.Context, handleID, identity string) (bool, error) {
	var ok bool
	q := `SELECT EXISTS (SELECT 1 FROM access_grants WHERE handle_id = $1 AND identity = $2)`
	err := r.pool.QueryRow(ctx, q, handleID, identity).Scan(&ok)
	return ok, err
}
