package postgres

import (
	"context"

	"github.com/fhecredit/backend/internal/domain/registry"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Insert(ctx context.Context, n registry.Notification) error {
	q := `INSERT INTO notifications (identity, kind, occurred_at) VALUES ($1, $2, $3)`
	_, err := r.pool.Exec(ctx, q, n.Identity, n.Kind, n.OccurredAt)
	return err
}

func (r *NotificationRepository) ListSince(ctx context.Context, lastID int64, limit int32) ([]registry.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT id, identity, kind, occurred_at
FROM notifications
WHERE id > $1
ORDER BY id
LIMIT $2
`
	rows, err := r.pool.Query(ctx, q, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]registry.Notification, 0)
	for rows.Next() {
		var n registry.Notification
		if err := rows.Scan(&n.ID, &n.Identity, &n.Kind, &n.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
