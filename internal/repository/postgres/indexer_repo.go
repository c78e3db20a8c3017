package postgres

import (
	"context"
	"errors"

	"github.com/fhecredit/backend/internal/indexer"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IndexerRepository struct {
	pool *pgxpool.Pool
}

func NewIndexerRepository(pool *pgxpool.Pool) *IndexerRepository {
	return &IndexerRepository{pool: pool}
}

func (r *IndexerRepository) GetIngestionCursor(ctx context.Context, key string) (uint64, bool, error) {
	var blockNumber uint64
	err := r.pool.QueryRow(ctx, `SELECT block_number FROM ingestion_cursors WHERE key = $1`, key).Scan(&blockNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return blockNumber, true, nil
}

func (r *IndexerRepository) SetIngestionCursor(ctx context.Context, key string, blockNumber uint64) error {
	q := `
INSERT INTO ingestion_cursors (key, block_number)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET block_number = EXCLUDED.block_number, updated_at = NOW()
`
	_, err := r.pool.Exec(ctx, q, key, blockNumber)
	return err
}

func (r *IndexerRepository) InsertChainEvent(ctx context.Context, ev indexer.IngestedEvent) error {
	q := `
INSERT INTO chain_events (contract_addr, event_name, tx_hash, block_number, log_index, raw_data)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)
ON CONFLICT (tx_hash, log_index) DO NOTHING
`
	_, err := r.pool.Exec(ctx, q, ev.ContractAddr, ev.EventName, ev.TXHash, ev.BlockNumber, ev.LogIndex, []byte(ev.RawData))
	return err
}

func (r *IndexerRepository) ListUnprocessed(ctx context.Context, limit int32) ([]indexer.ChainEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT id, event_name, tx_hash, raw_data::text
FROM chain_events
WHERE processed = FALSE
ORDER BY id
LIMIT $1
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]indexer.ChainEvent, 0)
	for rows.Next() {
		var ev indexer.ChainEvent
		var rawText string
		if err := rows.Scan(&ev.ID, &ev.EventName, &ev.TXHash, &rawText); err != nil {
			return nil, err
		}
		ev.RawData = []byte(rawText)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *IndexerRepository) MarkProcessed(ctx context.Context, eventID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE chain_events SET processed = TRUE WHERE id = $1`, eventID)
	return err
}
