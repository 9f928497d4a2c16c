// Package storage keeps the batch-history mirror: one row per batch ID
// plus a row per dead letter, for operator inspection. Every write here
// is best-effort from the pipeline's point of view.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petmatch/dispatchhub/internal/entities"
)

type Repository struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	return &Repository{dbpool: pool}, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.dbpool.Ping(ctx)
}

func (r *Repository) Close() {
	r.dbpool.Close()
}

// RecordSubmitted upserts the batch row. Two producer calls landing in
// the same time bucket share a batch ID, so the item count accumulates.
func (r *Repository) RecordSubmitted(ctx context.Context, msg entities.DispatchMessage) error {
	_, err := r.dbpool.Exec(ctx, `
		INSERT INTO dispatch_batches (batch_id, message_type, source, item_count, status)
		VALUES ($1, $2, $3, $4, 'queued')
		ON CONFLICT (batch_id) DO UPDATE
		SET item_count = dispatch_batches.item_count + EXCLUDED.item_count,
		    updated_at = now()`,
		msg.BatchID, string(msg.Type), msg.Source, msg.ItemCount())
	return err
}

func (r *Repository) MarkDispatched(ctx context.Context, batchID string) error {
	_, err := r.dbpool.Exec(ctx, `
		UPDATE dispatch_batches
		SET status = 'dispatched', updated_at = now()
		WHERE batch_id = $1`,
		batchID)
	return err
}

func (r *Repository) RecordDeadLetter(ctx context.Context, dead entities.DeadLetterMessage) error {
	payload, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	_, err = r.dbpool.Exec(ctx, `
		INSERT INTO dead_letters (batch_id, message_type, retry_count, error, payload, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		dead.BatchID, string(dead.Type), dead.RetryCount, dead.Error, payload, dead.FailedAt)
	if err != nil {
		return err
	}

	_, err = r.dbpool.Exec(ctx, `
		UPDATE dispatch_batches
		SET status = 'dead_lettered', updated_at = now()
		WHERE batch_id = $1`,
		dead.BatchID)
	return err
}
