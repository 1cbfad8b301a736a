// Package postgres implements the work queue on a postgres table. Items are
// rows in work_items keyed by a queue name; popping deletes the oldest rows.
package postgres

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
	"github.com/ahrav/fetch-relay/internal/infra/storage"
)

var (
	_ transfer.Queue    = (*Queue)(nil)
	_ transfer.Producer = (*Queue)(nil)
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// SKIP LOCKED lets several relays share one queue without popping the same row.
const popBatchSQL = `
DELETE FROM work_items
WHERE id IN (
    SELECT id FROM work_items
    WHERE queue = $1
    ORDER BY id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING id, url`

const pushSQL = `INSERT INTO work_items (queue, url) VALUES ($1, $2)`

const lenSQL = `SELECT COUNT(*) FROM work_items WHERE queue = $1`

// Queue is a FIFO stored in postgres.
type Queue struct {
	pool   *pgxpool.Pool
	name   string
	tracer trace.Tracer
}

// NewQueue returns the queue called name on pool. The schema must already be
// migrated.
func NewQueue(pool *pgxpool.Pool, name string, tracer trace.Tracer) *Queue {
	return &Queue{pool: pool, name: name, tracer: tracer}
}

// Connect opens a pool against dsn and applies migrations. Any failure wraps
// transfer.ErrQueueUnavailable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := storage.NewPool(ctx, dsn, storage.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transfer.ErrQueueUnavailable, err)
	}
	if err := storage.RunMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", transfer.ErrQueueUnavailable, err)
	}
	return pool, nil
}

type row struct {
	id  int64
	url string
}

// PopBatch deletes and returns up to max of the oldest items.
func (q *Queue) PopBatch(ctx context.Context, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}

	dbAttrs := append(
		slices.Clone(defaultDBAttributes),
		attribute.String("queue", q.name),
		attribute.Int("max", max),
	)

	var urls []string
	err := storage.ExecuteAndTrace(ctx, q.tracer, "postgres.pop_batch", dbAttrs, func(ctx context.Context) error {
		rows, err := q.pool.Query(ctx, popBatchSQL, q.name, max)
		if err != nil {
			return fmt.Errorf("failed to pop batch: %w", err)
		}
		popped, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (row, error) {
			var out row
			err := r.Scan(&out.id, &out.url)
			return out, err
		})
		if err != nil {
			return fmt.Errorf("failed to scan popped rows: %w", err)
		}

		// RETURNING does not preserve the subquery order.
		slices.SortFunc(popped, func(a, b row) int { return cmp.Compare(a.id, b.id) })
		urls = make([]string, len(popped))
		for i, r := range popped {
			urls[i] = r.url
		}

		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("popped", len(urls)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}

// Push appends urls in one round trip.
func (q *Queue) Push(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}

	dbAttrs := append(
		slices.Clone(defaultDBAttributes),
		attribute.String("queue", q.name),
		attribute.Int("count", len(urls)),
	)

	return storage.ExecuteAndTrace(ctx, q.tracer, "postgres.push", dbAttrs, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, u := range urls {
			batch.Queue(pushSQL, q.name, u)
		}
		if err := q.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to push items: %w", err)
		}
		return nil
	})
}

// Len returns the number of queued items.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	var n int64
	err := storage.ExecuteAndTrace(ctx, q.tracer, "postgres.queue_len", defaultDBAttributes, func(ctx context.Context) error {
		if err := q.pool.QueryRow(ctx, lenSQL, q.name).Scan(&n); err != nil {
			return fmt.Errorf("failed to count items: %w", err)
		}
		return nil
	})
	return n, err
}
