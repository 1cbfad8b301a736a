// Package redis implements the work queue on a redis list. Items are popped
// from the head with LPOP and pushed to the tail with RPUSH.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
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
	attribute.String("db.system", "redis"),
}

// Queue is a redis list used as a FIFO.
type Queue struct {
	client goredis.Cmdable
	key    string
	tracer trace.Tracer
}

// NewQueue returns the queue stored at key.
func NewQueue(client goredis.Cmdable, key string, tracer trace.Tracer) *Queue {
	return &Queue{client: client, key: key, tracer: tracer}
}

// Connect parses rawURL (redis://[user:pass@]host:port/db) and pings the
// server. A malformed URL wraps transfer.ErrConfiguration; an unreachable
// server wraps transfer.ErrQueueUnavailable.
func Connect(ctx context.Context, rawURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %w", transfer.ErrConfiguration, err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %w", transfer.ErrQueueUnavailable, opts.Addr, err)
	}
	return client, nil
}

func (q *Queue) attrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(defaultDBAttributes)+1+len(extra))
	out = append(out, defaultDBAttributes...)
	out = append(out, attribute.String("queue", q.key))
	return append(out, extra...)
}

// PopBatch removes up to max items from the head of the list in one LPOP.
func (q *Queue) PopBatch(ctx context.Context, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}

	var items []string
	err := storage.ExecuteAndTrace(ctx, q.tracer, "redis.lpop", q.attrs(attribute.Int("max", max)), func(ctx context.Context) error {
		got, err := q.client.LPopCount(ctx, q.key, max).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to pop batch: %w", err)
		}
		items = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Push appends urls to the tail of the list.
func (q *Queue) Push(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}

	return storage.ExecuteAndTrace(ctx, q.tracer, "redis.rpush", q.attrs(attribute.Int("count", len(urls))), func(ctx context.Context) error {
		args := make([]any, len(urls))
		for i, u := range urls {
			args[i] = u
		}
		if err := q.client.RPush(ctx, q.key, args...).Err(); err != nil {
			return fmt.Errorf("failed to push items: %w", err)
		}
		return nil
	})
}

// Len returns the list length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	var n int64
	err := storage.ExecuteAndTrace(ctx, q.tracer, "redis.llen", q.attrs(), func(ctx context.Context) error {
		var err error
		n, err = q.client.LLen(ctx, q.key).Result()
		return err
	})
	return n, err
}
