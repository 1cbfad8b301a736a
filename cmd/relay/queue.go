package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/fetch-relay/internal/config"
	"github.com/ahrav/fetch-relay/internal/domain/transfer"
	"github.com/ahrav/fetch-relay/internal/infra/queue/kafka"
	"github.com/ahrav/fetch-relay/internal/infra/queue/memory"
	"github.com/ahrav/fetch-relay/internal/infra/queue/postgres"
	"github.com/ahrav/fetch-relay/internal/infra/queue/redis"
	"github.com/ahrav/fetch-relay/pkg/common"
	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openQueue connects the configured backend, retrying while it starts up.
// The returned closer releases the backend's connections.
func openQueue(
	ctx context.Context,
	cfg config.QueueConfig,
	clientID string,
	log *logger.Logger,
	tracer trace.Tracer,
) (transfer.Queue, io.Closer, error) {
	retry := common.DefaultRetryConfig()
	retry.Permanent = func(err error) bool { return errors.Is(err, transfer.ErrConfiguration) }

	switch cfg.Backend {
	case config.BackendRedis:
		client, err := common.ConnectWithRetry(ctx, log, "redis", retry, func(ctx context.Context) (*goredis.Client, error) {
			return redis.Connect(ctx, cfg.RedisURL)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", transfer.ErrQueueUnavailable, err)
		}
		return redis.NewQueue(client, cfg.Key, tracer), client, nil

	case config.BackendPostgres:
		pool, err := common.ConnectWithRetry(ctx, log, "postgres", retry, func(ctx context.Context) (*pgxpool.Pool, error) {
			return postgres.Connect(ctx, cfg.PostgresDSN)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", transfer.ErrQueueUnavailable, err)
		}
		return postgres.NewQueue(pool, cfg.Key, tracer), closerFunc(func() error {
			pool.Close()
			return nil
		}), nil

	case config.BackendKafka:
		client, err := common.ConnectWithRetry(ctx, log, "kafka", retry, func(context.Context) (sarama.Client, error) {
			return kafka.NewClient(&kafka.ClientConfig{
				Brokers:  cfg.KafkaBrokers,
				GroupID:  cfg.KafkaGroupID,
				ClientID: clientID,
			})
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", transfer.ErrQueueUnavailable, err)
		}
		q, err := kafka.NewQueue(client, cfg.KafkaGroupID, kafka.Config{Topic: cfg.KafkaTopic}, log, tracer)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return q, closerFunc(func() error {
			if err := q.Close(); err != nil {
				return err
			}
			return client.Close()
		}), nil

	case config.BackendMemory:
		log.Warn(ctx, "Using in-memory queue; items are lost on exit")
		return memory.New(), closerFunc(func() error { return nil }), nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown queue backend %q", transfer.ErrConfiguration, cfg.Backend)
	}
}
