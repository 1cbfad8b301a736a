// Package kafka implements the work queue on a Kafka topic. A consumer group
// session feeds a small in-memory buffer that PopBatch drains without
// blocking. Ordering holds per partition only.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

var (
	_ transfer.Queue    = (*Queue)(nil)
	_ transfer.Producer = (*Queue)(nil)
)

// Config selects the topic and sizes the consume buffer.
type Config struct {
	Topic string
	// Buffer is how many consumed items may wait for PopBatch. Default: 100
	Buffer int
}

// Queue consumes URLs from a topic and produces them to the same topic.
type Queue struct {
	topic    string
	group    sarama.ConsumerGroup
	producer sarama.SyncProducer

	items  chan string
	cancel context.CancelFunc
	done   chan struct{}

	logger *logger.Logger
	tracer trace.Tracer
}

// NewQueue joins cfg.Topic through client's consumer group and starts
// consuming in the background.
func NewQueue(client sarama.Client, groupID string, cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Queue, error) {
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("%w: creating producer: %w", transfer.ErrQueueUnavailable, err)
	}

	group, err := sarama.NewConsumerGroupFromClient(groupID, client)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("%w: creating consumer group: %w", transfer.ErrQueueUnavailable, err)
	}

	return newQueue(cfg, group, producer, logger, tracer), nil
}

func newQueue(
	cfg Config,
	group sarama.ConsumerGroup,
	producer sarama.SyncProducer,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Queue {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		topic:    cfg.Topic,
		group:    group,
		producer: producer,
		items:    make(chan string, cfg.Buffer),
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   logger.With("component", "kafka_queue", "topic", cfg.Topic),
		tracer:   tracer,
	}

	go q.logErrors(ctx)
	go q.consumeLoop(ctx)

	return q
}

// consumeLoop maintains a continuous consumer group session.
func (q *Queue) consumeLoop(ctx context.Context) {
	defer close(q.done)

	handler := &claimHandler{items: q.items, logger: q.logger, tracer: q.tracer}
	for {
		if err := q.group.Consume(ctx, []string{q.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			q.logger.Error(ctx, "Error from consumer group", "error", err)

			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (q *Queue) logErrors(ctx context.Context) {
	errs := q.group.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			q.logger.Warn(ctx, "Consumer group error", "error", err)
		}
	}
}

// PopBatch returns up to max buffered items without waiting for more.
func (q *Queue) PopBatch(_ context.Context, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}

	var batch []string
	for len(batch) < max {
		select {
		case item := <-q.items:
			batch = append(batch, item)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Push produces one message per url.
func (q *Queue) Push(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}

	ctx, span := startProducerSpan(ctx, q.topic, q.tracer)
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(urls)))

	msgs := make([]*sarama.ProducerMessage, len(urls))
	for i, u := range urls {
		msgs[i] = &sarama.ProducerMessage{Topic: q.topic, Value: sarama.StringEncoder(u)}
		injectTraceContext(ctx, msgs[i])
	}
	if err := q.producer.SendMessages(msgs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to produce")
		return fmt.Errorf("failed to push items: %w", err)
	}
	return nil
}

// Close leaves the consumer group and closes the producer. Items still in the
// buffer are dropped.
func (q *Queue) Close() error {
	q.cancel()
	groupErr := q.group.Close()
	<-q.done
	return errors.Join(groupErr, q.producer.Close())
}

// claimHandler implements sarama.ConsumerGroupHandler. A message is marked
// only after its URL has been handed to the buffer.
type claimHandler struct {
	items chan<- string

	logger *logger.Logger
	tracer trace.Tracer
}

func (h *claimHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(),
		"Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *claimHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(),
		"Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.logger.Info(sess.Context(), "Starting to consume from partition",
		"partition", claim.Partition(),
		"member_id", sess.MemberID(),
	)

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			msgCtx := extractTraceContext(sess.Context(), msg)
			_, span := startConsumerSpan(msgCtx, msg, h.tracer)
			select {
			case h.items <- string(msg.Value):
				sess.MarkMessage(msg, "")
				span.End()
			case <-sess.Context().Done():
				span.End()
				return nil
			}

		case <-sess.Context().Done():
			return nil
		}
	}
}
