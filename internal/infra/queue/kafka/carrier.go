package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

// headerCarrier carries trace context in Kafka record headers so the consume
// span of an item links to the span that produced it.
type headerCarrier struct {
	headers []sarama.RecordHeader
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	c.headers = append(c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, h := range c.headers {
		keys[i] = string(h.Key)
	}
	return keys
}

func injectTraceContext(ctx context.Context, msg *sarama.ProducerMessage) {
	carrier := &headerCarrier{headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg.Headers = carrier.headers
}

func extractTraceContext(ctx context.Context, msg *sarama.ConsumerMessage) context.Context {
	carrier := &headerCarrier{headers: make([]sarama.RecordHeader, 0, len(msg.Headers))}
	for _, h := range msg.Headers {
		if h != nil {
			carrier.headers = append(carrier.headers, *h)
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
