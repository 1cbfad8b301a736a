package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

func TestGetTraceID(t *testing.T) {
	assert.Equal(t, zeroTraceID, GetTraceID(context.Background()))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestInitTelemetryDisabledReturnsNoop(t *testing.T) {
	providers, cleanup, err := InitTelemetry(logger.Noop(), Config{ServiceName: "relay"})
	require.NoError(t, err)
	require.NotNil(t, cleanup)
	defer cleanup(context.Background())

	_, span := providers.Tracer.Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	require.NotNil(t, providers.Meter.Meter("test"))
}

func TestNewResourceSkipsEmptyAttributes(t *testing.T) {
	res := NewResource("relay", map[string]string{"k8s.pod.name": "", "host": "node-1"})

	set := res.Set()
	v, ok := set.Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "relay", v.AsString())

	_, ok = set.Value("k8s.pod.name")
	assert.False(t, ok)
	v, ok = set.Value("host")
	require.True(t, ok)
	assert.Equal(t, "node-1", v.AsString())
}

func TestLogHandlerOnNoopProviders(t *testing.T) {
	providers, _, err := InitTelemetry(logger.Noop(), Config{ServiceName: "relay"})
	require.NoError(t, err)

	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelInfo, "relay", nil).Tee(providers.LogHandler("relay"))
	log.Info(context.Background(), "bridged")

	assert.Contains(t, buf.String(), `"msg":"bridged"`)
}
