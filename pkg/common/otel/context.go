package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID returns the trace id from the current span context, or an all-zero id when
// the context carries no valid span.
func GetTraceID(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		return sc.TraceID().String()
	}
	return zeroTraceID
}
