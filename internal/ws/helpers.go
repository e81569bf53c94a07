package ws

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

func newConnID() string {
	return uuid.NewString()
}

// traceIDFromContext returns "" when ctx carries no trace.
func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
