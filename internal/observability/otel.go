package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"thingsync/pkg/session"
)

const instrumentationName = "thingsync/pkg/session"

// OTelTracer opens one OpenTelemetry span per session operation.
type OTelTracer struct {
	tracer trace.Tracer
}

var _ session.Tracer = (*OTelTracer)(nil)

// NewOTelTracer uses tp, or the global provider when tp is nil.
func NewOTelTracer(tp trace.TracerProvider) *OTelTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelTracer{tracer: tp.Tracer(instrumentationName)}
}

// Start opens a span named "session.<operation>".
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, session.TraceSpan) {
	ctx, span := t.tracer.Start(ctx, "session."+operation,
		trace.WithAttributes(attribute.String("thingsync.operation", operation)))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
