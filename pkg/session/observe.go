package session

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per session operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span around each session operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation's error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// observe runs body inside a span and records its duration and outcome.
func observe[T any](ctx context.Context, s *Session, op string, body func(context.Context) (T, error)) (T, error) {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	v, err := body(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	return v, err
}
