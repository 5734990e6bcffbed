package observability

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"thingsync/pkg/session"
)

var expvarSeq atomic.Uint64

// OperationTotals aggregates one operation.
type OperationTotals struct {
	Count      int64   `json:"count"`
	Errors     int64   `json:"errors"`
	DurationMS float64 `json:"duration_ms_total"`
}

// ExpvarRecorder publishes per-operation totals under an expvar name, for
// processes that do not run a Prometheus endpoint.
type ExpvarRecorder struct {
	name   string
	mu     sync.Mutex
	totals map[string]OperationTotals
}

var _ session.MetricsRecorder = (*ExpvarRecorder)(nil)

// NewExpvarRecorder publishes a recorder under name, or a generated name
// when empty. expvar names are process global, so a name can only be used once.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = fmt.Sprintf("thingsync_session_%d", expvarSeq.Add(1))
	}
	r := &ExpvarRecorder{name: name, totals: make(map[string]OperationTotals)}
	expvar.Publish(name, expvar.Func(func() any { return r.Totals() }))
	return r
}

// Name returns the expvar name.
func (r *ExpvarRecorder) Name() string { return r.name }

// Totals copies the current aggregates.
func (r *ExpvarRecorder) Totals() map[string]OperationTotals {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OperationTotals, len(r.totals))
	for op, t := range r.totals {
		out[op] = t
	}
	return out
}

// Observe adds one outcome.
func (r *ExpvarRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.totals[operation]
	t.Count++
	if !success {
		t.Errors++
	}
	t.DurationMS += float64(duration) / float64(time.Millisecond)
	r.totals[operation] = t
}

// SpanRecord is one finished span written by JSONTracer.
type SpanRecord struct {
	Operation  string    `json:"operation"`
	Error      string    `json:"error,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// JSONTracer writes finished spans as JSON lines and keeps them in memory.
type JSONTracer struct {
	mu    sync.Mutex
	spans []SpanRecord
	enc   *json.Encoder
}

var _ session.Tracer = (*JSONTracer)(nil)

// NewJSONTracer writes to w when it is not nil.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Spans copies the finished spans.
func (t *JSONTracer) Spans() []SpanRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SpanRecord(nil), t.spans...)
}

// Start begins a span.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, session.TraceSpan) {
	return ctx, &jsonSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonSpan struct {
	tracer    *JSONTracer
	operation string
	started   time.Time
}

func (s *jsonSpan) End(err error) {
	rec := SpanRecord{
		Operation:  s.operation,
		DurationMS: float64(time.Since(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.spans = append(s.tracer.spans, rec)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(rec)
	}
}
