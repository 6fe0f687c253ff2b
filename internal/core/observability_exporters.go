package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarRecorders atomic.Uint64

// OperationStats aggregates every observation of one service operation.
type OperationStats struct {
	Calls   int64   `json:"calls"`
	Errors  int64   `json:"errors"`
	TotalMS float64 `json:"total_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// Successes is Calls minus Errors.
func (s OperationStats) Successes() int64 { return s.Calls - s.Errors }

// ExpvarMetricsSnapshot is a point-in-time copy of an ExpvarMetricsRecorder.
type ExpvarMetricsSnapshot struct {
	Operations map[string]OperationStats `json:"operations"`
	TakenAt    time.Time                 `json:"taken_at"`
}

// ExpvarMetricsRecorder keeps per-operation counters and publishes them as a
// single expvar JSON value.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]*OperationStats
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name is
// replaced by a generated, process-unique one; expvar panics on reuse.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("restorationcore_service_metrics_%d", expvarRecorders.Add(1))
	}
	rec := &ExpvarMetricsRecorder{name: name, ops: make(map[string]*OperationStats)}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name is the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.ops[operation]
	if !ok {
		stats = &OperationStats{}
		r.ops[operation] = stats
	}
	stats.Calls++
	if !success {
		stats.Errors++
	}
	stats.TotalMS += ms
	if ms > stats.MaxMS {
		stats.MaxMS = ms
	}
}

// Snapshot copies the current counters.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := ExpvarMetricsSnapshot{Operations: make(map[string]OperationStats, len(r.ops)), TakenAt: time.Now().UTC()}
	for op, stats := range r.ops {
		out.Operations[op] = *stats
	}
	return out
}

// JSONTraceEntry is one finished span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Actor      string    `json:"actor,omitempty"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes each finished span as one JSON line and keeps a copy
// for inspection. A nil writer only keeps the copies.
type JSONTraceTracer struct {
	mu      sync.Mutex
	w       io.Writer
	entries []JSONTraceEntry
}

// NewJSONTracer constructs a tracer writing to w.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	return &JSONTraceTracer{w: w}
}

// Entries returns the spans finished so far, oldest first.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer. The acting caller on ctx, if any, is stamped on the span.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	entry := JSONTraceEntry{Operation: operation, StartedAt: time.Now().UTC()}
	if actor, ok := ActorFromContext(ctx); ok {
		entry.Actor = actor.ID
	}
	return ctx, &jsonTraceSpan{tracer: t, entry: entry}
}

func (t *JSONTraceTracer) emit(entry JSONTraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if t.w == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = t.w.Write(append(line, '\n'))
}

type jsonTraceSpan struct {
	tracer *JSONTraceTracer
	entry  JSONTraceEntry
	once   sync.Once
}

// End finishes the span; later calls are ignored.
func (s *jsonTraceSpan) End(err error) {
	s.once.Do(func() {
		e := s.entry
		e.EndedAt = time.Now().UTC()
		e.DurationMS = float64(e.EndedAt.Sub(e.StartedAt)) / float64(time.Millisecond)
		e.Status = "success"
		if err != nil {
			e.Status = "error"
			e.Error = err.Error()
		}
		s.tracer.emit(e)
	})
}
