package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/onclave/fantail/middleware"
)

// span is the framework's internal span record, shaped like
// original_source/monitoring/tracer.py's Span dataclass but bounded to a
// fixed-size ring instead of the original's unbounded list. otelSpan is
// non-nil only when a real OpenTelemetry tracer has been configured via
// SetOTelTracer.
type span struct {
	TraceID   string
	SpanID    string
	Name      string
	StartTime time.Time
	EndTime   time.Time
	Tags      map[string]any

	otelSpan oteltrace.Span
}

func (s *span) SetTag(key string, value any) { s.Tags[key] = value }

// Tracer records request spans in a fixed-size ring buffer (1000
// entries, per spec.md's shared-state bound) and, when an OpenTelemetry
// SDK tracer provider has been configured, also emits real OTel spans.
type Tracer struct {
	mu    sync.Mutex
	ring  []*span
	next  int
	count int
	size  int

	otel oteltrace.Tracer
}

func NewTracer(ringSize int) *Tracer {
	if ringSize <= 0 {
		ringSize = 1000
	}
	return &Tracer{ring: make([]*span, ringSize), size: ringSize}
}

// SetOTelTracer wires a real OpenTelemetry tracer (e.g. from otel/sdk's
// TracerProvider) so spans are also exported, not just kept in-process.
func (t *Tracer) SetOTelTracer(tr oteltrace.Tracer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.otel = tr
}

// StartSpan begins a span, returning it as the middleware.Span interface
// expects. When an OTel tracer has been configured, it also starts a real
// OTel span and adopts its trace/span IDs so /_traces and the exported
// trace correlate.
func (t *Tracer) StartSpan(name string) middleware.Span {
	s := &span{
		TraceID:   uuid.NewString(),
		SpanID:    uuid.NewString(),
		Name:      name,
		StartTime: time.Now(),
		Tags:      make(map[string]any),
	}

	t.mu.Lock()
	tr := t.otel
	t.mu.Unlock()

	if tr != nil {
		_, otelSpan := tr.Start(context.Background(), name)
		s.otelSpan = otelSpan
		sc := otelSpan.SpanContext()
		if sc.HasTraceID() {
			s.TraceID = sc.TraceID().String()
		}
		if sc.HasSpanID() {
			s.SpanID = sc.SpanID().String()
		}
	}
	return s
}

// EndSpan seals the span, forwards its tags and closes the real OTel span
// if one is attached, and stores it in the ring buffer.
func (t *Tracer) EndSpan(s middleware.Span) {
	sp, ok := s.(*span)
	if !ok {
		return
	}
	sp.EndTime = time.Now()

	if sp.otelSpan != nil {
		for k, v := range sp.Tags {
			sp.otelSpan.SetAttributes(attribute.String(k, fmt.Sprint(v)))
		}
		sp.otelSpan.End()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.next] = sp
	t.next = (t.next + 1) % t.size
	if t.count < t.size {
		t.count++
	}
}

// TraceRecord is the exported view of a completed span, used by the
// /_traces built-in endpoint.
type TraceRecord struct {
	TraceID  string
	Name     string
	Duration time.Duration
	Tags     map[string]any
	Start    time.Time
	End      time.Time
}

// Traces returns the current ring buffer contents, newest first,
// mirroring original_source/monitoring/tracer.py's get_traces().
func (t *Tracer) Traces() []TraceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceRecord, 0, t.count)
	for i := 0; i < t.count; i++ {
		idx := (t.next - 1 - i + t.size) % t.size
		sp := t.ring[idx]
		if sp == nil {
			continue
		}
		out = append(out, TraceRecord{
			TraceID:  sp.TraceID,
			Name:     sp.Name,
			Duration: sp.EndTime.Sub(sp.StartTime),
			Tags:     sp.Tags,
			Start:    sp.StartTime,
			End:      sp.EndTime,
		})
	}
	return out
}
