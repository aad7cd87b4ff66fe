package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanKind classifies a timed unit of work.
type SpanKind string

const (
	SpanKindStage  SpanKind = "stage"
	SpanKindTool   SpanKind = "tool"
	SpanKindRender SpanKind = "render"
)

// SpanStatus is the terminal status of a span.
type SpanStatus string

const (
	SpanOK    SpanStatus = "ok"
	SpanError SpanStatus = "error"
)

// Span is one timed, nestable unit of execution. Spans are produced for an
// external telemetry sink; this core never persists them.
type Span struct {
	ID             string         `json:"id"`
	ParentID       string         `json:"parent_id,omitempty"`
	Name           string         `json:"name"`
	Kind           SpanKind       `json:"kind"`
	StartMillis    int64          `json:"start_ts_ms"`
	EndMillis      int64          `json:"end_ts_ms"`
	DurationMillis int64          `json:"duration_ms"`
	Status         SpanStatus     `json:"status"`
	Summary        map[string]any `json:"summary,omitempty"`
	Links          map[string]any `json:"links,omitempty"`
}

// SpanTracker records the spans of a single request. It is owned by one
// RunContext and never shared across concurrent requests, so it needs no
// locking. Open spans form a stack: a parent stays open while its children
// are open.
type SpanTracker struct {
	spans []*Span
	open  []*Span
	now   func() time.Time

	// mirror, when set, re-emits completed spans to an OpenTelemetry tracer
	// so an external collector sees the same timeline.
	mirror trace.Tracer
}

func NewSpanTracker(mirror trace.Tracer) *SpanTracker {
	return &SpanTracker{
		now:    time.Now,
		mirror: mirror,
	}
}

// StartSpan opens a span and returns its generated id. parentID may be empty
// for root spans.
func (t *SpanTracker) StartSpan(name string, kind SpanKind, parentID string) string {
	s := &Span{
		ID:          uuid.NewString(),
		ParentID:    parentID,
		Name:        name,
		Kind:        kind,
		StartMillis: t.now().UnixMilli(),
	}
	t.spans = append(t.spans, s)
	t.open = append(t.open, s)
	return s.ID
}

// EndSpan closes the span with the given id, stamping end time and duration
// and merging summary/links. Spans nest, so the search walks the open stack
// from the most recently opened span backward. Ending an unknown span is a
// no-op: span bookkeeping failures must never affect the answer.
func (t *SpanTracker) EndSpan(id string, status SpanStatus, summary, links map[string]any) {
	for i := len(t.open) - 1; i >= 0; i-- {
		s := t.open[i]
		if s.ID != id {
			continue
		}
		s.EndMillis = t.now().UnixMilli()
		s.DurationMillis = s.EndMillis - s.StartMillis
		s.Status = status
		s.Summary = mergeInto(s.Summary, summary)
		s.Links = mergeInto(s.Links, links)
		t.open = append(t.open[:i], t.open[i+1:]...)
		t.mirrorSpan(s)
		return
	}
}

// Spans returns the request's spans in start order.
func (t *SpanTracker) Spans() []Span {
	out := make([]Span, len(t.spans))
	for i, s := range t.spans {
		out[i] = *s
	}
	return out
}

// ClearSpans resets the tracker at the start of a new request.
func (t *SpanTracker) ClearSpans() {
	t.spans = nil
	t.open = nil
}

// SetClock swaps the time source. Test hook.
func (t *SpanTracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *SpanTracker) mirrorSpan(s *Span) {
	if t.mirror == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("span.kind", string(s.Kind)),
		attribute.String("span.id", s.ID),
	}
	if s.ParentID != "" {
		attrs = append(attrs, attribute.String("span.parent_id", s.ParentID))
	}
	_, otelSpan := t.mirror.Start(context.Background(), s.Name,
		trace.WithTimestamp(time.UnixMilli(s.StartMillis)),
		trace.WithAttributes(attrs...),
	)
	if s.Status == SpanError {
		otelSpan.SetStatus(codes.Error, s.Name)
	}
	otelSpan.End(trace.WithTimestamp(time.UnixMilli(s.EndMillis)))
}

func mergeInto(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
