package runner

import (
	"time"

	"opspilot/internal/pipeline"
	"opspilot/internal/plan"
)

// Status is the terminal status of a run. A run can complete with errors
// (degraded enrichment) without failing.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Block is one composed answer unit handed back to the caller.
type Block struct {
	Kind    string         `json:"kind"`
	Title   string         `json:"title,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// RunContext is the mutable per-request state threaded through the stage
// runner. It is created at the start of a request, owned by the runner for
// the request's lifetime, and handed to the caller afterwards.
type RunContext struct {
	TenantID  string
	TraceID   string
	RequestID string

	Plan     *plan.Plan
	Question string

	// Diagnostics collects free-form stage output for observability.
	Diagnostics map[string]any
	// Results holds each executed step's materialized output keyed by step id.
	Results map[string]map[string]any
	// ExecutionErrors accumulates failures from every stage; a populated list
	// does not imply a failed run.
	ExecutionErrors []error
	// Blocks is the composed answer.
	Blocks []Block
	// PhaseTimes records each stage's elapsed time, written exactly once per
	// stage per request.
	PhaseTimes map[string]time.Duration

	Status Status
	Spans  *SpanTracker

	steps          []plan.Step
	pipelineResult pipeline.Result
	direct         bool
	directAnswer   string
}

func newRunContext(tenantID, traceID, requestID string, spans *SpanTracker) *RunContext {
	return &RunContext{
		TenantID:    tenantID,
		TraceID:     traceID,
		RequestID:   requestID,
		Diagnostics: make(map[string]any),
		Results:     make(map[string]map[string]any),
		PhaseTimes:  make(map[string]time.Duration),
		Spans:       spans,
	}
}

// HasErrors reports whether any stage recorded an error, fatal or not.
func (rc *RunContext) HasErrors() bool {
	return len(rc.ExecutionErrors) > 0
}

// AddError appends err to the run's error list.
func (rc *RunContext) AddError(err error) {
	if err != nil {
		rc.ExecutionErrors = append(rc.ExecutionErrors, err)
	}
}

// Steps returns the analyzed step list, available after the validate stage.
func (rc *RunContext) Steps() []plan.Step {
	return rc.steps
}

// Direct reports whether the classifier short-circuited tool execution.
func (rc *RunContext) Direct() bool {
	return rc.direct
}
