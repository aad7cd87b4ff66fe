// Package pipeline executes an ordered step list as a single-threaded data
// flow: each step's materialized output feeds the next step's parameter
// transform.
package pipeline

import (
	"context"
	"fmt"

	"opspilot/internal/observability"
	"opspilot/internal/plan"
)

// Executor invokes one tool operation. The runner supplies an implementation
// that routes through the selector, the result cache, and the registry.
type Executor interface {
	Execute(ctx context.Context, toolType, operation string, params map[string]any) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, toolType, operation string, params map[string]any) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, toolType, operation string, params map[string]any) (map[string]any, error) {
	return f(ctx, toolType, operation, params)
}

// ToolExecutionError wraps a failure surfaced by a tool call. It always
// carries the original error string and, where the transport reported one,
// an exception type tag.
type ToolExecutionError struct {
	ToolType      string
	Operation     string
	Message       string
	ExceptionType string
	Err           error
}

func (e *ToolExecutionError) Error() string {
	if e.ExceptionType != "" {
		return fmt.Sprintf("tool %s/%s failed (%s): %s", e.ToolType, e.Operation, e.ExceptionType, e.Message)
	}
	return fmt.Sprintf("tool %s/%s failed: %s", e.ToolType, e.Operation, e.Message)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// StepError records one soft step failure for the caller's diagnostics.
type StepError struct {
	StepID string
	Policy plan.FailurePolicy
	Err    error
}

// Result aggregates a pipeline run. The first collected result is Primary;
// later ones key into Enriched by step id. Trace lists the steps that
// actually ran, in order.
type Result struct {
	Primary  map[string]any
	Enriched map[string]map[string]any
	Trace    []string
	// Errors holds the failures swallowed by skip/fallback policies so the
	// runner can surface a degraded-but-complete answer.
	Errors []StepError
}

// Pipeline is a fixed ordered sequence of steps, built once per plan and
// reusable across executions.
type Pipeline struct {
	steps  []plan.Step
	logger *observability.Logger
}

func New(steps []plan.Step, logger *observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Pipeline{steps: steps, logger: logger}
}

// Steps returns the pipeline's step list.
func (p *Pipeline) Steps() []plan.Step {
	return p.steps
}

// Execute runs the steps in order. The first step's transform sees
// initialParams as the previous result; every later step sees its
// predecessor's output. A fail_fast failure aborts with an error and the
// partial result collected so far is discarded by the caller; skip and
// fallback failures leave the running result untouched and execution
// continues.
func (p *Pipeline) Execute(ctx context.Context, executor Executor, initialParams map[string]any) (Result, error) {
	result := Result{
		Enriched: make(map[string]map[string]any),
	}
	current := initialParams
	primaryCollected := false

	for _, step := range p.steps {
		params := plan.ApplyTransform(step.Transform, step.Params, current)

		out, err := executor.Execute(ctx, string(step.ToolType), step.Operation, params)
		if err != nil {
			switch step.Policy {
			case plan.FailFast:
				p.logger.ErrorContext(ctx, "pipeline step failed, aborting",
					"step", step.ID, "tool_type", step.ToolType, "error", err)
				return Result{}, err
			case plan.Skip:
				p.logger.WarnContext(ctx, "pipeline step failed, skipping",
					"step", step.ID, "tool_type", step.ToolType, "error", err)
				result.Errors = append(result.Errors, StepError{StepID: step.ID, Policy: step.Policy, Err: err})
				continue
			case plan.Fallback:
				p.logger.InfoContext(ctx, "pipeline step failed, continuing on fallback path",
					"step", step.ID, "tool_type", step.ToolType, "error", err)
				result.Errors = append(result.Errors, StepError{StepID: step.ID, Policy: step.Policy, Err: err})
				continue
			default:
				return Result{}, err
			}
		}

		// A successful step may legitimately return a nil payload, so "first
		// collected" is tracked explicitly rather than by nil-checking Primary.
		if !primaryCollected {
			result.Primary = out
			primaryCollected = true
		} else {
			result.Enriched[step.ID] = out
		}
		result.Trace = append(result.Trace, step.ID)
		current = out
	}

	return result, nil
}

// FallbackUsed reports whether any fallback-policy step failed during the
// run, meaning the composed answer came from a degraded path.
func (r Result) FallbackUsed() bool {
	for _, e := range r.Errors {
		if e.Policy == plan.Fallback {
			return true
		}
	}
	return false
}
