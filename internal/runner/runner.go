// Package runner is the top-level state machine sequencing the named stages
// of one orchestration request: route_plan, validate, execute, compose,
// present. It owns the per-request RunContext and records stage and span
// telemetry for an external sink.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"opspilot/internal/observability"
	"opspilot/internal/pipeline"
	"opspilot/internal/plan"
	"opspilot/internal/policy"
	"opspilot/internal/selector"
	"opspilot/internal/toolcache"
	"opspilot/internal/toolreg"
)

// Stage names, in execution order.
const (
	StageRoutePlan = "route_plan"
	StageValidate  = "validate"
	StageExecute   = "execute"
	StageCompose   = "compose"
	StagePresent   = "present"
)

// Request is one incoming question with its pre-classified plan and the live
// signals feeding tool selection.
type Request struct {
	TenantID string
	TraceID  string
	Question string

	// Plan is a pre-built plan. Ignored when Classified is present.
	Plan *plan.Plan
	// Classified is the external classifier's output; a DIRECT kind
	// short-circuits execute/compose.
	Classified *plan.ClassifierOutput

	Strategy selector.Strategy
	// Load is the current per-tool load in [0, 1], supplied by the caller's
	// probes.
	Load map[string]float64
	// EstimatedLatency carries live latency estimates per tool.
	EstimatedLatency map[string]time.Duration

	// InitialParams seed the first pipeline step's transform.
	InitialParams map[string]any
}

// Options wires the runner's collaborators.
type Options struct {
	Registry *toolreg.Registry
	Cache    *toolcache.Cache
	Selector *selector.Selector
	Policies *policy.Store
	Logger   *observability.Logger
	Metrics  *observability.MetricsCollector
	// Tracer mirrors completed spans to OpenTelemetry; nil disables the
	// mirror.
	Tracer trace.Tracer
}

// Runner executes requests. One Runner serves many concurrent requests; all
// per-request state lives in the RunContext.
type Runner struct {
	registry *toolreg.Registry
	cache    *toolcache.Cache
	selector *selector.Selector
	policies *policy.Store
	analyzer *plan.Analyzer
	logger   *observability.Logger
	metrics  *observability.MetricsCollector
	tracer   trace.Tracer
}

func New(opts Options) (*Runner, error) {
	if opts.Registry == nil {
		return nil, errors.New("runner requires a tool registry")
	}
	if opts.Policies == nil {
		return nil, errors.New("runner requires a policy store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	cache := opts.Cache
	if cache == nil {
		cache = toolcache.New(toolcache.Config{})
	}
	sel := opts.Selector
	if sel == nil {
		sel = selector.New(nil, opts.Registry, logger)
	}
	return &Runner{
		registry: opts.Registry,
		cache:    cache,
		selector: sel,
		policies: opts.Policies,
		analyzer: plan.NewAnalyzer(),
		logger:   logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}, nil
}

// Run executes one request end to end. The returned RunContext is always
// non-nil: on failure it carries the best-effort partial state for
// diagnostics alongside the error.
func (r *Runner) Run(ctx context.Context, req Request) (*RunContext, error) {
	requestID := uuid.NewString()
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx = observability.ContextWithTraceID(ctx, traceID)
	ctx = observability.ContextWithRequestID(ctx, requestID)
	if req.TenantID != "" {
		ctx = observability.ContextWithTenantID(ctx, req.TenantID)
	}

	spans := NewSpanTracker(r.tracer)
	spans.ClearSpans()
	rc := newRunContext(req.TenantID, traceID, requestID, spans)

	rootSpan := spans.StartSpan("run", SpanKindStage, "")

	err := r.runStages(ctx, rc, req, rootSpan)
	switch {
	case err != nil:
		rc.Status = StatusFailed
		spans.EndSpan(rootSpan, SpanError, map[string]any{"error": err.Error()}, nil)
	case rc.HasErrors():
		rc.Status = StatusPartial
		spans.EndSpan(rootSpan, SpanOK, map[string]any{"degraded": true}, nil)
	default:
		rc.Status = StatusSuccess
		spans.EndSpan(rootSpan, SpanOK, nil, nil)
	}

	if r.metrics != nil {
		r.metrics.RecordRun(ctx, string(rc.Status))
	}
	return rc, err
}

func (r *Runner) runStages(ctx context.Context, rc *RunContext, req Request, rootSpan string) error {
	if err := r.stage(ctx, rc, StageRoutePlan, rootSpan, func(string) error {
		return r.routePlan(rc, req)
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, rc, StageValidate, rootSpan, func(string) error {
		return r.validate(ctx, rc)
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, rc, StageExecute, rootSpan, func(spanID string) error {
		return r.execute(ctx, rc, req, spanID)
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, rc, StageCompose, rootSpan, func(spanID string) error {
		return r.compose(rc, spanID)
	}); err != nil {
		return err
	}

	return r.stage(ctx, rc, StagePresent, rootSpan, func(string) error {
		return r.present(rc)
	})
}

// stage wraps one stage body with logging, span tracking, and phase timing.
// The phase time is written exactly once per stage per request.
func (r *Runner) stage(ctx context.Context, rc *RunContext, name, parentSpan string, fn func(spanID string) error) error {
	r.logger.InfoContext(ctx, "stage started", "stage", name)
	spanID := rc.Spans.StartSpan("stage:"+name, SpanKindStage, parentSpan)

	start := time.Now()
	err := fn(spanID)
	elapsed := time.Since(start)

	rc.PhaseTimes[name] = elapsed
	if r.metrics != nil {
		r.metrics.RecordStage(ctx, name, elapsed)
	}

	if err != nil {
		rc.Spans.EndSpan(spanID, SpanError, map[string]any{"error": err.Error()}, nil)
		r.logger.ErrorContext(ctx, "stage failed",
			"stage", name, "elapsed_ms", elapsed.Milliseconds(), "error", err)
		return err
	}
	rc.Spans.EndSpan(spanID, SpanOK, map[string]any{"elapsed_ms": elapsed.Milliseconds()}, nil)
	r.logger.InfoContext(ctx, "stage completed",
		"stage", name, "elapsed_ms", elapsed.Milliseconds())
	return nil
}

// routePlan resolves the plan for this request from the classifier output or
// the pre-built plan.
func (r *Runner) routePlan(rc *RunContext, req Request) error {
	rc.Question = req.Question

	switch {
	case req.Classified != nil && req.Classified.Kind == plan.KindDirect:
		rc.direct = true
		rc.directAnswer = req.Classified.DirectAnswer
		rc.Diagnostics["classifier_confidence"] = req.Classified.Confidence
	case req.Classified != nil && req.Classified.Plan != nil:
		rc.Plan = req.Classified.Plan
		rc.Diagnostics["classifier_confidence"] = req.Classified.Confidence
	case req.Plan != nil:
		rc.Plan = req.Plan
	default:
		return errors.New("request carries neither a plan nor a classifier result")
	}
	return nil
}

// validate enforces policy clamps and resolves the ordered step list. Both a
// missing view policy and a dependency resolution failure are fatal here,
// before any tool executes.
func (r *Runner) validate(ctx context.Context, rc *RunContext) error {
	if rc.direct {
		return nil
	}

	p := rc.Plan
	if p.Graph.Populated() {
		depth, err := r.policies.ClampDepth(ctx, p.Graph.View, p.Graph.Depth)
		if err != nil {
			rc.AddError(err)
			return err
		}
		relTypes, constrained := r.policies.RelationTypesForView(ctx, p.Graph.View)
		if depth != p.Graph.Depth || constrained {
			// Plans are immutable; clamping replaces the graph spec on a
			// shallow copy.
			clamped := *p.Graph
			clamped.Depth = depth
			clamped.RelationTypes = relTypes
			planCopy := *p
			planCopy.Graph = &clamped
			rc.Plan = &planCopy
			p = rc.Plan
		}
		rc.Diagnostics["graph_depth"] = depth
		if constrained {
			rc.Diagnostics["graph_relation_types"] = relTypes
		}
	}

	steps, err := r.analyzer.ExtractDependencies(p)
	if err != nil {
		rc.AddError(err)
		return err
	}
	rc.steps = steps

	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	rc.Diagnostics["steps"] = ids
	return nil
}

// execute runs the composition pipeline over the analyzed steps, routing
// every call through the selector and the result cache.
func (r *Runner) execute(ctx context.Context, rc *RunContext, req Request, spanID string) error {
	if rc.direct {
		return nil
	}

	selCtx := r.buildSelectionContext(req, rc)
	ranked := r.selector.SelectTools(selCtx)
	rc.Diagnostics["tool_ranking"] = ranked

	invoker := &toolInvoker{
		registry:     r.registry,
		cache:        r.cache,
		ranked:       ranked,
		metrics:      r.metrics,
		logger:       r.logger,
		parentSpanID: spanID,
		spans:        rc.Spans,
	}

	pipe := pipeline.New(rc.steps, r.logger)
	res, err := pipe.Execute(ctx, invoker, req.InitialParams)
	if err != nil {
		rc.AddError(err)
		return err
	}

	rc.pipelineResult = res
	for idx, id := range res.Trace {
		if idx == 0 {
			rc.Results[id] = res.Primary
			continue
		}
		rc.Results[id] = res.Enriched[id]
	}
	for _, stepErr := range res.Errors {
		rc.AddError(stepErr.Err)
	}
	return nil
}

// compose merges tool outputs into answer blocks.
func (r *Runner) compose(rc *RunContext, spanID string) error {
	if rc.direct {
		return nil
	}

	renderSpan := rc.Spans.StartSpan("render:blocks", SpanKindRender, spanID)
	res := rc.pipelineResult

	if res.Primary != nil {
		rc.Blocks = append(rc.Blocks, Block{
			Kind:    "primary",
			Title:   titleFor(rc.Plan.Intent),
			Payload: res.Primary,
		})
	}
	for i, id := range res.Trace {
		if i == 0 {
			continue
		}
		rc.Blocks = append(rc.Blocks, Block{
			Kind:    "enrichment",
			Title:   id,
			Payload: res.Enriched[id],
		})
	}
	if res.FallbackUsed() {
		rc.Blocks = append(rc.Blocks, Block{
			Kind:  "notice",
			Title: "degraded",
			Payload: map[string]any{
				"message": "part of this answer was produced via a fallback path",
			},
		})
	}

	rc.Spans.EndSpan(renderSpan, SpanOK, map[string]any{"blocks": len(rc.Blocks)}, nil)
	return nil
}

// present finalizes the answer and the run diagnostics.
func (r *Runner) present(rc *RunContext) error {
	if rc.direct {
		rc.Blocks = []Block{{
			Kind:    "direct",
			Payload: map[string]any{"answer": rc.directAnswer},
		}}
	}

	rc.Diagnostics["execution_trace"] = rc.pipelineResult.Trace
	rc.Diagnostics["error_count"] = len(rc.ExecutionErrors)
	return nil
}

// buildSelectionContext assembles the per-request selection signals. The
// cache-hit indicator is a hint computed from each step's base parameters;
// transforms applied at execution time may shift the real key.
func (r *Runner) buildSelectionContext(req Request, rc *RunContext) selector.Context {
	strategy := req.Strategy
	if strategy == "" {
		strategy = selector.StrategyMostAccurate
	}

	cacheHit := make(map[string]bool)
	for _, step := range rc.steps {
		key := toolcache.Key(string(step.ToolType), step.Operation, step.Params)
		if !r.cache.Contains(key) {
			continue
		}
		for _, name := range r.registry.ByType(step.ToolType) {
			cacheHit[name] = true
		}
	}

	return selector.Context{
		Intent:           rc.Plan.Intent,
		Strategy:         strategy,
		Load:             req.Load,
		CacheHit:         cacheHit,
		EstimatedLatency: req.EstimatedLatency,
	}
}

func titleFor(intent plan.Intent) string {
	switch intent {
	case plan.IntentLookup, plan.IntentMixed:
		return "Configuration items"
	case plan.IntentAggregate:
		return "Aggregation"
	case plan.IntentMetric:
		return "Metrics"
	case plan.IntentHistory:
		return "Change history"
	case plan.IntentGraph:
		return "Relations"
	case plan.IntentDocument:
		return "Documents"
	}
	return fmt.Sprintf("Results (%s)", intent)
}
