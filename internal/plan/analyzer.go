package plan

import (
	"fmt"

	"opspilot/internal/toolreg"
)

// FailurePolicy controls how a step failure affects the rest of the pipeline.
type FailurePolicy string

const (
	// FailFast aborts the pipeline; the step is the sole source of the answer.
	FailFast FailurePolicy = "fail_fast"
	// Skip swallows the failure; the step contributes nothing.
	Skip FailurePolicy = "skip"
	// Fallback swallows the failure but marks the run as having taken a
	// degraded path.
	Fallback FailurePolicy = "fallback"
)

// Well-known step ids.
const (
	StepPrimary   = "primary"
	StepSecondary = "secondary"
	StepAggregate = "aggregate"
	StepMetric    = "metric"
	StepHistory   = "history"
	StepGraph     = "graph"
	StepDocument  = "document"
)

// Step is one ordered unit of tool work derived from a plan. Steps are
// immutable once constructed.
type Step struct {
	ID        string
	ToolType  toolreg.ToolType
	Operation string
	Policy    FailurePolicy
	Transform TransformSpec
	// Params are the step's base parameters before the transform merges in
	// upstream output.
	Params map[string]any
	// DependsOn names a step whose materialized output this step's transform
	// reads. Empty for steps fed only by the initial params.
	DependsOn string
}

// DependencyResolutionError indicates the analyzer cannot produce a valid
// ordered step list from the given plan.
type DependencyResolutionError struct {
	Reason string
}

func (e *DependencyResolutionError) Error() string {
	return fmt.Sprintf("dependency resolution failed: %s", e.Reason)
}

// Analyzer turns plans into ordered step lists. It is stateless; one instance
// serves all requests.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// ExtractDependencies produces the ordered step list for p. Steps follow the
// fixed precedence primary/secondary -> aggregate -> metric -> history ->
// graph -> document, except that a step declaring a dependency on another
// step's output is moved after its dependency.
func (a *Analyzer) ExtractDependencies(p *Plan) ([]Step, error) {
	if p == nil {
		return nil, &DependencyResolutionError{Reason: "plan is nil"}
	}
	if !anyPopulated(p) {
		return nil, &DependencyResolutionError{Reason: "plan has no populated capability specs"}
	}
	if err := checkIntentSpecs(p); err != nil {
		return nil, err
	}

	documentOnly := p.Intent == IntentDocument && onlyDocumentPopulated(p)

	var steps []Step

	switch {
	case p.Primary.Populated():
		steps = append(steps, primaryStep(p))
	case documentOnly:
		// Document-only plans must not implicitly pull in the generic
		// lookup tool.
	case needsAnchor(p):
		steps = append(steps, syntheticPrimaryStep(p))
	}

	if p.Secondary.Populated() {
		steps = append(steps, secondaryStep(p))
	}
	if p.Aggregate.Populated() {
		steps = append(steps, aggregateStep(p))
	}
	if p.Metric.Populated() {
		steps = append(steps, metricStep(p))
	}
	if p.History.Populated() {
		steps = append(steps, historyStep(p))
	}
	if p.Graph.Populated() {
		steps = append(steps, graphStep(p))
	}
	if p.Document.Populated() {
		steps = append(steps, documentStep(p))
	}

	return orderByDependency(steps), nil
}

func anyPopulated(p *Plan) bool {
	return p.Primary.Populated() || p.Secondary.Populated() || p.Aggregate.Populated() ||
		p.Metric.Populated() || p.History.Populated() || p.Graph.Populated() || p.Document.Populated()
}

func onlyDocumentPopulated(p *Plan) bool {
	return p.Document.Populated() && !p.Primary.Populated() && !p.Secondary.Populated() &&
		!p.Aggregate.Populated() && !p.Metric.Populated() && !p.History.Populated() && !p.Graph.Populated()
}

// needsAnchor reports whether some populated spec pivots on a resolved
// configuration item and therefore requires a synthesized primary lookup.
func needsAnchor(p *Plan) bool {
	return p.Metric.Populated() || p.History.Populated() || p.Graph.Populated()
}

// checkIntentSpecs rejects intent/spec combinations where the intent's
// mandatory capability is missing.
func checkIntentSpecs(p *Plan) error {
	missing := func(capability string) error {
		return &DependencyResolutionError{
			Reason: fmt.Sprintf("intent %s requires a populated %s spec", p.Intent, capability),
		}
	}
	switch p.Intent {
	case IntentLookup:
		if !p.Primary.Populated() {
			return missing("primary")
		}
	case IntentAggregate:
		if !p.Aggregate.Populated() {
			return missing("aggregate")
		}
	case IntentMetric:
		if !p.Metric.Populated() {
			return missing("metric")
		}
	case IntentHistory:
		if !p.History.Populated() {
			return missing("history")
		}
	case IntentGraph:
		if !p.Graph.Populated() {
			return missing("graph")
		}
	case IntentDocument:
		if !p.Document.Populated() {
			return missing("document")
		}
	case IntentMixed:
		// Mixed plans only need at least one populated spec, checked above.
	default:
		return &DependencyResolutionError{Reason: fmt.Sprintf("unknown intent %q", p.Intent)}
	}
	return nil
}

// policyFor marks the answer-bearing step fail_fast and enrichment steps
// soft-failing. Document enrichment degrades via fallback so the composed
// answer can note the degraded path.
func policyFor(p *Plan, stepID string) FailurePolicy {
	if soleSource(p.Intent) == stepID {
		return FailFast
	}
	if stepID == StepDocument {
		return Fallback
	}
	return Skip
}

func soleSource(intent Intent) string {
	switch intent {
	case IntentLookup, IntentMixed:
		return StepPrimary
	case IntentAggregate:
		return StepAggregate
	case IntentMetric:
		return StepMetric
	case IntentHistory:
		return StepHistory
	case IntentGraph:
		return StepGraph
	case IntentDocument:
		return StepDocument
	}
	return StepPrimary
}

func toolTypeOr(tt, def toolreg.ToolType) toolreg.ToolType {
	if tt != "" {
		return tt
	}
	return def
}

func primaryStep(p *Plan) Step {
	return Step{
		ID:        StepPrimary,
		ToolType:  toolTypeOr(p.Primary.ToolType, toolreg.TypeCILookup),
		Operation: "lookup",
		Policy:    policyFor(p, StepPrimary),
		Transform: TransformPassthrough,
		Params: map[string]any{
			"keywords": p.Primary.Keywords,
			"filters":  p.Primary.Filters,
		},
	}
}

func syntheticPrimaryStep(p *Plan) Step {
	return Step{
		ID:        StepPrimary,
		ToolType:  toolreg.TypeCILookup,
		Operation: "lookup",
		Policy:    policyFor(p, StepPrimary),
		Transform: TransformPassthrough,
		Params:    map[string]any{},
	}
}

func secondaryStep(p *Plan) Step {
	return Step{
		ID:        StepSecondary,
		ToolType:  toolTypeOr(p.Secondary.ToolType, toolreg.TypeFulltextSearch),
		Operation: "search",
		Policy:    policyFor(p, StepSecondary),
		Transform: TransformPassthrough,
		Params: map[string]any{
			"keywords": p.Secondary.Keywords,
		},
	}
}

func aggregateStep(p *Plan) Step {
	return Step{
		ID:        StepAggregate,
		ToolType:  toolTypeOr(p.Aggregate.ToolType, toolreg.TypeCIAggregate),
		Operation: "aggregate",
		Policy:    policyFor(p, StepAggregate),
		Transform: TransformCarryItems,
		Params: map[string]any{
			"group_by": p.Aggregate.GroupBy,
			"measures": p.Aggregate.Measures,
		},
	}
}

func metricStep(p *Plan) Step {
	params := map[string]any{
		"metrics": p.Metric.Metrics,
	}
	if p.Metric.Range != nil {
		params["start"] = p.Metric.Range.Start
		params["end"] = p.Metric.Range.End
	}
	return Step{
		ID:        StepMetric,
		ToolType:  toolTypeOr(p.Metric.ToolType, toolreg.TypeMetricQuery),
		Operation: "query_range",
		Policy:    policyFor(p, StepMetric),
		Transform: TransformCarryCI,
		Params:    params,
		DependsOn: StepPrimary,
	}
}

func historyStep(p *Plan) Step {
	params := map[string]any{}
	if p.History.Range != nil {
		params["start"] = p.History.Range.Start
		params["end"] = p.History.Range.End
	}
	if p.History.Limit > 0 {
		params["limit"] = p.History.Limit
	}
	return Step{
		ID:        StepHistory,
		ToolType:  toolTypeOr(p.History.ToolType, toolreg.TypeHistoryQuery),
		Operation: "list_changes",
		Policy:    policyFor(p, StepHistory),
		Transform: TransformCarryCI,
		Params:    params,
		DependsOn: StepPrimary,
	}
}

func graphStep(p *Plan) Step {
	params := map[string]any{
		"view":  p.Graph.View,
		"depth": p.Graph.Depth,
	}
	if len(p.Graph.RelationTypes) > 0 {
		params["relation_types"] = p.Graph.RelationTypes
	}
	return Step{
		ID:        StepGraph,
		ToolType:  toolTypeOr(p.Graph.ToolType, toolreg.TypeGraphTraversal),
		Operation: "traverse",
		Policy:    policyFor(p, StepGraph),
		Transform: TransformCarryCI,
		Params:    params,
		DependsOn: StepPrimary,
	}
}

func documentStep(p *Plan) Step {
	return Step{
		ID:        StepDocument,
		ToolType:  toolTypeOr(p.Document.ToolType, toolreg.TypeDocumentSearch),
		Operation: "search",
		Policy:    policyFor(p, StepDocument),
		Transform: TransformPassthrough,
		Params: map[string]any{
			"query": p.Document.Query,
			"top_k": p.Document.TopK,
		},
	}
}

// orderByDependency moves any step whose declared dependency appears later in
// the list to the position just after that dependency. Dependencies on steps
// not present in the list are dropped.
func orderByDependency(steps []Step) []Step {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.ID] = i
	}
	for i := range steps {
		if steps[i].DependsOn == "" {
			continue
		}
		if _, ok := index[steps[i].DependsOn]; !ok {
			steps[i].DependsOn = ""
		}
	}

	out := make([]Step, 0, len(steps))
	placed := make(map[string]bool, len(steps))
	var pending []Step

	place := func(s Step) {
		out = append(out, s)
		placed[s.ID] = true
	}

	for _, s := range steps {
		if s.DependsOn == "" || placed[s.DependsOn] {
			place(s)
			// Placing a step may unblock earlier deferred steps.
			for progress := true; progress; {
				progress = false
				rest := pending[:0]
				for _, d := range pending {
					if placed[d.DependsOn] {
						place(d)
						progress = true
					} else {
						rest = append(rest, d)
					}
				}
				pending = rest
			}
			continue
		}
		pending = append(pending, s)
	}

	// Anything still pending has an unsatisfiable ordering; keep input order
	// rather than dropping work.
	out = append(out, pending...)
	return out
}
