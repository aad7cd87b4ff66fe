package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opspilot/internal/plan"
	"opspilot/internal/policy"
	"opspilot/internal/selector"
	"opspilot/internal/toolcache"
	"opspilot/internal/toolreg"
	"opspilot/internal/transport"
)

// newTestRunner wires a runner over a stub transport with the full default
// tool fleet registered.
func newTestRunner(t *testing.T, stub *transport.StubTransport) *Runner {
	t.Helper()

	registry := toolreg.NewRegistry()
	fleet := map[string]toolreg.ToolType{
		"cmdb_lookup":     toolreg.TypeCILookup,
		"cmdb_search":     toolreg.TypeFulltextSearch,
		"cmdb_aggregate":  toolreg.TypeCIAggregate,
		"metric_store":    toolreg.TypeMetricQuery,
		"change_history":  toolreg.TypeHistoryQuery,
		"graph_walker":    toolreg.TypeGraphTraversal,
		"doc_retriever":   toolreg.TypeDocumentSearch,
		"fulltext_lookup": toolreg.TypeFulltextSearch,
	}
	for name, tt := range fleet {
		require.NoError(t, registry.Register(toolreg.NewTransportTool(name, tt, stub)))
	}

	policies := policy.NewStore(nil, nil)

	r, err := New(Options{
		Registry: registry,
		Cache:    toolcache.New(toolcache.Config{Capacity: 64}),
		Selector: selector.New(toolreg.DefaultProfiles(), registry, nil),
		Policies: policies,
	})
	require.NoError(t, err)
	return r
}

func TestRunLookupPlanEndToEnd(t *testing.T) {
	stub := transport.NewStubTransport()
	stub.Respond(string(toolreg.TypeCILookup), "lookup",
		map[string]any{"ci_code": "srv-01", "status": "active"})

	r := newTestRunner(t, stub)
	rc, err := r.Run(context.Background(), Request{
		TenantID: "acme",
		Question: "what is srv-01?",
		Plan: &plan.Plan{
			Intent:  plan.IntentLookup,
			Primary: &plan.PrimarySpec{Keywords: []string{"srv-01"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, rc.Status)
	assert.Equal(t, map[string]any{"ci_code": "srv-01", "status": "active"}, rc.Results[plan.StepPrimary])
	assert.Equal(t, []string{plan.StepPrimary}, rc.Diagnostics["execution_trace"])

	require.NotEmpty(t, rc.Blocks)
	assert.Equal(t, "primary", rc.Blocks[0].Kind)
	assert.Equal(t, "srv-01", rc.Blocks[0].Payload["ci_code"])

	for _, stage := range []string{StageRoutePlan, StageValidate, StageExecute, StageCompose, StagePresent} {
		assert.Contains(t, rc.PhaseTimes, stage)
	}
	assert.NotEmpty(t, rc.RequestID)
	assert.NotEmpty(t, rc.TraceID)
}

func TestRunDirectAnswerShortCircuitsTools(t *testing.T) {
	stub := transport.NewStubTransport()
	r := newTestRunner(t, stub)

	rc, err := r.Run(context.Background(), Request{
		Question: "hello",
		Classified: &plan.ClassifierOutput{
			Kind:         plan.KindDirect,
			DirectAnswer: "Hi! Ask me about your infrastructure.",
			Confidence:   0.99,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, rc.Status)
	assert.Empty(t, stub.Calls(), "direct answers must not invoke tools")
	require.Len(t, rc.Blocks, 1)
	assert.Equal(t, "direct", rc.Blocks[0].Kind)
	assert.Equal(t, "Hi! Ask me about your infrastructure.", rc.Blocks[0].Payload["answer"])
	assert.True(t, rc.Direct())
}

func TestRunDegradedWhenFallbackStepFails(t *testing.T) {
	stub := transport.NewStubTransport()
	stub.Respond(string(toolreg.TypeCILookup), "lookup", map[string]any{"ci_code": "srv-01"})
	stub.Fail(string(toolreg.TypeDocumentSearch), "search", errors.New("retriever down"))

	r := newTestRunner(t, stub)
	rc, err := r.Run(context.Background(), Request{
		Question: "srv-01 with runbook",
		Plan: &plan.Plan{
			Intent:   plan.IntentLookup,
			Primary:  &plan.PrimarySpec{Keywords: []string{"srv-01"}},
			Document: &plan.DocumentSpec{Query: "srv-01 runbook"},
		},
	})
	require.NoError(t, err, "degraded enrichment never fails the run")

	assert.Equal(t, StatusPartial, rc.Status)
	assert.True(t, rc.HasErrors())

	var notice *Block
	for i := range rc.Blocks {
		if rc.Blocks[i].Kind == "notice" {
			notice = &rc.Blocks[i]
		}
	}
	require.NotNil(t, notice, "fallback failures surface a degraded notice block")
}

func TestRunFailsFastWhenPrimaryToolFails(t *testing.T) {
	stub := transport.NewStubTransport()
	stub.Fail(string(toolreg.TypeCILookup), "lookup", errors.New("cmdb unreachable"))

	r := newTestRunner(t, stub)
	rc, err := r.Run(context.Background(), Request{
		Question: "what is srv-01?",
		Plan: &plan.Plan{
			Intent:  plan.IntentLookup,
			Primary: &plan.PrimarySpec{Keywords: []string{"srv-01"}},
		},
	})
	require.Error(t, err)

	assert.Equal(t, StatusFailed, rc.Status)
	assert.Empty(t, rc.Blocks)
	assert.Contains(t, rc.PhaseTimes, StageExecute)
	assert.NotContains(t, rc.PhaseTimes, StageCompose, "stages after a fatal failure never run")
}

func TestRunClampsGraphDepthFromPolicy(t *testing.T) {
	stub := transport.NewStubTransport()
	stub.Respond(string(toolreg.TypeCILookup), "lookup", map[string]any{"ci_code": "srv-01"})
	stub.Respond(string(toolreg.TypeGraphTraversal), "traverse", map[string]any{"nodes": []any{}})

	r := newTestRunner(t, stub)
	rc, err := r.Run(context.Background(), Request{
		Question: "impact of srv-01",
		Plan: &plan.Plan{
			Intent: plan.IntentGraph,
			Graph:  &plan.GraphSpec{View: policy.ViewImpact, Depth: 99},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rc.Status)

	calls := stub.Calls()
	var traverse *transport.StubCall
	for i := range calls {
		if calls[i].Operation == "traverse" {
			traverse = &calls[i]
		}
	}
	require.NotNil(t, traverse)
	depth, ok := traverse.Params["depth"].(int)
	require.True(t, ok)
	assert.Less(t, depth, 99, "requested depth beyond the view maximum is clamped")
	assert.Equal(t, rc.Diagnostics["graph_depth"], depth)
}

func TestRunInjectsAllowedRelationTypes(t *testing.T) {
	stub := transport.NewStubTransport()
	stub.Respond(string(toolreg.TypeCILookup), "lookup", map[string]any{"ci_code": "srv-01"})
	stub.Respond(string(toolreg.TypeGraphTraversal), "traverse", map[string]any{"nodes": []any{}})

	r := newTestRunner(t, stub)
	rc, err := r.Run(context.Background(), Request{
		Question: "what does srv-01 depend on?",
		Plan: &plan.Plan{
			Intent: plan.IntentGraph,
			Graph:  &plan.GraphSpec{View: policy.ViewDependency, Depth: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rc.Status)

	calls := stub.Calls()
	var traverse *transport.StubCall
	for i := range calls {
		if calls[i].Operation == "traverse" {
			traverse = &calls[i]
		}
	}
	require.NotNil(t, traverse)
	assert.Equal(t, []string{"depends_on", "runs_on", "hosted_on"}, traverse.Params["relation_types"],
		"the traversal call carries the view's mapped relation types")
	assert.Equal(t, []string{"depends_on", "runs_on", "hosted_on"}, rc.Diagnostics["graph_relation_types"])
}

func TestRunRejectsUnknownGraphView(t *testing.T) {
	stub := transport.NewStubTransport()
	r := newTestRunner(t, stub)

	rc, err := r.Run(context.Background(), Request{
		Question: "weird view",
		Plan: &plan.Plan{
			Intent: plan.IntentGraph,
			Graph:  &plan.GraphSpec{View: "NO_SUCH_VIEW", Depth: 1},
		},
	})
	require.Error(t, err)

	var viewErr *policy.ViewNotFoundError
	assert.ErrorAs(t, err, &viewErr)
	assert.Equal(t, StatusFailed, rc.Status)
	assert.Empty(t, stub.Calls(), "validation failures happen before any tool executes")
}

func TestRunRejectsRequestWithoutPlan(t *testing.T) {
	stub := transport.NewStubTransport()
	r := newTestRunner(t, stub)

	rc, err := r.Run(context.Background(), Request{Question: "anything"})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, rc.Status)
}

func TestSecondRunServesFromCache(t *testing.T) {
	stub := transport.NewStubTransport()
	stub.Respond(string(toolreg.TypeCILookup), "lookup", map[string]any{"ci_code": "srv-01"})

	r := newTestRunner(t, stub)
	req := Request{
		Question: "what is srv-01?",
		Plan: &plan.Plan{
			Intent:  plan.IntentLookup,
			Primary: &plan.PrimarySpec{Keywords: []string{"srv-01"}},
		},
	}

	_, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, stub.Calls(), 1, "identical plans hit the result cache on the second run")
}

func TestRunRecordsSpansForEachStage(t *testing.T) {
	stub := transport.NewStubTransport()
	stub.Respond(string(toolreg.TypeCILookup), "lookup", map[string]any{"ci_code": "srv-01"})

	r := newTestRunner(t, stub)
	rc, err := r.Run(context.Background(), Request{
		Question: "what is srv-01?",
		Plan: &plan.Plan{
			Intent:  plan.IntentLookup,
			Primary: &plan.PrimarySpec{Keywords: []string{"srv-01"}},
		},
	})
	require.NoError(t, err)

	spans := rc.Spans.Spans()
	byName := make(map[string]Span, len(spans))
	for _, s := range spans {
		byName[s.Name] = s
	}

	require.Contains(t, byName, "run")
	for _, stage := range []string{StageRoutePlan, StageValidate, StageExecute, StageCompose, StagePresent} {
		s, ok := byName["stage:"+stage]
		require.True(t, ok, "missing span for stage %s", stage)
		assert.Equal(t, byName["run"].ID, s.ParentID)
		assert.Equal(t, SpanOK, s.Status)
	}

	toolSpan, ok := byName["tool:cmdb_lookup"]
	require.True(t, ok)
	assert.Equal(t, byName["stage:"+StageExecute].ID, toolSpan.ParentID)
}
