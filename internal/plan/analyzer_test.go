package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opspilot/internal/toolreg"
)

func stepIDs(steps []Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

func TestLookupPlanYieldsSinglePrimaryStep(t *testing.T) {
	a := NewAnalyzer()

	steps, err := a.ExtractDependencies(&Plan{
		Intent:  IntentLookup,
		Primary: &PrimarySpec{Keywords: []string{"srv-01"}, ToolType: toolreg.TypeCILookup},
	})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, StepPrimary, steps[0].ID)
	assert.Equal(t, FailFast, steps[0].Policy)
	assert.Equal(t, toolreg.TypeCILookup, steps[0].ToolType)
}

func TestDocumentOnlyPlanHasNoPrimaryStep(t *testing.T) {
	a := NewAnalyzer()

	steps, err := a.ExtractDependencies(&Plan{
		Intent:   IntentDocument,
		Document: &DocumentSpec{Query: "how to restart srv-01"},
	})
	require.NoError(t, err)
	assert.NotContains(t, stepIDs(steps), StepPrimary)
	require.Len(t, steps, 1)
	assert.Equal(t, StepDocument, steps[0].ID)
	assert.Equal(t, FailFast, steps[0].Policy)
}

func TestDocumentIntentWithOtherSpecsKeepsPrimary(t *testing.T) {
	a := NewAnalyzer()

	steps, err := a.ExtractDependencies(&Plan{
		Intent:   IntentDocument,
		Document: &DocumentSpec{Query: "runbook"},
		Graph:    &GraphSpec{View: "SUMMARY"},
	})
	require.NoError(t, err)
	assert.Contains(t, stepIDs(steps), StepPrimary,
		"document intent with a graph spec still needs an anchor lookup")
}

func TestEnrichmentStepsAreSoftFailing(t *testing.T) {
	a := NewAnalyzer()

	steps, err := a.ExtractDependencies(&Plan{
		Intent:  IntentLookup,
		Primary: &PrimarySpec{Keywords: []string{"srv-01"}},
		Metric: &MetricSpec{
			Metrics: []string{"cpu_usage"},
			Range:   &TimeRange{Start: time.Now().Add(-time.Hour), End: time.Now()},
		},
		History:  &HistorySpec{Limit: 10},
		Document: &DocumentSpec{Query: "incident notes"},
	})
	require.NoError(t, err)

	policies := make(map[string]FailurePolicy, len(steps))
	for _, s := range steps {
		policies[s.ID] = s.Policy
	}
	assert.Equal(t, FailFast, policies[StepPrimary])
	assert.Equal(t, Skip, policies[StepMetric])
	assert.Equal(t, Skip, policies[StepHistory])
	assert.Equal(t, Fallback, policies[StepDocument])
}

func TestPrecedenceOrdering(t *testing.T) {
	a := NewAnalyzer()

	steps, err := a.ExtractDependencies(&Plan{
		Intent:    IntentMixed,
		Primary:   &PrimarySpec{Keywords: []string{"db"}},
		Secondary: &SecondarySpec{Keywords: []string{"replica"}},
		Aggregate: &AggregateSpec{GroupBy: []string{"env"}},
		Metric:    &MetricSpec{Metrics: []string{"qps"}},
		History:   &HistorySpec{Limit: 5},
		Graph:     &GraphSpec{View: "DEPENDENCY"},
		Document:  &DocumentSpec{Query: "db runbook"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{StepPrimary, StepSecondary, StepAggregate, StepMetric, StepHistory, StepGraph, StepDocument},
		stepIDs(steps))
}

func TestDependentStepsFollowTheirDependency(t *testing.T) {
	a := NewAnalyzer()

	steps, err := a.ExtractDependencies(&Plan{
		Intent: IntentGraph,
		Graph:  &GraphSpec{View: "IMPACT", Depth: 2},
	})
	require.NoError(t, err)

	ids := stepIDs(steps)
	require.Contains(t, ids, StepPrimary, "graph traversal needs a synthesized anchor lookup")
	primaryIdx, graphIdx := -1, -1
	for i, id := range ids {
		switch id {
		case StepPrimary:
			primaryIdx = i
		case StepGraph:
			graphIdx = i
		}
	}
	assert.Less(t, primaryIdx, graphIdx)

	for _, s := range steps {
		if s.ID == StepGraph {
			assert.Equal(t, StepPrimary, s.DependsOn)
			assert.Equal(t, FailFast, s.Policy, "graph step is the sole answer source for GRAPH intent")
		}
	}
}

func TestNilPlanFails(t *testing.T) {
	a := NewAnalyzer()

	_, err := a.ExtractDependencies(nil)
	var resErr *DependencyResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestEmptyPlanFails(t *testing.T) {
	a := NewAnalyzer()

	_, err := a.ExtractDependencies(&Plan{Intent: IntentLookup})
	var resErr *DependencyResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestIntentSpecConflictFails(t *testing.T) {
	a := NewAnalyzer()

	// METRIC intent without a metric spec is a conflict even though another
	// spec is populated.
	_, err := a.ExtractDependencies(&Plan{
		Intent:  IntentMetric,
		Primary: &PrimarySpec{Keywords: []string{"srv-01"}},
	})
	var resErr *DependencyResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestUnknownIntentFails(t *testing.T) {
	a := NewAnalyzer()

	_, err := a.ExtractDependencies(&Plan{
		Intent:  Intent("Gg"),
		Primary: &PrimarySpec{Keywords: []string{"x"}},
	})
	var resErr *DependencyResolutionError
	require.ErrorAs(t, err, &resErr)
}
