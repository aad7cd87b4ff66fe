package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opspilot/internal/plan"
	"opspilot/internal/toolreg"
)

func newSelector(t *testing.T) *Selector {
	t.Helper()
	return New(toolreg.DefaultProfiles(), nil, nil)
}

func TestScoresAlwaysWithinUnitInterval(t *testing.T) {
	sel := newSelector(t)

	contexts := []Context{
		{Intent: plan.IntentLookup, Strategy: StrategyFastest},
		{Intent: plan.IntentLookup, Strategy: StrategyMostAccurate,
			CacheHit: map[string]bool{"cmdb_lookup": true, "cmdb_search": true, "fulltext_lookup": true}},
		{Intent: plan.IntentMixed, Strategy: StrategyMostComplete,
			Load: map[string]float64{"cmdb_lookup": 1.0}},
		{Intent: plan.IntentDocument, Strategy: StrategyLeastLoad,
			EstimatedLatency: map[string]time.Duration{"doc_retriever": 5 * time.Second}},
	}
	for _, ctx := range contexts {
		for _, c := range sel.SelectTools(ctx) {
			assert.GreaterOrEqual(t, c.Score, 0.0, "tool %s", c.Name)
			assert.LessOrEqual(t, c.Score, 1.0, "tool %s", c.Name)
		}
	}
}

func TestCandidatesSortedNonIncreasing(t *testing.T) {
	sel := newSelector(t)

	ranked := sel.SelectTools(Context{Intent: plan.IntentMixed, Strategy: StrategyMostAccurate})
	require.NotEmpty(t, ranked)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
}

func TestCandidateSetDeterminedByIntent(t *testing.T) {
	sel := newSelector(t)

	ranked := sel.SelectTools(Context{Intent: plan.IntentMetric})
	require.Len(t, ranked, 1)
	assert.Equal(t, "metric_store", ranked[0].Name)
}

func TestCacheHitRaisesScore(t *testing.T) {
	sel := newSelector(t)

	cold := sel.SelectTools(Context{Intent: plan.IntentLookup})
	warm := sel.SelectTools(Context{Intent: plan.IntentLookup,
		CacheHit: map[string]bool{"cmdb_search": true}})

	coldScore := scoreOf(t, cold, "cmdb_search")
	warmScore := scoreOf(t, warm, "cmdb_search")
	assert.Greater(t, warmScore, coldScore)
}

func TestLoadLowersScore(t *testing.T) {
	sel := newSelector(t)

	idle := sel.SelectTools(Context{Intent: plan.IntentLookup})
	busy := sel.SelectTools(Context{Intent: plan.IntentLookup,
		Load: map[string]float64{"cmdb_lookup": 0.9}})

	assert.Greater(t, scoreOf(t, idle, "cmdb_lookup"), scoreOf(t, busy, "cmdb_lookup"))
}

func TestStrategyBonusFavorsAccurateTools(t *testing.T) {
	sel := newSelector(t)

	neutral := sel.SelectTools(Context{Intent: plan.IntentLookup, Strategy: StrategyLeastLoad})
	accurate := sel.SelectTools(Context{Intent: plan.IntentLookup, Strategy: StrategyMostAccurate})

	// cmdb_lookup (accuracy 0.95) gets the bonus; fulltext_lookup (0.75)
	// does not.
	assert.InDelta(t, scoreOf(t, neutral, "cmdb_lookup")+0.05, scoreOf(t, accurate, "cmdb_lookup"), 1e-9)
	assert.InDelta(t, scoreOf(t, neutral, "fulltext_lookup"), scoreOf(t, accurate, "fulltext_lookup"), 1e-9)
}

func TestRegistryFiltersCandidates(t *testing.T) {
	registry := toolreg.NewRegistry()
	// Only cmdb_search is actually registered.
	stub := toolreg.NewTransportTool("cmdb_search", toolreg.TypeCILookup, nil)
	require.NoError(t, registry.Register(stub))

	sel := New(toolreg.DefaultProfiles(), registry, nil)
	ranked := sel.SelectTools(Context{Intent: plan.IntentLookup})
	require.Len(t, ranked, 1)
	assert.Equal(t, "cmdb_search", ranked[0].Name)
}

func TestDeterministicForFixedContext(t *testing.T) {
	sel := newSelector(t)
	ctx := Context{
		Intent:   plan.IntentMixed,
		Strategy: StrategyMostComplete,
		Load:     map[string]float64{"cmdb_lookup": 0.4, "graph_walker": 0.1},
		CacheHit: map[string]bool{"doc_retriever": true},
	}

	first := sel.SelectTools(ctx)
	second := sel.SelectTools(ctx)
	assert.Equal(t, first, second)
}

func scoreOf(t *testing.T, ranked []Candidate, name string) float64 {
	t.Helper()
	for _, c := range ranked {
		if c.Name == name {
			return c.Score
		}
	}
	t.Fatalf("tool %s not in ranking %v", name, ranked)
	return 0
}
