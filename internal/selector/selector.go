// Package selector ranks candidate tool implementations for a requested
// capability using static profiles plus live per-request signals.
package selector

import (
	"sort"
	"time"

	"opspilot/internal/observability"
	"opspilot/internal/plan"
	"opspilot/internal/toolreg"
)

// Strategy is the caller's preference for how candidates are favored.
type Strategy string

const (
	StrategyFastest      Strategy = "FASTEST"
	StrategyMostAccurate Strategy = "MOST_ACCURATE"
	StrategyMostComplete Strategy = "MOST_COMPLETE"
	StrategyLeastLoad    Strategy = "LEAST_LOAD"
)

// Context carries the per-request signals feeding the score. It is built
// fresh for every orchestration request and never shared.
type Context struct {
	Intent   plan.Intent
	Strategy Strategy
	// Load is the current load per tool in [0, 1].
	Load map[string]float64
	// CacheHit marks tools whose next call would be served from cache.
	CacheHit map[string]bool
	// EstimatedLatency overrides the profile base latency where a live
	// estimate exists.
	EstimatedLatency map[string]time.Duration
}

// Candidate is one ranked tool.
type Candidate struct {
	Name  string
	Score float64
}

// Scoring weights. The weighted sum is clamped to 1.0.
const (
	weightAccuracy    = 0.30
	weightPerformance = 0.25
	weightCache       = 0.15
	weightLoad        = 0.20
	cacheHitBonus     = 0.5
)

// intentCandidates maps an intent to its candidate tool names in priority
// registration order. Ties in score resolve to the earlier entry.
var intentCandidates = map[plan.Intent][]string{
	plan.IntentLookup:    {"cmdb_lookup", "cmdb_search", "fulltext_lookup"},
	plan.IntentAggregate: {"cmdb_aggregate", "cmdb_search"},
	plan.IntentMetric:    {"metric_store"},
	plan.IntentHistory:   {"change_history"},
	plan.IntentGraph:     {"graph_walker"},
	plan.IntentDocument:  {"doc_retriever", "fulltext_lookup"},
	plan.IntentMixed:     {"cmdb_lookup", "cmdb_search", "graph_walker", "doc_retriever", "fulltext_lookup"},
}

// intentAffinity is a pre-weighted bonus (0-0.2) for tools particularly
// suited to an intent.
var intentAffinity = map[plan.Intent]map[string]float64{
	plan.IntentLookup:    {"cmdb_lookup": 0.20, "cmdb_search": 0.10, "fulltext_lookup": 0.05},
	plan.IntentAggregate: {"cmdb_aggregate": 0.20, "cmdb_search": 0.05},
	plan.IntentMetric:    {"metric_store": 0.20},
	plan.IntentHistory:   {"change_history": 0.20},
	plan.IntentGraph:     {"graph_walker": 0.20},
	plan.IntentDocument:  {"doc_retriever": 0.20, "fulltext_lookup": 0.10},
	plan.IntentMixed:     {"cmdb_lookup": 0.15, "graph_walker": 0.10, "doc_retriever": 0.10},
}

// Selector scores and ranks tools. Profiles are loaded once at startup.
type Selector struct {
	profiles map[string]toolreg.Profile
	registry *toolreg.Registry
	logger   *observability.Logger
}

func New(profiles map[string]toolreg.Profile, registry *toolreg.Registry, logger *observability.Logger) *Selector {
	if profiles == nil {
		profiles = toolreg.DefaultProfiles()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Selector{profiles: profiles, registry: registry, logger: logger}
}

// SelectTools returns the candidates for ctx.Intent ranked by descending
// score. Candidates absent from the registry are dropped; the tie-break is
// the stable candidate-table order.
func (s *Selector) SelectTools(ctx Context) []Candidate {
	names := intentCandidates[ctx.Intent]
	candidates := make([]Candidate, 0, len(names))
	for _, name := range names {
		if s.registry != nil {
			if _, err := s.registry.Get(name); err != nil {
				continue
			}
		}
		candidates = append(candidates, Candidate{Name: name, Score: s.score(ctx, name)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

func (s *Selector) score(ctx Context, name string) float64 {
	profile := toolreg.ProfileOf(s.profiles, name)

	latency := profile.BaseLatency
	if est, ok := ctx.EstimatedLatency[name]; ok {
		latency = est
	}
	performance := 1.0 / (1.0 + float64(latency.Milliseconds())/1000.0)

	cacheBonus := 0.0
	if ctx.CacheHit[name] {
		cacheBonus = cacheHitBonus
	}

	loadBonus := 1.0 - ctx.Load[name]

	score := profile.Accuracy*weightAccuracy +
		performance*weightPerformance +
		cacheBonus*weightCache +
		loadBonus*weightLoad +
		intentAffinity[ctx.Intent][name] +
		s.strategyBonus(ctx.Strategy, name, profile, latency)

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

// strategyBonus adds a small fixed bonus for tools favored by the requested
// strategy. LEAST_LOAD adds nothing: load already carries its own weight.
func (s *Selector) strategyBonus(strategy Strategy, name string, profile toolreg.Profile, latency time.Duration) float64 {
	switch strategy {
	case StrategyFastest:
		if latency <= 300*time.Millisecond {
			return 0.05
		}
	case StrategyMostAccurate:
		if profile.Accuracy >= 0.90 {
			return 0.05
		}
	case StrategyMostComplete:
		switch name {
		case "graph_walker", "doc_retriever", "cmdb_search":
			return 0.03
		}
	case StrategyLeastLoad:
	}
	return 0
}
