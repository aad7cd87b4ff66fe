// Package policy resolves per-view graph traversal policy: how deep a
// traversal may go and which relation types it may follow. Policies load
// lazily from the external configuration store with a built-in fallback set.
package policy

import "fmt"

// Direction is the default traversal direction of a view.
type Direction string

const (
	DirectionOut  Direction = "OUT"
	DirectionIn   Direction = "IN"
	DirectionBoth Direction = "BOTH"
)

// Canonical view names.
const (
	ViewSummary     = "SUMMARY"
	ViewComposition = "COMPOSITION"
	ViewDependency  = "DEPENDENCY"
	ViewImpact      = "IMPACT"
	ViewPath        = "PATH"
	ViewNeighbors   = "NEIGHBORS"
)

// ViewPolicy is the immutable traversal policy of one view.
type ViewPolicy struct {
	Name             string
	DefaultDepth     int
	MaxDepth         int
	Direction        Direction
	OutputCategories []string
	// MaxHops caps path-style traversals; 0 means no ceiling.
	MaxHops int
}

// Valid reports whether the policy satisfies its structural invariants.
func (p ViewPolicy) Valid() bool {
	return p.Name != "" && p.DefaultDepth >= 1 && p.DefaultDepth <= p.MaxDepth
}

// ViewNotFoundError indicates a view name unknown to both the external store
// and the built-in fallback set.
type ViewNotFoundError struct {
	View string
}

func (e *ViewNotFoundError) Error() string {
	return fmt.Sprintf("view policy not found: %s", e.View)
}

// defaultViews is the built-in fallback policy set used when the external
// store has no usable policy asset. Not every canonical view needs a default.
func defaultViews() map[string]ViewPolicy {
	views := []ViewPolicy{
		{Name: ViewSummary, DefaultDepth: 1, MaxDepth: 2, Direction: DirectionBoth, OutputCategories: []string{"ci", "relation"}, MaxHops: 4},
		{Name: ViewComposition, DefaultDepth: 2, MaxDepth: 5, Direction: DirectionOut, OutputCategories: []string{"ci"}},
		{Name: ViewDependency, DefaultDepth: 2, MaxDepth: 4, Direction: DirectionOut, OutputCategories: []string{"ci", "relation"}},
		{Name: ViewImpact, DefaultDepth: 2, MaxDepth: 6, Direction: DirectionIn, OutputCategories: []string{"ci", "relation"}},
		{Name: ViewPath, DefaultDepth: 3, MaxDepth: 8, Direction: DirectionBoth, OutputCategories: []string{"path"}, MaxHops: 8},
		{Name: ViewNeighbors, DefaultDepth: 1, MaxDepth: 1, Direction: DirectionBoth, OutputCategories: []string{"ci"}},
	}
	out := make(map[string]ViewPolicy, len(views))
	for _, v := range views {
		out[v.Name] = v
	}
	return out
}

// defaultExclusions lists relation types filtered out of discovered sets for
// views without a statically mapped relation list. These are bookkeeping
// relations that never matter for traversal answers.
func defaultExclusions() []string {
	return []string{"created_by", "updated_by", "tagged_with", "documented_in"}
}

// defaultMappedRelations lists the views whose relation-type set is fixed by
// policy regardless of what relation types were discovered on the graph.
func defaultMappedRelations() map[string][]string {
	return map[string][]string{
		ViewComposition: {"contains", "part_of"},
		ViewDependency:  {"depends_on", "runs_on", "hosted_on"},
	}
}

// broadViewAllowlist restricts the two broad views to a curated relation set
// unless the restriction would empty the result.
func broadViewAllowlist() []string {
	return []string{"depends_on", "runs_on", "hosted_on", "contains", "connects_to"}
}

// broadViews are the views subject to the curated allowlist.
var broadViews = map[string]bool{
	ViewSummary:   true,
	ViewNeighbors: true,
}
