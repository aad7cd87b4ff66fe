// Package plan defines the typed execution plan consumed by the orchestrator
// and the dependency analyzer that turns a plan into an ordered step list.
// Plans are produced by an external natural-language classifier; this package
// never parses text.
package plan

import (
	"context"
	"time"

	"opspilot/internal/toolreg"
)

// Intent is the classified purpose of a question. It governs which capability
// specs are mandatory; specs outside the intent may still be populated for
// enrichment.
type Intent string

const (
	IntentLookup    Intent = "LOOKUP"
	IntentAggregate Intent = "AGGREGATE"
	IntentMetric    Intent = "METRIC"
	IntentHistory   Intent = "HISTORY"
	IntentGraph     Intent = "GRAPH"
	IntentDocument  Intent = "DOCUMENT"
	IntentMixed     Intent = "MIXED"
)

// TimeRange bounds a metric or history query.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PrimarySpec describes the main configuration-item lookup.
type PrimarySpec struct {
	Keywords []string         `json:"keywords,omitempty"`
	Filters  map[string]any   `json:"filters,omitempty"`
	ToolType toolreg.ToolType `json:"tool_type,omitempty"`
}

// SecondarySpec describes a supporting lookup feeding enrichment.
type SecondarySpec struct {
	Keywords []string         `json:"keywords,omitempty"`
	ToolType toolreg.ToolType `json:"tool_type,omitempty"`
}

// AggregateSpec describes a group-by/count style query.
type AggregateSpec struct {
	GroupBy  []string         `json:"group_by,omitempty"`
	Measures []string         `json:"measures,omitempty"`
	ToolType toolreg.ToolType `json:"tool_type,omitempty"`
}

// MetricSpec describes a time-series metric query.
type MetricSpec struct {
	Metrics  []string         `json:"metrics,omitempty"`
	Range    *TimeRange       `json:"range,omitempty"`
	ToolType toolreg.ToolType `json:"tool_type,omitempty"`
}

// HistorySpec describes a change/audit history query.
type HistorySpec struct {
	Range    *TimeRange       `json:"range,omitempty"`
	Limit    int              `json:"limit,omitempty"`
	ToolType toolreg.ToolType `json:"tool_type,omitempty"`
}

// GraphSpec describes a relation traversal.
type GraphSpec struct {
	View  string `json:"view,omitempty"`
	Depth int    `json:"depth,omitempty"`
	// RelationTypes restricts which relation types the traversal may follow.
	// Populated by policy validation; empty means unconstrained.
	RelationTypes []string         `json:"relation_types,omitempty"`
	ToolType      toolreg.ToolType `json:"tool_type,omitempty"`
}

// DocumentSpec describes a document retrieval query.
type DocumentSpec struct {
	Query    string           `json:"query,omitempty"`
	TopK     int              `json:"top_k,omitempty"`
	ToolType toolreg.ToolType `json:"tool_type,omitempty"`
}

// Plan is the immutable input to the orchestrator.
type Plan struct {
	Intent    Intent         `json:"intent"`
	Primary   *PrimarySpec   `json:"primary,omitempty"`
	Secondary *SecondarySpec `json:"secondary,omitempty"`
	Aggregate *AggregateSpec `json:"aggregate,omitempty"`
	Metric    *MetricSpec    `json:"metric,omitempty"`
	History   *HistorySpec   `json:"history,omitempty"`
	Graph     *GraphSpec     `json:"graph,omitempty"`
	Document  *DocumentSpec  `json:"document,omitempty"`
}

func (s *PrimarySpec) Populated() bool {
	return s != nil && (len(s.Keywords) > 0 || len(s.Filters) > 0)
}

func (s *SecondarySpec) Populated() bool {
	return s != nil && len(s.Keywords) > 0
}

func (s *AggregateSpec) Populated() bool {
	return s != nil && (len(s.GroupBy) > 0 || len(s.Measures) > 0)
}

func (s *MetricSpec) Populated() bool {
	return s != nil && len(s.Metrics) > 0
}

func (s *HistorySpec) Populated() bool {
	return s != nil && (s.Range != nil || s.Limit > 0)
}

func (s *GraphSpec) Populated() bool {
	return s != nil && s.View != ""
}

func (s *DocumentSpec) Populated() bool {
	return s != nil && s.Query != ""
}

// OutputKind discriminates classifier results.
type OutputKind string

const (
	KindDirect OutputKind = "DIRECT"
	KindPlan   OutputKind = "PLAN"
)

// ClassifierOutput is what the external classifier returns for a question.
// DIRECT answers short-circuit tool execution entirely.
type ClassifierOutput struct {
	Kind         OutputKind `json:"kind"`
	Plan         *Plan      `json:"plan,omitempty"`
	DirectAnswer string     `json:"direct_answer,omitempty"`
	Confidence   float64    `json:"confidence"`
	Reasoning    string     `json:"reasoning,omitempty"`
}

// Classifier turns a natural-language question into a typed plan. It lives
// behind the orchestrator boundary; only its output shape matters here.
type Classifier interface {
	CreatePlan(ctx context.Context, question string, context map[string]any) (ClassifierOutput, error)
}
