// Package toolreg holds the tool capability registry: the catalog mapping
// logical tool names to concrete implementations, grouped by capability tag.
package toolreg

import (
	"context"
	"fmt"
	"sync"

	"opspilot/internal/transport"
)

// ToolType is the closed set of capability tags a tool can implement.
type ToolType string

const (
	TypeCILookup       ToolType = "ci_lookup"
	TypeCIAggregate    ToolType = "ci_aggregate"
	TypeMetricQuery    ToolType = "metric_query"
	TypeHistoryQuery   ToolType = "history_query"
	TypeGraphTraversal ToolType = "graph_traversal"
	TypeDocumentSearch ToolType = "document_search"
	TypeFulltextSearch ToolType = "fulltext_search"
)

// Tool is one registered implementation of a capability.
type Tool interface {
	Name() string
	Type() ToolType
	Execute(ctx context.Context, operation string, params map[string]any) (transport.Result, error)
}

// NotFoundError indicates a tool name absent from the registry.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// Registry maps tool names to implementations. The write path (Register) runs
// at process startup; after that the registry is read-only under concurrent
// traffic.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	byType map[ToolType][]string
}

func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		byType: make(map[ToolType][]string),
	}
}

func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.tools[name] = tool
	r.byType[tool.Type()] = append(r.byType[tool.Type()], name)
	return nil
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return tool, nil
}

// List returns a snapshot of every registered tool keyed by name.
func (r *Registry) List() map[string]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Tool, len(r.tools))
	for name, tool := range r.tools {
		out[name] = tool
	}
	return out
}

// ByType returns the names implementing toolType in registration order.
func (r *Registry) ByType(toolType ToolType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byType[toolType]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// transportTool binds a name/type pair to a transport backend.
type transportTool struct {
	name      string
	toolType  ToolType
	transport transport.Transport
}

// NewTransportTool wraps a transport as a registrable Tool.
func NewTransportTool(name string, toolType ToolType, t transport.Transport) Tool {
	return &transportTool{name: name, toolType: toolType, transport: t}
}

func (t *transportTool) Name() string   { return t.name }
func (t *transportTool) Type() ToolType { return t.toolType }

func (t *transportTool) Execute(ctx context.Context, operation string, params map[string]any) (transport.Result, error) {
	return t.transport.Execute(ctx, string(t.toolType), operation, params)
}

var _ Tool = (*transportTool)(nil)
