package transport

import "context"

// Result is the uniform envelope every tool backend returns. The orchestrator
// does not know whether a call was served by a database query, an HTTP call,
// or a graph traversal -- it only consumes this contract.
type Result struct {
	Success      bool           `json:"success"`
	Data         map[string]any `json:"data,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}

// Transport executes one tool operation against whatever backend implements
// the capability. Implementations own their timeout and retry behaviour; the
// orchestrator handles failures purely through per-step failure policy.
type Transport interface {
	Execute(ctx context.Context, toolType, operation string, params map[string]any) (Result, error)
}

// Func adapts a plain function to the Transport interface.
type Func func(ctx context.Context, toolType, operation string, params map[string]any) (Result, error)

func (f Func) Execute(ctx context.Context, toolType, operation string, params map[string]any) (Result, error) {
	return f(ctx, toolType, operation, params)
}
