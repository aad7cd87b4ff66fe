package transport

import (
	"context"
	"fmt"
	"sync"
)

// StubTransport is a scripted in-memory transport used by tests and the local
// development CLI. Responses are keyed by "toolType/operation"; unmatched
// calls return a failed Result rather than an error so failure-policy paths
// stay exercisable.
type StubTransport struct {
	mu        sync.Mutex
	responses map[string]Result
	failures  map[string]error
	calls     []StubCall
}

// StubCall records one invocation for later assertions.
type StubCall struct {
	ToolType  string
	Operation string
	Params    map[string]any
}

func NewStubTransport() *StubTransport {
	return &StubTransport{
		responses: make(map[string]Result),
		failures:  make(map[string]error),
	}
}

func stubKey(toolType, operation string) string {
	return toolType + "/" + operation
}

// Respond registers a successful payload for toolType/operation.
func (s *StubTransport) Respond(toolType, operation string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[stubKey(toolType, operation)] = Result{Success: true, Data: data}
}

// RespondResult registers a verbatim Result, success or not.
func (s *StubTransport) RespondResult(toolType, operation string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[stubKey(toolType, operation)] = res
}

// Fail makes toolType/operation return a transport-level error.
func (s *StubTransport) Fail(toolType, operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[stubKey(toolType, operation)] = err
}

func (s *StubTransport) Execute(ctx context.Context, toolType, operation string, params map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, StubCall{ToolType: toolType, Operation: operation, Params: cloneParams(params)})

	key := stubKey(toolType, operation)
	if err, ok := s.failures[key]; ok {
		return Result{}, err
	}
	if res, ok := s.responses[key]; ok {
		return res, nil
	}
	return Result{
		Success: false,
		Error:   fmt.Sprintf("no stub response for %s", key),
		ErrorDetails: map[string]any{
			"exception_type": "StubMiss",
		},
	}, nil
}

// Calls returns a copy of the recorded invocations in order.
func (s *StubTransport) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func cloneParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

var _ Transport = (*StubTransport)(nil)
