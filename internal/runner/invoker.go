package runner

import (
	"context"
	"errors"
	"time"

	"opspilot/internal/observability"
	"opspilot/internal/pipeline"
	"opspilot/internal/selector"
	"opspilot/internal/toolcache"
	"opspilot/internal/toolreg"
)

// toolInvoker is the executor handed to the composition pipeline. It routes
// every step through the result cache and the best ranked implementation of
// the step's capability.
type toolInvoker struct {
	registry *toolreg.Registry
	cache    *toolcache.Cache
	ranked   []selector.Candidate
	metrics  *observability.MetricsCollector
	logger   *observability.Logger

	// parentSpanID nests tool spans under the execute stage span.
	parentSpanID string
	spans        *SpanTracker
}

func (i *toolInvoker) Execute(ctx context.Context, toolType, operation string, params map[string]any) (map[string]any, error) {
	key := toolcache.Key(toolType, operation, params)
	if value, ok := i.cache.Get(key); ok {
		if i.metrics != nil {
			i.metrics.RecordCacheHit(ctx, toolType)
		}
		i.logger.DebugContext(ctx, "tool result served from cache",
			"tool_type", toolType, "operation", operation)
		return value, nil
	}
	if i.metrics != nil {
		i.metrics.RecordCacheMiss(ctx, toolType)
	}

	tool, err := i.pick(toolreg.ToolType(toolType))
	if err != nil {
		return nil, err
	}

	spanID := i.spans.StartSpan("tool:"+tool.Name(), SpanKindTool, i.parentSpanID)

	start := time.Now()
	res, err := tool.Execute(ctx, operation, params)
	elapsed := time.Since(start)
	if i.metrics != nil {
		i.metrics.RecordToolInvocation(ctx, toolType, operation, elapsed, err == nil && res.Success)
	}

	if err != nil {
		i.spans.EndSpan(spanID, SpanError, map[string]any{"error": err.Error()}, nil)
		return nil, &pipeline.ToolExecutionError{
			ToolType:      toolType,
			Operation:     operation,
			Message:       err.Error(),
			ExceptionType: "TransportError",
			Err:           err,
		}
	}
	if !res.Success {
		i.spans.EndSpan(spanID, SpanError, map[string]any{"error": res.Error}, nil)
		exceptionType := ""
		if v, ok := res.ErrorDetails["exception_type"].(string); ok {
			exceptionType = v
		}
		return nil, &pipeline.ToolExecutionError{
			ToolType:      toolType,
			Operation:     operation,
			Message:       res.Error,
			ExceptionType: exceptionType,
		}
	}

	i.spans.EndSpan(spanID, SpanOK,
		map[string]any{"duration_ms": elapsed.Milliseconds()},
		map[string]any{"tool": tool.Name(), "operation": operation})

	i.cache.Set(key, res.Data, toolcache.SetOptions{ToolType: toolType, Operation: operation})
	return res.Data, nil
}

// pick resolves the best registered implementation of toolType: the highest
// ranked candidate of that type, else the first registered tool of that type.
func (i *toolInvoker) pick(toolType toolreg.ToolType) (toolreg.Tool, error) {
	for _, candidate := range i.ranked {
		tool, err := i.registry.Get(candidate.Name)
		if err != nil {
			var notFound *toolreg.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		if tool.Type() == toolType {
			return tool, nil
		}
	}
	for _, name := range i.registry.ByType(toolType) {
		if tool, err := i.registry.Get(name); err == nil {
			return tool, nil
		}
	}
	return nil, &toolreg.NotFoundError{Name: string(toolType)}
}

var _ pipeline.Executor = (*toolInvoker)(nil)
