package main

import (
	"opspilot/internal/transport"
)

// seedDemoData scripts a small fictitious estate on the stub transport so the
// CLI demonstrates the full pipeline without live backends.
func seedDemoData(stub *transport.StubTransport) {
	stub.Respond("ci_lookup", "lookup", map[string]any{
		"ci_code": "srv-web-01",
		"name":    "web frontend 01",
		"type":    "virtual_machine",
		"status":  "active",
		"env":     "production",
	})
	stub.Respond("fulltext_search", "search", map[string]any{
		"items": []any{
			map[string]any{"ci_code": "srv-web-01", "score": 0.94},
			map[string]any{"ci_code": "srv-web-02", "score": 0.91},
		},
	})
	stub.Respond("ci_aggregate", "aggregate", map[string]any{
		"groups": []any{
			map[string]any{"env": "production", "count": 42},
			map[string]any{"env": "staging", "count": 17},
		},
	})
	stub.Respond("metric_query", "query_range", map[string]any{
		"series": []any{
			map[string]any{"metric": "cpu_usage", "points": []any{0.42, 0.55, 0.48}},
		},
	})
	stub.Respond("history_query", "list_changes", map[string]any{
		"changes": []any{
			map[string]any{"id": "CHG-1042", "summary": "kernel upgrade", "at": "2026-08-20T03:12:00Z"},
		},
	})
	stub.Respond("graph_traversal", "traverse", map[string]any{
		"nodes": []any{
			map[string]any{"ci_code": "srv-web-01"},
			map[string]any{"ci_code": "lb-edge-01"},
		},
		"edges": []any{
			map[string]any{"from": "lb-edge-01", "to": "srv-web-01", "relation": "depends_on"},
		},
	})
	stub.Respond("document_search", "search", map[string]any{
		"documents": []any{
			map[string]any{"title": "web frontend runbook", "url": "kb://runbooks/web-frontend"},
		},
	})
}
