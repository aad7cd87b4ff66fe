package plan

// TransformSpec names the parameter transform applied between pipeline steps.
// Transforms are a closed, data-only set so that steps stay serializable and
// testable without closures.
type TransformSpec string

const (
	// TransformPassthrough merges the step's base params over the initial
	// params and ignores the previous step's output.
	TransformPassthrough TransformSpec = "passthrough"
	// TransformCarryCI copies ci_code / ci_codes from the previous result
	// into the step params, so downstream tools pivot on resolved items.
	TransformCarryCI TransformSpec = "carry_ci"
	// TransformCarryItems copies the previous result's items list.
	TransformCarryItems TransformSpec = "carry_items"
)

// ApplyTransform evaluates spec against the step's base params and the
// previous step's materialized output. The result is always a fresh map; base
// and prev are never mutated.
func ApplyTransform(spec TransformSpec, base, prev map[string]any) map[string]any {
	out := make(map[string]any, len(base)+2)
	for k, v := range base {
		out[k] = v
	}

	switch spec {
	case TransformCarryCI:
		if v, ok := prev["ci_code"]; ok {
			out["ci_code"] = v
		}
		if v, ok := prev["ci_codes"]; ok {
			out["ci_codes"] = v
		}
	case TransformCarryItems:
		if v, ok := prev["items"]; ok {
			out["items"] = v
		}
	case TransformPassthrough:
		// base params only
	}
	return out
}
