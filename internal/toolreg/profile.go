package toolreg

import "time"

// Profile is the static performance profile of one tool. Profiles feed the
// selector's scoring and are never mutated at runtime.
type Profile struct {
	// Accuracy is the expected answer accuracy in [0, 1].
	Accuracy float64
	// BaseLatency is the expected latency of a typical call.
	BaseLatency time.Duration
}

// DefaultProfiles returns the shipped profile table, keyed by tool name.
// Numbers come from offline benchmarking of the reference tool fleet; a tool
// without an entry scores with zeroProfile.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"cmdb_lookup":     {Accuracy: 0.95, BaseLatency: 120 * time.Millisecond},
		"cmdb_search":     {Accuracy: 0.85, BaseLatency: 250 * time.Millisecond},
		"cmdb_aggregate":  {Accuracy: 0.92, BaseLatency: 300 * time.Millisecond},
		"metric_store":    {Accuracy: 0.90, BaseLatency: 400 * time.Millisecond},
		"change_history":  {Accuracy: 0.88, BaseLatency: 350 * time.Millisecond},
		"graph_walker":    {Accuracy: 0.93, BaseLatency: 500 * time.Millisecond},
		"doc_retriever":   {Accuracy: 0.80, BaseLatency: 600 * time.Millisecond},
		"fulltext_lookup": {Accuracy: 0.75, BaseLatency: 200 * time.Millisecond},
	}
}

var zeroProfile = Profile{Accuracy: 0.5, BaseLatency: time.Second}

// ProfileOf resolves a profile by tool name, falling back to a conservative
// default for unknown tools.
func ProfileOf(profiles map[string]Profile, name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return zeroProfile
}
