package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"opspilot/internal/configstore"
	"opspilot/internal/observability"
)

// PolicyAssetName is the configuration store key holding the view policy set.
const PolicyAssetName = "view_policies"

// Store caches the active view policy set. Loading is lazy: the first call
// that needs policies fetches the asset once (concurrent first calls are
// deduplicated) and the result is reused until Refresh.
type Store struct {
	loader configstore.Loader
	logger *observability.Logger

	mu              sync.RWMutex
	loaded          bool
	views           map[string]ViewPolicy
	exclusions      map[string]bool
	mappedRelations map[string][]string

	group singleflight.Group
}

func NewStore(loader configstore.Loader, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{
		loader: loader,
		logger: logger,
	}
}

// policyDoc is the wire shape of the view_policies asset content.
type policyDoc struct {
	Views []struct {
		Name             string   `yaml:"name"`
		DefaultDepth     int      `yaml:"default_depth"`
		MaxDepth         int      `yaml:"max_depth"`
		Direction        string   `yaml:"direction"`
		OutputCategories []string `yaml:"output_categories"`
		MaxHops          int      `yaml:"max_hops"`
	} `yaml:"views"`
	RelationExclusions []string            `yaml:"relation_exclusions"`
	ViewRelationTypes  map[string][]string `yaml:"view_relation_types"`
}

// GetViewPolicy returns the policy for view name, or false when the view has
// no policy in the active set. Absence is not an error: not every view need
// have a default.
func (s *Store) GetViewPolicy(ctx context.Context, name string) (ViewPolicy, bool) {
	s.ensureLoaded(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.views[name]
	return p, ok
}

// ClampDepth resolves the effective traversal depth for a view. A requested
// depth of 0 means "not requested" and yields the view default; anything else
// is clamped into [1, MaxDepth]. Unknown views are an error, unlike the soft
// absence of GetViewPolicy.
func (s *Store) ClampDepth(ctx context.Context, name string, requested int) (int, error) {
	s.ensureLoaded(ctx)
	s.mu.RLock()
	p, ok := s.views[name]
	s.mu.RUnlock()
	if !ok {
		return 0, &ViewNotFoundError{View: name}
	}
	if requested == 0 {
		return p.DefaultDepth, nil
	}
	if requested < 1 {
		return 1, nil
	}
	if requested > p.MaxDepth {
		return p.MaxDepth, nil
	}
	return requested, nil
}

// AllowedRelationTypes resolves which relation types a traversal of view name
// may follow, given the relation types discovered on the graph.
//
// Views with a statically mapped list get exactly that list. Other views get
// the discovered set minus exclusions; the broad views (SUMMARY, NEIGHBORS)
// are further cut down to a curated allowlist unless that would leave nothing,
// in which case the unrestricted filtered set is returned.
func (s *Store) AllowedRelationTypes(ctx context.Context, name string, discovered []string) []string {
	s.ensureLoaded(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if mapped, ok := s.mappedRelations[name]; ok {
		return dedupe(mapped)
	}

	filtered := make([]string, 0, len(discovered))
	seen := make(map[string]bool, len(discovered))
	for _, rel := range discovered {
		if rel == "" || seen[rel] || s.exclusions[rel] {
			continue
		}
		seen[rel] = true
		filtered = append(filtered, rel)
	}

	if !broadViews[name] {
		return filtered
	}

	allow := make(map[string]bool)
	for _, rel := range broadViewAllowlist() {
		allow[rel] = true
	}
	restricted := make([]string, 0, len(filtered))
	for _, rel := range filtered {
		if allow[rel] {
			restricted = append(restricted, rel)
		}
	}
	if len(restricted) == 0 {
		// Empty intersection falls back to the unrestricted filtered set.
		// Flagged for product review: this can mask a misconfigured allowlist.
		return filtered
	}
	return restricted
}

// RelationTypesForView resolves the static relation-type constraint for view
// name: the mapped list where one exists, the curated allowlist for the broad
// views. Views without a static constraint return ok=false; those are only
// filtered against the discovered set at traversal time.
func (s *Store) RelationTypesForView(ctx context.Context, name string) ([]string, bool) {
	s.ensureLoaded(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if mapped, ok := s.mappedRelations[name]; ok {
		return dedupe(mapped), true
	}
	if broadViews[name] {
		return broadViewAllowlist(), true
	}
	return nil, false
}

// Refresh re-reads the policy asset, replacing the cached set. A non-nil
// error means the asset could not be used and the built-in defaults were
// installed instead; the store stays serviceable either way.
func (s *Store) Refresh(ctx context.Context) error {
	return s.load(ctx)
}

func (s *Store) ensureLoaded(ctx context.Context) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return
	}
	s.group.Do(PolicyAssetName, func() (any, error) {
		s.mu.RLock()
		loaded := s.loaded
		s.mu.RUnlock()
		if !loaded {
			// Lazy loads degrade to defaults silently; only an explicit
			// Refresh surfaces the load outcome.
			_ = s.load(ctx)
		}
		return nil, nil
	})
}

// load fetches and parses the policy asset, installing the built-in defaults
// when the store is unreachable, the asset is absent, or it is malformed. The
// returned error reports why the asset was not used; an absent asset is not
// an error.
func (s *Store) load(ctx context.Context) error {
	views := defaultViews()
	exclusions := defaultExclusions()
	mapped := defaultMappedRelations()

	var loadErr error
	if s.loader != nil {
		doc, found, err := s.fetch(ctx)
		switch {
		case err != nil:
			loadErr = err
		case found:
			if parsed := parseViews(doc, s.logger); len(parsed) > 0 {
				views = parsed
				if len(doc.RelationExclusions) > 0 {
					exclusions = doc.RelationExclusions
				}
				if len(doc.ViewRelationTypes) > 0 {
					mapped = doc.ViewRelationTypes
				}
			} else {
				s.logger.Warn("policy asset has no usable views, using built-in defaults")
				loadErr = errors.New("policy asset has no usable views")
			}
		}
	}

	exclSet := make(map[string]bool, len(exclusions))
	for _, rel := range exclusions {
		exclSet[rel] = true
	}

	s.mu.Lock()
	s.views = views
	s.exclusions = exclSet
	s.mappedRelations = mapped
	s.loaded = true
	s.mu.Unlock()
	return loadErr
}

func (s *Store) fetch(ctx context.Context) (policyDoc, bool, error) {
	asset, found, err := s.loader.LoadPolicyAsset(ctx, PolicyAssetName)
	if err != nil {
		s.logger.Warn("policy asset load failed, using built-in defaults", "error", err)
		return policyDoc{}, false, fmt.Errorf("load policy asset: %w", err)
	}
	if !found {
		s.logger.Info("no view policy asset published, using built-in defaults")
		return policyDoc{}, false, nil
	}

	// The store hands back generic content; round-trip through YAML to get
	// the typed document.
	raw, err := yaml.Marshal(asset.Content)
	if err != nil {
		s.logger.Warn("policy asset content not serializable, using built-in defaults", "error", err)
		return policyDoc{}, false, fmt.Errorf("serialize policy asset content: %w", err)
	}
	var doc policyDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("policy asset malformed, using built-in defaults", "error", err, "version", asset.Version)
		return policyDoc{}, false, fmt.Errorf("parse policy asset (version %d): %w", asset.Version, err)
	}
	return doc, true, nil
}

func parseViews(doc policyDoc, logger *observability.Logger) map[string]ViewPolicy {
	out := make(map[string]ViewPolicy, len(doc.Views))
	for _, v := range doc.Views {
		p := ViewPolicy{
			Name:             v.Name,
			DefaultDepth:     v.DefaultDepth,
			MaxDepth:         v.MaxDepth,
			Direction:        Direction(v.Direction),
			OutputCategories: v.OutputCategories,
			MaxHops:          v.MaxHops,
		}
		if p.Direction == "" {
			p.Direction = DirectionBoth
		}
		if !p.Valid() {
			logger.Warn("skipping invalid view policy", "view", v.Name,
				"default_depth", v.DefaultDepth, "max_depth", v.MaxDepth)
			continue
		}
		out[p.Name] = p
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
