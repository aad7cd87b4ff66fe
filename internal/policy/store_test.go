package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opspilot/internal/configstore"
)

func newDefaultStore() *Store {
	// No loader: the built-in fallback set becomes the active policy set.
	return NewStore(nil, nil)
}

func TestClampDepthDefaultsWhenNotRequested(t *testing.T) {
	store := newDefaultStore()
	ctx := context.Background()

	for name, want := range defaultViews() {
		got, err := store.ClampDepth(ctx, name, 0)
		require.NoError(t, err, "view %s", name)
		assert.Equal(t, want.DefaultDepth, got, "view %s", name)
	}
}

func TestClampDepthBounds(t *testing.T) {
	store := newDefaultStore()
	ctx := context.Background()

	for name, p := range defaultViews() {
		for _, requested := range []int{-3, 1, 2, 7, 100} {
			got, err := store.ClampDepth(ctx, name, requested)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got, 1, "view %s requested %d", name, requested)
			assert.LessOrEqual(t, got, p.MaxDepth, "view %s requested %d", name, requested)
		}
	}
}

func TestClampDepthUnknownView(t *testing.T) {
	store := newDefaultStore()

	_, err := store.ClampDepth(context.Background(), "BLAST_RADIUS", 2)
	require.Error(t, err)
	var notFound *ViewNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "BLAST_RADIUS", notFound.View)
}

func TestGetViewPolicyAbsentIsNotAnError(t *testing.T) {
	store := newDefaultStore()

	_, ok := store.GetViewPolicy(context.Background(), "BLAST_RADIUS")
	assert.False(t, ok)
}

func TestAllowedRelationTypesMappedViewIgnoresDiscovery(t *testing.T) {
	store := newDefaultStore()

	got := store.AllowedRelationTypes(context.Background(), ViewComposition,
		[]string{"depends_on", "monitors", "contains"})
	assert.Equal(t, []string{"contains", "part_of"}, got)
}

func TestAllowedRelationTypesFiltersExclusions(t *testing.T) {
	store := newDefaultStore()

	got := store.AllowedRelationTypes(context.Background(), ViewImpact,
		[]string{"monitors", "created_by", "backed_by", "tagged_with", "monitors"})
	assert.Equal(t, []string{"monitors", "backed_by"}, got)
}

func TestAllowedRelationTypesBroadViewAllowlist(t *testing.T) {
	store := newDefaultStore()

	got := store.AllowedRelationTypes(context.Background(), ViewSummary,
		[]string{"monitors", "depends_on", "contains", "created_by"})
	assert.Equal(t, []string{"depends_on", "contains"}, got)
}

func TestAllowedRelationTypesBroadViewEmptyIntersectionFallsBack(t *testing.T) {
	store := newDefaultStore()

	// Nothing discovered is on the curated allowlist; the unrestricted
	// filtered set comes back instead of an empty one.
	got := store.AllowedRelationTypes(context.Background(), ViewNeighbors,
		[]string{"monitors", "backed_by"})
	assert.Equal(t, []string{"monitors", "backed_by"}, got)
}

func TestRelationTypesForViewStaticConstraints(t *testing.T) {
	store := newDefaultStore()
	ctx := context.Background()

	got, ok := store.RelationTypesForView(ctx, ViewDependency)
	require.True(t, ok)
	assert.Equal(t, []string{"depends_on", "runs_on", "hosted_on"}, got)

	got, ok = store.RelationTypesForView(ctx, ViewSummary)
	require.True(t, ok)
	assert.Equal(t, broadViewAllowlist(), got)

	// IMPACT has neither a mapped list nor an allowlist; its filtering only
	// applies against the discovered set.
	_, ok = store.RelationTypesForView(ctx, ViewImpact)
	assert.False(t, ok)
}

func TestAllowedRelationTypesIdempotent(t *testing.T) {
	store := newDefaultStore()
	discovered := []string{"depends_on", "monitors", "contains"}

	first := store.AllowedRelationTypes(context.Background(), ViewSummary, discovered)
	second := store.AllowedRelationTypes(context.Background(), ViewSummary, discovered)
	assert.Equal(t, first, second)
}

func TestLoadFromAsset(t *testing.T) {
	loader := &configstore.StaticLoader{
		Assets: map[string]configstore.Asset{
			PolicyAssetName: {
				Name:    PolicyAssetName,
				Version: 7,
				Content: map[string]any{
					"views": []any{
						map[string]any{
							"name":          "SUMMARY",
							"default_depth": 2,
							"max_depth":     3,
							"direction":     "OUT",
						},
					},
					"relation_exclusions": []any{"created_by"},
				},
			},
		},
	}
	store := NewStore(loader, nil)
	ctx := context.Background()

	p, ok := store.GetViewPolicy(ctx, ViewSummary)
	require.True(t, ok)
	assert.Equal(t, 2, p.DefaultDepth)
	assert.Equal(t, 3, p.MaxDepth)
	assert.Equal(t, DirectionOut, p.Direction)

	// Views absent from the published asset are absent, not defaulted.
	_, ok = store.GetViewPolicy(ctx, ViewPath)
	assert.False(t, ok)
}

func TestMalformedAssetFallsBackToDefaults(t *testing.T) {
	loader := &configstore.StaticLoader{
		Assets: map[string]configstore.Asset{
			PolicyAssetName: {
				Name:    PolicyAssetName,
				Version: 2,
				Content: map[string]any{
					"views": []any{
						// default_depth > max_depth is invalid and skipped;
						// zero usable views means the fallback set applies.
						map[string]any{
							"name":          "SUMMARY",
							"default_depth": 5,
							"max_depth":     2,
						},
					},
				},
			},
		},
	}
	store := NewStore(loader, nil)

	p, ok := store.GetViewPolicy(context.Background(), ViewSummary)
	require.True(t, ok)
	assert.Equal(t, defaultViews()[ViewSummary], p)
}

func TestRefreshSurfacesLoadFailure(t *testing.T) {
	boom := errors.New("config store unreachable")
	loader := configstore.LoaderFunc(func(ctx context.Context, name string) (configstore.Asset, bool, error) {
		return configstore.Asset{}, false, boom
	})
	store := NewStore(loader, nil)
	ctx := context.Background()

	err := store.Refresh(ctx)
	require.ErrorIs(t, err, boom)

	// The failed refresh still leaves a serviceable default set.
	p, ok := store.GetViewPolicy(ctx, ViewSummary)
	require.True(t, ok)
	assert.Equal(t, defaultViews()[ViewSummary], p)
}

func TestRefreshReportsUnusableAsset(t *testing.T) {
	loader := &configstore.StaticLoader{
		Assets: map[string]configstore.Asset{
			PolicyAssetName: {
				Name:    PolicyAssetName,
				Version: 2,
				Content: map[string]any{
					"views": []any{
						map[string]any{
							"name":          "SUMMARY",
							"default_depth": 5,
							"max_depth":     2,
						},
					},
				},
			},
		},
	}
	store := NewStore(loader, nil)

	require.Error(t, store.Refresh(context.Background()))
}

func TestRefreshPicksUpNewAsset(t *testing.T) {
	loader := &configstore.StaticLoader{Assets: map[string]configstore.Asset{}}
	store := NewStore(loader, nil)
	ctx := context.Background()

	p, ok := store.GetViewPolicy(ctx, ViewSummary)
	require.True(t, ok)
	assert.Equal(t, 1, p.DefaultDepth)

	loader.Assets[PolicyAssetName] = configstore.Asset{
		Name:    PolicyAssetName,
		Version: 3,
		Content: map[string]any{
			"views": []any{
				map[string]any{
					"name":          "SUMMARY",
					"default_depth": 2,
					"max_depth":     4,
				},
			},
		},
	}
	require.NoError(t, store.Refresh(ctx))

	p, ok = store.GetViewPolicy(ctx, ViewSummary)
	require.True(t, ok)
	assert.Equal(t, 2, p.DefaultDepth)
}
