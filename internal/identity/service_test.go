package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/internal/storage/sqlite"
	"github.com/BrianMills2718/kgas/pkg/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, nil)
}

func TestCreateSurfaceForm(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sf, err := svc.CreateSurfaceForm(ctx, "  Apple   Inc. ", "Apple Inc. announced earnings.", "chunk-1", 0, 10, 0.9)
	require.NoError(t, err)

	assert.Equal(t, "  Apple   Inc. ", sf.Text)
	assert.Equal(t, "apple inc.", sf.NormalizedText)
	assert.Equal(t, types.TierHigh, sf.QualityTier)
	assert.True(t, len(sf.ID) > 3 && sf.ID[:3] == "sf:")
}

func TestCreateSurfaceFormValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateSurfaceForm(ctx, "", "", "chunk-1", 0, 5, 0.9)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = svc.CreateSurfaceForm(ctx, "Apple", "", "chunk-1", -1, 5, 0.9)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = svc.CreateSurfaceForm(ctx, "Apple", "", "chunk-1", 9, 5, 0.9)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCreateMentionRequiresSurfaceForm(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateMention(context.Background(), "sf:missing", "ORG", nil, 0.8)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResolveEntityNoCandidates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sf, err := svc.CreateSurfaceForm(ctx, "Unknown Corp", "", "chunk-1", 0, 12, 0.9)
	require.NoError(t, err)
	mention, err := svc.CreateMention(ctx, sf.ID, "ORG", nil, 0.8)
	require.NoError(t, err)

	resolution, err := svc.ResolveEntity(ctx, mention.ID, types.ResolutionExactMatch)
	require.NoError(t, err)
	assert.Nil(t, resolution)

	// The mention must stay untouched for a later pass.
	after, err := svc.GetMentionsBySurfaceForm(ctx, sf.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.False(t, after[0].IsResolved())
	assert.InDelta(t, 0.8, after[0].Confidence, 1e-9)
}

func TestResolveEntityExactMatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	link, err := svc.CreateOrLinkEntity(ctx, "Apple Inc.", "ORG", nil)
	require.NoError(t, err)
	require.True(t, link.IsNew)

	sf, err := svc.CreateSurfaceForm(ctx, "apple   inc.", "", "chunk-2", 5, 17, 0.9)
	require.NoError(t, err)
	mention, err := svc.CreateMention(ctx, sf.ID, "ORG", nil, 0.8)
	require.NoError(t, err)

	resolution, err := svc.ResolveEntity(ctx, mention.ID, types.ResolutionExactMatch)
	require.NoError(t, err)
	require.NotNil(t, resolution)

	assert.Equal(t, link.Entity.ID, resolution.EntityID)
	assert.Equal(t, types.ResolutionExactMatch, resolution.Method)
	assert.InDelta(t, 0.9, resolution.Confidence, 1e-9)
	assert.False(t, resolution.Degraded)
	assert.Empty(t, resolution.AlternateEntityIDs)

	// Above the threshold: the mention is mutated in place.
	after, err := svc.GetMentionsBySurfaceForm(ctx, sf.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, link.Entity.ID, after[0].EntityID)
	assert.InDelta(t, 0.8*0.9, after[0].Confidence, 1e-9)
	assert.NotEmpty(t, after[0].Evidence)

	// The entity gained the back-reference and the raw variant.
	entities, err := svc.GetEntitiesBySurfaceForm(ctx, "Apple Inc.")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Contains(t, entities[0].MentionRefs, mention.ID)
	assert.True(t, entities[0].HasSurfaceForm("apple   inc."))
}

func TestResolveEntityRepeatedCallsAgree(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	link, err := svc.CreateOrLinkEntity(ctx, "Apple Inc.", "ORG", nil)
	require.NoError(t, err)

	sf, err := svc.CreateSurfaceForm(ctx, "Apple Inc.", "", "chunk-4", 0, 10, 0.9)
	require.NoError(t, err)
	mention, err := svc.CreateMention(ctx, sf.ID, "ORG", nil, 0.8)
	require.NoError(t, err)

	first, err := svc.ResolveEntity(ctx, mention.ID, types.ResolutionExactMatch)
	require.NoError(t, err)
	require.NotNil(t, first)

	// The second call runs against the already-resolved mention and must
	// reach the same entity at the same confidence.
	second, err := svc.ResolveEntity(ctx, mention.ID, types.ResolutionExactMatch)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.EntityID, second.EntityID)
	assert.Equal(t, link.Entity.ID, second.EntityID)
	assert.InDelta(t, first.Confidence, second.Confidence, 1e-9)
	assert.Equal(t, first.AlternateEntityIDs, second.AlternateEntityIDs)

	after, err := svc.GetMentionsBySurfaceForm(ctx, sf.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, link.Entity.ID, after[0].EntityID)
}

func TestResolveEntityDegradedMethods(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	link, err := svc.CreateOrLinkEntity(ctx, "Apple Inc.", "ORG", nil)
	require.NoError(t, err)

	for _, method := range []types.ResolutionMethod{types.ResolutionFuzzyMatch, types.ResolutionContextual} {
		sf, err := svc.CreateSurfaceForm(ctx, "Apple Inc.", "", "chunk-3", 0, 10, 0.9)
		require.NoError(t, err)
		mention, err := svc.CreateMention(ctx, sf.ID, "ORG", nil, 0.8)
		require.NoError(t, err)

		resolution, err := svc.ResolveEntity(ctx, mention.ID, method)
		require.NoError(t, err)
		require.NotNil(t, resolution, "method %s", method)

		assert.Equal(t, link.Entity.ID, resolution.EntityID)
		assert.Equal(t, method, resolution.Method, "reported method keeps the caller's request")
		assert.True(t, resolution.Degraded, "method %s must be flagged degraded", method)
		assert.Contains(t, resolution.Evidence, "degraded to exact_match (strategy not implemented)")
	}
}

func TestResolveEntityUnknownMethod(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ResolveEntity(context.Background(), "men:any", types.ResolutionMethod("embedding"))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestResolveEntityAlternates(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	// Three genuinely ambiguous entities sharing the "mercury" key, seeded
	// directly in the store (CreateOrLinkEntity would link, not duplicate).
	seed := []struct {
		id         string
		confidence float64
	}{
		{"ent:planet", 0.95},
		{"ent:element", 0.85},
		{"ent:deity", 0.6},
	}
	for _, s := range seed {
		entity := &types.Entity{
			ID:           s.id,
			Name:         "Mercury",
			SurfaceForms: []string{"Mercury"},
			Confidence:   s.confidence,
		}
		require.NoError(t, store.StoreEntity(ctx, entity))
	}

	svc := NewService(store, nil)
	sf, err := svc.CreateSurfaceForm(ctx, "Mercury", "", "chunk-1", 0, 7, 0.9)
	require.NoError(t, err)
	mention, err := svc.CreateMention(ctx, sf.ID, "UNKNOWN", nil, 1.0)
	require.NoError(t, err)

	resolution, err := svc.ResolveEntity(ctx, mention.ID, types.ResolutionExactMatch)
	require.NoError(t, err)
	require.NotNil(t, resolution)

	// Winner is the highest-confidence candidate; the rest surface as
	// alternates in confidence order.
	assert.Equal(t, "ent:planet", resolution.EntityID)
	assert.Equal(t, []string{"ent:element", "ent:deity"}, resolution.AlternateEntityIDs)
}

func TestCreateOrLinkEntityNormalization(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateOrLinkEntity(ctx, "Apple Inc.", "ORG", map[string]interface{}{"sector": "technology"})
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.InDelta(t, 1.0, first.Confidence, 1e-9)
	assert.Equal(t, "apple inc.", first.Entity.CanonicalName)

	// Different spelling, same normalized key: links instead of creating.
	second, err := svc.CreateOrLinkEntity(ctx, "APPLE  INC.", "ORG", nil)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Entity.ID, second.Entity.ID)
	assert.InDelta(t, 0.9, second.Confidence, 1e-9)
	assert.True(t, second.Entity.HasSurfaceForm("APPLE  INC."))
}

func TestCreateOrLinkEntityEmptyText(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateOrLinkEntity(context.Background(), "   ", "ORG", nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestGetEntitiesBySurfaceFormSurvivesStaleCache(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	// Writer service creates the entity; a second service with a cold
	// cache must still find it through the store's variant index.
	writer := NewService(store, nil)
	link, err := writer.CreateOrLinkEntity(ctx, "Apple Inc.", "ORG", nil)
	require.NoError(t, err)

	reader := NewService(store, nil)
	entities, err := reader.GetEntitiesBySurfaceForm(ctx, "apple   INC.")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, link.Entity.ID, entities[0].ID)
}
