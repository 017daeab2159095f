package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/pkg/types"
)

func TestMergeAttributesFirstWriterWins(t *testing.T) {
	merged := MergeAttributes(
		map[string]interface{}{"sector": "technology", "founded": 1976},
		map[string]interface{}{"sector": "consumer electronics", "hq": "Cupertino"},
		map[string]interface{}{"hq": "elsewhere", "employees": 160000},
	)

	assert.Equal(t, "technology", merged["sector"], "earlier map wins on conflict")
	assert.Equal(t, 1976, merged["founded"])
	assert.Equal(t, "Cupertino", merged["hq"])
	assert.Equal(t, 160000, merged["employees"])
}

func TestMergeAttributesNilAndEmpty(t *testing.T) {
	assert.Empty(t, MergeAttributes(nil, nil))
	assert.Equal(t, map[string]interface{}{"a": 1}, MergeAttributes(nil, map[string]interface{}{"a": 1}))
}

func TestMergeEntitiesConfidencePenalty(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateOrLinkEntity(ctx, "International Business Machines", "ORG", nil)
	require.NoError(t, err)
	b, err := svc.CreateOrLinkEntity(ctx, "IBM", "ORG", nil)
	require.NoError(t, err)
	require.NotEqual(t, a.Entity.ID, b.Entity.ID)

	a.Entity.Confidence = 0.9
	require.NoError(t, svc.store.StoreEntity(ctx, a.Entity))
	b.Entity.Confidence = 0.8
	require.NoError(t, svc.store.StoreEntity(ctx, b.Entity))

	merged, err := svc.MergeEntities(ctx, []string{a.Entity.ID, b.Entity.ID}, a.Entity.ID)
	require.NoError(t, err)

	// min(0.9, 0.8) * 0.95 = 0.76: merged identities are never more
	// certain than their weakest input.
	assert.InDelta(t, 0.76, merged.Confidence, 1e-9)
	assert.Equal(t, types.TierMedium, merged.QualityTier)
	assert.NotEmpty(t, merged.Warnings)
}

func TestMergeEntitiesCompleteness(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateOrLinkEntity(ctx, "International Business Machines", "ORG",
		map[string]interface{}{"sector": "technology"})
	require.NoError(t, err)
	b, err := svc.CreateOrLinkEntity(ctx, "IBM", "ORG",
		map[string]interface{}{"sector": "services", "hq": "Armonk"})
	require.NoError(t, err)

	// Give the absorbed entity a resolved mention to redirect.
	sf, err := svc.CreateSurfaceForm(ctx, "IBM", "", "chunk-1", 0, 3, 0.9)
	require.NoError(t, err)
	mention, err := svc.CreateMention(ctx, sf.ID, "ORG", nil, 0.8)
	require.NoError(t, err)
	resolution, err := svc.ResolveEntity(ctx, mention.ID, types.ResolutionExactMatch)
	require.NoError(t, err)
	require.Equal(t, b.Entity.ID, resolution.EntityID)

	merged, err := svc.MergeEntities(ctx, []string{a.Entity.ID, b.Entity.ID}, a.Entity.ID)
	require.NoError(t, err)

	// Surface forms are the union of both entities' variants.
	assert.True(t, merged.HasSurfaceForm("International Business Machines"))
	assert.True(t, merged.HasSurfaceForm("IBM"))

	// The canonical's attributes take precedence; absorbed-only keys carry over.
	assert.Equal(t, "technology", merged.Attributes["sector"])
	assert.Equal(t, "Armonk", merged.Attributes["hq"])

	// The mention was redirected to the canonical entity with evidence.
	after, err := svc.GetMentionsBySurfaceForm(ctx, sf.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, merged.ID, after[0].EntityID)
	assert.Contains(t, merged.MentionRefs, mention.ID)

	redirected := false
	for _, evidence := range after[0].Evidence {
		if evidence == "redirected from "+b.Entity.ID+" to "+merged.ID+" during merge" {
			redirected = true
		}
	}
	assert.True(t, redirected, "redirect evidence missing: %v", after[0].Evidence)

	// The absorbed entity is deleted from the store outright.
	_, err = svc.store.GetEntity(ctx, b.Entity.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Lookups by its variant now find the canonical entity.
	entities, err := svc.GetEntitiesBySurfaceForm(ctx, "IBM")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, merged.ID, entities[0].ID)
}

func TestMergeEntitiesPicksHighestConfidenceWithoutExplicitCanonical(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateOrLinkEntity(ctx, "Alpha Corp", "ORG", nil)
	require.NoError(t, err)
	b, err := svc.CreateOrLinkEntity(ctx, "Beta Corp", "ORG", nil)
	require.NoError(t, err)

	a.Entity.Confidence = 0.7
	require.NoError(t, svc.store.StoreEntity(ctx, a.Entity))
	b.Entity.Confidence = 0.9
	require.NoError(t, svc.store.StoreEntity(ctx, b.Entity))

	merged, err := svc.MergeEntities(ctx, []string{a.Entity.ID, b.Entity.ID}, "")
	require.NoError(t, err)
	assert.Equal(t, b.Entity.ID, merged.ID)
}

func TestMergeEntitiesSkipsMissing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateOrLinkEntity(ctx, "Alpha Corp", "ORG", nil)
	require.NoError(t, err)

	merged, err := svc.MergeEntities(ctx, []string{a.Entity.ID, "ent:missing"}, "")
	require.NoError(t, err)
	assert.Equal(t, a.Entity.ID, merged.ID)

	_, err = svc.MergeEntities(ctx, []string{"ent:gone-1", "ent:gone-2"}, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestMergeEntitiesValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.MergeEntities(ctx, []string{"ent:only-one"}, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	a, err := svc.CreateOrLinkEntity(ctx, "Alpha Corp", "ORG", nil)
	require.NoError(t, err)
	b, err := svc.CreateOrLinkEntity(ctx, "Beta Corp", "ORG", nil)
	require.NoError(t, err)

	_, err = svc.MergeEntities(ctx, []string{a.Entity.ID, b.Entity.ID}, "ent:outsider")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestMergeEntitiesAttributeOrderDeterministic(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Canonical has no color; two absorbed entities disagree. They are
	// visited in id order, so the winner is fixed regardless of the input
	// order of the merge call.
	a, err := svc.CreateOrLinkEntity(ctx, "Gamma Corp", "ORG", nil)
	require.NoError(t, err)
	b, err := svc.CreateOrLinkEntity(ctx, "Delta Corp", "ORG", map[string]interface{}{"color": "blue"})
	require.NoError(t, err)
	c, err := svc.CreateOrLinkEntity(ctx, "Epsilon Corp", "ORG", map[string]interface{}{"color": "green"})
	require.NoError(t, err)

	wantColor := "blue"
	if c.Entity.ID < b.Entity.ID {
		wantColor = "green"
	}

	merged, err := svc.MergeEntities(ctx, []string{c.Entity.ID, b.Entity.ID, a.Entity.ID}, a.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, wantColor, merged.Attributes["color"])
}
