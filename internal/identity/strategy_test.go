package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianMills2718/kgas/pkg/types"
)

func TestExactMatchTieBreaksByID(t *testing.T) {
	strat, err := strategyFor(types.ResolutionExactMatch)
	require.NoError(t, err)

	candidates := []*types.Entity{
		{ID: "ent:bbb", Confidence: 0.8},
		{ID: "ent:aaa", Confidence: 0.8},
	}

	resolution := strat.resolve("mercury", candidates)
	require.NotNil(t, resolution)
	assert.Equal(t, "ent:aaa", resolution.EntityID, "equal confidence resolves to the lower id")
	assert.Equal(t, []string{"ent:bbb"}, resolution.AlternateEntityIDs)
}

func TestExactMatchCapsAlternates(t *testing.T) {
	strat, err := strategyFor(types.ResolutionExactMatch)
	require.NoError(t, err)

	candidates := []*types.Entity{
		{ID: "ent:a", Confidence: 0.9},
		{ID: "ent:b", Confidence: 0.8},
		{ID: "ent:c", Confidence: 0.7},
		{ID: "ent:d", Confidence: 0.6},
	}

	resolution := strat.resolve("mercury", candidates)
	require.NotNil(t, resolution)
	assert.Equal(t, "ent:a", resolution.EntityID)
	assert.Len(t, resolution.AlternateEntityIDs, maxAlternates)
	assert.Equal(t, []string{"ent:b", "ent:c"}, resolution.AlternateEntityIDs)
}

func TestExactMatchNoCandidates(t *testing.T) {
	strat, err := strategyFor(types.ResolutionExactMatch)
	require.NoError(t, err)

	assert.Nil(t, strat.resolve("mercury", nil))
}

func TestStrategyForUnknownMethod(t *testing.T) {
	_, err := strategyFor(types.ResolutionMethod("embedding"))
	assert.Error(t, err)
}
