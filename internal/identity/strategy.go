// Package identity implements three-level identity resolution over the
// surface-form / mention / entity model: deciding which canonical entity a
// mention refers to, and controlled entity merging. Resolution is an
// inherently uncertain, revisable decision, so it never destroys the raw
// evidence that produced it; merges are tracked via audit trails instead
// of silently overwriting history.
package identity

import (
	"fmt"
	"sort"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/pkg/types"
)

// Resolution scoring constants.
const (
	// MergePenalty discounts the confidence of a merged entity below the
	// minimum of its constituents.
	MergePenalty = 0.95

	// exactMatchConfidence is the fixed confidence assigned to an
	// exact-match resolution or an existing-entity link.
	exactMatchConfidence = 0.9

	// resolutionThreshold is the minimum resolution confidence required
	// before a mention is mutated in place. Below it the mention is left
	// untouched for a later re-attempt.
	resolutionThreshold = 0.5

	// maxAlternates bounds how many runner-up candidates a resolution reports.
	maxAlternates = 2
)

// strategy picks a canonical entity from a candidate set.
type strategy interface {
	method() types.ResolutionMethod

	// degraded reports whether this strategy falls back to a simpler one
	// instead of running its nominal matching logic.
	degraded() bool

	// resolve ranks candidates and returns nil when the set is empty.
	resolve(normalized string, candidates []*types.Entity) *types.IdentityResolution
}

// MethodDegraded reports whether resolutions produced via the given method
// fall back to exact matching. Callers that need genuine fuzzy or
// contextual matching must check this capability flag rather than assume
// the requested strategy ran.
func MethodDegraded(method types.ResolutionMethod) bool {
	return method == types.ResolutionFuzzyMatch || method == types.ResolutionContextual
}

func strategyFor(method types.ResolutionMethod) (strategy, error) {
	switch method {
	case types.ResolutionExactMatch:
		return exactMatchStrategy{}, nil
	case types.ResolutionFuzzyMatch, types.ResolutionContextual:
		return degradedStrategy{requested: method}, nil
	default:
		return nil, fmt.Errorf("%w: unknown resolution method %q", storage.ErrInvalidInput, method)
	}
}

// exactMatchStrategy ranks the entities sharing the mention's normalized
// surface-form text by confidence descending (ties broken by id so repeat
// resolutions are deterministic) and takes the top one at fixed confidence.
type exactMatchStrategy struct{}

func (exactMatchStrategy) method() types.ResolutionMethod { return types.ResolutionExactMatch }
func (exactMatchStrategy) degraded() bool                 { return false }

func (exactMatchStrategy) resolve(normalized string, candidates []*types.Entity) *types.IdentityResolution {
	if len(candidates) == 0 {
		return nil
	}

	ranked := make([]*types.Entity, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].ID < ranked[j].ID
	})

	resolution := &types.IdentityResolution{
		EntityID:   ranked[0].ID,
		Method:     types.ResolutionExactMatch,
		Confidence: exactMatchConfidence,
		Evidence: []string{
			fmt.Sprintf("exact_match: %d candidate(s) for %q, selected %s", len(ranked), normalized, ranked[0].ID),
		},
	}
	for _, alt := range ranked[1:] {
		if len(resolution.AlternateEntityIDs) == maxAlternates {
			break
		}
		resolution.AlternateEntityIDs = append(resolution.AlternateEntityIDs, alt.ID)
	}
	return resolution
}

// degradedStrategy stands in for fuzzy_match and contextual, which are not
// implemented yet. It delegates to exact matching and marks the resolution
// as degraded so the fallback is visible to callers and in the audit trail.
type degradedStrategy struct {
	requested types.ResolutionMethod
}

func (d degradedStrategy) method() types.ResolutionMethod { return d.requested }
func (degradedStrategy) degraded() bool                   { return true }

func (d degradedStrategy) resolve(normalized string, candidates []*types.Entity) *types.IdentityResolution {
	resolution := exactMatchStrategy{}.resolve(normalized, candidates)
	if resolution == nil {
		return nil
	}
	resolution.Method = d.requested
	resolution.Degraded = true
	resolution.Evidence = append(resolution.Evidence,
		fmt.Sprintf("%s degraded to exact_match (strategy not implemented)", d.requested))
	return resolution
}
