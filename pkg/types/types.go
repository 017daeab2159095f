// Package types defines the core data structures for the KGAS identity
// and workflow subsystem. These types represent surface forms, mentions,
// canonical entities, and workflow checkpoints, sharing a uniform set of
// audit fields (confidence, quality tier, warnings, evidence).
package types

// ResolutionMethod identifies the strategy used to resolve a mention to
// a canonical entity.
type ResolutionMethod string

// Resolution method constants
const (
	// ResolutionExactMatch matches on normalized surface-form text.
	ResolutionExactMatch ResolutionMethod = "exact_match"

	// ResolutionFuzzyMatch is an approximate-text strategy. The current
	// implementation degrades to exact matching; resolutions produced
	// through it carry Degraded=true so callers can detect the fallback.
	ResolutionFuzzyMatch ResolutionMethod = "fuzzy_match"

	// ResolutionContextual is a context-window strategy. Like fuzzy_match,
	// it currently degrades to exact matching and flags the resolution.
	ResolutionContextual ResolutionMethod = "contextual"
)

// ValidResolutionMethods is a slice of all valid resolution methods for validation
var ValidResolutionMethods = []ResolutionMethod{
	ResolutionExactMatch,
	ResolutionFuzzyMatch,
	ResolutionContextual,
}

// IsValidResolutionMethod checks if the given resolution method is valid
func IsValidResolutionMethod(method ResolutionMethod) bool {
	for _, valid := range ValidResolutionMethods {
		if valid == method {
			return true
		}
	}
	return false
}

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

// Workflow lifecycle constants.
//
// Valid transitions:
//
//	not_started -> active
//	active      -> completed | suspended
//	suspended   -> active (via resume)
//
// ACTIVE exists only in memory; SUSPENDED is inferred retroactively from
// a non-terminal checkpoint with no live in-memory state.
const (
	WorkflowNotStarted WorkflowStatus = "not_started"
	WorkflowActive     WorkflowStatus = "active"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowSuspended  WorkflowStatus = "suspended"
)

// Quality tier constants derived from confidence scores.
const (
	TierHigh   = "high"   // confidence >= 0.8
	TierMedium = "medium" // confidence >= 0.5
	TierLow    = "low"    // confidence < 0.5
)

// TierForConfidence maps a confidence score to its quality tier.
func TierForConfidence(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return TierHigh
	case confidence >= 0.5:
		return TierMedium
	default:
		return TierLow
	}
}
