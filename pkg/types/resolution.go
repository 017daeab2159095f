package types

// IdentityResolution is the outcome of resolving a mention to a canonical
// entity. A nil resolution (no matching entity) is a soft failure, not an
// error: the mention stays unresolved for a later pass.
type IdentityResolution struct {
	// EntityID is the canonical entity the mention resolved to.
	EntityID string `json:"entity_id"`

	// Method is the strategy that produced this resolution.
	Method ResolutionMethod `json:"method"`

	// Confidence of the resolution decision (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// Degraded is true when the requested strategy fell back to a simpler
	// one (fuzzy_match and contextual currently degrade to exact_match).
	// Callers must check this flag rather than assume the requested
	// strategy actually ran.
	Degraded bool `json:"degraded,omitempty"`

	// Evidence records how the decision was reached.
	Evidence []string `json:"evidence,omitempty"`

	// AlternateEntityIDs lists up to two runner-up candidates, ranked by
	// confidence descending.
	AlternateEntityIDs []string `json:"alternate_entity_ids,omitempty"`
}
