package types

import "time"

// Entity is the canonical resolved concept behind one or more mentions.
// Entities accumulate surface-form variants and mention references over
// time and may absorb other entities via merge. Merging never destroys
// evidence: the raw surface forms and mentions survive, and the merge is
// recorded in the canonical entity's warnings.
type Entity struct {
	// Core identification fields
	ID            string `json:"id"`             // Unique identifier (format: ent:uuid)
	Name          string `json:"name"`           // Display name
	CanonicalName string `json:"canonical_name"` // Normalized canonical name
	EntityType    string `json:"entity_type"`    // Free-form type label

	// Attributes merged across sources, first-writer-wins on key conflict.
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// SurfaceForms is the set of known textual variants for this entity.
	SurfaceForms []string `json:"surface_forms,omitempty"`

	// MentionRefs lists ids of mentions currently pointing at this entity.
	MentionRefs []string `json:"mention_refs,omitempty"`

	// Confidence is monotonically non-increasing under merges: a merged
	// entity's confidence is the minimum of its constituents' confidences
	// times the merge penalty.
	Confidence  float64  `json:"confidence"`
	QualityTier string   `json:"quality_tier"`
	Warnings    []string `json:"warnings,omitempty"` // Append-only audit log

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSurfaceForm reports whether text is already a known variant.
func (e *Entity) HasSurfaceForm(text string) bool {
	for _, sf := range e.SurfaceForms {
		if sf == text {
			return true
		}
	}
	return false
}

// AddSurfaceForm records a textual variant, ignoring duplicates.
func (e *Entity) AddSurfaceForm(text string) {
	if text == "" || e.HasSurfaceForm(text) {
		return
	}
	e.SurfaceForms = append(e.SurfaceForms, text)
}

// AddMentionRef records a mention reference, ignoring duplicates.
func (e *Entity) AddMentionRef(mentionID string) {
	for _, ref := range e.MentionRefs {
		if ref == mentionID {
			return
		}
	}
	e.MentionRefs = append(e.MentionRefs, mentionID)
}

// AddWarning appends a warning to the entity's audit trail.
func (e *Entity) AddWarning(warning string) {
	e.Warnings = append(e.Warnings, warning)
}
