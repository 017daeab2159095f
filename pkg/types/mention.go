package types

import "time"

// Mention is a typed occurrence derived from exactly one surface form.
// Multiple typing passes over the same span produce independent mentions
// without re-deriving character offsets. Mentions are never deleted, only
// redirected: when entities merge, every mention of an absorbed entity is
// rewritten to point at the surviving canonical entity.
type Mention struct {
	// Core identification fields
	ID            string `json:"id"`              // Unique identifier (format: men:uuid)
	SurfaceFormID string `json:"surface_form_id"` // The one surface form this mention derives from
	MentionType   string `json:"mention_type"`    // Free-form type label (e.g. "ORG", "PERSON")

	// Typing attributes from the extraction pass
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// EntityID is empty until resolution assigns a canonical entity.
	// Once set, it must reference a live (non-deleted) entity.
	EntityID string `json:"entity_id,omitempty"`

	// Audit fields
	Confidence  float64  `json:"confidence"`
	QualityTier string   `json:"quality_tier"`
	Evidence    []string `json:"evidence,omitempty"` // Append-only resolution evidence
	Warnings    []string `json:"warnings,omitempty"` // Append-only audit log

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsResolved reports whether this mention has been assigned to an entity.
func (m *Mention) IsResolved() bool {
	return m.EntityID != ""
}

// AddEvidence appends a resolution evidence record.
func (m *Mention) AddEvidence(evidence string) {
	m.Evidence = append(m.Evidence, evidence)
}

// AddWarning appends a warning to the mention's audit trail.
func (m *Mention) AddWarning(warning string) {
	m.Warnings = append(m.Warnings, warning)
}
