package types

import "time"

// SurfaceForm records a raw text span exactly as it appeared in a source
// chunk. Surface forms are the immutable evidence layer of identity
// resolution: once created they are never rewritten except for confidence
// re-scoring. Many surface forms may normalize to the same text key.
type SurfaceForm struct {
	// Core identification fields
	ID             string `json:"id"`              // Unique identifier (format: sf:uuid)
	Text           string `json:"text"`            // Raw text as it appeared in the source
	NormalizedText string `json:"normalized_text"` // Lowercased, trimmed, whitespace-collapsed lookup key
	Context        string `json:"context,omitempty"` // Surrounding text from the source chunk
	ChunkID        string `json:"chunk_id"`        // Owning source-chunk reference

	// Character bounds within the chunk
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`

	// Audit fields
	Confidence  float64  `json:"confidence"`           // Extraction confidence (0.0-1.0)
	QualityTier string   `json:"quality_tier"`         // Derived from confidence
	Warnings    []string `json:"warnings,omitempty"`   // Append-only audit log

	CreatedAt time.Time `json:"created_at"`
}

// AddWarning appends a warning to the surface form's audit trail.
func (sf *SurfaceForm) AddWarning(warning string) {
	sf.Warnings = append(sf.Warnings, warning)
}
