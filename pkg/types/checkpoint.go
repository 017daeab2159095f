package types

import "time"

// BinaryStateKey is the reserved state-data key under which a checkpoint's
// binary side-channel payload is surfaced after resume. Binary payloads are
// never stored in the structured checkpoint record itself.
const BinaryStateKey = "binary_state"

// WorkflowCheckpoint is a point-in-time snapshot of workflow progress.
// Checkpoints are written at workflow start, every checkpoint interval,
// on every recorded failure, and at completion. The active in-memory
// workflow state is ephemeral and is reconstructed from the latest
// checkpoint on resume.
type WorkflowCheckpoint struct {
	// Core identification fields
	ID           string `json:"id"`            // Unique identifier (format: chk:uuid)
	WorkflowID   string `json:"workflow_id"`   // Owning workflow (format: wf:uuid)
	WorkflowType string `json:"workflow_type"` // Free-form workflow type label

	// Progress
	StepNumber int `json:"step_number"`
	TotalSteps int `json:"total_steps"`

	// StateData is an arbitrary JSON-serializable bag. Binary payloads are
	// excluded and stored separately; HasBinaryState marks their presence.
	StateData map[string]interface{} `json:"state_data,omitempty"`

	// Operation tracking
	CompletedOperations []string `json:"completed_operations,omitempty"`
	PendingOperations   []string `json:"pending_operations,omitempty"`
	FailedOperations    []string `json:"failed_operations,omitempty"`

	// Metadata holds duration, operation counts, and caller-provided tags.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// HasBinaryState is true when a blob was persisted alongside this
	// checkpoint under the checkpoint id.
	HasBinaryState bool `json:"has_binary_state,omitempty"`

	// Audit fields shared with the identity types
	Confidence  float64  `json:"confidence"`
	QualityTier string   `json:"quality_tier"`
	Warnings    []string `json:"warnings,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsTerminal reports whether this checkpoint marks a completed workflow.
func (c *WorkflowCheckpoint) IsTerminal() bool {
	return c.TotalSteps > 0 && c.StepNumber >= c.TotalSteps
}

// Progress returns the completion fraction in [0, 1].
func (c *WorkflowCheckpoint) Progress() float64 {
	if c.TotalSteps <= 0 {
		return 0
	}
	p := float64(c.StepNumber) / float64(c.TotalSteps)
	if p > 1 {
		return 1
	}
	return p
}
