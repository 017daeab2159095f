package storage

import "errors"

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCircuitOpen indicates that the remote-store circuit breaker is
	// open and the call was rejected without reaching the backend.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CheckpointFilter narrows ListCheckpoints results. Zero values mean no
// filter on that field.
type CheckpointFilter struct {
	// WorkflowID restricts results to a single workflow.
	WorkflowID string

	// WorkflowType restricts results to workflows of the given type.
	WorkflowType string

	// Limit caps the number of results (0 = no cap). Results are always
	// ordered newest first.
	Limit int
}
