package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/pkg/types"
)

// StoreCheckpoint persists a checkpoint record.
func (s *Store) StoreCheckpoint(ctx context.Context, checkpoint *types.WorkflowCheckpoint) error {
	if checkpoint == nil {
		return storage.ErrInvalidInput
	}
	if checkpoint.ID == "" {
		return fmt.Errorf("%w: checkpoint ID is required", storage.ErrInvalidInput)
	}
	if checkpoint.WorkflowID == "" {
		return fmt.Errorf("%w: checkpoint workflow ID is required", storage.ErrInvalidInput)
	}

	stateDataJSON, err := marshalJSON(checkpoint.StateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state data: %w", err)
	}
	completedJSON, err := marshalJSON(checkpoint.CompletedOperations)
	if err != nil {
		return fmt.Errorf("failed to marshal completed operations: %w", err)
	}
	pendingJSON, err := marshalJSON(checkpoint.PendingOperations)
	if err != nil {
		return fmt.Errorf("failed to marshal pending operations: %w", err)
	}
	failedJSON, err := marshalJSON(checkpoint.FailedOperations)
	if err != nil {
		return fmt.Errorf("failed to marshal failed operations: %w", err)
	}
	metadataJSON, err := marshalJSON(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	warningsJSON, err := marshalJSON(checkpoint.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}
	evidenceJSON, err := marshalJSON(checkpoint.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	query := `
		INSERT INTO workflow_checkpoints (
			id, workflow_id, workflow_type, step_number, total_steps,
			state_data, completed_operations, pending_operations, failed_operations,
			metadata, has_binary_state, confidence, quality_tier, warnings, evidence,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			step_number = excluded.step_number,
			state_data = excluded.state_data,
			completed_operations = excluded.completed_operations,
			pending_operations = excluded.pending_operations,
			failed_operations = excluded.failed_operations,
			metadata = excluded.metadata,
			has_binary_state = excluded.has_binary_state,
			confidence = excluded.confidence,
			quality_tier = excluded.quality_tier,
			warnings = excluded.warnings,
			evidence = excluded.evidence
	`

	_, err = s.db.ExecContext(ctx, query,
		checkpoint.ID, checkpoint.WorkflowID, checkpoint.WorkflowType,
		checkpoint.StepNumber, checkpoint.TotalSteps,
		stateDataJSON, completedJSON, pendingJSON, failedJSON,
		metadataJSON, checkpoint.HasBinaryState,
		checkpoint.Confidence, checkpoint.QualityTier, warningsJSON, evidenceJSON,
		checkpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

const checkpointColumns = `
	id, workflow_id, workflow_type, step_number, total_steps,
	state_data, completed_operations, pending_operations, failed_operations,
	metadata, has_binary_state, confidence, quality_tier, warnings, evidence,
	created_at
`

// GetCheckpoint retrieves a checkpoint by id.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (*types.WorkflowCheckpoint, error) {
	query := "SELECT " + checkpointColumns + " FROM workflow_checkpoints WHERE id = ?"

	checkpoint, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return checkpoint, nil
}

// GetLatestCheckpoint retrieves the most recent checkpoint for a workflow.
// Insertion order (rowid) breaks creation-time ties so checkpoints written
// in the same instant still resolve deterministically.
func (s *Store) GetLatestCheckpoint(ctx context.Context, workflowID string) (*types.WorkflowCheckpoint, error) {
	query := "SELECT " + checkpointColumns + `
		FROM workflow_checkpoints WHERE workflow_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`

	checkpoint, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, workflowID))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return checkpoint, nil
}

// ListCheckpoints retrieves checkpoints matching the filter, newest first.
func (s *Store) ListCheckpoints(ctx context.Context, filter storage.CheckpointFilter) ([]*types.WorkflowCheckpoint, error) {
	query := "SELECT " + checkpointColumns + " FROM workflow_checkpoints WHERE 1=1"
	args := []interface{}{}

	if filter.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	if filter.WorkflowType != "" {
		query += " AND workflow_type = ?"
		args = append(args, filter.WorkflowType)
	}

	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []*types.WorkflowCheckpoint{}
	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	return checkpoints, rows.Err()
}

// DeleteCheckpoint removes a checkpoint record.
func (s *Store) DeleteCheckpoint(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM workflow_checkpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListWorkflowIDs returns the distinct workflow ids with checkpoints.
func (s *Store) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT workflow_id FROM workflow_checkpoints ORDER BY workflow_id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanCheckpoint(row scanner) (*types.WorkflowCheckpoint, error) {
	checkpoint := &types.WorkflowCheckpoint{}
	var stateDataJSON, completedJSON, pendingJSON, failedJSON sql.NullString
	var metadataJSON, qualityTier, warningsJSON, evidenceJSON sql.NullString

	err := row.Scan(
		&checkpoint.ID, &checkpoint.WorkflowID, &checkpoint.WorkflowType,
		&checkpoint.StepNumber, &checkpoint.TotalSteps,
		&stateDataJSON, &completedJSON, &pendingJSON, &failedJSON,
		&metadataJSON, &checkpoint.HasBinaryState,
		&checkpoint.Confidence, &qualityTier, &warningsJSON, &evidenceJSON,
		&checkpoint.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	checkpoint.QualityTier = qualityTier.String
	if err := unmarshalJSON(stateDataJSON, &checkpoint.StateData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state data: %w", err)
	}
	if err := unmarshalJSON(completedJSON, &checkpoint.CompletedOperations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal completed operations: %w", err)
	}
	if err := unmarshalJSON(pendingJSON, &checkpoint.PendingOperations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending operations: %w", err)
	}
	if err := unmarshalJSON(failedJSON, &checkpoint.FailedOperations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed operations: %w", err)
	}
	if err := unmarshalJSON(metadataJSON, &checkpoint.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := unmarshalJSON(warningsJSON, &checkpoint.Warnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
	}
	if err := unmarshalJSON(evidenceJSON, &checkpoint.Evidence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	return checkpoint, nil
}
