package postgres

import (
	"context"
	"database/sql"
	"errors"
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
		return fmt.Errorf("postgres: failed to marshal state data: %w", err)
	}
	completedJSON, err := marshalJSON(checkpoint.CompletedOperations)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal completed operations: %w", err)
	}
	pendingJSON, err := marshalJSON(checkpoint.PendingOperations)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal pending operations: %w", err)
	}
	failedJSON, err := marshalJSON(checkpoint.FailedOperations)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal failed operations: %w", err)
	}
	metadataJSON, err := marshalJSON(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal metadata: %w", err)
	}
	warningsJSON, err := marshalJSON(checkpoint.Warnings)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal warnings: %w", err)
	}
	evidenceJSON, err := marshalJSON(checkpoint.Evidence)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal evidence: %w", err)
	}

	query := `
		INSERT INTO workflow_checkpoints (
			id, workflow_id, workflow_type, step_number, total_steps,
			state_data, completed_operations, pending_operations, failed_operations,
			metadata, has_binary_state, confidence, quality_tier, warnings, evidence,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			step_number = EXCLUDED.step_number,
			state_data = EXCLUDED.state_data,
			completed_operations = EXCLUDED.completed_operations,
			pending_operations = EXCLUDED.pending_operations,
			failed_operations = EXCLUDED.failed_operations,
			metadata = EXCLUDED.metadata,
			has_binary_state = EXCLUDED.has_binary_state,
			confidence = EXCLUDED.confidence,
			quality_tier = EXCLUDED.quality_tier,
			warnings = EXCLUDED.warnings,
			evidence = EXCLUDED.evidence
	`

	_, err = s.execContext(ctx, query,
		checkpoint.ID, checkpoint.WorkflowID, checkpoint.WorkflowType,
		checkpoint.StepNumber, checkpoint.TotalSteps,
		stateDataJSON, completedJSON, pendingJSON, failedJSON,
		metadataJSON, checkpoint.HasBinaryState,
		checkpoint.Confidence, checkpoint.QualityTier, warningsJSON, evidenceJSON,
		checkpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to store checkpoint: %w", err)
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
	query := "SELECT " + checkpointColumns + " FROM workflow_checkpoints WHERE id = $1"

	var checkpoint *types.WorkflowCheckpoint
	err := s.queryRowScan(ctx, query, []interface{}{id}, func(row *sql.Row) error {
		var scanErr error
		checkpoint, scanErr = scanCheckpoint(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get checkpoint: %w", err)
	}
	return checkpoint, nil
}

// GetLatestCheckpoint retrieves the most recent checkpoint for a workflow.
// Insertion order (seq) breaks creation-time ties so checkpoints written in
// the same instant still resolve deterministically.
func (s *Store) GetLatestCheckpoint(ctx context.Context, workflowID string) (*types.WorkflowCheckpoint, error) {
	query := "SELECT " + checkpointColumns + `
		FROM workflow_checkpoints WHERE workflow_id = $1
		ORDER BY created_at DESC, seq DESC LIMIT 1
	`

	var checkpoint *types.WorkflowCheckpoint
	err := s.queryRowScan(ctx, query, []interface{}{workflowID}, func(row *sql.Row) error {
		var scanErr error
		checkpoint, scanErr = scanCheckpoint(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get latest checkpoint: %w", err)
	}
	return checkpoint, nil
}

// ListCheckpoints retrieves checkpoints matching the filter, newest first.
func (s *Store) ListCheckpoints(ctx context.Context, filter storage.CheckpointFilter) ([]*types.WorkflowCheckpoint, error) {
	query := "SELECT " + checkpointColumns + " FROM workflow_checkpoints WHERE 1=1"
	args := []interface{}{}

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}
	if filter.WorkflowType != "" {
		args = append(args, filter.WorkflowType)
		query += fmt.Sprintf(" AND workflow_type = $%d", len(args))
	}

	query += " ORDER BY created_at DESC, seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.queryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []*types.WorkflowCheckpoint{}
	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	return checkpoints, rows.Err()
}

// DeleteCheckpoint removes a checkpoint record.
func (s *Store) DeleteCheckpoint(ctx context.Context, id string) error {
	result, err := s.execContext(ctx, "DELETE FROM workflow_checkpoints WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete checkpoint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check delete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListWorkflowIDs returns the distinct workflow ids with checkpoints.
func (s *Store) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	rows, err := s.queryContext(ctx,
		"SELECT DISTINCT workflow_id FROM workflow_checkpoints ORDER BY workflow_id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query workflow ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan workflow id: %w", err)
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
		return nil, fmt.Errorf("postgres: failed to unmarshal state data: %w", err)
	}
	if err := unmarshalJSON(completedJSON, &checkpoint.CompletedOperations); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal completed operations: %w", err)
	}
	if err := unmarshalJSON(pendingJSON, &checkpoint.PendingOperations); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal pending operations: %w", err)
	}
	if err := unmarshalJSON(failedJSON, &checkpoint.FailedOperations); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal failed operations: %w", err)
	}
	if err := unmarshalJSON(metadataJSON, &checkpoint.Metadata); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal metadata: %w", err)
	}
	if err := unmarshalJSON(warningsJSON, &checkpoint.Warnings); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal warnings: %w", err)
	}
	if err := unmarshalJSON(evidenceJSON, &checkpoint.Evidence); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal evidence: %w", err)
	}
	return checkpoint, nil
}
