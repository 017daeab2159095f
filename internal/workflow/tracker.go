// Package workflow implements checkpointed progress tracking for
// long-running, potentially-interrupted multi-step pipelines. Routine
// progress is batched into interval checkpoints to bound checkpoint I/O;
// anything indicating a problem is flushed immediately so post-mortem
// analysis and resumption never lose failure evidence.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/pkg/types"
)

// DefaultCheckpointInterval is the number of operations between automatic
// checkpoints when the caller does not specify one. It bounds the re-work
// lost on crash to at most one interval's worth of operations.
const DefaultCheckpointInterval = 100

// Checkpoint event types emitted through the EventSink.
const (
	EventCheckpoint = "checkpoint"
	EventCompleted  = "completed"
)

// EventSink receives workflow lifecycle notifications. Delivery is
// best-effort: sink errors are logged, never propagated.
type EventSink interface {
	Notify(eventType, workflowID string) error
}

// Options configures a Tracker.
type Options struct {
	// Logger for operational logging. Nil disables logging.
	Logger *zap.Logger

	// Events receives checkpoint/completion notifications. Optional.
	Events EventSink

	// DefaultCheckpointInterval overrides DefaultCheckpointInterval for
	// workflows started without an explicit interval.
	DefaultCheckpointInterval int
}

// Tracker maintains progress counters, periodic checkpoints, and resumable
// state for long-running workflows. Active workflows live only in memory;
// a workflow whose latest checkpoint is non-terminal and which has no
// in-memory state is suspended (the process exited uncleanly) and can be
// resumed from its latest checkpoint.
type Tracker struct {
	checkpoints storage.CheckpointStore
	blobs       storage.BlobStore
	logger      *zap.Logger
	events      EventSink

	defaultInterval int

	mu     sync.Mutex
	active map[string]*State
}

// Status is the result of GetWorkflowStatus.
type Status struct {
	WorkflowID       string                 `json:"workflow_id"`
	WorkflowType     string                 `json:"workflow_type,omitempty"`
	Status           types.WorkflowStatus   `json:"status"`
	CurrentStep      int                    `json:"current_step"`
	TotalSteps       int                    `json:"total_steps"`
	Progress         float64                `json:"progress"`
	FailedOperations []string               `json:"failed_operations,omitempty"`
	LastCheckpointID string                 `json:"last_checkpoint_id,omitempty"`
	LastCheckpointAt time.Time              `json:"last_checkpoint_at,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ResumeResult is the reconstructed view of a workflow after resume. When
// the checkpoint carried a binary side-channel blob, it appears in
// StateData under types.BinaryStateKey.
type ResumeResult struct {
	WorkflowID          string
	WorkflowType        string
	CheckpointID        string
	CurrentStep         int
	TotalSteps          int
	StateData           map[string]interface{}
	CompletedOperations []string
	FailedOperations    []string
}

// NewTracker creates a workflow tracker over the given checkpoint and
// blob stores.
func NewTracker(checkpoints storage.CheckpointStore, blobs storage.BlobStore, opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.DefaultCheckpointInterval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &Tracker{
		checkpoints:     checkpoints,
		blobs:           blobs,
		logger:          logger,
		events:          opts.Events,
		defaultInterval: interval,
		active:          make(map[string]*State),
	}
}

// StartWorkflow registers a new workflow and immediately persists an
// initial checkpoint, so even a crash at step 0 is recoverable.
func (t *Tracker) StartWorkflow(ctx context.Context, workflowType string, totalSteps int, metadata map[string]interface{}, checkpointInterval int) (string, error) {
	if workflowType == "" {
		return "", fmt.Errorf("%w: workflow type is required", storage.ErrInvalidInput)
	}
	if totalSteps <= 0 {
		return "", fmt.Errorf("%w: total steps must be positive, got %d", storage.ErrInvalidInput, totalSteps)
	}
	if checkpointInterval <= 0 {
		checkpointInterval = t.defaultInterval
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := &State{
		WorkflowID:          "wf:" + uuid.New().String(),
		WorkflowType:        workflowType,
		TotalSteps:          totalSteps,
		StateData:           make(map[string]interface{}),
		CompletedOperations: make(map[string]struct{}),
		PendingOperations:   make(map[string]struct{}),
		FailedOperations:    make(map[string]struct{}),
		Metadata:            metadata,
		CheckpointInterval:  checkpointInterval,
		StartedAt:           time.Now().UTC(),
	}

	if _, err := t.writeCheckpointLocked(ctx, state, "workflow started"); err != nil {
		return "", fmt.Errorf("failed to write initial checkpoint: %w", err)
	}

	t.active[state.WorkflowID] = state
	t.logger.Info("workflow started",
		zap.String("workflow_id", state.WorkflowID),
		zap.String("workflow_type", workflowType),
		zap.Int("total_steps", totalSteps),
		zap.Int("checkpoint_interval", checkpointInterval))

	return state.WorkflowID, nil
}

// UpdateProgress advances an active workflow. Every CheckpointInterval
// operations an automatic checkpoint is written and the counter resets.
func (t *Tracker) UpdateProgress(ctx context.Context, workflowID string, stepNumber int, operationID string, stateUpdates map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.activeStateLocked(workflowID)
	if err != nil {
		return err
	}

	state.CurrentStep = stepNumber
	if operationID != "" {
		state.CompletedOperations[operationID] = struct{}{}
		delete(state.PendingOperations, operationID)
	}
	state.applyUpdates(stateUpdates)

	state.operationCount++
	state.opsSinceCheckpoint++
	if state.opsSinceCheckpoint >= state.CheckpointInterval {
		if _, err := t.writeCheckpointLocked(ctx, state, "checkpoint interval reached"); err != nil {
			return err
		}
		state.opsSinceCheckpoint = 0
	}
	return nil
}

// RecordFailure marks an operation failed and forces an immediate
// checkpoint regardless of the interval counter. Failures are never
// allowed to be lost to interval batching.
func (t *Tracker) RecordFailure(ctx context.Context, workflowID, operationID, errorMessage string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.activeStateLocked(workflowID)
	if err != nil {
		return err
	}

	state.FailedOperations[operationID] = struct{}{}
	delete(state.PendingOperations, operationID)
	state.appendFailureRecord(operationID, errorMessage)
	state.operationCount++

	checkpoint, err := t.writeCheckpointLocked(ctx, state, fmt.Sprintf("operation %s failed", operationID))
	if err != nil {
		return err
	}
	state.opsSinceCheckpoint = 0

	t.logger.Warn("operation failed",
		zap.String("workflow_id", workflowID),
		zap.String("operation_id", operationID),
		zap.String("error", errorMessage),
		zap.String("checkpoint_id", checkpoint.ID))
	return nil
}

// CompleteWorkflow writes a terminal checkpoint and evicts the workflow
// from the active map.
func (t *Tracker) CompleteWorkflow(ctx context.Context, workflowID string, finalState map[string]interface{}) (*types.WorkflowCheckpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.activeStateLocked(workflowID)
	if err != nil {
		return nil, err
	}

	state.CurrentStep = state.TotalSteps
	state.applyUpdates(finalState)

	checkpoint, err := t.writeCheckpointLocked(ctx, state, "workflow completed")
	if err != nil {
		return nil, err
	}

	delete(t.active, workflowID)
	t.notify(EventCompleted, workflowID)
	t.logger.Info("workflow completed",
		zap.String("workflow_id", workflowID),
		zap.Int("total_steps", state.TotalSteps),
		zap.Int("failed_operations", len(state.FailedOperations)))

	return checkpoint, nil
}

// ResumeWorkflow reconstructs in-memory state from the given checkpoint,
// or the workflow's most recent one when checkpointID is empty, and
// re-registers the workflow as active. There is no implicit start-fresh
// fallback: resuming a workflow with no checkpoints is an error.
func (t *Tracker) ResumeWorkflow(ctx context.Context, workflowID, checkpointID string) (*ResumeResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var checkpoint *types.WorkflowCheckpoint
	var err error
	if checkpointID != "" {
		checkpoint, err = t.checkpoints.GetCheckpoint(ctx, checkpointID)
	} else {
		checkpoint, err = t.checkpoints.GetLatestCheckpoint(ctx, workflowID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: no checkpoint to resume workflow %s from", storage.ErrInvalidInput, workflowID)
	}
	if err != nil {
		return nil, err
	}
	if checkpoint.WorkflowID != workflowID {
		return nil, fmt.Errorf("%w: checkpoint %s belongs to workflow %s, not %s",
			storage.ErrInvalidInput, checkpoint.ID, checkpoint.WorkflowID, workflowID)
	}

	stateData := make(map[string]interface{}, len(checkpoint.StateData))
	for key, value := range checkpoint.StateData {
		stateData[key] = value
	}

	// The resumed view exposes the blob under the reserved key; the
	// in-memory state keeps it on the side channel only, so it can never
	// leak into a later structured checkpoint record.
	resumedData := stateData
	var binaryState []byte
	if checkpoint.HasBinaryState {
		binaryState, err = t.blobs.GetBlob(checkpoint.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load binary state for checkpoint %s: %w", checkpoint.ID, err)
		}
		resumedData = make(map[string]interface{}, len(stateData)+1)
		for key, value := range stateData {
			resumedData[key] = value
		}
		resumedData[types.BinaryStateKey] = binaryState
	}

	state := &State{
		WorkflowID:          checkpoint.WorkflowID,
		WorkflowType:        checkpoint.WorkflowType,
		CurrentStep:         checkpoint.StepNumber,
		TotalSteps:          checkpoint.TotalSteps,
		StateData:           stateData,
		BinaryState:         binaryState,
		CompletedOperations: toSet(checkpoint.CompletedOperations),
		PendingOperations:   toSet(checkpoint.PendingOperations),
		FailedOperations:    toSet(checkpoint.FailedOperations),
		Metadata:            checkpoint.Metadata,
		CheckpointInterval:  t.defaultInterval,
		StartedAt:           time.Now().UTC(),
	}
	t.active[workflowID] = state

	t.logger.Info("workflow resumed",
		zap.String("workflow_id", workflowID),
		zap.String("checkpoint_id", checkpoint.ID),
		zap.Int("step_number", checkpoint.StepNumber),
		zap.Bool("binary_state", checkpoint.HasBinaryState))

	return &ResumeResult{
		WorkflowID:          checkpoint.WorkflowID,
		WorkflowType:        checkpoint.WorkflowType,
		CheckpointID:        checkpoint.ID,
		CurrentStep:         checkpoint.StepNumber,
		TotalSteps:          checkpoint.TotalSteps,
		StateData:           resumedData,
		CompletedOperations: checkpoint.CompletedOperations,
		FailedOperations:    checkpoint.FailedOperations,
	}, nil
}

// CleanupCheckpoints retains only the keepLatest most recent checkpoints
// for a workflow, deleting older records and their blobs. Returns the
// number of checkpoints deleted.
func (t *Tracker) CleanupCheckpoints(ctx context.Context, workflowID string, keepLatest int) (int, error) {
	if keepLatest < 0 {
		return 0, fmt.Errorf("%w: keep count must be non-negative, got %d", storage.ErrInvalidInput, keepLatest)
	}

	checkpoints, err := t.checkpoints.ListCheckpoints(ctx, storage.CheckpointFilter{WorkflowID: workflowID})
	if err != nil {
		return 0, err
	}
	if len(checkpoints) <= keepLatest {
		return 0, nil
	}

	deleted := 0
	for _, checkpoint := range checkpoints[keepLatest:] {
		if err := t.checkpoints.DeleteCheckpoint(ctx, checkpoint.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return deleted, fmt.Errorf("failed to delete checkpoint %s: %w", checkpoint.ID, err)
		}
		if checkpoint.HasBinaryState {
			if err := t.blobs.DeleteBlob(checkpoint.ID); err != nil {
				return deleted, fmt.Errorf("failed to delete blob for checkpoint %s: %w", checkpoint.ID, err)
			}
		}
		deleted++
	}

	if deleted > 0 {
		t.logger.Info("checkpoints cleaned up",
			zap.String("workflow_id", workflowID),
			zap.Int("deleted", deleted),
			zap.Int("kept", keepLatest))
	}
	return deleted, nil
}

// SweepOrphanBlobs deletes blobs whose checkpoint record never landed
// (a crash between the blob write and the record write). Returns the
// number of blobs removed.
func (t *Tracker) SweepOrphanBlobs(ctx context.Context) (int, error) {
	keys, err := t.blobs.BlobKeys()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		_, err := t.checkpoints.GetCheckpoint(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return removed, err
		}
		if err := t.blobs.DeleteBlob(key); err != nil {
			return removed, err
		}
		removed++
		t.logger.Warn("removed orphan blob", zap.String("checkpoint_id", key))
	}
	return removed, nil
}

// GetWorkflowStatus reports a workflow's current state: active (from
// memory, with live progress), completed or suspended (from the latest
// checkpoint), or not_started when nothing is known about it.
func (t *Tracker) GetWorkflowStatus(ctx context.Context, workflowID string) (*Status, error) {
	t.mu.Lock()
	if state, ok := t.active[workflowID]; ok {
		status := &Status{
			WorkflowID:       workflowID,
			WorkflowType:     state.WorkflowType,
			Status:           types.WorkflowActive,
			CurrentStep:      state.CurrentStep,
			TotalSteps:       state.TotalSteps,
			Progress:         state.progress(),
			FailedOperations: sortedSet(state.FailedOperations),
			Metadata:         state.Metadata,
		}
		t.mu.Unlock()
		return status, nil
	}
	t.mu.Unlock()

	checkpoint, err := t.checkpoints.GetLatestCheckpoint(ctx, workflowID)
	if errors.Is(err, storage.ErrNotFound) {
		return &Status{WorkflowID: workflowID, Status: types.WorkflowNotStarted}, nil
	}
	if err != nil {
		return nil, err
	}

	status := &Status{
		WorkflowID:       workflowID,
		WorkflowType:     checkpoint.WorkflowType,
		CurrentStep:      checkpoint.StepNumber,
		TotalSteps:       checkpoint.TotalSteps,
		Progress:         checkpoint.Progress(),
		FailedOperations: checkpoint.FailedOperations,
		LastCheckpointID: checkpoint.ID,
		LastCheckpointAt: checkpoint.CreatedAt,
		Metadata:         checkpoint.Metadata,
	}
	if checkpoint.IsTerminal() {
		status.Status = types.WorkflowCompleted
	} else {
		status.Status = types.WorkflowSuspended
	}
	return status, nil
}

// activeStateLocked returns the in-memory state for an active workflow.
// Callers must hold t.mu.
func (t *Tracker) activeStateLocked(workflowID string) (*State, error) {
	state, ok := t.active[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s is not active", storage.ErrNotFound, workflowID)
	}
	return state, nil
}

// writeCheckpointLocked persists a snapshot of the state. The binary blob
// goes first, then the structured record referencing it: a crash between
// the two leaves an orphan blob (cleaned by SweepOrphanBlobs) rather than
// a record pointing at a missing blob. Callers must hold t.mu.
func (t *Tracker) writeCheckpointLocked(ctx context.Context, state *State, reason string) (*types.WorkflowCheckpoint, error) {
	checkpoint := state.snapshot()
	checkpoint.ID = "chk:" + uuid.New().String()
	checkpoint.CreatedAt = time.Now().UTC()
	checkpoint.Confidence = 1.0
	checkpoint.QualityTier = types.TierForConfidence(checkpoint.Confidence)
	checkpoint.Evidence = []string{reason}
	checkpoint.Metadata = map[string]interface{}{
		"duration_seconds": time.Since(state.StartedAt).Seconds(),
		"operation_count":  state.operationCount,
	}
	for key, value := range state.Metadata {
		checkpoint.Metadata[key] = value
	}
	if len(state.FailedOperations) > 0 {
		checkpoint.Warnings = append(checkpoint.Warnings,
			fmt.Sprintf("%d failed operation(s) recorded", len(state.FailedOperations)))
	}

	if checkpoint.HasBinaryState {
		if err := t.blobs.PutBlob(checkpoint.ID, state.BinaryState); err != nil {
			return nil, fmt.Errorf("failed to write binary state: %w", err)
		}
	}

	if err := t.checkpoints.StoreCheckpoint(ctx, checkpoint); err != nil {
		if checkpoint.HasBinaryState {
			_ = t.blobs.DeleteBlob(checkpoint.ID)
		}
		return nil, fmt.Errorf("failed to store checkpoint: %w", err)
	}

	t.notify(EventCheckpoint, state.WorkflowID)
	return checkpoint, nil
}

func (t *Tracker) notify(eventType, workflowID string) {
	if t.events == nil {
		return
	}
	if err := t.events.Notify(eventType, workflowID); err != nil {
		t.logger.Warn("event notification failed",
			zap.String("event", eventType),
			zap.String("workflow_id", workflowID),
			zap.Error(err))
	}
}
