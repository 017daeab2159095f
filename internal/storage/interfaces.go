// Package storage provides composable storage interfaces for the KGAS
// identity and workflow subsystem.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Backends exist for
// SQLite (embedded, primary), PostgreSQL (remote deployments), and Neo4j
// (identity graph only); the binary side-channel blob store is a separate
// interface implemented over the filesystem.
package storage

import (
	"context"

	"github.com/BrianMills2718/kgas/pkg/types"
)

// SurfaceFormStore provides durable record-keeping for raw extraction spans.
type SurfaceFormStore interface {
	// StoreSurfaceForm creates or updates a surface form (upsert semantics).
	StoreSurfaceForm(ctx context.Context, sf *types.SurfaceForm) error

	// GetSurfaceForm retrieves a surface form by id.
	// Returns ErrNotFound if it doesn't exist.
	GetSurfaceForm(ctx context.Context, id string) (*types.SurfaceForm, error)

	// GetSurfaceFormsByNormalizedText retrieves all surface forms sharing a
	// normalized text key. Returns an empty slice (not an error) when none exist.
	GetSurfaceFormsByNormalizedText(ctx context.Context, normalized string) ([]*types.SurfaceForm, error)
}

// MentionStore provides durable record-keeping for typed occurrences.
// Mention creation enforces referential integrity against the surface-form
// table at the storage boundary: storing a mention whose surface form does
// not exist fails.
type MentionStore interface {
	// StoreMention creates or updates a mention (upsert semantics).
	// Fails if the referenced surface form does not exist.
	StoreMention(ctx context.Context, mention *types.Mention) error

	// GetMention retrieves a mention by id.
	// Returns ErrNotFound if it doesn't exist.
	GetMention(ctx context.Context, id string) (*types.Mention, error)

	// GetMentionsBySurfaceForm retrieves all mentions derived from a surface
	// form, recomputed on each call. Returns an empty slice when none exist.
	GetMentionsBySurfaceForm(ctx context.Context, surfaceFormID string) ([]*types.Mention, error)
}

// EntityStore provides durable record-keeping for canonical entities.
type EntityStore interface {
	// StoreEntity creates or updates an entity and its surface-form variant
	// index (upsert semantics).
	StoreEntity(ctx context.Context, entity *types.Entity) error

	// GetEntity retrieves an entity by id.
	// Returns ErrNotFound if it doesn't exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// DeleteEntity removes an entity and its variant index entries.
	// Returns ErrNotFound if it doesn't exist.
	DeleteEntity(ctx context.Context, id string) error

	// GetEntitiesBySurfaceFormText retrieves all entities registered under a
	// normalized surface-form text key, deduplicated by entity id.
	// Returns an empty slice when none exist.
	GetEntitiesBySurfaceFormText(ctx context.Context, normalized string) ([]*types.Entity, error)
}

// IdentityStore composes the three identity-layer stores over a single
// backend connection.
type IdentityStore interface {
	SurfaceFormStore
	MentionStore
	EntityStore

	// Close releases any resources held by the store.
	Close() error
}

// CheckpointStore persists workflow checkpoints.
type CheckpointStore interface {
	// StoreCheckpoint persists a checkpoint record.
	StoreCheckpoint(ctx context.Context, checkpoint *types.WorkflowCheckpoint) error

	// GetCheckpoint retrieves a checkpoint by id.
	// Returns ErrNotFound if it doesn't exist.
	GetCheckpoint(ctx context.Context, id string) (*types.WorkflowCheckpoint, error)

	// GetLatestCheckpoint retrieves the most recent checkpoint for a workflow.
	// Returns ErrNotFound when the workflow has no checkpoints.
	GetLatestCheckpoint(ctx context.Context, workflowID string) (*types.WorkflowCheckpoint, error)

	// ListCheckpoints retrieves checkpoints matching the filter, newest first.
	ListCheckpoints(ctx context.Context, filter CheckpointFilter) ([]*types.WorkflowCheckpoint, error)

	// DeleteCheckpoint removes a checkpoint record.
	// Returns ErrNotFound if it doesn't exist.
	DeleteCheckpoint(ctx context.Context, id string) error

	// ListWorkflowIDs returns the distinct workflow ids with at least one
	// checkpoint. Used by maintenance sweeps.
	ListWorkflowIDs(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// BlobStore is the binary side-channel keyed by checkpoint id, used only
// when workflow state contains non-JSON-serializable payloads. Writes must
// be atomic: a partially written blob must never be observable.
type BlobStore interface {
	// PutBlob writes a blob under the given checkpoint id.
	PutBlob(key string, data []byte) error

	// GetBlob reads the blob for a checkpoint id.
	// Returns ErrNotFound if no blob exists.
	GetBlob(key string) ([]byte, error)

	// DeleteBlob removes the blob for a checkpoint id. Deleting a missing
	// blob is not an error.
	DeleteBlob(key string) error

	// BlobKeys lists all stored checkpoint ids. Used by orphan sweeps.
	BlobKeys() ([]string, error)
}
