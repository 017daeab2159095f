// Package sqlite provides SQLite implementations of the storage interfaces.
// This is the primary, embedded backend: surface forms, mentions, entities,
// and workflow checkpoints all live in a single database file.
package sqlite

// Schema contains the SQL statements to create the database schema.
// Mentions carry a foreign key to surface_forms so that referential
// integrity between the two layers is enforced at the storage boundary.
const Schema = `
-- Surface forms: raw text spans as they appeared in source chunks
CREATE TABLE IF NOT EXISTS surface_forms (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    normalized_text TEXT NOT NULL,
    context TEXT,
    chunk_id TEXT,
    start_offset INTEGER NOT NULL DEFAULT 0,
    end_offset INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 1.0,
    quality_tier TEXT,
    warnings TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_surface_forms_normalized ON surface_forms(normalized_text);
CREATE INDEX IF NOT EXISTS idx_surface_forms_chunk ON surface_forms(chunk_id);

-- Mentions: typed occurrences, each derived from exactly one surface form
CREATE TABLE IF NOT EXISTS mentions (
    id TEXT PRIMARY KEY,
    surface_form_id TEXT NOT NULL REFERENCES surface_forms(id),
    mention_type TEXT NOT NULL,
    attributes TEXT,
    entity_id TEXT,
    confidence REAL NOT NULL DEFAULT 1.0,
    quality_tier TEXT,
    evidence TEXT,
    warnings TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mentions_surface_form ON mentions(surface_form_id);
CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions(entity_id);

-- Entities: canonical resolved concepts
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    entity_type TEXT,
    attributes TEXT,
    mention_refs TEXT,
    confidence REAL NOT NULL DEFAULT 1.0,
    quality_tier TEXT,
    warnings TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

-- Variant index: normalized surface-form text -> entity, kept in lockstep
-- with entities.surface_forms on every StoreEntity/DeleteEntity
CREATE TABLE IF NOT EXISTS entity_surface_forms (
    entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    normalized_text TEXT NOT NULL,
    text TEXT NOT NULL,
    PRIMARY KEY (entity_id, normalized_text)
);

CREATE INDEX IF NOT EXISTS idx_entity_surface_forms_text ON entity_surface_forms(normalized_text);

-- Workflow checkpoints: point-in-time progress snapshots
CREATE TABLE IF NOT EXISTS workflow_checkpoints (
    id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    workflow_type TEXT NOT NULL,
    step_number INTEGER NOT NULL DEFAULT 0,
    total_steps INTEGER NOT NULL DEFAULT 0,
    state_data TEXT,
    completed_operations TEXT,
    pending_operations TEXT,
    failed_operations TEXT,
    metadata TEXT,
    has_binary_state INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 1.0,
    quality_tier TEXT,
    warnings TEXT,
    evidence TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow ON workflow_checkpoints(workflow_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_checkpoints_type ON workflow_checkpoints(workflow_type);
`
