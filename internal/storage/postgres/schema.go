// Package postgres provides PostgreSQL implementations of the identity and
// checkpoint storage interfaces.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. All statements are idempotent (IF NOT EXISTS) so the schema
// can be reapplied on every startup.
//
// The seq BIGSERIAL columns provide a deterministic insertion-order
// tiebreak for rows created in the same instant.
const Schema = `
-- Surface forms: raw text spans observed in documents
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
    warnings JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_surface_forms_normalized
    ON surface_forms(normalized_text);

-- Mentions: typed references derived from surface forms
CREATE TABLE IF NOT EXISTS mentions (
    id TEXT PRIMARY KEY,
    surface_form_id TEXT NOT NULL REFERENCES surface_forms(id),
    mention_type TEXT,
    attributes JSONB,
    entity_id TEXT,
    confidence REAL NOT NULL DEFAULT 1.0,
    quality_tier TEXT,
    evidence JSONB,
    warnings JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_mentions_surface_form
    ON mentions(surface_form_id);
CREATE INDEX IF NOT EXISTS idx_mentions_entity
    ON mentions(entity_id);

-- Entities: resolved identities
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    canonical_name TEXT,
    entity_type TEXT,
    attributes JSONB,
    mention_refs JSONB,
    confidence REAL NOT NULL DEFAULT 1.0,
    quality_tier TEXT,
    warnings JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Variant index: normalized surface texts registered to each entity
CREATE TABLE IF NOT EXISTS entity_surface_forms (
    entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    normalized_text TEXT NOT NULL,
    text TEXT NOT NULL,
    PRIMARY KEY (entity_id, normalized_text)
);

CREATE INDEX IF NOT EXISTS idx_entity_surface_forms_text
    ON entity_surface_forms(normalized_text);

-- Workflow checkpoints
CREATE TABLE IF NOT EXISTS workflow_checkpoints (
    id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    workflow_type TEXT,
    step_number INTEGER NOT NULL DEFAULT 0,
    total_steps INTEGER NOT NULL DEFAULT 0,
    state_data JSONB,
    completed_operations JSONB,
    pending_operations JSONB,
    failed_operations JSONB,
    metadata JSONB,
    has_binary_state BOOLEAN NOT NULL DEFAULT FALSE,
    confidence REAL NOT NULL DEFAULT 1.0,
    quality_tier TEXT,
    warnings JSONB,
    evidence JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow
    ON workflow_checkpoints(workflow_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_checkpoints_type
    ON workflow_checkpoints(workflow_type);
`
