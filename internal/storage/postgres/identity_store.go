package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/pkg/types"
)

// StoreSurfaceForm creates or updates a surface form (upsert semantics).
func (s *Store) StoreSurfaceForm(ctx context.Context, sf *types.SurfaceForm) error {
	if sf == nil {
		return storage.ErrInvalidInput
	}
	if sf.ID == "" {
		return fmt.Errorf("%w: surface form ID is required", storage.ErrInvalidInput)
	}
	if sf.Text == "" {
		return fmt.Errorf("%w: surface form text is required", storage.ErrInvalidInput)
	}

	if sf.NormalizedText == "" {
		sf.NormalizedText = types.NormalizeSurfaceText(sf.Text)
	}

	warningsJSON, err := marshalJSON(sf.Warnings)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal warnings: %w", err)
	}

	query := `
		INSERT INTO surface_forms (
			id, text, normalized_text, context, chunk_id,
			start_offset, end_offset, confidence, quality_tier, warnings, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			quality_tier = EXCLUDED.quality_tier,
			warnings = EXCLUDED.warnings
	`

	_, err = s.execContext(ctx, query,
		sf.ID, sf.Text, sf.NormalizedText, sf.Context, sf.ChunkID,
		sf.StartOffset, sf.EndOffset, sf.Confidence, sf.QualityTier,
		warningsJSON, sf.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to store surface form: %w", err)
	}
	return nil
}

// GetSurfaceForm retrieves a surface form by id.
func (s *Store) GetSurfaceForm(ctx context.Context, id string) (*types.SurfaceForm, error) {
	query := `
		SELECT id, text, normalized_text, context, chunk_id,
		       start_offset, end_offset, confidence, quality_tier, warnings, created_at
		FROM surface_forms WHERE id = $1
	`

	sf := &types.SurfaceForm{}
	var spanContext, chunkID, qualityTier, warningsJSON sql.NullString

	err := s.queryRowScan(ctx, query, []interface{}{id}, func(row *sql.Row) error {
		return row.Scan(
			&sf.ID, &sf.Text, &sf.NormalizedText, &spanContext, &chunkID,
			&sf.StartOffset, &sf.EndOffset, &sf.Confidence, &qualityTier,
			&warningsJSON, &sf.CreatedAt,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get surface form: %w", err)
	}

	sf.Context = spanContext.String
	sf.ChunkID = chunkID.String
	sf.QualityTier = qualityTier.String
	if err := unmarshalJSON(warningsJSON, &sf.Warnings); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal warnings: %w", err)
	}
	return sf, nil
}

// GetSurfaceFormsByNormalizedText retrieves all surface forms sharing a
// normalized text key, oldest first.
func (s *Store) GetSurfaceFormsByNormalizedText(ctx context.Context, normalized string) ([]*types.SurfaceForm, error) {
	query := `
		SELECT id, text, normalized_text, context, chunk_id,
		       start_offset, end_offset, confidence, quality_tier, warnings, created_at
		FROM surface_forms WHERE normalized_text = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.queryContext(ctx, query, normalized)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query surface forms: %w", err)
	}
	defer rows.Close()

	forms := []*types.SurfaceForm{}
	for rows.Next() {
		sf := &types.SurfaceForm{}
		var spanContext, chunkID, qualityTier, warningsJSON sql.NullString
		if err := rows.Scan(
			&sf.ID, &sf.Text, &sf.NormalizedText, &spanContext, &chunkID,
			&sf.StartOffset, &sf.EndOffset, &sf.Confidence, &qualityTier,
			&warningsJSON, &sf.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan surface form: %w", err)
		}
		sf.Context = spanContext.String
		sf.ChunkID = chunkID.String
		sf.QualityTier = qualityTier.String
		if err := unmarshalJSON(warningsJSON, &sf.Warnings); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal warnings: %w", err)
		}
		forms = append(forms, sf)
	}
	return forms, rows.Err()
}

// StoreMention creates or updates a mention (upsert semantics). The
// referenced surface form must exist.
func (s *Store) StoreMention(ctx context.Context, mention *types.Mention) error {
	if mention == nil {
		return storage.ErrInvalidInput
	}
	if mention.ID == "" {
		return fmt.Errorf("%w: mention ID is required", storage.ErrInvalidInput)
	}
	if mention.SurfaceFormID == "" {
		return fmt.Errorf("%w: mention surface form ID is required", storage.ErrInvalidInput)
	}

	var exists int
	err := s.queryRowScan(ctx,
		"SELECT 1 FROM surface_forms WHERE id = $1",
		[]interface{}{mention.SurfaceFormID},
		func(row *sql.Row) error { return row.Scan(&exists) },
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("surface form %s: %w", mention.SurfaceFormID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to check surface form: %w", err)
	}

	attributesJSON, err := marshalJSON(mention.Attributes)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal attributes: %w", err)
	}
	evidenceJSON, err := marshalJSON(mention.Evidence)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal evidence: %w", err)
	}
	warningsJSON, err := marshalJSON(mention.Warnings)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal warnings: %w", err)
	}

	query := `
		INSERT INTO mentions (
			id, surface_form_id, mention_type, attributes, entity_id,
			confidence, quality_tier, evidence, warnings, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			mention_type = EXCLUDED.mention_type,
			attributes = EXCLUDED.attributes,
			entity_id = EXCLUDED.entity_id,
			confidence = EXCLUDED.confidence,
			quality_tier = EXCLUDED.quality_tier,
			evidence = EXCLUDED.evidence,
			warnings = EXCLUDED.warnings,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.execContext(ctx, query,
		mention.ID, mention.SurfaceFormID, mention.MentionType, attributesJSON,
		nullString(mention.EntityID), mention.Confidence, mention.QualityTier,
		evidenceJSON, warningsJSON, mention.CreatedAt, mention.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to store mention: %w", err)
	}
	return nil
}

// GetMention retrieves a mention by id.
func (s *Store) GetMention(ctx context.Context, id string) (*types.Mention, error) {
	query := `
		SELECT id, surface_form_id, mention_type, attributes, entity_id,
		       confidence, quality_tier, evidence, warnings, created_at, updated_at
		FROM mentions WHERE id = $1
	`

	var mention *types.Mention
	err := s.queryRowScan(ctx, query, []interface{}{id}, func(row *sql.Row) error {
		var scanErr error
		mention, scanErr = scanMention(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get mention: %w", err)
	}
	return mention, nil
}

// GetMentionsBySurfaceForm retrieves all mentions derived from a surface
// form, oldest first.
func (s *Store) GetMentionsBySurfaceForm(ctx context.Context, surfaceFormID string) ([]*types.Mention, error) {
	query := `
		SELECT id, surface_form_id, mention_type, attributes, entity_id,
		       confidence, quality_tier, evidence, warnings, created_at, updated_at
		FROM mentions WHERE surface_form_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.queryContext(ctx, query, surfaceFormID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query mentions: %w", err)
	}
	defer rows.Close()

	mentions := []*types.Mention{}
	for rows.Next() {
		mention, err := scanMention(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan mention: %w", err)
		}
		mentions = append(mentions, mention)
	}
	return mentions, rows.Err()
}

// StoreEntity creates or updates an entity and rebuilds its variant index
// rows in the same transaction.
func (s *Store) StoreEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if entity.Name == "" {
		return fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	attributesJSON, err := marshalJSON(entity.Attributes)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal attributes: %w", err)
	}
	mentionRefsJSON, err := marshalJSON(entity.MentionRefs)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal mention refs: %w", err)
	}
	warningsJSON, err := marshalJSON(entity.Warnings)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal warnings: %w", err)
	}

	_, err = s.breaker.execute(ctx, func() (interface{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		query := `
			INSERT INTO entities (
				id, name, canonical_name, entity_type, attributes, mention_refs,
				confidence, quality_tier, warnings, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				canonical_name = EXCLUDED.canonical_name,
				entity_type = EXCLUDED.entity_type,
				attributes = EXCLUDED.attributes,
				mention_refs = EXCLUDED.mention_refs,
				confidence = EXCLUDED.confidence,
				quality_tier = EXCLUDED.quality_tier,
				warnings = EXCLUDED.warnings,
				updated_at = EXCLUDED.updated_at
		`

		if _, err := tx.ExecContext(ctx, query,
			entity.ID, entity.Name, entity.CanonicalName, entity.EntityType,
			attributesJSON, mentionRefsJSON, entity.Confidence, entity.QualityTier,
			warningsJSON, entity.CreatedAt, entity.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to store entity: %w", err)
		}

		// Rebuild the variant index from the entity's current surface forms.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM entity_surface_forms WHERE entity_id = $1", entity.ID,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to clear variant index: %w", err)
		}

		for _, variant := range entity.SurfaceForms {
			normalized := types.NormalizeSurfaceText(variant)
			if normalized == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entity_surface_forms (entity_id, normalized_text, text)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (entity_id, normalized_text) DO UPDATE SET text = EXCLUDED.text`,
				entity.ID, normalized, variant,
			); err != nil {
				return nil, fmt.Errorf("postgres: failed to index variant %q: %w", variant, err)
			}
		}

		return nil, tx.Commit()
	})
	return err
}

// GetEntity retrieves an entity by id, including its surface-form variants.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	query := `
		SELECT id, name, canonical_name, entity_type, attributes, mention_refs,
		       confidence, quality_tier, warnings, created_at, updated_at
		FROM entities WHERE id = $1
	`

	var entity *types.Entity
	err := s.queryRowScan(ctx, query, []interface{}{id}, func(row *sql.Row) error {
		var scanErr error
		entity, scanErr = scanEntity(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get entity: %w", err)
	}

	if err := s.loadEntityVariants(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// DeleteEntity removes an entity; the variant index rows cascade.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	result, err := s.execContext(ctx, "DELETE FROM entities WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete entity: %w", err)
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

// GetEntitiesBySurfaceFormText retrieves all entities registered under a
// normalized surface-form text key.
func (s *Store) GetEntitiesBySurfaceFormText(ctx context.Context, normalized string) ([]*types.Entity, error) {
	query := `
		SELECT DISTINCT e.id, e.name, e.canonical_name, e.entity_type, e.attributes,
		       e.mention_refs, e.confidence, e.quality_tier, e.warnings,
		       e.created_at, e.updated_at
		FROM entities e
		JOIN entity_surface_forms esf ON esf.entity_id = e.id
		WHERE esf.normalized_text = $1
	`

	rows, err := s.queryContext(ctx, query, normalized)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query entities: %w", err)
	}
	defer rows.Close()

	entities := []*types.Entity{}
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, entity := range entities {
		if err := s.loadEntityVariants(ctx, entity); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// loadEntityVariants populates entity.SurfaceForms from the variant index.
func (s *Store) loadEntityVariants(ctx context.Context, entity *types.Entity) error {
	rows, err := s.queryContext(ctx,
		"SELECT text FROM entity_surface_forms WHERE entity_id = $1 ORDER BY normalized_text ASC",
		entity.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to load entity variants: %w", err)
	}
	defer rows.Close()

	entity.SurfaceForms = nil
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return fmt.Errorf("postgres: failed to scan variant: %w", err)
		}
		entity.SurfaceForms = append(entity.SurfaceForms, text)
	}
	return rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMention(row scanner) (*types.Mention, error) {
	mention := &types.Mention{}
	var attributesJSON, entityID, qualityTier, evidenceJSON, warningsJSON sql.NullString

	err := row.Scan(
		&mention.ID, &mention.SurfaceFormID, &mention.MentionType, &attributesJSON,
		&entityID, &mention.Confidence, &qualityTier, &evidenceJSON, &warningsJSON,
		&mention.CreatedAt, &mention.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	mention.EntityID = entityID.String
	mention.QualityTier = qualityTier.String
	if err := unmarshalJSON(attributesJSON, &mention.Attributes); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal attributes: %w", err)
	}
	if err := unmarshalJSON(evidenceJSON, &mention.Evidence); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal evidence: %w", err)
	}
	if err := unmarshalJSON(warningsJSON, &mention.Warnings); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal warnings: %w", err)
	}
	return mention, nil
}

func scanEntity(row scanner) (*types.Entity, error) {
	entity := &types.Entity{}
	var entityType, attributesJSON, mentionRefsJSON, qualityTier, warningsJSON sql.NullString

	err := row.Scan(
		&entity.ID, &entity.Name, &entity.CanonicalName, &entityType,
		&attributesJSON, &mentionRefsJSON, &entity.Confidence, &qualityTier,
		&warningsJSON, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entity.EntityType = entityType.String
	entity.QualityTier = qualityTier.String
	if err := unmarshalJSON(attributesJSON, &entity.Attributes); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal attributes: %w", err)
	}
	if err := unmarshalJSON(mentionRefsJSON, &entity.MentionRefs); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal mention refs: %w", err)
	}
	if err := unmarshalJSON(warningsJSON, &entity.Warnings); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal warnings: %w", err)
	}
	return entity, nil
}
