// Package graph provides a Neo4j implementation of the identity storage
// interfaces. Surface forms, mentions, and entities become nodes; mention
// provenance becomes DERIVED_FROM relationships. Attribute maps are stored
// as JSON string properties because Neo4j properties cannot hold nested
// maps.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/pkg/types"
)

// Repository handles all Neo4j database operations for the identity stores.
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a graph repository over an existing driver.
func NewRepository(driver neo4j.DriverWithContext, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{driver: driver, logger: logger}
}

// Connect opens a Neo4j driver, verifies connectivity, and ensures the
// uniqueness constraints the repository relies on.
func Connect(ctx context.Context, uri, user, password string, logger *zap.Logger) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: failed to create driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph: failed to connect to %s: %w", uri, err)
	}

	r := NewRepository(driver, logger)
	if err := r.ensureConstraints(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return r, nil
}

// Close closes the Neo4j driver connection.
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

func (r *Repository) ensureConstraints(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	constraints := []string{
		"CREATE CONSTRAINT surface_form_id IF NOT EXISTS FOR (sf:SurfaceForm) REQUIRE sf.id IS UNIQUE",
		"CREATE CONSTRAINT mention_id IF NOT EXISTS FOR (m:Mention) REQUIRE m.id IS UNIQUE",
		"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
	}
	for _, c := range constraints {
		if _, err := session.Run(ctx, c, nil); err != nil {
			return fmt.Errorf("graph: failed to create constraint: %w", err)
		}
	}
	return nil
}

// StoreSurfaceForm creates or updates a surface form node.
func (r *Repository) StoreSurfaceForm(ctx context.Context, sf *types.SurfaceForm) error {
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

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (sf:SurfaceForm {id: $id})
		SET sf.text = $text,
		    sf.normalized_text = $normalized,
		    sf.context = $context,
		    sf.chunk_id = $chunkID,
		    sf.start_offset = $startOffset,
		    sf.end_offset = $endOffset,
		    sf.confidence = $confidence,
		    sf.quality_tier = $qualityTier,
		    sf.warnings = $warnings,
		    sf.created_at = $createdAt
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":          sf.ID,
		"text":        sf.Text,
		"normalized":  sf.NormalizedText,
		"context":     sf.Context,
		"chunkID":     sf.ChunkID,
		"startOffset": sf.StartOffset,
		"endOffset":   sf.EndOffset,
		"confidence":  sf.Confidence,
		"qualityTier": sf.QualityTier,
		"warnings":    stringList(sf.Warnings),
		"createdAt":   sf.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("graph: failed to store surface form: %w", err)
	}
	return nil
}

// GetSurfaceForm retrieves a surface form by id.
func (r *Repository) GetSurfaceForm(ctx context.Context, id string) (*types.SurfaceForm, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (sf:SurfaceForm {id: $id}) RETURN sf", map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("graph: failed to query surface form: %w", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("graph: failed to fetch record: %w", err)
		}
		return nil, storage.ErrNotFound
	}
	return surfaceFormFromRecord(result.Record(), "sf")
}

// GetSurfaceFormsByNormalizedText retrieves all surface forms sharing a
// normalized text key, oldest first.
func (r *Repository) GetSurfaceFormsByNormalizedText(ctx context.Context, normalized string) ([]*types.SurfaceForm, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (sf:SurfaceForm {normalized_text: $normalized})
		RETURN sf ORDER BY sf.created_at ASC, sf.id ASC
	`, map[string]interface{}{"normalized": normalized})
	if err != nil {
		return nil, fmt.Errorf("graph: failed to query surface forms: %w", err)
	}

	forms := []*types.SurfaceForm{}
	for result.Next(ctx) {
		sf, err := surfaceFormFromRecord(result.Record(), "sf")
		if err != nil {
			return nil, err
		}
		forms = append(forms, sf)
	}
	return forms, result.Err()
}

// StoreMention creates or updates a mention node and its DERIVED_FROM
// relationship to the surface form. The surface form must exist.
func (r *Repository) StoreMention(ctx context.Context, mention *types.Mention) error {
	if mention == nil {
		return storage.ErrInvalidInput
	}
	if mention.ID == "" {
		return fmt.Errorf("%w: mention ID is required", storage.ErrInvalidInput)
	}
	if mention.SurfaceFormID == "" {
		return fmt.Errorf("%w: mention surface form ID is required", storage.ErrInvalidInput)
	}

	attributesJSON, err := marshalMap(mention.Attributes)
	if err != nil {
		return fmt.Errorf("graph: failed to marshal attributes: %w", err)
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (sf:SurfaceForm {id: $surfaceFormID})
		MERGE (m:Mention {id: $id})
		SET m.surface_form_id = $surfaceFormID,
		    m.mention_type = $mentionType,
		    m.attributes = $attributes,
		    m.entity_id = $entityID,
		    m.confidence = $confidence,
		    m.quality_tier = $qualityTier,
		    m.evidence = $evidence,
		    m.warnings = $warnings,
		    m.created_at = $createdAt,
		    m.updated_at = $updatedAt
		MERGE (m)-[:DERIVED_FROM]->(sf)
		RETURN m.id as id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"id":            mention.ID,
		"surfaceFormID": mention.SurfaceFormID,
		"mentionType":   mention.MentionType,
		"attributes":    attributesJSON,
		"entityID":      mention.EntityID,
		"confidence":    mention.Confidence,
		"qualityTier":   mention.QualityTier,
		"evidence":      stringList(mention.Evidence),
		"warnings":      stringList(mention.Warnings),
		"createdAt":     mention.CreatedAt,
		"updatedAt":     mention.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("graph: failed to store mention: %w", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return fmt.Errorf("graph: failed to fetch record: %w", err)
		}
		// MATCH found no surface form, so the MERGE never ran.
		return fmt.Errorf("surface form %s: %w", mention.SurfaceFormID, storage.ErrNotFound)
	}
	return nil
}

// GetMention retrieves a mention by id.
func (r *Repository) GetMention(ctx context.Context, id string) (*types.Mention, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (m:Mention {id: $id}) RETURN m", map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("graph: failed to query mention: %w", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("graph: failed to fetch record: %w", err)
		}
		return nil, storage.ErrNotFound
	}
	return mentionFromRecord(result.Record(), "m")
}

// GetMentionsBySurfaceForm retrieves all mentions derived from a surface
// form, oldest first.
func (r *Repository) GetMentionsBySurfaceForm(ctx context.Context, surfaceFormID string) ([]*types.Mention, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (m:Mention)-[:DERIVED_FROM]->(sf:SurfaceForm {id: $surfaceFormID})
		RETURN m ORDER BY m.created_at ASC, m.id ASC
	`, map[string]interface{}{"surfaceFormID": surfaceFormID})
	if err != nil {
		return nil, fmt.Errorf("graph: failed to query mentions: %w", err)
	}

	mentions := []*types.Mention{}
	for result.Next(ctx) {
		mention, err := mentionFromRecord(result.Record(), "m")
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, mention)
	}
	return mentions, result.Err()
}

// StoreEntity creates or updates an entity node. Surface-form variants are
// stored twice: the raw texts for display and the normalized texts for
// lookup.
func (r *Repository) StoreEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if entity.Name == "" {
		return fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	attributesJSON, err := marshalMap(entity.Attributes)
	if err != nil {
		return fmt.Errorf("graph: failed to marshal attributes: %w", err)
	}

	normalized := make([]string, 0, len(entity.SurfaceForms))
	for _, variant := range entity.SurfaceForms {
		if n := types.NormalizeSurfaceText(variant); n != "" {
			normalized = append(normalized, n)
		}
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (e:Entity {id: $id})
		SET e.name = $name,
		    e.canonical_name = $canonicalName,
		    e.entity_type = $entityType,
		    e.attributes = $attributes,
		    e.surface_forms = $surfaceForms,
		    e.normalized_forms = $normalizedForms,
		    e.mention_refs = $mentionRefs,
		    e.confidence = $confidence,
		    e.quality_tier = $qualityTier,
		    e.warnings = $warnings,
		    e.created_at = $createdAt,
		    e.updated_at = $updatedAt
	`

	_, err = session.Run(ctx, query, map[string]interface{}{
		"id":              entity.ID,
		"name":            entity.Name,
		"canonicalName":   entity.CanonicalName,
		"entityType":      entity.EntityType,
		"attributes":      attributesJSON,
		"surfaceForms":    stringList(entity.SurfaceForms),
		"normalizedForms": normalized,
		"mentionRefs":     stringList(entity.MentionRefs),
		"confidence":      entity.Confidence,
		"qualityTier":     entity.QualityTier,
		"warnings":        stringList(entity.Warnings),
		"createdAt":       entity.CreatedAt,
		"updatedAt":       entity.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("graph: failed to store entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity by id.
func (r *Repository) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (e:Entity {id: $id}) RETURN e", map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("graph: failed to query entity: %w", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("graph: failed to fetch record: %w", err)
		}
		return nil, storage.ErrNotFound
	}
	return entityFromRecord(result.Record(), "e")
}

// DeleteEntity removes an entity node and its relationships.
func (r *Repository) DeleteEntity(ctx context.Context, id string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {id: $id})
		WITH e, e.id as deleted
		DETACH DELETE e
		RETURN deleted
	`, map[string]interface{}{"id": id})
	if err != nil {
		return fmt.Errorf("graph: failed to delete entity: %w", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return fmt.Errorf("graph: failed to fetch record: %w", err)
		}
		return storage.ErrNotFound
	}
	return nil
}

// GetEntitiesBySurfaceFormText retrieves all entities registered under a
// normalized surface-form text key.
func (r *Repository) GetEntitiesBySurfaceFormText(ctx context.Context, normalized string) ([]*types.Entity, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity)
		WHERE $normalized IN e.normalized_forms
		RETURN e ORDER BY e.id ASC
	`, map[string]interface{}{"normalized": normalized})
	if err != nil {
		return nil, fmt.Errorf("graph: failed to query entities: %w", err)
	}

	entities := []*types.Entity{}
	for result.Next(ctx) {
		entity, err := entityFromRecord(result.Record(), "e")
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, result.Err()
}

// marshalMap serialises an attribute map to a JSON string property.
// Empty maps become empty strings so absent attributes round-trip as nil.
func marshalMap(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// stringList converts a possibly nil slice into a value the driver can
// store as a list property.
func stringList(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func surfaceFormFromRecord(record *neo4j.Record, key string) (*types.SurfaceForm, error) {
	props, err := nodeProps(record, key)
	if err != nil {
		return nil, err
	}
	return &types.SurfaceForm{
		ID:             getString(props, "id"),
		Text:           getString(props, "text"),
		NormalizedText: getString(props, "normalized_text"),
		Context:        getString(props, "context"),
		ChunkID:        getString(props, "chunk_id"),
		StartOffset:    getInt(props, "start_offset"),
		EndOffset:      getInt(props, "end_offset"),
		Confidence:     getFloat64(props, "confidence"),
		QualityTier:    getString(props, "quality_tier"),
		Warnings:       getStringSlice(props, "warnings"),
		CreatedAt:      getTime(props, "created_at"),
	}, nil
}

func mentionFromRecord(record *neo4j.Record, key string) (*types.Mention, error) {
	props, err := nodeProps(record, key)
	if err != nil {
		return nil, err
	}
	mention := &types.Mention{
		ID:            getString(props, "id"),
		SurfaceFormID: getString(props, "surface_form_id"),
		MentionType:   getString(props, "mention_type"),
		EntityID:      getString(props, "entity_id"),
		Confidence:    getFloat64(props, "confidence"),
		QualityTier:   getString(props, "quality_tier"),
		Evidence:      getStringSlice(props, "evidence"),
		Warnings:      getStringSlice(props, "warnings"),
		CreatedAt:     getTime(props, "created_at"),
		UpdatedAt:     getTime(props, "updated_at"),
	}
	if err := unmarshalMap(getString(props, "attributes"), &mention.Attributes); err != nil {
		return nil, fmt.Errorf("graph: failed to unmarshal attributes: %w", err)
	}
	return mention, nil
}

func entityFromRecord(record *neo4j.Record, key string) (*types.Entity, error) {
	props, err := nodeProps(record, key)
	if err != nil {
		return nil, err
	}
	entity := &types.Entity{
		ID:            getString(props, "id"),
		Name:          getString(props, "name"),
		CanonicalName: getString(props, "canonical_name"),
		EntityType:    getString(props, "entity_type"),
		SurfaceForms:  getStringSlice(props, "surface_forms"),
		MentionRefs:   getStringSlice(props, "mention_refs"),
		Confidence:    getFloat64(props, "confidence"),
		QualityTier:   getString(props, "quality_tier"),
		Warnings:      getStringSlice(props, "warnings"),
		CreatedAt:     getTime(props, "created_at"),
		UpdatedAt:     getTime(props, "updated_at"),
	}
	if err := unmarshalMap(getString(props, "attributes"), &entity.Attributes); err != nil {
		return nil, fmt.Errorf("graph: failed to unmarshal attributes: %w", err)
	}
	return entity, nil
}

func unmarshalMap(data string, dst *map[string]interface{}) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), dst)
}

func nodeProps(record *neo4j.Record, key string) (map[string]interface{}, error) {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil, fmt.Errorf("graph: record missing node %q", key)
	}
	node, ok := val.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("graph: record value %q is not a node", key)
	}
	return node.Props, nil
}

func getString(props map[string]interface{}, key string) string {
	if str, ok := props[key].(string); ok {
		return str
	}
	return ""
}

func getInt(props map[string]interface{}, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func getFloat64(props map[string]interface{}, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0.0
}

func getStringSlice(props map[string]interface{}, key string) []string {
	val, ok := props[key].([]interface{})
	if !ok {
		return nil
	}
	result := make([]string, 0, len(val))
	for _, v := range val {
		if str, ok := v.(string); ok {
			result = append(result, str)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func getTime(props map[string]interface{}, key string) time.Time {
	if t, ok := props[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}
