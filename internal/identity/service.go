package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/pkg/types"
)

// Service owns identity resolution for one tenant: the backing stores plus
// an in-memory normalized-text cache. Caches are fields with the service's
// lifecycle, not process-wide globals, so independent instances (one per
// tenant, one per test) never share state. All mutating operations hold the
// service mutex; the source system assumed a single caller, so concurrent
// access here is serialized rather than undefined.
type Service struct {
	store  storage.IdentityStore
	logger *zap.Logger

	mu sync.Mutex

	// surfaceCache maps normalized text to surface-form ids.
	surfaceCache map[string][]string

	// entityCache maps normalized text to entity ids. Entries are pruned
	// on read when the underlying entity no longer exists, keeping every
	// reachable id consistent with the persisted store.
	entityCache map[string][]string
}

// EntityLink is the result of CreateOrLinkEntity.
type EntityLink struct {
	Entity     *types.Entity
	IsNew      bool
	Confidence float64
}

// NewService creates an identity service over the given store. A nil
// logger disables logging.
func NewService(store storage.IdentityStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		logger:       logger,
		surfaceCache: make(map[string][]string),
		entityCache:  make(map[string][]string),
	}
}

// CreateSurfaceForm records a raw text span from a source chunk and indexes
// it under its normalized text key.
func (s *Service) CreateSurfaceForm(ctx context.Context, text, spanContext string, chunkID string, startOffset, endOffset int, confidence float64) (*types.SurfaceForm, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: surface form text is required", storage.ErrInvalidInput)
	}
	if startOffset < 0 || endOffset < 0 {
		return nil, fmt.Errorf("%w: offsets must be non-negative", storage.ErrInvalidInput)
	}
	if startOffset > endOffset {
		return nil, fmt.Errorf("%w: start offset %d exceeds end offset %d", storage.ErrInvalidInput, startOffset, endOffset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sf := &types.SurfaceForm{
		ID:             "sf:" + uuid.New().String(),
		Text:           text,
		NormalizedText: types.NormalizeSurfaceText(text),
		Context:        spanContext,
		ChunkID:        chunkID,
		StartOffset:    startOffset,
		EndOffset:      endOffset,
		Confidence:     confidence,
		QualityTier:    types.TierForConfidence(confidence),
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.StoreSurfaceForm(ctx, sf); err != nil {
		return nil, err
	}

	s.surfaceCache[sf.NormalizedText] = append(s.surfaceCache[sf.NormalizedText], sf.ID)
	return sf, nil
}

// CreateMention records a typed occurrence of an existing surface form. The
// surface form must exist; orphaned mentions are rejected here rather than
// discovered later during resolution.
func (s *Service) CreateMention(ctx context.Context, surfaceFormID, mentionType string, attributes map[string]interface{}, confidence float64) (*types.Mention, error) {
	if mentionType == "" {
		return nil, fmt.Errorf("%w: mention type is required", storage.ErrInvalidInput)
	}

	if _, err := s.store.GetSurfaceForm(ctx, surfaceFormID); err != nil {
		return nil, fmt.Errorf("surface form %s: %w", surfaceFormID, err)
	}

	now := time.Now().UTC()
	mention := &types.Mention{
		ID:            "men:" + uuid.New().String(),
		SurfaceFormID: surfaceFormID,
		MentionType:   mentionType,
		Attributes:    attributes,
		Confidence:    confidence,
		QualityTier:   types.TierForConfidence(confidence),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.StoreMention(ctx, mention); err != nil {
		return nil, err
	}
	return mention, nil
}

// GetMentionsBySurfaceForm returns all mentions derived from a surface
// form, recomputed from the store on each call.
func (s *Service) GetMentionsBySurfaceForm(ctx context.Context, surfaceFormID string) ([]*types.Mention, error) {
	return s.store.GetMentionsBySurfaceForm(ctx, surfaceFormID)
}

// ResolveEntity decides which canonical entity a mention refers to using
// the given strategy. A nil resolution with nil error means no candidate
// entity shares the mention's surface form; the mention stays unresolved
// for a later pass. When the resolution's confidence clears the mutation
// threshold, the mention is updated in place: entity id set, confidence
// multiplied by the resolution confidence, evidence appended.
func (s *Service) ResolveEntity(ctx context.Context, mentionID string, method types.ResolutionMethod) (*types.IdentityResolution, error) {
	strat, err := strategyFor(method)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mention, err := s.store.GetMention(ctx, mentionID)
	if err != nil {
		return nil, fmt.Errorf("mention %s: %w", mentionID, err)
	}

	sf, err := s.store.GetSurfaceForm(ctx, mention.SurfaceFormID)
	if err != nil {
		return nil, fmt.Errorf("surface form %s: %w", mention.SurfaceFormID, err)
	}

	candidates, err := s.entitiesByNormalizedLocked(ctx, sf.NormalizedText)
	if err != nil {
		return nil, err
	}

	resolution := strat.resolve(sf.NormalizedText, candidates)
	if resolution == nil {
		s.logger.Debug("resolution found no candidates",
			zap.String("mention_id", mentionID),
			zap.String("normalized_text", sf.NormalizedText))
		return nil, nil
	}

	if resolution.Confidence <= resolutionThreshold {
		// Low-confidence decision: report it but leave the mention intact
		// for a later re-attempt.
		return resolution, nil
	}

	mention.EntityID = resolution.EntityID
	mention.Confidence *= resolution.Confidence
	mention.QualityTier = types.TierForConfidence(mention.Confidence)
	for _, evidence := range resolution.Evidence {
		mention.AddEvidence(evidence)
	}
	mention.UpdatedAt = time.Now().UTC()

	if err := s.store.StoreMention(ctx, mention); err != nil {
		return nil, fmt.Errorf("failed to update mention %s: %w", mentionID, err)
	}

	// Keep the entity's mention back-references current: merges walk them
	// to redirect mentions.
	entity, err := s.store.GetEntity(ctx, resolution.EntityID)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", resolution.EntityID, err)
	}
	entity.AddMentionRef(mention.ID)
	entity.AddSurfaceForm(sf.Text)
	entity.UpdatedAt = time.Now().UTC()
	if err := s.store.StoreEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to update entity %s: %w", entity.ID, err)
	}

	s.logger.Debug("mention resolved",
		zap.String("mention_id", mentionID),
		zap.String("entity_id", resolution.EntityID),
		zap.String("method", string(method)),
		zap.Bool("degraded", resolution.Degraded))

	return resolution, nil
}

// CreateOrLinkEntity is the convenience path for ingesting directly from
// text: existing entities matching the normalized surface text are linked;
// otherwise a fresh entity is created and indexed immediately so subsequent
// lookups see it.
func (s *Service) CreateOrLinkEntity(ctx context.Context, surfaceText, entityType string, attributes map[string]interface{}) (*EntityLink, error) {
	normalized := types.NormalizeSurfaceText(surfaceText)
	if normalized == "" {
		return nil, fmt.Errorf("%w: surface text is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.entitiesByNormalizedLocked(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 {
		sortByConfidence(existing)
		entity := existing[0]
		if !entity.HasSurfaceForm(surfaceText) {
			entity.AddSurfaceForm(surfaceText)
			entity.UpdatedAt = time.Now().UTC()
			if err := s.store.StoreEntity(ctx, entity); err != nil {
				return nil, fmt.Errorf("failed to update entity %s: %w", entity.ID, err)
			}
		}
		return &EntityLink{Entity: entity, IsNew: false, Confidence: exactMatchConfidence}, nil
	}

	now := time.Now().UTC()
	entity := &types.Entity{
		ID:            "ent:" + uuid.New().String(),
		Name:          surfaceText,
		CanonicalName: normalized,
		EntityType:    entityType,
		Attributes:    attributes,
		SurfaceForms:  []string{surfaceText},
		Confidence:    1.0,
		QualityTier:   types.TierForConfidence(1.0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.StoreEntity(ctx, entity); err != nil {
		return nil, err
	}

	s.entityCache[normalized] = append(s.entityCache[normalized], entity.ID)
	s.logger.Debug("entity created",
		zap.String("entity_id", entity.ID),
		zap.String("normalized_text", normalized))

	return &EntityLink{Entity: entity, IsNew: true, Confidence: 1.0}, nil
}

// MergeEntities absorbs entities into a single canonical record. The
// canonical entity is the explicitly requested one, or the highest-
// confidence input. Every mention of an absorbed entity is redirected to
// the canonical id, surface forms and mention refs are unioned, attributes
// merge first-writer-wins with the canonical's keys taking precedence and
// absorbed entities visited in id order, and the canonical's confidence
// becomes min(all inputs) times the merge penalty. Absorbed entities are
// deleted from the store. Precondition failures leave every entity
// untouched.
func (s *Service) MergeEntities(ctx context.Context, entityIDs []string, canonicalID string) (*types.Entity, error) {
	if len(entityIDs) < 2 {
		return nil, fmt.Errorf("%w: merge requires at least 2 entity ids, got %d", storage.ErrInvalidInput, len(entityIDs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Resolve the input ids, skipping ones that no longer exist.
	resolved := []*types.Entity{}
	seen := map[string]bool{}
	for _, id := range entityIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		entity, err := s.store.GetEntity(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", id, err)
		}
		resolved = append(resolved, entity)
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: none of the entities to merge exist", storage.ErrInvalidInput)
	}

	canonical, err := pickCanonical(resolved, canonicalID)
	if err != nil {
		return nil, err
	}

	// Absorbed entities sorted by id: attribute-merge outcomes must not
	// depend on the order the store returned them.
	absorbed := []*types.Entity{}
	for _, entity := range resolved {
		if entity.ID != canonical.ID {
			absorbed = append(absorbed, entity)
		}
	}
	sort.Slice(absorbed, func(i, j int) bool { return absorbed[i].ID < absorbed[j].ID })

	attributeMaps := []map[string]interface{}{canonical.Attributes}
	minConfidence := canonical.Confidence
	for _, entity := range absorbed {
		attributeMaps = append(attributeMaps, entity.Attributes)
		if entity.Confidence < minConfidence {
			minConfidence = entity.Confidence
		}
		for _, variant := range entity.SurfaceForms {
			canonical.AddSurfaceForm(variant)
		}
	}
	canonical.Attributes = MergeAttributes(attributeMaps...)

	// Redirect every mention of an absorbed entity to the canonical id.
	now := time.Now().UTC()
	for _, entity := range absorbed {
		for _, mentionID := range entity.MentionRefs {
			mention, err := s.store.GetMention(ctx, mentionID)
			if errors.Is(err, storage.ErrNotFound) {
				canonical.AddWarning(fmt.Sprintf("merge: mention %s referenced by %s not found", mentionID, entity.ID))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("mention %s: %w", mentionID, err)
			}
			mention.EntityID = canonical.ID
			mention.AddEvidence(fmt.Sprintf("redirected from %s to %s during merge", entity.ID, canonical.ID))
			mention.UpdatedAt = now
			if err := s.store.StoreMention(ctx, mention); err != nil {
				return nil, fmt.Errorf("failed to redirect mention %s: %w", mentionID, err)
			}
			canonical.AddMentionRef(mentionID)
		}
	}

	canonical.Confidence = minConfidence * MergePenalty
	canonical.QualityTier = types.TierForConfidence(canonical.Confidence)
	canonical.AddWarning(fmt.Sprintf("merged %d entities into %s", len(absorbed), canonical.ID))
	canonical.UpdatedAt = now

	if err := s.store.StoreEntity(ctx, canonical); err != nil {
		return nil, fmt.Errorf("failed to store canonical entity: %w", err)
	}

	for _, entity := range absorbed {
		if err := s.store.DeleteEntity(ctx, entity.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to delete absorbed entity %s: %w", entity.ID, err)
		}
		s.dropFromEntityCacheLocked(entity.ID)
	}

	// Re-index the canonical entity under every variant it now carries.
	for _, variant := range canonical.SurfaceForms {
		s.indexEntityLocked(types.NormalizeSurfaceText(variant), canonical.ID)
	}

	s.logger.Info("entities merged",
		zap.String("canonical_id", canonical.ID),
		zap.Int("absorbed", len(absorbed)),
		zap.Float64("confidence", canonical.Confidence))

	return canonical, nil
}

// GetEntitiesBySurfaceForm returns all entities registered under any
// variant of the given text, deduplicated by id and sorted by confidence
// descending.
func (s *Service) GetEntitiesBySurfaceForm(ctx context.Context, text string) ([]*types.Entity, error) {
	normalized := types.NormalizeSurfaceText(text)
	if normalized == "" {
		return nil, fmt.Errorf("%w: surface text is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entities, err := s.entitiesByNormalizedLocked(ctx, normalized)
	if err != nil {
		return nil, err
	}
	sortByConfidence(entities)
	return entities, nil
}

// entitiesByNormalizedLocked looks up entities for a normalized key: cache
// first, falling back to the store's variant index on a miss. Stale cache
// ids (entities deleted by a merge) are pruned as they are discovered.
// Callers must hold s.mu.
func (s *Service) entitiesByNormalizedLocked(ctx context.Context, normalized string) ([]*types.Entity, error) {
	if ids, hit := s.entityCache[normalized]; hit {
		entities := []*types.Entity{}
		live := ids[:0]
		for _, id := range ids {
			entity, err := s.store.GetEntity(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("entity %s: %w", id, err)
			}
			entities = append(entities, entity)
			live = append(live, id)
		}
		if len(live) == 0 {
			delete(s.entityCache, normalized)
		} else {
			s.entityCache[normalized] = live
		}
		if len(entities) > 0 {
			return dedupeByID(entities), nil
		}
		// Cache went fully stale: fall through to the store.
	}

	entities, err := s.store.GetEntitiesBySurfaceFormText(ctx, normalized)
	if err != nil {
		return nil, err
	}
	entities = dedupeByID(entities)
	for _, entity := range entities {
		s.indexEntityLocked(normalized, entity.ID)
	}
	return entities, nil
}

func (s *Service) indexEntityLocked(normalized, entityID string) {
	for _, id := range s.entityCache[normalized] {
		if id == entityID {
			return
		}
	}
	s.entityCache[normalized] = append(s.entityCache[normalized], entityID)
}

func (s *Service) dropFromEntityCacheLocked(entityID string) {
	for key, ids := range s.entityCache {
		kept := ids[:0]
		for _, id := range ids {
			if id != entityID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(s.entityCache, key)
		} else {
			s.entityCache[key] = kept
		}
	}
}

func pickCanonical(resolved []*types.Entity, canonicalID string) (*types.Entity, error) {
	if canonicalID != "" {
		for _, entity := range resolved {
			if entity.ID == canonicalID {
				return entity, nil
			}
		}
		return nil, fmt.Errorf("%w: canonical id %s is not among the entities to merge", storage.ErrInvalidInput, canonicalID)
	}

	canonical := resolved[0]
	for _, entity := range resolved[1:] {
		if entity.Confidence > canonical.Confidence ||
			(entity.Confidence == canonical.Confidence && entity.ID < canonical.ID) {
			canonical = entity
		}
	}
	return canonical, nil
}

func sortByConfidence(entities []*types.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Confidence != entities[j].Confidence {
			return entities[i].Confidence > entities[j].Confidence
		}
		return entities[i].ID < entities[j].ID
	})
}

func dedupeByID(entities []*types.Entity) []*types.Entity {
	seen := map[string]bool{}
	deduped := entities[:0]
	for _, entity := range entities {
		if seen[entity.ID] {
			continue
		}
		seen[entity.ID] = true
		deduped = append(deduped, entity)
	}
	return deduped
}
