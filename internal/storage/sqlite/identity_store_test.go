package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing. NewStore
// initialises the full Schema, so no additional DDL is required in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSurfaceForm(id, text string) *types.SurfaceForm {
	return &types.SurfaceForm{
		ID:             id,
		Text:           text,
		NormalizedText: types.NormalizeSurfaceText(text),
		ChunkID:        "chunk-1",
		StartOffset:    0,
		EndOffset:      len(text),
		Confidence:     0.9,
		QualityTier:    types.TierHigh,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func TestStoreAndGetSurfaceForm(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sf := testSurfaceForm("sf:test-1", "Apple Inc.")
	sf.Context = "Apple Inc. announced a new chip."
	sf.Warnings = []string{"short span"}

	if err := store.StoreSurfaceForm(ctx, sf); err != nil {
		t.Fatalf("StoreSurfaceForm failed: %v", err)
	}

	got, err := store.GetSurfaceForm(ctx, "sf:test-1")
	if err != nil {
		t.Fatalf("GetSurfaceForm failed: %v", err)
	}
	if got.Text != "Apple Inc." {
		t.Errorf("text = %q, want %q", got.Text, "Apple Inc.")
	}
	if got.NormalizedText != "apple inc." {
		t.Errorf("normalized text = %q, want %q", got.NormalizedText, "apple inc.")
	}
	if got.Context != sf.Context {
		t.Errorf("context = %q, want %q", got.Context, sf.Context)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "short span" {
		t.Errorf("warnings = %v, want [short span]", got.Warnings)
	}
}

func TestGetSurfaceFormNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSurfaceForm(context.Background(), "sf:missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSurfaceFormsByNormalizedText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Three spellings, two normalized keys.
	for i, text := range []string{"Apple Inc.", "apple   inc.", "Microsoft"} {
		sf := testSurfaceForm("sf:test-"+string(rune('a'+i)), text)
		if err := store.StoreSurfaceForm(ctx, sf); err != nil {
			t.Fatalf("StoreSurfaceForm failed: %v", err)
		}
	}

	forms, err := store.GetSurfaceFormsByNormalizedText(ctx, "apple inc.")
	if err != nil {
		t.Fatalf("GetSurfaceFormsByNormalizedText failed: %v", err)
	}
	if len(forms) != 2 {
		t.Fatalf("got %d forms, want 2", len(forms))
	}
}

func TestStoreSurfaceFormValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.StoreSurfaceForm(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil surface form: expected ErrInvalidInput, got %v", err)
	}
	if err := store.StoreSurfaceForm(ctx, &types.SurfaceForm{Text: "x"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing ID: expected ErrInvalidInput, got %v", err)
	}
	if err := store.StoreSurfaceForm(ctx, &types.SurfaceForm{ID: "sf:x"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing text: expected ErrInvalidInput, got %v", err)
	}
}

func TestStoreMentionRequiresSurfaceForm(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mention := &types.Mention{
		ID:            "men:test-1",
		SurfaceFormID: "sf:missing",
		MentionType:   "ORG",
		Confidence:    0.8,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	err := store.StoreMention(ctx, mention)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing surface form, got %v", err)
	}
}

func TestStoreAndGetMention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.StoreSurfaceForm(ctx, testSurfaceForm("sf:test-1", "Apple Inc.")); err != nil {
		t.Fatalf("StoreSurfaceForm failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	mention := &types.Mention{
		ID:            "men:test-1",
		SurfaceFormID: "sf:test-1",
		MentionType:   "ORG",
		Attributes:    map[string]interface{}{"sector": "technology"},
		Confidence:    0.8,
		QualityTier:   types.TierHigh,
		Evidence:      []string{"extracted from chunk-1"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := store.StoreMention(ctx, mention); err != nil {
		t.Fatalf("StoreMention failed: %v", err)
	}

	got, err := store.GetMention(ctx, "men:test-1")
	if err != nil {
		t.Fatalf("GetMention failed: %v", err)
	}
	if got.SurfaceFormID != "sf:test-1" {
		t.Errorf("surface form id = %q, want sf:test-1", got.SurfaceFormID)
	}
	if got.EntityID != "" {
		t.Errorf("entity id = %q, want empty (unresolved)", got.EntityID)
	}
	if got.Attributes["sector"] != "technology" {
		t.Errorf("attributes = %v, want sector=technology", got.Attributes)
	}
	if len(got.Evidence) != 1 {
		t.Errorf("evidence = %v, want 1 entry", got.Evidence)
	}
}

func TestMentionUpsertUpdatesResolution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.StoreSurfaceForm(ctx, testSurfaceForm("sf:test-1", "Apple")); err != nil {
		t.Fatalf("StoreSurfaceForm failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	mention := &types.Mention{
		ID:            "men:test-1",
		SurfaceFormID: "sf:test-1",
		MentionType:   "ORG",
		Confidence:    0.8,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.StoreMention(ctx, mention); err != nil {
		t.Fatalf("StoreMention failed: %v", err)
	}

	mention.EntityID = "ent:test-1"
	mention.Confidence = 0.72
	mention.Evidence = []string{"resolved via exact_match"}
	if err := store.StoreMention(ctx, mention); err != nil {
		t.Fatalf("StoreMention upsert failed: %v", err)
	}

	got, err := store.GetMention(ctx, "men:test-1")
	if err != nil {
		t.Fatalf("GetMention failed: %v", err)
	}
	if got.EntityID != "ent:test-1" {
		t.Errorf("entity id = %q, want ent:test-1", got.EntityID)
	}
	if got.Confidence != 0.72 {
		t.Errorf("confidence = %v, want 0.72", got.Confidence)
	}
}

func TestGetMentionsBySurfaceForm(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.StoreSurfaceForm(ctx, testSurfaceForm("sf:test-1", "Apple")); err != nil {
		t.Fatalf("StoreSurfaceForm failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	for _, id := range []string{"men:a", "men:b"} {
		mention := &types.Mention{
			ID:            id,
			SurfaceFormID: "sf:test-1",
			MentionType:   "ORG",
			Confidence:    0.8,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := store.StoreMention(ctx, mention); err != nil {
			t.Fatalf("StoreMention failed: %v", err)
		}
	}

	mentions, err := store.GetMentionsBySurfaceForm(ctx, "sf:test-1")
	if err != nil {
		t.Fatalf("GetMentionsBySurfaceForm failed: %v", err)
	}
	if len(mentions) != 2 {
		t.Fatalf("got %d mentions, want 2", len(mentions))
	}
	// Same created_at, so insertion order breaks the tie.
	if mentions[0].ID != "men:a" || mentions[1].ID != "men:b" {
		t.Errorf("order = [%s %s], want [men:a men:b]", mentions[0].ID, mentions[1].ID)
	}
}

func testEntity(id, name string) *types.Entity {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.Entity{
		ID:            id,
		Name:          name,
		CanonicalName: types.NormalizeSurfaceText(name),
		EntityType:    "ORG",
		SurfaceForms:  []string{name},
		Confidence:    0.9,
		QualityTier:   types.TierHigh,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStoreAndGetEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entity := testEntity("ent:test-1", "Apple Inc.")
	entity.Attributes = map[string]interface{}{"sector": "technology"}
	entity.MentionRefs = []string{"men:a"}

	if err := store.StoreEntity(ctx, entity); err != nil {
		t.Fatalf("StoreEntity failed: %v", err)
	}

	got, err := store.GetEntity(ctx, "ent:test-1")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Name != "Apple Inc." {
		t.Errorf("name = %q, want Apple Inc.", got.Name)
	}
	if got.CanonicalName != "apple inc." {
		t.Errorf("canonical name = %q, want apple inc.", got.CanonicalName)
	}
	if len(got.SurfaceForms) != 1 || got.SurfaceForms[0] != "Apple Inc." {
		t.Errorf("surface forms = %v, want [Apple Inc.]", got.SurfaceForms)
	}
	if got.Attributes["sector"] != "technology" {
		t.Errorf("attributes = %v, want sector=technology", got.Attributes)
	}
	if len(got.MentionRefs) != 1 || got.MentionRefs[0] != "men:a" {
		t.Errorf("mention refs = %v, want [men:a]", got.MentionRefs)
	}
}

func TestEntityVariantIndexRebuild(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entity := testEntity("ent:test-1", "Apple Inc.")
	if err := store.StoreEntity(ctx, entity); err != nil {
		t.Fatalf("StoreEntity failed: %v", err)
	}

	// Add a variant and re-store; lookup must see both keys.
	entity.AddSurfaceForm("AAPL")
	if err := store.StoreEntity(ctx, entity); err != nil {
		t.Fatalf("StoreEntity re-store failed: %v", err)
	}

	for _, key := range []string{"apple inc.", "aapl"} {
		entities, err := store.GetEntitiesBySurfaceFormText(ctx, key)
		if err != nil {
			t.Fatalf("GetEntitiesBySurfaceFormText(%q) failed: %v", key, err)
		}
		if len(entities) != 1 || entities[0].ID != "ent:test-1" {
			t.Errorf("lookup %q = %d entities, want ent:test-1", key, len(entities))
		}
	}

	// Different spellings collapsing to one key index once.
	entity.AddSurfaceForm("apple  INC.")
	if err := store.StoreEntity(ctx, entity); err != nil {
		t.Fatalf("StoreEntity re-store failed: %v", err)
	}
	entities, err := store.GetEntitiesBySurfaceFormText(ctx, "apple inc.")
	if err != nil {
		t.Fatalf("GetEntitiesBySurfaceFormText failed: %v", err)
	}
	if len(entities) != 1 {
		t.Errorf("got %d entities, want 1 (no duplicate for same normalized key)", len(entities))
	}
}

func TestDeleteEntityCascadesVariantIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.StoreEntity(ctx, testEntity("ent:test-1", "Apple Inc.")); err != nil {
		t.Fatalf("StoreEntity failed: %v", err)
	}

	if err := store.DeleteEntity(ctx, "ent:test-1"); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}

	if _, err := store.GetEntity(ctx, "ent:test-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	entities, err := store.GetEntitiesBySurfaceFormText(ctx, "apple inc.")
	if err != nil {
		t.Fatalf("GetEntitiesBySurfaceFormText failed: %v", err)
	}
	if len(entities) != 0 {
		t.Errorf("variant index still returns %d entities after delete", len(entities))
	}

	if err := store.DeleteEntity(ctx, "ent:test-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}
