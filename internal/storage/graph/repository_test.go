package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/BrianMills2718/kgas/internal/storage"
	"github.com/BrianMills2718/kgas/pkg/types"
)

var _ storage.IdentityStore = (*Repository)(nil)

// newTestRepository connects to the Neo4j instance named by KGAS_NEO4J_URI.
// Tests are skipped when no instance is configured.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	uri := os.Getenv("KGAS_NEO4J_URI")
	if uri == "" {
		t.Skip("KGAS_NEO4J_URI not set, skipping graph store tests")
	}

	ctx := context.Background()
	repo, err := Connect(ctx, uri, os.Getenv("KGAS_NEO4J_USER"), os.Getenv("KGAS_NEO4J_PASSWORD"), nil)
	if err != nil {
		t.Fatalf("failed to connect to neo4j: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

func testID(prefix string) string {
	return fmt.Sprintf("%s:test-%d", prefix, time.Now().UnixNano())
}

func TestGraphSurfaceFormRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	sf := &types.SurfaceForm{
		ID:          testID("sf"),
		Text:        "Apple Inc.",
		Context:     "Apple Inc. reported record revenue.",
		ChunkID:     "chunk-1",
		StartOffset: 0,
		EndOffset:   10,
		Confidence:  0.9,
		QualityTier: types.TierHigh,
		Warnings:    []string{"ocr artifact"},
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := repo.StoreSurfaceForm(ctx, sf); err != nil {
		t.Fatalf("StoreSurfaceForm failed: %v", err)
	}

	got, err := repo.GetSurfaceForm(ctx, sf.ID)
	if err != nil {
		t.Fatalf("GetSurfaceForm failed: %v", err)
	}
	if got.Text != sf.Text {
		t.Errorf("text = %q, want %q", got.Text, sf.Text)
	}
	if got.NormalizedText != "apple inc." {
		t.Errorf("normalized text = %q, want %q", got.NormalizedText, "apple inc.")
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "ocr artifact" {
		t.Errorf("warnings = %v", got.Warnings)
	}

	byNorm, err := repo.GetSurfaceFormsByNormalizedText(ctx, "apple inc.")
	if err != nil {
		t.Fatalf("GetSurfaceFormsByNormalizedText failed: %v", err)
	}
	found := false
	for _, f := range byNorm {
		if f.ID == sf.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("surface form %s not found under normalized key", sf.ID)
	}
}

func TestGraphGetSurfaceFormNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetSurfaceForm(context.Background(), "sf:does-not-exist")
	if err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGraphMentionRequiresSurfaceForm(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	mention := &types.Mention{
		ID:            testID("men"),
		SurfaceFormID: "sf:does-not-exist",
		MentionType:   "entity_mention",
		Confidence:    0.8,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := repo.StoreMention(ctx, mention); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing surface form, got %v", err)
	}
}

func TestGraphMentionRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	sf := &types.SurfaceForm{
		ID:         testID("sf"),
		Text:       "Tesla",
		Confidence: 0.9,
		CreatedAt:  time.Now().UTC(),
	}
	if err := repo.StoreSurfaceForm(ctx, sf); err != nil {
		t.Fatalf("StoreSurfaceForm failed: %v", err)
	}

	mention := &types.Mention{
		ID:            testID("men"),
		SurfaceFormID: sf.ID,
		MentionType:   "entity_mention",
		Attributes:    map[string]interface{}{"sector": "automotive"},
		Confidence:    0.85,
		QualityTier:   types.TierHigh,
		Evidence:      []string{"chunk-1"},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := repo.StoreMention(ctx, mention); err != nil {
		t.Fatalf("StoreMention failed: %v", err)
	}

	got, err := repo.GetMention(ctx, mention.ID)
	if err != nil {
		t.Fatalf("GetMention failed: %v", err)
	}
	if got.SurfaceFormID != sf.ID {
		t.Errorf("surface form id = %q, want %q", got.SurfaceFormID, sf.ID)
	}
	if got.Attributes["sector"] != "automotive" {
		t.Errorf("attributes = %v", got.Attributes)
	}

	bySF, err := repo.GetMentionsBySurfaceForm(ctx, sf.ID)
	if err != nil {
		t.Fatalf("GetMentionsBySurfaceForm failed: %v", err)
	}
	if len(bySF) != 1 || bySF[0].ID != mention.ID {
		t.Errorf("mentions by surface form = %v", bySF)
	}
}

func TestGraphEntityRoundTripAndDelete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	entity := &types.Entity{
		ID:            testID("ent"),
		Name:          "Apple Inc.",
		CanonicalName: "apple inc.",
		EntityType:    "organization",
		Attributes:    map[string]interface{}{"ticker": "AAPL"},
		SurfaceForms:  []string{"Apple Inc.", "AAPL"},
		MentionRefs:   []string{"men:1"},
		Confidence:    0.95,
		QualityTier:   types.TierHigh,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := repo.StoreEntity(ctx, entity); err != nil {
		t.Fatalf("StoreEntity failed: %v", err)
	}

	got, err := repo.GetEntity(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.CanonicalName != "apple inc." {
		t.Errorf("canonical name = %q", got.CanonicalName)
	}
	if got.Attributes["ticker"] != "AAPL" {
		t.Errorf("attributes = %v", got.Attributes)
	}

	// Both variants resolve through the normalized-forms list property.
	for _, variant := range []string{"apple inc.", "aapl"} {
		entities, err := repo.GetEntitiesBySurfaceFormText(ctx, variant)
		if err != nil {
			t.Fatalf("GetEntitiesBySurfaceFormText(%q) failed: %v", variant, err)
		}
		found := false
		for _, e := range entities {
			if e.ID == entity.ID {
				found = true
			}
		}
		if !found {
			t.Errorf("entity not found under variant %q", variant)
		}
	}

	if err := repo.DeleteEntity(ctx, entity.ID); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}
	if err := repo.DeleteEntity(ctx, entity.ID); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
