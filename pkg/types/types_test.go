package types_test

import (
	"testing"

	"github.com/BrianMills2718/kgas/pkg/types"
)

// TestIsValidResolutionMethod_ValidMethods tests that all resolution methods are recognized
func TestIsValidResolutionMethod_ValidMethods(t *testing.T) {
	for _, method := range types.ValidResolutionMethods {
		t.Run("valid_"+string(method), func(t *testing.T) {
			if !types.IsValidResolutionMethod(method) {
				t.Errorf("IsValidResolutionMethod(%q) = false, want true", method)
			}
		})
	}
}

// TestIsValidResolutionMethod_InvalidMethods tests that invalid methods are rejected
func TestIsValidResolutionMethod_InvalidMethods(t *testing.T) {
	invalid := []types.ResolutionMethod{
		"",
		"EXACT_MATCH",
		"exact",
		"semantic",
		" exact_match",
		"exact_match ",
	}

	for _, method := range invalid {
		t.Run("invalid_"+string(method), func(t *testing.T) {
			if types.IsValidResolutionMethod(method) {
				t.Errorf("IsValidResolutionMethod(%q) = true, want false", method)
			}
		})
	}
}

// TestTierForConfidence verifies the confidence-to-tier boundaries.
func TestTierForConfidence(t *testing.T) {
	cases := []struct {
		confidence float64
		want       string
	}{
		{1.0, types.TierHigh},
		{0.8, types.TierHigh},
		{0.79, types.TierMedium},
		{0.5, types.TierMedium},
		{0.49, types.TierLow},
		{0.0, types.TierLow},
	}

	for _, tc := range cases {
		if got := types.TierForConfidence(tc.confidence); got != tc.want {
			t.Errorf("TierForConfidence(%v) = %q, want %q", tc.confidence, got, tc.want)
		}
	}
}

// TestEntitySurfaceFormSet verifies variant bookkeeping is deduplicated.
func TestEntitySurfaceFormSet(t *testing.T) {
	entity := &types.Entity{ID: "ent:test-1", Name: "Apple Inc."}

	entity.AddSurfaceForm("Apple Inc.")
	entity.AddSurfaceForm("Apple")
	entity.AddSurfaceForm("Apple Inc.") // duplicate
	entity.AddSurfaceForm("")           // ignored

	if len(entity.SurfaceForms) != 2 {
		t.Fatalf("SurfaceForms: got %d entries, want 2 (%v)", len(entity.SurfaceForms), entity.SurfaceForms)
	}
	if !entity.HasSurfaceForm("Apple") {
		t.Error("HasSurfaceForm(\"Apple\") = false, want true")
	}

	entity.AddMentionRef("men:1")
	entity.AddMentionRef("men:1")
	entity.AddMentionRef("men:2")
	if len(entity.MentionRefs) != 2 {
		t.Errorf("MentionRefs: got %d entries, want 2", len(entity.MentionRefs))
	}
}

// TestCheckpointProgress verifies terminal detection and progress fractions.
func TestCheckpointProgress(t *testing.T) {
	chk := &types.WorkflowCheckpoint{StepNumber: 5, TotalSteps: 10}
	if chk.IsTerminal() {
		t.Error("IsTerminal() = true for mid-workflow checkpoint, want false")
	}
	if got := chk.Progress(); got != 0.5 {
		t.Errorf("Progress() = %v, want 0.5", got)
	}

	chk.StepNumber = 10
	if !chk.IsTerminal() {
		t.Error("IsTerminal() = false for final checkpoint, want true")
	}

	chk.StepNumber = 12 // step past total is clamped
	if got := chk.Progress(); got != 1.0 {
		t.Errorf("Progress() = %v, want 1.0", got)
	}

	empty := &types.WorkflowCheckpoint{}
	if empty.IsTerminal() {
		t.Error("IsTerminal() = true for zero-step workflow, want false")
	}
	if got := empty.Progress(); got != 0 {
		t.Errorf("Progress() = %v for zero-step workflow, want 0", got)
	}
}
