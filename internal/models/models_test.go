package models

import (
	"encoding/json"
	"testing"
)

// ========================================
// GenerationStatus Tests
// ========================================

func TestGenerationStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from GenerationStatus
		to   GenerationStatus
		want bool
	}{
		{"pending to processing", GenerationStatusPending, GenerationStatusProcessing, true},
		{"pending to cancelled", GenerationStatusPending, GenerationStatusCancelled, true},
		{"pending to failed", GenerationStatusPending, GenerationStatusFailed, true},
		{"pending to completed", GenerationStatusPending, GenerationStatusCompleted, true},
		{"processing to completed", GenerationStatusProcessing, GenerationStatusCompleted, true},
		{"processing to failed", GenerationStatusProcessing, GenerationStatusFailed, true},
		{"processing to cancelled", GenerationStatusProcessing, GenerationStatusCancelled, true},
		{"processing to pending", GenerationStatusProcessing, GenerationStatusPending, false},
		{"failed to pending", GenerationStatusFailed, GenerationStatusPending, true},
		{"failed to completed", GenerationStatusFailed, GenerationStatusCompleted, false},
		{"completed is final", GenerationStatusCompleted, GenerationStatusFailed, false},
		{"completed to pending", GenerationStatusCompleted, GenerationStatusPending, false},
		{"cancelled is final", GenerationStatusCancelled, GenerationStatusPending, false},
		{"self transition rejected", GenerationStatusProcessing, GenerationStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestGenerationStatus_TransitionSources(t *testing.T) {
	tests := []struct {
		target GenerationStatus
		want   []GenerationStatus
	}{
		{GenerationStatusCompleted, []GenerationStatus{GenerationStatusPending, GenerationStatusProcessing}},
		{GenerationStatusFailed, []GenerationStatus{GenerationStatusPending, GenerationStatusProcessing}},
		{GenerationStatusCancelled, []GenerationStatus{GenerationStatusPending, GenerationStatusProcessing}},
		{GenerationStatusPending, []GenerationStatus{GenerationStatusFailed}},
	}

	for _, tt := range tests {
		got := TransitionSources(tt.target)
		if len(got) != len(tt.want) {
			t.Errorf("TransitionSources(%s) = %v, want %v", tt.target, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("TransitionSources(%s)[%d] = %s, want %s", tt.target, i, got[i], tt.want[i])
			}
		}
	}
}

func TestGenerationStatus_IsTerminal(t *testing.T) {
	terminal := []GenerationStatus{GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}

	active := []GenerationStatus{GenerationStatusPending, GenerationStatusProcessing}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestGenerationStatus_IsValid(t *testing.T) {
	if !GenerationStatusPending.IsValid() {
		t.Error("IsValid(pending) = false, want true")
	}
	if GenerationStatus("running").IsValid() {
		t.Error("IsValid(running) = true, want false")
	}
	if GenerationStatus("").IsValid() {
		t.Error("IsValid(\"\") = true, want false")
	}
}

// ========================================
// GenerationParams Tests
// ========================================

func TestGenerationParams_RoundTrip(t *testing.T) {
	seed := int64(42)
	params := GenerationParams{
		Prompt:        "a lighthouse at dusk, oil painting",
		Width:         1024,
		Height:        768,
		Steps:         30,
		GuidanceScale: 7.5,
		Seed:          &seed,
		NumOutputs:    2,
	}

	data, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got GenerationParams
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Prompt != params.Prompt {
		t.Errorf("Prompt = %q, want %q", got.Prompt, params.Prompt)
	}
	if got.Seed == nil || *got.Seed != seed {
		t.Errorf("Seed = %v, want %d", got.Seed, seed)
	}
}

func TestGenerationParams_OmitsUnsetSeed(t *testing.T) {
	data, err := json.Marshal(GenerationParams{Prompt: "minimal"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := m["seed"]; ok {
		t.Error("expected seed to be omitted when nil")
	}
}
