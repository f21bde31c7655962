package embedding

import (
	"context"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestTermEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewTermEmbedder(0)
	if e.Dims() != DefaultDims {
		t.Fatalf("dims = %d", e.Dims())
	}

	a, _ := e.Embed(ctx, "Draft outline for the pricing newsletter")
	b, _ := e.Embed(ctx, "draft OUTLINE for the pricing newsletter!")
	c, _ := e.Embed(ctx, "Quarterly tax filing reminder")

	if sim := CosineSimilarity(a, b); math.Abs(sim-1) > 1e-6 {
		t.Errorf("expected identical vectors for case/punctuation variants, got %f", sim)
	}
	if CosineSimilarity(a, c) >= CosineSimilarity(a, b) {
		t.Error("unrelated text should be less similar")
	}
}

func TestTermEmbedder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTermEmbedder(8).Embed(ctx, "text"); err == nil {
		t.Error("expected error on canceled context")
	}
}

func TestTerms(t *testing.T) {
	got := Terms("AI is a tool, not magic: v2 rocks")
	want := []string{"tool", "not", "magic", "rocks"}
	if len(got) != len(want) {
		t.Fatalf("Terms = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("term %d = %q, want %q", i, got[i], want[i])
		}
	}
}
