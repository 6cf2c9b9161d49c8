package search

import (
	"context"
	"math"
	"testing"
)

func TestTFIDFEmbedder(t *testing.T) {
	db := testDB(t)
	seedRecord(t, db, "golang concurrency patterns with channels", nil)
	seedRecord(t, db, "golang error handling conventions", nil)
	seedRecord(t, db, "postgres index tuning", nil)

	emb, err := NewTFIDFEmbedder(db, 64)
	if err != nil {
		t.Fatalf("NewTFIDFEmbedder: %v", err)
	}
	if emb.Dimensions() == 0 {
		t.Fatal("empty vocabulary")
	}

	a, err := emb.Embed(context.Background(), "golang concurrency channels")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := emb.Embed(context.Background(), "golang error handling")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	c, err := emb.Embed(context.Background(), "postgres index tuning")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	// Vectors are L2-normalized.
	for name, vec := range map[string][]float64{"a": a, "b": b, "c": c} {
		var norm float64
		for _, v := range vec {
			norm += v * v
		}
		if math.Abs(norm-1.0) > 1e-9 {
			t.Errorf("vector %s norm = %f, want 1", name, norm)
		}
	}

	// Related texts should be closer than unrelated ones.
	if dot(a, b) <= dot(a, c) {
		t.Errorf("similarity(golang, golang) = %f <= similarity(golang, postgres) = %f", dot(a, b), dot(a, c))
	}
}

func TestTFIDFEmbedderEmptyStore(t *testing.T) {
	db := testDB(t)

	// No corpus yet: the embedder still constructs and yields zero
	// vectors rather than failing.
	emb, err := NewTFIDFEmbedder(db, 64)
	if err != nil {
		t.Fatalf("NewTFIDFEmbedder: %v", err)
	}
	vec, err := emb.Embed(context.Background(), "anything at all")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Errorf("expected zero vector from empty vocabulary, got %v", vec)
			break
		}
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Hello, World!", 2},
		{"snake_case and CamelCase", 3},
		{"", 0},
		{"   ", 0},
	}
	for _, tt := range tests {
		got := tokenize(tt.in)
		if len(got) != tt.want {
			t.Errorf("tokenize(%q) = %v, want %d tokens", tt.in, got, tt.want)
		}
	}
}

func TestMockEmbedderRecordsCalls(t *testing.T) {
	m := &MockEmbedder{Vector: []float64{1, 0}}
	m.Embed(context.Background(), "first")
	m.Embed(context.Background(), "second")
	if len(m.Calls) != 2 || m.Calls[0] != "first" {
		t.Errorf("calls = %v", m.Calls)
	}
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
