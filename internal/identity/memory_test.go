package identity

import (
	"math"
	"testing"
)

func TestSearchReturnsBestMatchAboveThreshold(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Register("alice", "E1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register("bob", "E2", []float32{0, 1, 0}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Closer to alice than to bob.
	probe := []float32{0.9, 0.1, 0}
	match, ok := s.Search(probe, 0.5)
	if !ok {
		t.Fatalf("expected a match")
	}
	if match.Name != "alice" || match.ExternalID != "E1" {
		t.Fatalf("matched %q/%q, want alice/E1", match.Name, match.ExternalID)
	}
	if match.Similarity <= 0.5 || match.Similarity > 1.0001 {
		t.Fatalf("similarity %v out of range", match.Similarity)
	}
}

func TestSearchBelowThresholdReportsNoMatch(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Register("alice", "E1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := s.Search([]float32{0, 0, 1}, 0.5); ok {
		t.Fatalf("orthogonal embedding must not match")
	}
}

func TestRegisterNormalizesAndReplacesByName(t *testing.T) {
	s := NewMemoryStore()
	// Unnormalized input must behave identically to its unit-length form.
	if err := s.Register("alice", "E1", []float32{10, 0, 0}); err != nil {
		t.Fatalf("register: %v", err)
	}
	match, ok := s.Search([]float32{1, 0, 0}, 0.99)
	if !ok {
		t.Fatalf("expected a match against the normalized entry")
	}
	if math.Abs(float64(match.Similarity)-1) > 1e-5 {
		t.Fatalf("similarity = %v, want ~1", match.Similarity)
	}

	// Re-registering the same name replaces the embedding.
	if err := s.Register("alice", "E1b", []float32{0, 1, 0}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d after replace, want 1", s.Len())
	}
	if _, ok := s.Search([]float32{1, 0, 0}, 0.5); ok {
		t.Fatalf("old embedding survived the replace")
	}
	if match, ok := s.Search([]float32{0, 1, 0}, 0.5); !ok || match.ExternalID != "E1b" {
		t.Fatalf("new embedding not searchable, got %+v ok=%v", match, ok)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Register("", "E1", []float32{1, 0}); err == nil {
		t.Fatalf("empty name must be rejected")
	}
	if err := s.Register("alice", "E1", nil); err == nil {
		t.Fatalf("empty embedding must be rejected")
	}
	if err := s.Register("alice", "E1", []float32{0, 0, 0}); err == nil {
		t.Fatalf("zero embedding must be rejected")
	}
}

func TestRemove(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Register("alice", "E1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !s.Remove("alice") {
		t.Fatalf("remove reported missing for a present entry")
	}
	if s.Remove("alice") {
		t.Fatalf("second remove reported present")
	}
	if s.Len() != 0 {
		t.Fatalf("len = %d, want 0", s.Len())
	}
}
