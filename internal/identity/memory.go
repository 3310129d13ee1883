package identity

import (
	"fmt"
	"math"
	"sync"
)

type entry struct {
	name       string
	externalID string
	vec        []float32 // unit length
}

// MemoryStore is a mutex-guarded in-memory Store with register/remove
// operations for the management surface.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Register adds or replaces the entry for name. The embedding is normalized
// on the way in so Search reduces to a dot product.
func (s *MemoryStore) Register(name, externalID string, embedding []float32) error {
	if name == "" {
		return fmt.Errorf("identity name must not be empty")
	}
	vec, ok := normalize(embedding)
	if !ok {
		return fmt.Errorf("identity %q: embedding is empty or zero", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].name == name {
			s.entries[i] = entry{name: name, externalID: externalID, vec: vec}
			return nil
		}
	}
	s.entries = append(s.entries, entry{name: name, externalID: externalID, vec: vec})
	return nil
}

// Remove deletes the entry for name and reports whether it existed.
func (s *MemoryStore) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].name == name {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the number of registered identities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Search(embedding []float32, threshold float32) (Match, bool) {
	probe, ok := normalize(embedding)
	if !ok {
		return Match{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := Match{}
	found := false
	for _, e := range s.entries {
		if len(e.vec) != len(probe) {
			continue
		}
		var dot float32
		for i := range probe {
			dot += probe[i] * e.vec[i]
		}
		if dot >= threshold && (!found || dot > best.Similarity) {
			best = Match{Name: e.name, ExternalID: e.externalID, Similarity: dot}
			found = true
		}
	}
	return best, found
}

func normalize(v []float32) ([]float32, bool) {
	if len(v) == 0 {
		return nil, false
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, false
	}
	inv := float32(1 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out, true
}
