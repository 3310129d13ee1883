// Package identity provides the identity store consumed by the recognition
// stage: best cosine match for an embedding at or above a threshold.
// Vector index internals are out of scope here; MemoryStore is the reference
// implementation of the contract and a persistent store can replace it
// behind the same interface.
package identity

// Match is the best store entry for a searched embedding.
type Match struct {
	Name       string
	ExternalID string
	Similarity float32
}

// Store is the lookup contract used by the pipeline. Search returns the best
// entry with cosine similarity >= threshold, or ok=false when none qualifies.
type Store interface {
	Search(embedding []float32, threshold float32) (Match, bool)
}
