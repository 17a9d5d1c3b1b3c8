// Package vecindex provides brute-force cosine-similarity search over
// dense float32 vectors. A lecture's document corpus is small (hundreds
// of chunks), so linear scan is both simpler and fast enough; swapping in
// an ANN structure behind the same Index interface is possible later.
package vecindex

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Match is a single result from a similarity search.
type Match struct {
	// ID is the identifier of the matched vector.
	ID string

	// Distance is the cosine distance to the query; lower is more
	// similar.
	Distance float32
}

// Index is a brute-force in-memory vector index. It is safe for
// concurrent use.
type Index struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// New creates an empty index.
func New() *Index {
	return &Index{vectors: make(map[string][]float32)}
}

// Insert adds or updates a vector with the given ID.
func (x *Index) Insert(id string, vector []float32) error {
	cp := make([]float32, len(vector))
	copy(cp, vector)
	x.mu.Lock()
	x.vectors[id] = cp
	x.mu.Unlock()
	return nil
}

// BatchInsert adds or updates multiple vectors. ids and vectors must
// have the same length.
func (x *Index) BatchInsert(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("vecindex: BatchInsert length mismatch: %d ids, %d vectors", len(ids), len(vectors))
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range ids {
		cp := make([]float32, len(vectors[i]))
		copy(cp, vectors[i])
		x.vectors[id] = cp
	}
	return nil
}

// Delete removes a vector by ID. No error if the ID does not exist.
func (x *Index) Delete(id string) error {
	x.mu.Lock()
	delete(x.vectors, id)
	x.mu.Unlock()
	return nil
}

// Len returns the number of vectors in the index.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Search returns the topK nearest vectors to the query, ordered by
// ascending cosine distance.
func (x *Index) Search(query []float32, topK int) ([]Match, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.vectors) == 0 || topK <= 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(x.vectors))
	for id, vec := range x.vectors {
		matches = append(matches, Match{ID: id, Distance: CosineDistance(query, vec)})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// CosineDistance computes the cosine distance between two vectors: a
// value in [0, 2] where 0 means identical direction. Mismatched
// dimensions and zero-norm vectors report maximum distance.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 2
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 2
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	sim = math.Max(-1, math.Min(1, sim))
	return float32(1 - sim)
}
