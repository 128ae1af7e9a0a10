package vectorindex

import (
	"fmt"
	"sort"

	"github.com/localdex/localdex/internal/ingesterr"
)

// Hit is one ranked search result: a segment id and its squared L2
// distance from the query vector.
type Hit struct {
	ID       int64
	Distance float32
}

// MemShard is a flat, brute-force in-memory index with an explicit id map.
// It accumulates vectors until the owning Index dumps it to disk; a single
// Add can carry it past the dump threshold, since the threshold is checked
// only after a whole batch is added. Callers are responsible for the
// per-key mutex that makes concurrent Add/Remove/Search safe.
type MemShard struct {
	dim     int
	ids     []int64
	vectors [][]float32
}

// NewMemShard constructs an empty shard for d-dimensional vectors.
func NewMemShard(d int) *MemShard {
	return &MemShard{dim: d}
}

// Dim returns the vector dimension this shard was created with.
func (m *MemShard) Dim() int { return m.dim }

// Len returns the number of live vectors currently held.
func (m *MemShard) Len() int { return len(m.ids) }

// Add appends ids/vectors to the shard. Every vector must match the
// shard's dimension, and ids must be the same length as vectors.
func (m *MemShard) Add(ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("%w: %d ids, %d vectors", ingesterr.ErrVectorIDCountMismatch, len(ids), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != m.dim {
			return fmt.Errorf("%w: got %d, want %d", ingesterr.ErrDimensionMismatch, len(v), m.dim)
		}
	}
	m.ids = append(m.ids, ids...)
	m.vectors = append(m.vectors, vectors...)
	return nil
}

// Remove deletes every id in ids from the shard, if present.
func (m *MemShard) Remove(ids []int64) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	keptIDs := m.ids[:0]
	keptVecs := m.vectors[:0]
	for i, id := range m.ids {
		if drop[id] {
			continue
		}
		keptIDs = append(keptIDs, id)
		keptVecs = append(keptVecs, m.vectors[i])
	}
	m.ids = keptIDs
	m.vectors = keptVecs
}

// Search returns up to topK hits ordered by ascending squared L2 distance.
func (m *MemShard) Search(query []float32, topK int) []Hit {
	return bruteForceSearch(m.ids, m.vectors, query, topK)
}

// Clear empties the shard, typically once its contents have been durably
// dumped to disk.
func (m *MemShard) Clear() {
	m.ids = nil
	m.vectors = nil
}

// bruteForceSearch scores every (id, vector) pair against query by squared
// L2 distance and returns the topK smallest, ascending.
func bruteForceSearch(ids []int64, vectors [][]float32, query []float32, topK int) []Hit {
	hits := make([]Hit, 0, len(ids))
	for i, v := range vectors {
		hits = append(hits, Hit{ID: ids[i], Distance: l2sq(v, query)})
	}
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// l2sq computes squared Euclidean distance. Vectors of mismatched length
// are treated as maximally distant rather than panicking, since a corrupt
// shard should degrade search quality, not crash it.
func l2sq(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(1<<31 - 1)
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// sortHits sorts hits ascending by distance in place.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
}
