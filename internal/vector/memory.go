package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryIndex is a pure-Go in-memory index using exact cosine search.
// It serves development, tests, and small single-node deployments; the
// HTTP adapter covers everything else.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[uuid.UUID]indexedEntry
}

type indexedEntry struct {
	entry  Entry
	vector []float32 // normalized
}

// NewMemoryIndex creates an index. Dimension is detected from the first
// inserted vector when zero.
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		entries:   make(map[uuid.UUID]indexedEntry),
	}
}

var _ Index = (*MemoryIndex)(nil)

// Search finds the k most similar entries matching the filter.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	normalized := normalizeVector(query)

	type scored struct {
		id       uuid.UUID
		score    float32
		metadata map[string]interface{}
	}

	var hits []scored
	for id, ie := range m.entries {
		if !matchesFilter(ie.entry, filter) {
			continue
		}
		if len(ie.vector) != len(normalized) {
			continue
		}
		hits = append(hits, scored{
			id:       id,
			score:    cosineSimilarity(normalized, ie.vector),
			metadata: ie.entry.Metadata,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	if k > len(hits) {
		k = len(hits)
	}
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = Result{
			ID:       hits[i].id,
			Score:    hits[i].score,
			Metadata: hits[i].metadata,
		}
	}
	return results, nil
}

// Upsert adds or replaces entries in the index.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		if m.dimension == 0 {
			m.dimension = len(e.Vector)
		}
		if len(e.Vector) != m.dimension {
			return fmt.Errorf("%w: expected %d, got %d for id %s",
				ErrDimensionMismatch, m.dimension, len(e.Vector), e.ID)
		}
		m.entries[e.ID] = indexedEntry{
			entry:  e,
			vector: normalizeVector(e.Vector),
		}
	}
	return nil
}

// Delete removes entries from the index.
func (m *MemoryIndex) Delete(ctx context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// Count returns the number of entries in a namespace.
func (m *MemoryIndex) Count(ctx context.Context, namespace string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, ie := range m.entries {
		if ie.entry.Namespace == namespace {
			count++
		}
	}
	return count, nil
}

// Close releases resources.
func (m *MemoryIndex) Close() error {
	return nil
}

func matchesFilter(e Entry, f Filter) bool {
	if f.Namespace != "" && e.Namespace != f.Namespace {
		return false
	}
	if f.Zone != "" && e.Zone != f.Zone {
		return false
	}
	if f.Development != "" && e.Development != f.Development {
		return false
	}
	if f.ContentType != "" && e.ContentType != f.ContentType {
		return false
	}
	return true
}

// cosineSimilarity computes similarity between two normalized vectors,
// clamped to [0, 1].
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}

	if dot > 1 {
		dot = 1
	} else if dot < 0 {
		dot = 0
	}
	return dot
}

// normalizeVector returns a unit vector.
func normalizeVector(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)

	if norm == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, x := range v {
		normalized[i] = float32(float64(x) / norm)
	}
	return normalized
}
