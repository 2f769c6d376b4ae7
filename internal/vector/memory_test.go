package vector

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(ns, zone, dev, contentType string, vec []float32) Entry {
	return Entry{
		ID:          uuid.New(),
		Namespace:   ns,
		Zone:        zone,
		Development: dev,
		ContentType: contentType,
		Vector:      vec,
	}
}

func TestMemoryIndex_SearchFiltersByScope(t *testing.T) {
	idx := NewMemoryIndex(3)
	ctx := context.Background()

	inScope := entry(NamespaceCache, "tulum", "aldea-zama", "", []float32{1, 0, 0})
	otherDev := entry(NamespaceCache, "tulum", "la-veleta", "", []float32{1, 0, 0})
	otherNS := entry(NamespaceKnowledge, "tulum", "aldea-zama", "", []float32{1, 0, 0})
	require.NoError(t, idx.Upsert(ctx, []Entry{inScope, otherDev, otherNS}))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 10, Filter{
		Namespace:   NamespaceCache,
		Zone:        "tulum",
		Development: "aldea-zama",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, inScope.ID, results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestMemoryIndex_ContentTypeFilter(t *testing.T) {
	idx := NewMemoryIndex(3)
	ctx := context.Background()

	pricing := entry(NamespaceCache, "tulum", "aldea-zama", "pricing", []float32{1, 0, 0})
	legal := entry(NamespaceCache, "tulum", "aldea-zama", "legal", []float32{1, 0, 0})
	require.NoError(t, idx.Upsert(ctx, []Entry{pricing, legal}))

	// empty content type matches any
	results, err := idx.Search(ctx, []float32{1, 0, 0}, 10, Filter{
		Namespace: NamespaceCache, Zone: "tulum", Development: "aldea-zama",
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = idx.Search(ctx, []float32{1, 0, 0}, 10, Filter{
		Namespace: NamespaceCache, Zone: "tulum", Development: "aldea-zama", ContentType: "pricing",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, pricing.ID, results[0].ID)
}

func TestMemoryIndex_RanksBySimilarity(t *testing.T) {
	idx := NewMemoryIndex(3)
	ctx := context.Background()

	nearest := entry(NamespaceCache, "z", "d", "", []float32{0.9, 0.1, 0})
	farthest := entry(NamespaceCache, "z", "d", "", []float32{0, 1, 0})
	require.NoError(t, idx.Upsert(ctx, []Entry{farthest, nearest}))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2, Filter{Namespace: NamespaceCache, Zone: "z", Development: "d"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, nearest.ID, results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMemoryIndex_TopKLimit(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Upsert(ctx, []Entry{entry(NamespaceCache, "z", "d", "", []float32{1, float32(i) / 10})}))
	}

	results, err := idx.Search(ctx, []float32{1, 0}, 3, Filter{Namespace: NamespaceCache, Zone: "z", Development: "d"})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestMemoryIndex_UpsertReplacesAndDeletes(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()

	e := entry(NamespaceCache, "z", "d", "", []float32{1, 0})
	require.NoError(t, idx.Upsert(ctx, []Entry{e}))

	// replace with a different vector under the same ID
	e.Vector = []float32{0, 1}
	require.NoError(t, idx.Upsert(ctx, []Entry{e}))

	count, err := idx.Count(ctx, NamespaceCache)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, idx.Delete(ctx, []uuid.UUID{e.ID}))
	count, err = idx.Count(ctx, NamespaceCache)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx := NewMemoryIndex(0)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Entry{entry(NamespaceCache, "z", "d", "", []float32{1, 0, 0})}))

	err := idx.Upsert(ctx, []Entry{entry(NamespaceCache, "z", "d", "", []float32{1, 0})})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
