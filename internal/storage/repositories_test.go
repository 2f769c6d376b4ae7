package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, EnsureSchema(context.Background(), db))
	return db
}

func testScope() Scope {
	return Scope{Zone: "tulum", Development: "aldea-zama", ContentType: ContentTypePricing}
}

func TestCacheEntryRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()

	entry := &CacheEntry{
		Zone:            "tulum",
		Development:     "aldea-zama",
		ContentType:     ContentTypePricing,
		NormalizedQuery: "precio del lote 12",
		OriginalQuery:   "Precio del lote 12?",
		Answer:          "El lote 12 cuesta $120,000 USD.",
		Sources:         JSONStrings{"chunk-1", "chunk-2"},
		ExpiresAt:       time.Now().Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, entry))
	require.NotEqual(t, uuid.Nil, entry.ID)

	got, err := repo.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Answer, got.Answer)
	assert.Equal(t, JSONStrings{"chunk-1", "chunk-2"}, got.Sources)
	assert.Equal(t, int64(0), got.UsageCount)
}

func TestCacheEntryRepository_GetByNormalizedQuery(t *testing.T) {
	db := newTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()
	scope := Scope{Zone: "tulum", Development: "aldea-zama", ContentType: ContentTypePricing}

	require.NoError(t, repo.Create(ctx, &CacheEntry{
		Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
		NormalizedQuery: "precio del lote 12",
		OriginalQuery:   "Precio del lote 12?",
		Answer:          "El lote 12 cuesta $120,000 USD.",
		Sources:         JSONStrings{"price-list"},
		ExpiresAt:       time.Now().Add(time.Hour),
	}))

	got, err := repo.GetByNormalizedQuery(ctx, scope, "precio del lote 12")
	require.NoError(t, err)
	assert.Equal(t, JSONStrings{"price-list"}, got.Sources)

	_, err = repo.GetByNormalizedQuery(ctx, scope, "otra consulta")
	assert.ErrorIs(t, err, ErrNotFound)

	other := Scope{Zone: "playa", Development: "aldea-zama", ContentType: ContentTypePricing}
	_, err = repo.GetByNormalizedQuery(ctx, other, "precio del lote 12")
	assert.ErrorIs(t, err, ErrNotFound, "scope filter applies to normalized lookups")
}

func TestCacheEntryRepository_GetMissing(t *testing.T) {
	db := newTestDB(t)
	repo := NewCacheEntryRepository(db)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCacheEntryRepository_IncrementUsage(t *testing.T) {
	db := newTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()

	entry := &CacheEntry{
		Zone: "tulum", Development: "aldea-zama",
		NormalizedQuery: "q", OriginalQuery: "q", Answer: "a",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, entry))

	require.NoError(t, repo.IncrementUsage(ctx, entry.ID))
	require.NoError(t, repo.IncrementUsage(ctx, entry.ID))

	got, err := repo.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)

	assert.ErrorIs(t, repo.IncrementUsage(ctx, uuid.New()), ErrNotFound)
}

func TestCacheEntryRepository_PruneScope(t *testing.T) {
	db := newTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()
	scope := testScope()

	for i := 0; i < 5; i++ {
		entry := &CacheEntry{
			Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
			NormalizedQuery: "q", OriginalQuery: "q", Answer: "a",
			ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, repo.Create(ctx, entry))
		time.Sleep(2 * time.Millisecond) // distinct created_at ordering
	}

	removed, err := repo.PruneScope(ctx, scope, 3)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	count, err := repo.CountByScope(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// below the limit nothing is removed
	removed, err = repo.PruneScope(ctx, scope, 3)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestCacheEntryRepository_DeleteExpired(t *testing.T) {
	db := newTestDB(t)
	repo := NewCacheEntryRepository(db)
	ctx := context.Background()

	live := &CacheEntry{
		Zone: "tulum", Development: "aldea-zama",
		NormalizedQuery: "live", OriginalQuery: "live", Answer: "a",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	expired := &CacheEntry{
		Zone: "tulum", Development: "aldea-zama",
		NormalizedQuery: "stale", OriginalQuery: "stale", Answer: "a",
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, expired))

	ids, err := repo.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, expired.ID, ids[0])

	_, err = repo.GetByID(ctx, live.ID)
	assert.NoError(t, err)
}

func TestLearnedResponseRepository_UpsertOverwrites(t *testing.T) {
	db := newTestDB(t)
	repo := NewLearnedResponseRepository(db)
	ctx := context.Background()
	scope := testScope()

	first := &LearnedResponse{
		Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
		NormalizedQuery: "precio del lote en fuego",
		Answer:          "Desde $95,000 USD.",
		Score:           0.5,
		Sources:         JSONStrings{"chunk-9"},
	}
	created, err := repo.Upsert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := &LearnedResponse{
		Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
		NormalizedQuery: "precio del lote en fuego",
		Answer:          "Desde $99,000 USD.",
		Score:           1.0,
		Sources:         JSONStrings{"chunk-9", "chunk-12"},
	}
	created, err = repo.Upsert(ctx, second)
	require.NoError(t, err)
	assert.False(t, created, "same key must report an update")

	got, err := repo.GetByKey(ctx, scope, "precio del lote en fuego")
	require.NoError(t, err)
	assert.Equal(t, "Desde $99,000 USD.", got.Answer)
	assert.Equal(t, 1.0, got.Score)
	assert.Equal(t, JSONStrings{"chunk-9", "chunk-12"}, got.Sources)

	all, err := repo.ListByScope(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert must not create a second row")
}

func TestLearnedResponseRepository_UpsertKeepsSources(t *testing.T) {
	db := newTestDB(t)
	repo := NewLearnedResponseRepository(db)
	ctx := context.Background()
	scope := testScope()

	_, err := repo.Upsert(ctx, &LearnedResponse{
		Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
		NormalizedQuery: "hay financiamiento",
		Answer:          "Sí, a 24 meses.",
		Score:           0.5,
		Sources:         JSONStrings{"financing-terms"},
	})
	require.NoError(t, err)

	// an overwrite without sources must not erase the stored ones
	created, err := repo.Upsert(ctx, &LearnedResponse{
		Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
		NormalizedQuery: "hay financiamiento",
		Answer:          "Sí, a 36 meses.",
		Score:           1.0,
	})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.GetByKey(ctx, scope, "hay financiamiento")
	require.NoError(t, err)
	assert.Equal(t, "Sí, a 36 meses.", got.Answer)
	assert.Equal(t, JSONStrings{"financing-terms"}, got.Sources)
}

func TestLearnedResponseRepository_ScopeIsolation(t *testing.T) {
	db := newTestDB(t)
	repo := NewLearnedResponseRepository(db)
	ctx := context.Background()

	lr := &LearnedResponse{
		Zone: "tulum", Development: "aldea-zama", ContentType: ContentTypePricing,
		NormalizedQuery: "hay lotes disponibles",
		Answer:          "Si, quedan 4 lotes.",
		Score:           0.8,
	}
	_, err := repo.Upsert(ctx, lr)
	require.NoError(t, err)

	other := Scope{Zone: "tulum", Development: "la-veleta", ContentType: ContentTypePricing}
	_, err = repo.GetByKey(ctx, other, "hay lotes disponibles")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFeedbackRepository_LatestRating(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeedbackRepository(db)
	ctx := context.Background()
	scope := testScope()

	_, err := repo.LatestRating(ctx, scope, "never rated")
	assert.ErrorIs(t, err, ErrNotFound)

	older := &Feedback{
		Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
		NormalizedQuery: "precio del lote 12", Answer: "a", Rating: 5,
	}
	require.NoError(t, repo.Create(ctx, older))
	time.Sleep(2 * time.Millisecond)

	newer := &Feedback{
		Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
		NormalizedQuery: "precio del lote 12", Answer: "a", Rating: 1,
	}
	require.NoError(t, repo.Create(ctx, newer))

	rating, err := repo.LatestRating(ctx, scope, "precio del lote 12")
	require.NoError(t, err)
	assert.Equal(t, 1, rating)
}

func TestFeedbackRepository_Processing(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeedbackRepository(db)
	ctx := context.Background()

	fb := &Feedback{
		Zone: "tulum", Development: "aldea-zama",
		NormalizedQuery: "q", Answer: "a", Rating: 4,
	}
	require.NoError(t, repo.Create(ctx, fb))

	pending, err := repo.ListUnprocessedSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkProcessed(ctx, fb.ID))

	pending, err = repo.ListUnprocessedSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFeedbackScoreMapping(t *testing.T) {
	tests := []struct {
		rating int
		score  float64
	}{
		{1, -1.0},
		{2, -0.5},
		{3, 0.0},
		{4, 0.5},
		{5, 1.0},
	}

	for _, tt := range tests {
		fb := &Feedback{Rating: tt.rating}
		assert.Equal(t, tt.score, fb.Score())
	}

	assert.True(t, (&Feedback{Rating: 2}).IsNegative())
	assert.False(t, (&Feedback{Rating: 3}).IsNegative())
}

func TestQueryLogRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueryLogRepository(db)
	ctx := context.Background()

	log := &QueryLog{
		Zone:           "tulum",
		Development:    "aldea-zama",
		OriginalQuery:  "Hola!",
		AugmentedQuery: "hola",
		Outcome:        OutcomeSimple,
		Answer:         "Hola! Como puedo ayudarte?",
		Sources:        JSONStrings{"welcome-guide"},
		LatencyMs:      3,
	}
	require.NoError(t, repo.Create(ctx, log))

	got, err := repo.GetByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSimple, got.Outcome)
	assert.Equal(t, "Hola!", got.OriginalQuery)
	assert.Equal(t, JSONStrings{"welcome-guide"}, got.Sources)

	recent, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestQueryLogRepository_RegisterChunks(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueryLogRepository(db)
	ctx := context.Background()

	log := &QueryLog{
		Zone:           "tulum",
		Development:    "fuego",
		OriginalQuery:  "¿Cuál es el precio del lote?",
		AugmentedQuery: "cual es el precio del lote terreno",
		Outcome:        OutcomeGenerated,
		Answer:         "Desde $95,000 USD.",
	}
	require.NoError(t, repo.Create(ctx, log))

	chunks := []uuid.UUID{uuid.New(), uuid.New()}
	require.NoError(t, repo.RegisterChunks(ctx, log.ID, chunks))

	got, err := repo.GetByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, JSONStrings{chunks[0].String(), chunks[1].String()}, got.ChunkIDs)

	err = repo.RegisterChunks(ctx, uuid.New(), chunks)
	assert.ErrorIs(t, err, ErrNotFound)
}
