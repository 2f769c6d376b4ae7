package resolve

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altaterra-ai/answer-engine/internal/cache"
	"github.com/altaterra-ai/answer-engine/internal/embedding"
	"github.com/altaterra-ai/answer-engine/internal/llm"
	"github.com/altaterra-ai/answer-engine/internal/memory"
	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/storage"
	"github.com/altaterra-ai/answer-engine/internal/vector"
)

type harness struct {
	db         *sql.DB
	repos      *storage.Repositories
	index      *vector.MemoryIndex
	gen        *llm.MockGenerator
	notes      *memory.Store
	cache      *SemanticCache
	learned    *Learned
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, embedder embedding.Embedder, gen *llm.MockGenerator) *harness {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.EnsureSchema(context.Background(), db))

	repos := storage.NewRepositories(db)
	index := vector.NewMemoryIndex(0)
	logger := observability.Nop()
	notes := memory.NewStore(cache.NewMemoryClient(100), time.Hour)

	sc := NewSemanticCache(repos.CacheEntries, repos.Feedback, index, embedder, logger, SemanticCacheConfig{
		SimilarityThreshold: 0.85,
		TTL:                 time.Hour,
		MaxPerScope:         256,
	})
	learned := NewLearned(repos.LearnedResponses, logger, 0.7)
	gen0 := NewGenerator(gen, index, embedder, notes, logger, GeneratorConfig{
		TopK:                5,
		ImportanceThreshold: 0.7,
	})

	return &harness{
		db:         db,
		repos:      repos,
		index:      index,
		gen:        gen,
		notes:      notes,
		cache:      sc,
		learned:    learned,
		dispatcher: NewDispatcher(sc, learned, gen0, repos.QueryLogs, logger),
	}
}

func tulumScope() storage.Scope {
	return storage.Scope{Zone: "tulum", Development: "fuego"}
}

func countQueryLogs(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM query_logs`).Scan(&n))
	return n
}

func TestResolve_Validation(t *testing.T) {
	h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("ok"))
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"too short", Request{Query: "ab", Scope: tulumScope()}},
		{"whitespace only", Request{Query: "    ", Scope: tulumScope()}},
		{"too long", Request{Query: longQuery(2001), Scope: tulumScope()}},
		{"missing zone", Request{Query: "precio del lote", Scope: storage.Scope{Development: "fuego"}}},
		{"missing development", Request{Query: "precio del lote", Scope: storage.Scope{Zone: "tulum"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.dispatcher.Resolve(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	assert.Equal(t, 0, countQueryLogs(t, h.db), "invalid requests must not be logged")
}

func longQuery(n int) string {
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = 'a'
	}
	return string(runes)
}

func TestResolve_SimpleShortCircuit(t *testing.T) {
	h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("¡Hola! ¿En qué puedo ayudarte hoy?"))
	ctx := context.Background()

	res, err := h.dispatcher.Resolve(ctx, Request{Query: "Hola!", Scope: tulumScope()})
	require.NoError(t, err)

	assert.Equal(t, storage.OutcomeSimple, res.Outcome)
	assert.Equal(t, "¡Hola! ¿En qué puedo ayudarte hoy?", res.Answer)
	assert.Equal(t, 1, countQueryLogs(t, h.db))

	calls := h.gen.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 2)
	assert.Equal(t, "Hola!", calls[0].Messages[1].Content, "greetings reach the model without retrieval context")

	// a simple query must not create cache entries
	count, err := h.index.Count(ctx, vector.NamespaceCache)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestResolve_SimpleFallsBackWhenModelDown(t *testing.T) {
	gen := llm.NewMockGenerator().FailWith(assert.AnError)
	h := newHarness(t, embedding.NewMockClient(64), gen)

	res, err := h.dispatcher.Resolve(context.Background(), Request{Query: "Hola!", Scope: tulumScope()})
	require.NoError(t, err, "a greeting must not fail on a model outage")
	assert.Equal(t, storage.OutcomeSimple, res.Outcome)
	assert.Contains(t, res.Answer, "Hola")
}

func TestResolve_GeneratedThenCached(t *testing.T) {
	h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("El lote 12 cuesta $120,000 USD."))
	ctx := context.Background()
	req := Request{Query: "¿Cuál es el precio del lote en Fuego?", Scope: tulumScope()}

	first, err := h.dispatcher.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeGenerated, first.Outcome)
	assert.Equal(t, "El lote 12 cuesta $120,000 USD.", first.Answer)
	assert.Len(t, h.gen.Calls(), 1)

	second, err := h.dispatcher.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeCacheHit, second.Outcome)
	assert.Equal(t, first.Answer, second.Answer)
	assert.GreaterOrEqual(t, second.Similarity, 0.85)
	assert.Len(t, h.gen.Calls(), 1, "cache hit must not regenerate")

	assert.Equal(t, 2, countQueryLogs(t, h.db), "one log row per resolution")
}

func TestResolve_CacheScopeIsolation(t *testing.T) {
	h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("answer one", "answer two"))
	ctx := context.Background()
	q := "¿Cuál es el precio del lote?"

	first, err := h.dispatcher.Resolve(ctx, Request{Query: q, Scope: tulumScope()})
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeGenerated, first.Outcome)

	other := storage.Scope{Zone: "tulum", Development: "aldea-zama"}
	second, err := h.dispatcher.Resolve(ctx, Request{Query: q, Scope: other})
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeGenerated, second.Outcome, "other development must not see the cached answer")
	assert.Len(t, h.gen.Calls(), 2)
}

func TestResolve_ForceRegenerate(t *testing.T) {
	h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("primera respuesta", "respuesta fresca"))
	ctx := context.Background()
	req := Request{Query: "¿Qué amenidades tiene el desarrollo?", Scope: tulumScope()}

	_, err := h.dispatcher.Resolve(ctx, req)
	require.NoError(t, err)

	req.ForceRegenerate = true
	res, err := h.dispatcher.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeGenerated, res.Outcome)
	assert.Equal(t, "respuesta fresca", res.Answer)
	assert.Len(t, h.gen.Calls(), 2)
}

func upsertLearned(t *testing.T, repos *storage.Repositories, lr *storage.LearnedResponse) {
	t.Helper()
	_, err := repos.LearnedResponses.Upsert(context.Background(), lr)
	require.NoError(t, err)
}

func TestResolve_LearnedGating(t *testing.T) {
	ctx := context.Background()
	scope := tulumScope()
	q := "¿Hay financiamiento disponible?"

	t.Run("score at threshold is served", func(t *testing.T) {
		h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("generated instead"))
		normalized := h.dispatcher.Normalize(q)
		upsertLearned(t, h.repos, &storage.LearnedResponse{
			Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
			NormalizedQuery: normalized,
			Answer:          "Sí, hasta 24 mensualidades sin intereses.",
			Score:           0.70,
			Sources:         storage.JSONStrings{"chunk-7"},
		})

		res, err := h.dispatcher.Resolve(ctx, Request{Query: q, Scope: scope})
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeLearnedHit, res.Outcome)
		assert.Equal(t, "Sí, hasta 24 mensualidades sin intereses.", res.Answer)
		assert.Equal(t, []string{"chunk-7"}, res.Sources, "learned hits reuse stored sources")
		assert.Empty(t, h.gen.Calls())
	})

	t.Run("sourceless hit borrows cache sources", func(t *testing.T) {
		h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("generated instead"))
		normalized := h.dispatcher.Normalize(q)
		upsertLearned(t, h.repos, &storage.LearnedResponse{
			Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
			NormalizedQuery: normalized,
			Answer:          "Sí, con enganche del 30%.",
			Score:           0.9,
		})
		require.NoError(t, h.repos.CacheEntries.Create(ctx, &storage.CacheEntry{
			Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
			NormalizedQuery: normalized,
			OriginalQuery:   q,
			Answer:          "Sí, con enganche del 30%.",
			Sources:         storage.JSONStrings{"financing-terms"},
			ExpiresAt:       time.Now().Add(time.Hour),
		}))

		// nothing indexed for this entry, so the cache tier misses and
		// the learned tier serves the answer
		res, err := h.dispatcher.Resolve(ctx, Request{Query: q, Scope: scope})
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeLearnedHit, res.Outcome)
		assert.Equal(t, []string{"financing-terms"}, res.Sources)
	})

	t.Run("score below threshold falls through", func(t *testing.T) {
		h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("generated instead"))
		normalized := h.dispatcher.Normalize(q)
		upsertLearned(t, h.repos, &storage.LearnedResponse{
			Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
			NormalizedQuery: normalized,
			Answer:          "respuesta dudosa",
			Score:           0.69,
		})

		res, err := h.dispatcher.Resolve(ctx, Request{Query: q, Scope: scope})
		require.NoError(t, err)
		assert.Equal(t, storage.OutcomeGenerated, res.Outcome)
		assert.Equal(t, "generated instead", res.Answer)
		assert.Len(t, h.gen.Calls(), 1)
	})
}

func TestResolve_CacheBeatsLearned(t *testing.T) {
	h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("cached answer"))
	ctx := context.Background()
	scope := tulumScope()
	q := "¿Cuánto cuesta el departamento más chico?"

	// populate the cache through a real resolution
	_, err := h.dispatcher.Resolve(ctx, Request{Query: q, Scope: scope})
	require.NoError(t, err)

	// and plant a competing learned response for the same key
	upsertLearned(t, h.repos, &storage.LearnedResponse{
		Zone: scope.Zone, Development: scope.Development, ContentType: scope.ContentType,
		NormalizedQuery: h.dispatcher.Normalize(q),
		Answer:          "learned answer",
		Score:           1.0,
	})

	res, err := h.dispatcher.Resolve(ctx, Request{Query: q, Scope: scope})
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeCacheHit, res.Outcome, "cache tier runs before learned tier")
	assert.Equal(t, "cached answer", res.Answer)
}

func TestResolve_UpstreamUnavailable(t *testing.T) {
	gen := llm.NewMockGenerator("never").UnhealthyWith(assert.AnError)
	h := newHarness(t, embedding.NewMockClient(64), gen)

	_, err := h.dispatcher.Resolve(context.Background(), Request{
		Query: "¿Cuál es el precio del penthouse?", Scope: tulumScope(),
	})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Empty(t, gen.Calls(), "health check must run before generation")
	assert.Equal(t, 0, countQueryLogs(t, h.db))
}

func TestResolve_EmptyAnswer(t *testing.T) {
	h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("   \n  "))

	_, err := h.dispatcher.Resolve(context.Background(), Request{
		Query: "¿Cuál es el precio del penthouse?", Scope: tulumScope(),
	})
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestResolve_GenerationUsesKnowledgeAndNotes(t *testing.T) {
	h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("respuesta con contexto"))
	ctx := context.Background()
	scope := tulumScope()

	// seed scoped knowledge
	emb := embedding.NewMockClient(64)
	vec, err := emb.EmbedSingle(ctx, "precio lote fuego")
	require.NoError(t, err)
	chunkID := uuid.New()
	require.NoError(t, h.index.Upsert(ctx, []vector.Entry{{
		ID:          chunkID,
		Namespace:   vector.NamespaceKnowledge,
		Zone:        scope.Zone,
		Development: scope.Development,
		Vector:      vec,
		Metadata: map[string]interface{}{
			"text":   "Los lotes en Fuego van de $95,000 a $140,000 USD.",
			"source": "price-list-2026",
		},
	}}))

	// and an important operational note
	require.NoError(t, h.notes.Add(ctx, memory.Note{
		Zone: scope.Zone, Development: scope.Development,
		Text: "Fase 1 agotada", Importance: 0.9,
	}))
	require.NoError(t, h.notes.Add(ctx, memory.Note{
		Zone: scope.Zone, Development: scope.Development,
		Text: "Nota irrelevante", Importance: 0.2,
	}))

	res, err := h.dispatcher.Resolve(ctx, Request{
		Query: "¿Cuál es el precio del lote en Fuego?", Scope: scope,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeGenerated, res.Outcome)
	assert.Contains(t, res.Sources, "price-list-2026")
	require.NotEmpty(t, res.References)
	assert.Equal(t, "price-list-2026", res.References[0].Filename)
	assert.Contains(t, res.References[0].Preview, "Los lotes en Fuego")

	row, err := h.repos.QueryLogs.GetByID(ctx, res.QueryLogID)
	require.NoError(t, err)
	assert.Equal(t, storage.JSONStrings{chunkID.String()}, row.ChunkIDs,
		"retrieved chunk identifiers are registered against the log row")

	calls := h.gen.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 2)
	prompt := calls[0].Messages[1].Content
	assert.Contains(t, prompt, "Los lotes en Fuego van de $95,000 a $140,000 USD.")
	assert.Contains(t, prompt, "Fase 1 agotada")
	assert.NotContains(t, prompt, "Nota irrelevante", "low-importance notes stay out of the prompt")
	assert.Contains(t, prompt, "¿Cuál es el precio del lote en Fuego?", "the model sees the original text")
}

func TestResolve_LogsOriginalAndAugmented(t *testing.T) {
	h := newHarness(t, embedding.NewMockClient(64), llm.NewMockGenerator("ok"))
	ctx := context.Background()

	res, err := h.dispatcher.Resolve(ctx, Request{
		Query: "¿Cuál es el presio del lote?", Scope: tulumScope(), UserID: "u-42",
	})
	require.NoError(t, err)

	row, err := h.repos.QueryLogs.GetByID(ctx, res.QueryLogID)
	require.NoError(t, err)
	assert.Equal(t, "¿Cuál es el presio del lote?", row.OriginalQuery, "logs keep the raw text")
	assert.Contains(t, row.AugmentedQuery, "precio", "augmented form is normalized")
	assert.Contains(t, row.AugmentedQuery, "terreno", "augmented form carries expansion terms")
	assert.Equal(t, "u-42", row.UserID)
}
