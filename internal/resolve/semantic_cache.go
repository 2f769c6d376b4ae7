package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altaterra-ai/answer-engine/internal/embedding"
	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/storage"
	"github.com/altaterra-ai/answer-engine/internal/vector"
)

// similarityEpsilon absorbs float32 rounding when a score sits on the
// similarity threshold itself.
const similarityEpsilon = 1e-6

// SemanticCache reuses stored answers for queries that embed close to a
// previous one within the same scope. Rows live in the database; their
// embeddings live in the vector index under the cache namespace.
type SemanticCache struct {
	entries     *storage.CacheEntryRepository
	feedback    *storage.FeedbackRepository
	index       vector.Index
	embedder    embedding.Embedder
	logger      *observability.Logger
	threshold   float64
	ttl         time.Duration
	maxPerScope int
}

// SemanticCacheConfig holds cache tuning knobs.
type SemanticCacheConfig struct {
	SimilarityThreshold float64       // minimum cosine similarity for a hit
	TTL                 time.Duration // entry lifetime
	MaxPerScope         int           // candidate cap per scope
}

// NewSemanticCache creates a semantic cache.
func NewSemanticCache(
	entries *storage.CacheEntryRepository,
	feedback *storage.FeedbackRepository,
	index vector.Index,
	embedder embedding.Embedder,
	logger *observability.Logger,
	cfg SemanticCacheConfig,
) *SemanticCache {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.MaxPerScope <= 0 {
		cfg.MaxPerScope = 256
	}
	return &SemanticCache{
		entries:     entries,
		feedback:    feedback,
		index:       index,
		embedder:    embedder,
		logger:      logger,
		threshold:   cfg.SimilarityThreshold,
		ttl:         cfg.TTL,
		maxPerScope: cfg.MaxPerScope,
	}
}

// Lookup returns the best cached answer for the augmented query, or nil
// when nothing in scope clears the similarity threshold. Expired rows
// are treated as misses and cleaned up in passing.
func (c *SemanticCache) Lookup(ctx context.Context, scope storage.Scope, augmented string) (*storage.CacheEntry, float64, error) {
	queryVec, err := c.embedder.EmbedSingle(ctx, augmented)
	if err != nil {
		return nil, 0, fmt.Errorf("embed query: %w", err)
	}

	results, err := c.index.Search(ctx, queryVec, 1, vector.Filter{
		Namespace:   vector.NamespaceCache,
		Zone:        scope.Zone,
		Development: scope.Development,
		ContentType: string(scope.ContentType),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("search cache index: %w", err)
	}
	if len(results) == 0 {
		return nil, 0, nil
	}

	best := results[0]
	// scores arrive as float32; the epsilon keeps a similarity of
	// exactly the threshold from being rejected by representation error
	if float64(best.Score)+similarityEpsilon < c.threshold {
		return nil, float64(best.Score), nil
	}

	entry, err := c.entries.GetByID(ctx, best.ID)
	if err == storage.ErrNotFound {
		// Stale index entry with no backing row.
		_ = c.index.Delete(ctx, []uuid.UUID{best.ID})
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load cache entry: %w", err)
	}

	if time.Now().After(entry.ExpiresAt) {
		c.evict(ctx, entry.ID)
		return nil, 0, nil
	}

	return entry, float64(best.Score), nil
}

// Save stores a freshly generated answer unless the latest feedback for
// this question in this scope is negative. Returns whether the entry
// was stored.
func (c *SemanticCache) Save(ctx context.Context, entry *storage.CacheEntry, augmented string) (bool, error) {
	rating, err := c.feedback.LatestRating(ctx, entry.Scope(), entry.NormalizedQuery)
	if err == nil && rating <= 2 {
		c.logger.Info().
			Str("zone", entry.Zone).
			Str("development", entry.Development).
			Int("rating", rating).
			Msg("skipping cache save, latest feedback is negative")
		return false, nil
	}
	if err != nil && err != storage.ErrNotFound {
		return false, fmt.Errorf("check feedback: %w", err)
	}

	queryVec, err := c.embedder.EmbedSingle(ctx, augmented)
	if err != nil {
		return false, fmt.Errorf("embed query: %w", err)
	}

	entry.ExpiresAt = time.Now().Add(c.ttl)
	if err := c.entries.Create(ctx, entry); err != nil {
		return false, fmt.Errorf("store cache entry: %w", err)
	}

	if err := c.index.Upsert(ctx, []vector.Entry{{
		ID:          entry.ID,
		Namespace:   vector.NamespaceCache,
		Zone:        entry.Zone,
		Development: entry.Development,
		ContentType: string(entry.ContentType),
		Vector:      queryVec,
	}}); err != nil {
		// Roll back the row so the stores stay consistent.
		_ = c.entries.Delete(ctx, entry.ID)
		return false, fmt.Errorf("index cache entry: %w", err)
	}

	c.prune(ctx, entry.Scope())
	return true, nil
}

// StoredSources returns the sources of the newest live cache entry for
// the same scope and normalized query, or nil when none exists.
func (c *SemanticCache) StoredSources(ctx context.Context, scope storage.Scope, normalizedQuery string) ([]string, error) {
	entry, err := c.entries.GetByNormalizedQuery(ctx, scope, normalizedQuery)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cache entry: %w", err)
	}
	if time.Now().After(entry.ExpiresAt) {
		return nil, nil
	}
	return entry.Sources, nil
}

// RecordUse bumps the usage counter. Failures are logged, never returned.
func (c *SemanticCache) RecordUse(ctx context.Context, id uuid.UUID) {
	if err := c.entries.IncrementUsage(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("entry_id", id.String()).Msg("cache usage increment failed")
	}
}

// PurgeExpired drops expired rows and their index entries.
func (c *SemanticCache) PurgeExpired(ctx context.Context) (int, error) {
	ids, err := c.entries.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	if len(ids) > 0 {
		if err := c.index.Delete(ctx, ids); err != nil {
			return len(ids), fmt.Errorf("delete expired vectors: %w", err)
		}
	}
	return len(ids), nil
}

// Invalidate removes one entry from both stores.
func (c *SemanticCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := c.entries.Delete(ctx, id); err != nil {
		return err
	}
	return c.index.Delete(ctx, []uuid.UUID{id})
}

func (c *SemanticCache) evict(ctx context.Context, id uuid.UUID) {
	if err := c.Invalidate(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("entry_id", id.String()).Msg("cache eviction failed")
	}
}

func (c *SemanticCache) prune(ctx context.Context, scope storage.Scope) {
	removed, err := c.entries.PruneScope(ctx, scope, c.maxPerScope)
	if err != nil {
		c.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("cache prune failed")
		return
	}
	if len(removed) > 0 {
		if err := c.index.Delete(ctx, removed); err != nil {
			c.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("cache prune index cleanup failed")
		}
	}
}
