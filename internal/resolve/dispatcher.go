package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/query"
	"github.com/altaterra-ai/answer-engine/internal/storage"
)

// Query length bounds, in runes, applied to the trimmed original text.
const (
	minQueryLength = 3
	maxQueryLength = 2000
)

// Request is one query to resolve.
type Request struct {
	Query           string
	Scope           storage.Scope
	UserID          string
	ForceRegenerate bool // skip cache and learned tiers
}

// Resolution is the outcome of a resolved query. Sources names the
// files an answer drew on; References carries per-chunk detail for
// freshly generated answers.
type Resolution struct {
	QueryLogID uuid.UUID       `json:"query_log_id"`
	Answer     string          `json:"answer"`
	Outcome    storage.Outcome `json:"outcome"`
	Similarity float64         `json:"similarity,omitempty"`
	Sources    []string        `json:"sources,omitempty"`
	References []SourceRef     `json:"references,omitempty"`
	LatencyMs  int64           `json:"latency_ms"`
}

// Dispatcher runs the tiered resolution pipeline. Tier order is fixed:
// simple short-circuit, semantic cache, learned response, generation.
// The original query text feeds classification, logging, and the model;
// the normalized form keys exact-match lookups; the augmented form
// feeds similarity search.
type Dispatcher struct {
	normalizer *query.Normalizer
	expander   *query.Expander
	classifier *query.Classifier
	cache      *SemanticCache
	learned    *Learned
	generator  *Generator
	logs       *storage.QueryLogRepository
	logger     *observability.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	cache *SemanticCache,
	learned *Learned,
	generator *Generator,
	logs *storage.QueryLogRepository,
	logger *observability.Logger,
) *Dispatcher {
	return &Dispatcher{
		normalizer: query.NewNormalizer(),
		expander:   query.NewExpander(),
		classifier: query.NewClassifier(),
		cache:      cache,
		learned:    learned,
		generator:  generator,
		logs:       logs,
		logger:     logger,
	}
}

// Resolve answers one query, trying each tier in order.
func (d *Dispatcher) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		return nil, err
	}

	normalized := d.normalizer.Normalize(req.Query)
	augmented := d.expander.Augment(normalized)

	log := d.logger.WithContext(ctx).
		WithZone(req.Scope.Zone).
		WithOperation("resolve")

	// Tier 1: trivial queries go straight to the model with no
	// retrieval context and no cache involvement.
	if d.classifier.IsSimple(req.Query) {
		answer, err := d.generator.Quick(ctx, req.Query)
		if err != nil {
			// A greeting should never fail on a model outage.
			log.Warn().Err(err).Msg("quick generation failed, using canned reply")
			answer = d.classifier.Reply(req.Query)
		}
		res := &Resolution{
			Answer:  answer,
			Outcome: storage.OutcomeSimple,
		}
		d.finish(ctx, req, augmented, res, start)
		log.Info().Str("outcome", string(res.Outcome)).Msg("query resolved")
		return res, nil
	}

	if !req.ForceRegenerate {
		// Tier 2: semantic cache.
		entry, similarity, err := d.cache.Lookup(ctx, req.Scope, augmented)
		if err != nil {
			// A broken cache degrades to generation, it never blocks.
			log.Warn().Err(err).Msg("semantic cache lookup failed")
		}
		if entry != nil {
			go d.cache.RecordUse(context.WithoutCancel(ctx), entry.ID)
			res := &Resolution{
				Answer:     entry.Answer,
				Outcome:    storage.OutcomeCacheHit,
				Similarity: similarity,
				Sources:    entry.Sources,
			}
			d.finish(ctx, req, augmented, res, start)
			log.Info().
				Str("outcome", string(res.Outcome)).
				Float64("similarity", similarity).
				Msg("query resolved")
			return res, nil
		}

		// Tier 3: learned response by exact normalized key.
		lr, err := d.learned.Lookup(ctx, req.Scope, normalized)
		if err != nil {
			log.Warn().Err(err).Msg("learned lookup failed")
		}
		if lr != nil {
			go d.learned.RecordUse(context.WithoutCancel(ctx), lr.ID)
			sources := []string(lr.Sources)
			if len(sources) == 0 {
				// Learned rows born from feedback carry no sources;
				// borrow them from a cache entry for the same question
				// when one exists.
				sources, err = d.cache.StoredSources(ctx, req.Scope, normalized)
				if err != nil {
					log.Warn().Err(err).Msg("cache source lookup failed")
					sources = nil
				}
			}
			res := &Resolution{
				Answer:  lr.Answer,
				Outcome: storage.OutcomeLearnedHit,
				Sources: sources,
			}
			d.finish(ctx, req, augmented, res, start)
			log.Info().Str("outcome", string(res.Outcome)).Msg("query resolved")
			return res, nil
		}
	}

	// Tier 4: full generation.
	answer, refs, err := d.generator.Generate(ctx, req.Scope, req.Query, augmented)
	if err != nil {
		log.Error().Err(err).Msg("generation failed")
		return nil, err
	}

	sources := make([]string, 0, len(refs))
	chunkIDs := make([]uuid.UUID, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		chunkIDs = append(chunkIDs, ref.ID)
		if _, dup := seen[ref.Filename]; dup {
			continue
		}
		seen[ref.Filename] = struct{}{}
		sources = append(sources, ref.Filename)
	}

	res := &Resolution{
		Answer:     answer,
		Outcome:    storage.OutcomeGenerated,
		Sources:    sources,
		References: refs,
	}

	saved, err := d.cache.Save(ctx, &storage.CacheEntry{
		Zone:            req.Scope.Zone,
		Development:     req.Scope.Development,
		ContentType:     req.Scope.ContentType,
		NormalizedQuery: normalized,
		OriginalQuery:   req.Query,
		Answer:          answer,
		Sources:         sources,
	}, augmented)
	if err != nil {
		log.Warn().Err(err).Msg("cache save failed")
	}

	d.finish(ctx, req, augmented, res, start)
	if res.QueryLogID != uuid.Nil && len(chunkIDs) > 0 {
		if err := d.logs.RegisterChunks(ctx, res.QueryLogID, chunkIDs); err != nil {
			log.Warn().Err(err).Msg("chunk registration failed")
		}
	}
	log.Info().
		Str("outcome", string(res.Outcome)).
		Bool("cached", saved).
		Msg("query resolved")
	return res, nil
}

// finish stamps latency and writes the single query log row. Logging
// failures never surface to the caller.
func (d *Dispatcher) finish(ctx context.Context, req Request, augmented string, res *Resolution, start time.Time) {
	res.LatencyMs = time.Since(start).Milliseconds()

	row := &storage.QueryLog{
		Zone:           req.Scope.Zone,
		Development:    req.Scope.Development,
		ContentType:    req.Scope.ContentType,
		OriginalQuery:  req.Query,
		AugmentedQuery: augmented,
		UserID:         req.UserID,
		Outcome:        res.Outcome,
		Answer:         res.Answer,
		Sources:        res.Sources,
		Similarity:     res.Similarity,
		LatencyMs:      res.LatencyMs,
	}
	if err := d.logs.Create(ctx, row); err != nil {
		d.logger.Warn().Err(err).Msg("query log write failed")
		return
	}
	res.QueryLogID = row.ID
}

func validate(req Request) error {
	trimmed := strings.TrimSpace(req.Query)
	length := len([]rune(trimmed))
	if length < minQueryLength {
		return fmt.Errorf("%w: query too short (min %d characters)", ErrInvalidInput, minQueryLength)
	}
	if length > maxQueryLength {
		return fmt.Errorf("%w: query too long (max %d characters)", ErrInvalidInput, maxQueryLength)
	}
	if !req.Scope.Valid() {
		return fmt.Errorf("%w: zone and development are required", ErrInvalidInput)
	}
	return nil
}

// Normalize exposes the dispatcher's normalization so feedback intake
// produces keys identical to resolution.
func (d *Dispatcher) Normalize(q string) string {
	return d.normalizer.Normalize(q)
}
