package resolve

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/storage"
)

// Learned serves reinforced answers keyed by the exact normalized query
// within a scope. Only responses at or above the score threshold are
// eligible; lower-scored rows stay in the table for reinforcement but
// never reach users.
type Learned struct {
	responses *storage.LearnedResponseRepository
	logger    *observability.Logger
	threshold float64
}

// NewLearned creates a learned-response lookup.
func NewLearned(responses *storage.LearnedResponseRepository, logger *observability.Logger, threshold float64) *Learned {
	if threshold == 0 {
		threshold = 0.7
	}
	return &Learned{
		responses: responses,
		logger:    logger,
		threshold: threshold,
	}
}

// Lookup returns the learned response for the normalized query, or nil
// when none exists or its score is below the threshold.
func (l *Learned) Lookup(ctx context.Context, scope storage.Scope, normalized string) (*storage.LearnedResponse, error) {
	lr, err := l.responses.GetByKey(ctx, scope, normalized)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load learned response: %w", err)
	}

	if lr.Score < l.threshold {
		l.logger.Debug().
			Str("scope", scope.Key()).
			Float64("score", lr.Score).
			Float64("threshold", l.threshold).
			Msg("learned response below threshold")
		return nil, nil
	}
	return lr, nil
}

// RecordUse bumps the usage counter. Failures are logged, never returned.
func (l *Learned) RecordUse(ctx context.Context, id uuid.UUID) {
	if err := l.responses.IncrementUsage(ctx, id); err != nil {
		l.logger.Warn().Err(err).Str("response_id", id.String()).Msg("learned usage increment failed")
	}
}
