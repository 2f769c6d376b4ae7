// Package reinforce turns user feedback into learned responses so that
// well-rated answers are served without regeneration.
package reinforce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/storage"
)

// Job processes unconsumed feedback within a time window and upserts
// the corresponding learned responses. A failing item never stops the
// batch; it is reported and the rest proceeds.
type Job struct {
	feedback *storage.FeedbackRepository
	learned  *storage.LearnedResponseRepository
	logger   *observability.Logger
	config   Config
}

// Config holds reinforcement job configuration.
type Config struct {
	Window         time.Duration // how far back to pick up feedback
	MaxConcurrency int
}

// Report contains the results of one reinforcement run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	Created    int
	Updated    int
	Errors     []ItemError
}

// ItemError records a single feedback item that could not be applied.
type ItemError struct {
	FeedbackID uuid.UUID
	Err        string
}

// NewJob creates a reinforcement job.
func NewJob(feedback *storage.FeedbackRepository, learned *storage.LearnedResponseRepository, logger *observability.Logger, cfg Config) *Job {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Job{
		feedback: feedback,
		learned:  learned,
		logger:   logger,
		config:   cfg,
	}
}

// Run executes one reinforcement pass.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now()}

	since := report.StartedAt.Add(-j.config.Window)
	items, err := j.feedback.ListUnprocessedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}

	j.logger.Info().
		Int("pending", len(items)).
		Dur("window", j.config.Window).
		Msg("starting reinforcement run")

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, j.config.MaxConcurrency)

	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(fb *storage.Feedback) {
			defer wg.Done()
			defer func() { <-sem }()

			created, err := j.apply(ctx, fb)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, ItemError{FeedbackID: fb.ID, Err: err.Error()})
				j.logger.Warn().Err(err).Str("feedback_id", fb.ID.String()).Msg("feedback item failed")
				return
			}
			report.Processed++
			if created {
				report.Created++
			} else {
				report.Updated++
			}
		}(item)
	}
	wg.Wait()

	report.FinishedAt = time.Now()
	j.logger.Info().
		Int("processed", report.Processed).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("failed", len(report.Errors)).
		Msg("reinforcement run finished")
	return report, nil
}

// apply converts one feedback item into a learned response upsert.
// Returns whether a new learned response was created.
func (j *Job) apply(ctx context.Context, fb *storage.Feedback) (bool, error) {
	if fb.Rating < 1 || fb.Rating > 5 {
		return false, fmt.Errorf("rating out of range: %d", fb.Rating)
	}
	if fb.NormalizedQuery == "" {
		return false, fmt.Errorf("feedback has no query")
	}

	// Feedback carries no sources of its own; the empty list makes the
	// upsert keep whatever the stored row already has.
	created, err := j.learned.Upsert(ctx, &storage.LearnedResponse{
		Zone:            fb.Zone,
		Development:     fb.Development,
		ContentType:     fb.ContentType,
		NormalizedQuery: fb.NormalizedQuery,
		Answer:          fb.Answer,
		Score:           fb.Score(),
	})
	if err != nil {
		return false, fmt.Errorf("upsert learned response: %w", err)
	}

	if err := j.feedback.MarkProcessed(ctx, fb.ID); err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return created, nil
}
