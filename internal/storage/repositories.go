package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CacheEntryRepository handles semantic cache entry persistence.
type CacheEntryRepository struct {
	db DB
}

// NewCacheEntryRepository creates a new cache entry repository.
func NewCacheEntryRepository(db DB) *CacheEntryRepository {
	return &CacheEntryRepository{db: db}
}

// Create inserts a new cache entry.
func (r *CacheEntryRepository) Create(ctx context.Context, entry *CacheEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	query := `
		INSERT INTO cache_entries (id, zone, development, content_type, normalized_query,
			original_query, answer, sources, usage_count, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Zone, entry.Development, entry.ContentType,
		entry.NormalizedQuery, entry.OriginalQuery, entry.Answer, entry.Sources,
		entry.UsageCount, entry.CreatedAt, entry.ExpiresAt,
	)
	return err
}

// GetByID retrieves a cache entry by ID.
func (r *CacheEntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*CacheEntry, error) {
	query := `
		SELECT id, zone, development, content_type, normalized_query, original_query,
			answer, sources, usage_count, created_at, expires_at
		FROM cache_entries WHERE id = $1
	`
	entry := &CacheEntry{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&entry.ID, &entry.Zone, &entry.Development, &entry.ContentType,
		&entry.NormalizedQuery, &entry.OriginalQuery, &entry.Answer, &entry.Sources,
		&entry.UsageCount, &entry.CreatedAt, &entry.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// GetByNormalizedQuery returns the newest cache entry for a scope with a
// matching normalized query, or ErrNotFound.
func (r *CacheEntryRepository) GetByNormalizedQuery(ctx context.Context, scope Scope, normalizedQuery string) (*CacheEntry, error) {
	query := `
		SELECT id, zone, development, content_type, normalized_query, original_query,
			answer, sources, usage_count, created_at, expires_at
		FROM cache_entries
		WHERE zone = $1 AND development = $2 AND content_type = $3 AND normalized_query = $4
		ORDER BY created_at DESC
		LIMIT 1
	`
	entry := &CacheEntry{}
	err := r.db.QueryRowContext(ctx, query, scope.Zone, scope.Development, scope.ContentType, normalizedQuery).Scan(
		&entry.ID, &entry.Zone, &entry.Development, &entry.ContentType,
		&entry.NormalizedQuery, &entry.OriginalQuery, &entry.Answer, &entry.Sources,
		&entry.UsageCount, &entry.CreatedAt, &entry.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// IncrementUsage bumps the usage counter atomically.
func (r *CacheEntryRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE cache_entries SET usage_count = usage_count + 1 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByScope returns the number of live entries in a scope.
func (r *CacheEntryRepository) CountByScope(ctx context.Context, scope Scope) (int, error) {
	query := `
		SELECT COUNT(*) FROM cache_entries
		WHERE zone = $1 AND development = $2 AND content_type = $3
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, scope.Zone, scope.Development, scope.ContentType).Scan(&count)
	return count, err
}

// PruneScope removes the least recently created entries of a scope above
// the keep limit and returns the IDs removed so vector entries can be
// dropped alongside.
func (r *CacheEntryRepository) PruneScope(ctx context.Context, scope Scope, keep int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM cache_entries
		WHERE zone = $1 AND development = $2 AND content_type = $3
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, scope.Zone, scope.Development, scope.ContentType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		all = append(all, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(all) <= keep {
		return nil, nil
	}

	victims := all[keep:]
	for _, id := range victims {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE id = $1`, id); err != nil {
			return nil, err
		}
	}
	return victims, nil
}

// DeleteExpired removes entries past their expiry and returns their IDs.
func (r *CacheEntryRepository) DeleteExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM cache_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE id = $1`, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Delete removes a single entry.
func (r *CacheEntryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE id = $1`, id)
	return err
}

// LearnedResponseRepository handles learned response persistence.
type LearnedResponseRepository struct {
	db DB
}

// NewLearnedResponseRepository creates a new learned response repository.
func NewLearnedResponseRepository(db DB) *LearnedResponseRepository {
	return &LearnedResponseRepository{db: db}
}

// GetByKey retrieves the learned response for an exact normalized query
// within a scope.
func (r *LearnedResponseRepository) GetByKey(ctx context.Context, scope Scope, normalizedQuery string) (*LearnedResponse, error) {
	query := `
		SELECT id, zone, development, content_type, normalized_query, answer,
			score, sources, usage_count, created_at, updated_at
		FROM learned_responses
		WHERE zone = $1 AND development = $2 AND content_type = $3 AND normalized_query = $4
	`
	lr := &LearnedResponse{}
	err := r.db.QueryRowContext(ctx, query,
		scope.Zone, scope.Development, scope.ContentType, normalizedQuery,
	).Scan(
		&lr.ID, &lr.Zone, &lr.Development, &lr.ContentType, &lr.NormalizedQuery,
		&lr.Answer, &lr.Score, &lr.Sources, &lr.UsageCount, &lr.CreatedAt, &lr.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lr, err
}

// Upsert inserts the learned response or, when the key already exists,
// overwrites the answer and score in one atomic statement. Empty
// sources keep the stored ones so an overwrite never erases citation
// data. Returns whether a new row was created; on an update created_at
// keeps the original value while updated_at advances, so comparing the
// two identifies the insert case without a pre-read.
func (r *LearnedResponseRepository) Upsert(ctx context.Context, lr *LearnedResponse) (bool, error) {
	if lr.ID == uuid.Nil {
		lr.ID = uuid.New()
	}
	now := time.Now()
	lr.CreatedAt = now
	lr.UpdatedAt = now

	query := `
		INSERT INTO learned_responses (id, zone, development, content_type, normalized_query,
			answer, score, sources, usage_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (zone, development, content_type, normalized_query) DO UPDATE SET
			answer = excluded.answer,
			score = excluded.score,
			sources = CASE WHEN excluded.sources = '[]'
				THEN learned_responses.sources ELSE excluded.sources END,
			updated_at = excluded.updated_at
		RETURNING created_at = updated_at
	`
	var created bool
	err := r.db.QueryRowContext(ctx, query,
		lr.ID, lr.Zone, lr.Development, lr.ContentType, lr.NormalizedQuery,
		lr.Answer, lr.Score, lr.Sources, lr.UsageCount, lr.CreatedAt, lr.UpdatedAt,
	).Scan(&created)
	return created, err
}

// IncrementUsage bumps the usage counter atomically.
func (r *LearnedResponseRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE learned_responses SET usage_count = usage_count + 1 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByScope returns all learned responses for a scope.
func (r *LearnedResponseRepository) ListByScope(ctx context.Context, scope Scope) ([]*LearnedResponse, error) {
	query := `
		SELECT id, zone, development, content_type, normalized_query, answer,
			score, sources, usage_count, created_at, updated_at
		FROM learned_responses
		WHERE zone = $1 AND development = $2 AND content_type = $3
		ORDER BY updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, scope.Zone, scope.Development, scope.ContentType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []*LearnedResponse
	for rows.Next() {
		lr := &LearnedResponse{}
		if err := rows.Scan(
			&lr.ID, &lr.Zone, &lr.Development, &lr.ContentType, &lr.NormalizedQuery,
			&lr.Answer, &lr.Score, &lr.Sources, &lr.UsageCount, &lr.CreatedAt, &lr.UpdatedAt,
		); err != nil {
			return nil, err
		}
		responses = append(responses, lr)
	}
	return responses, rows.Err()
}

// FeedbackRepository handles feedback persistence.
type FeedbackRepository struct {
	db DB
}

// NewFeedbackRepository creates a new feedback repository.
func NewFeedbackRepository(db DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Create inserts a feedback record.
func (r *FeedbackRepository) Create(ctx context.Context, fb *Feedback) error {
	if fb.ID == uuid.Nil {
		fb.ID = uuid.New()
	}
	fb.CreatedAt = time.Now()

	query := `
		INSERT INTO feedback (id, query_log_id, zone, development, content_type,
			normalized_query, answer, rating, comment, user_id, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		fb.ID, fb.QueryLogID, fb.Zone, fb.Development, fb.ContentType,
		fb.NormalizedQuery, fb.Answer, fb.Rating, fb.Comment, fb.UserID,
		fb.Processed, fb.CreatedAt,
	)
	return err
}

// ListUnprocessedSince returns unprocessed feedback created after the
// given instant, oldest first.
func (r *FeedbackRepository) ListUnprocessedSince(ctx context.Context, since time.Time) ([]*Feedback, error) {
	query := `
		SELECT id, query_log_id, zone, development, content_type, normalized_query,
			answer, rating, comment, user_id, processed, created_at
		FROM feedback
		WHERE processed = FALSE AND created_at >= $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Feedback
	for rows.Next() {
		fb := &Feedback{}
		if err := rows.Scan(
			&fb.ID, &fb.QueryLogID, &fb.Zone, &fb.Development, &fb.ContentType,
			&fb.NormalizedQuery, &fb.Answer, &fb.Rating, &fb.Comment, &fb.UserID,
			&fb.Processed, &fb.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, fb)
	}
	return items, rows.Err()
}

// MarkProcessed flags a feedback record as consumed by reinforcement.
func (r *FeedbackRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `UPDATE feedback SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestRating returns the most recent rating for a normalized query in
// a scope, or ErrNotFound when the answer has never been rated.
func (r *FeedbackRepository) LatestRating(ctx context.Context, scope Scope, normalizedQuery string) (int, error) {
	query := `
		SELECT rating FROM feedback
		WHERE zone = $1 AND development = $2 AND content_type = $3 AND normalized_query = $4
		ORDER BY created_at DESC
		LIMIT 1
	`
	var rating int
	err := r.db.QueryRowContext(ctx, query,
		scope.Zone, scope.Development, scope.ContentType, normalizedQuery,
	).Scan(&rating)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return rating, err
}

// QueryLogRepository handles query log persistence.
type QueryLogRepository struct {
	db DB
}

// NewQueryLogRepository creates a new query log repository.
func NewQueryLogRepository(db DB) *QueryLogRepository {
	return &QueryLogRepository{db: db}
}

// Create inserts a query log row.
func (r *QueryLogRepository) Create(ctx context.Context, log *QueryLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = time.Now()

	query := `
		INSERT INTO query_logs (id, zone, development, content_type, original_query,
			augmented_query, user_id, outcome, answer, sources, similarity, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		log.ID, log.Zone, log.Development, log.ContentType, log.OriginalQuery,
		log.AugmentedQuery, log.UserID, log.Outcome, log.Answer, log.Sources,
		log.Similarity, log.LatencyMs, log.CreatedAt,
	)
	return err
}

// GetByID retrieves a query log row.
func (r *QueryLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*QueryLog, error) {
	query := `
		SELECT id, zone, development, content_type, original_query, augmented_query,
			user_id, outcome, answer, sources, chunk_ids, similarity, latency_ms, created_at
		FROM query_logs WHERE id = $1
	`
	log := &QueryLog{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&log.ID, &log.Zone, &log.Development, &log.ContentType, &log.OriginalQuery,
		&log.AugmentedQuery, &log.UserID, &log.Outcome, &log.Answer, &log.Sources,
		&log.ChunkIDs, &log.Similarity, &log.LatencyMs, &log.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return log, err
}

// RegisterChunks records the retrieved chunk identifiers against a log
// row after full generation.
func (r *QueryLogRepository) RegisterChunks(ctx context.Context, logID uuid.UUID, chunkIDs []uuid.UUID) error {
	ids := make(JSONStrings, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, id.String())
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE query_logs SET chunk_ids = $1 WHERE id = $2`, ids, logID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecent returns the most recent query log rows up to limit.
func (r *QueryLogRepository) ListRecent(ctx context.Context, limit int) ([]*QueryLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, zone, development, content_type, original_query, augmented_query,
			user_id, outcome, answer, sources, chunk_ids, similarity, latency_ms, created_at
		FROM query_logs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*QueryLog
	for rows.Next() {
		log := &QueryLog{}
		if err := rows.Scan(
			&log.ID, &log.Zone, &log.Development, &log.ContentType, &log.OriginalQuery,
			&log.AugmentedQuery, &log.UserID, &log.Outcome, &log.Answer, &log.Sources,
			&log.ChunkIDs, &log.Similarity, &log.LatencyMs, &log.CreatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// Repositories bundles all repositories together.
type Repositories struct {
	CacheEntries     *CacheEntryRepository
	LearnedResponses *LearnedResponseRepository
	Feedback         *FeedbackRepository
	QueryLogs        *QueryLogRepository
}

// NewRepositories creates all repositories with the given database connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		CacheEntries:     NewCacheEntryRepository(db),
		LearnedResponses: NewLearnedResponseRepository(db),
		Feedback:         NewFeedbackRepository(db),
		QueryLogs:        NewQueryLogRepository(db),
	}
}
