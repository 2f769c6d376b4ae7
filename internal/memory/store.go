// Package memory keeps short operational notes about developments,
// like sold-out phases or temporary promotions, that should color
// generated answers while they stay relevant.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/altaterra-ai/answer-engine/internal/cache"
	"github.com/altaterra-ai/answer-engine/internal/storage"
)

// Note is one operational fact about a scope. Importance lives in
// [0, 1]; only notes at or above the configured threshold reach the
// generation prompt.
type Note struct {
	ID          uuid.UUID `json:"id"`
	Zone        string    `json:"zone"`
	Development string    `json:"development"`
	Text        string    `json:"text"`
	Importance  float64   `json:"importance"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists notes in the shared cache backend, one list per scope.
type Store struct {
	cache cache.Client
	ttl   time.Duration
}

// NewStore creates a note store. TTL bounds how long a note can
// influence answers; zero means 30 days.
func NewStore(c cache.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Store{cache: c, ttl: ttl}
}

func scopeKey(scope storage.Scope) string {
	return cache.ScopeCacheKey(scope.Zone, scope.Development, "notes")
}

// Add records a note for its scope.
func (s *Store) Add(ctx context.Context, note Note) error {
	if note.Zone == "" || note.Development == "" {
		return fmt.Errorf("note requires zone and development")
	}
	if note.Importance < 0 || note.Importance > 1 {
		return fmt.Errorf("importance must be in [0, 1]: %f", note.Importance)
	}
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}

	scope := storage.Scope{Zone: note.Zone, Development: note.Development}
	notes, err := s.list(ctx, scope)
	if err != nil {
		return err
	}
	notes = append(notes, note)

	return s.save(ctx, scope, notes)
}

// Relevant returns the notes for a scope with importance at or above
// the threshold, most important first.
func (s *Store) Relevant(ctx context.Context, scope storage.Scope, threshold float64) ([]Note, error) {
	notes, err := s.list(ctx, scope)
	if err != nil {
		return nil, err
	}

	var relevant []Note
	for _, n := range notes {
		if n.Importance >= threshold {
			relevant = append(relevant, n)
		}
	}

	sort.Slice(relevant, func(i, j int) bool {
		return relevant[i].Importance > relevant[j].Importance
	})
	return relevant, nil
}

// Forget drops a single note from its scope.
func (s *Store) Forget(ctx context.Context, scope storage.Scope, id uuid.UUID) error {
	notes, err := s.list(ctx, scope)
	if err != nil {
		return err
	}

	kept := notes[:0]
	for _, n := range notes {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(notes) {
		return storage.ErrNotFound
	}

	return s.save(ctx, scope, kept)
}

// Clear removes all notes for a scope.
func (s *Store) Clear(ctx context.Context, scope storage.Scope) error {
	return s.cache.Delete(ctx, scopeKey(scope))
}

func (s *Store) list(ctx context.Context, scope storage.Scope) ([]Note, error) {
	data, err := s.cache.Get(ctx, scopeKey(scope))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}

	var notes []Note
	if err := json.Unmarshal(data, &notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return notes, nil
}

func (s *Store) save(ctx context.Context, scope storage.Scope, notes []Note) error {
	data, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}
	if err := s.cache.Set(ctx, scopeKey(scope), data, s.ttl); err != nil {
		return fmt.Errorf("save notes: %w", err)
	}
	return nil
}
