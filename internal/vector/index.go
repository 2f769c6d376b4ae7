// Package vector provides similarity search over embedded queries and
// knowledge content.
package vector

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Known namespaces.
const (
	NamespaceCache     = "cache"
	NamespaceKnowledge = "knowledge"
)

// ErrDimensionMismatch indicates incompatible vector dimensions.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Entry represents a vector to be indexed.
type Entry struct {
	ID          uuid.UUID
	Namespace   string
	Zone        string
	Development string
	ContentType string
	Vector      []float32
	Metadata    map[string]interface{}
}

// Filter restricts a search to a namespace and scope. Zone and
// Development are required; an empty ContentType matches any.
type Filter struct {
	Namespace   string
	Zone        string
	Development string
	ContentType string
}

// Result represents a search hit. Score is cosine similarity in [0, 1].
type Result struct {
	ID       uuid.UUID
	Score    float32
	Metadata map[string]interface{}
}

// Index defines the vector search interface.
type Index interface {
	// Search finds the k most similar entries matching the filter.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error)

	// Upsert adds or replaces entries in the index.
	Upsert(ctx context.Context, entries []Entry) error

	// Delete removes entries from the index.
	Delete(ctx context.Context, ids []uuid.UUID) error

	// Count returns the number of entries in a namespace.
	Count(ctx context.Context, namespace string) (int64, error)

	// Close releases resources.
	Close() error
}
