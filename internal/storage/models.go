// Package storage provides database models and repositories for the answer engine.
package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentType narrows a scope to a category of property content.
type ContentType string

const (
	ContentTypeGeneral      ContentType = "general"
	ContentTypePricing      ContentType = "pricing"
	ContentTypeAvailability ContentType = "availability"
	ContentTypeAmenities    ContentType = "amenities"
	ContentTypeLegal        ContentType = "legal"
)

// Outcome identifies which resolution tier produced an answer.
type Outcome string

const (
	OutcomeSimple     Outcome = "simple"
	OutcomeCacheHit   Outcome = "cache_hit"
	OutcomeLearnedHit Outcome = "learned_hit"
	OutcomeGenerated  Outcome = "generated"
)

// Scope identifies the slice of the knowledge base a query runs against.
// Zone and Development are required; ContentType is optional and empty
// means "any".
type Scope struct {
	Zone        string      `json:"zone"`
	Development string      `json:"development"`
	ContentType ContentType `json:"content_type,omitempty"`
}

// Key returns a stable string form usable as a cache key component.
func (s Scope) Key() string {
	return strings.Join([]string{s.Zone, s.Development, string(s.ContentType)}, "|")
}

// Valid reports whether the scope carries its required fields.
func (s Scope) Valid() bool {
	return s.Zone != "" && s.Development != ""
}

// JSONStrings is a []string stored as a JSON column.
type JSONStrings []string

// Value implements driver.Valuer.
func (j JSONStrings) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (j *JSONStrings) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSONStrings: %T", src)
	}
	return json.Unmarshal(data, j)
}

// CacheEntry is a stored answer reusable for semantically similar queries
// within the same scope. The embedding for similarity search lives in the
// vector index under the entry's ID; the row holds the answer payload.
type CacheEntry struct {
	ID              uuid.UUID   `json:"id"`
	Zone            string      `json:"zone"`
	Development     string      `json:"development"`
	ContentType     ContentType `json:"content_type"`
	NormalizedQuery string      `json:"normalized_query"`
	OriginalQuery   string      `json:"original_query"`
	Answer          string      `json:"answer"`
	Sources         JSONStrings `json:"sources"`
	UsageCount      int64       `json:"usage_count"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
}

// Scope returns the entry's scope.
func (e *CacheEntry) Scope() Scope {
	return Scope{Zone: e.Zone, Development: e.Development, ContentType: e.ContentType}
}

// LearnedResponse is a reinforced answer keyed by an exact normalized
// question within a scope. Score lives in [-1, 1]; answers at or above
// the configured threshold are served without regeneration.
type LearnedResponse struct {
	ID              uuid.UUID   `json:"id"`
	Zone            string      `json:"zone"`
	Development     string      `json:"development"`
	ContentType     ContentType `json:"content_type"`
	NormalizedQuery string      `json:"normalized_query"`
	Answer          string      `json:"answer"`
	Score           float64     `json:"score"`
	Sources         JSONStrings `json:"sources"`
	UsageCount      int64       `json:"usage_count"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Scope returns the response's scope.
func (l *LearnedResponse) Scope() Scope {
	return Scope{Zone: l.Zone, Development: l.Development, ContentType: l.ContentType}
}

// Feedback is a user rating of a served answer. Rating is on a 1-5
// scale; 1-2 is negative, 3 neutral, 4-5 positive.
type Feedback struct {
	ID              uuid.UUID   `json:"id"`
	QueryLogID      uuid.UUID   `json:"query_log_id"`
	Zone            string      `json:"zone"`
	Development     string      `json:"development"`
	ContentType     ContentType `json:"content_type"`
	NormalizedQuery string      `json:"normalized_query"`
	Answer          string      `json:"answer"`
	Rating          int         `json:"rating"`
	Comment         string      `json:"comment,omitempty"`
	UserID          string      `json:"user_id,omitempty"`
	Processed       bool        `json:"processed"`
	CreatedAt       time.Time   `json:"created_at"`
}

// IsNegative reports whether this rating marks the answer as bad.
func (f *Feedback) IsNegative() bool {
	return f.Rating <= 2
}

// Score maps the 1-5 rating onto the learned-response scale:
// 1 -> -1.0, 3 -> 0.0, 5 -> +1.0.
func (f *Feedback) Score() float64 {
	return float64(f.Rating-3) / 2.0
}

// QueryLog records exactly one row per resolved query, whatever tier
// answered it. OriginalQuery is what the user typed; AugmentedQuery is
// the normalized-and-expanded form used for lookups.
type QueryLog struct {
	ID             uuid.UUID   `json:"id"`
	Zone           string      `json:"zone"`
	Development    string      `json:"development"`
	ContentType    ContentType `json:"content_type"`
	OriginalQuery  string      `json:"original_query"`
	AugmentedQuery string      `json:"augmented_query"`
	UserID         string      `json:"user_id,omitempty"`
	Outcome        Outcome     `json:"outcome"`
	Answer         string      `json:"answer"`
	Sources        JSONStrings `json:"sources,omitempty"`
	ChunkIDs       JSONStrings `json:"chunk_ids,omitempty"`
	Similarity     float64     `json:"similarity,omitempty"`
	LatencyMs      int64       `json:"latency_ms"`
	CreatedAt      time.Time   `json:"created_at"`
}
