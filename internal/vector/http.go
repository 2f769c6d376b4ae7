package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPIndex talks to a remote vector search service over a small JSON
// protocol. It carries the same semantics as MemoryIndex; the service
// owns persistence and approximate-search tuning.
type HTTPIndex struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// HTTPConfig holds remote index configuration.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPIndex creates a client for a remote vector index.
func NewHTTPIndex(cfg HTTPConfig) (*HTTPIndex, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPIndex{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}, nil
}

var _ Index = (*HTTPIndex)(nil)

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	TopK        int       `json:"top_k"`
	Namespace   string    `json:"namespace"`
	Zone        string    `json:"zone,omitempty"`
	Development string    `json:"development,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
	Error   string      `json:"error,omitempty"`
}

type searchHit struct {
	ID       uuid.UUID              `json:"id"`
	Score    float32                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Entries []upsertEntry `json:"entries"`
}

type upsertEntry struct {
	ID          uuid.UUID              `json:"id"`
	Namespace   string                 `json:"namespace"`
	Zone        string                 `json:"zone"`
	Development string                 `json:"development"`
	ContentType string                 `json:"content_type,omitempty"`
	Vector      []float32              `json:"vector"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type deleteRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

type countResponse struct {
	Count int64  `json:"count"`
	Error string `json:"error,omitempty"`
}

// Search finds the k most similar entries matching the filter.
func (h *HTTPIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	req := searchRequest{
		Vector:      query,
		TopK:        k,
		Namespace:   filter.Namespace,
		Zone:        filter.Zone,
		Development: filter.Development,
		ContentType: filter.ContentType,
	}

	var resp searchResponse
	if err := h.post(ctx, "/v1/vectors/search", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("vector search: %s", resp.Error)
	}

	results := make([]Result, len(resp.Results))
	for i, hit := range resp.Results {
		results[i] = Result{ID: hit.ID, Score: hit.Score, Metadata: hit.Metadata}
	}
	return results, nil
}

// Upsert adds or replaces entries in the index.
func (h *HTTPIndex) Upsert(ctx context.Context, entries []Entry) error {
	req := upsertRequest{Entries: make([]upsertEntry, len(entries))}
	for i, e := range entries {
		req.Entries[i] = upsertEntry{
			ID:          e.ID,
			Namespace:   e.Namespace,
			Zone:        e.Zone,
			Development: e.Development,
			ContentType: e.ContentType,
			Vector:      e.Vector,
			Metadata:    e.Metadata,
		}
	}
	return h.post(ctx, "/v1/vectors/upsert", req, &struct{}{})
}

// Delete removes entries from the index.
func (h *HTTPIndex) Delete(ctx context.Context, ids []uuid.UUID) error {
	return h.post(ctx, "/v1/vectors/delete", deleteRequest{IDs: ids}, &struct{}{})
}

// Count returns the number of entries in a namespace.
func (h *HTTPIndex) Count(ctx context.Context, namespace string) (int64, error) {
	var resp countResponse
	if err := h.post(ctx, "/v1/vectors/count", map[string]string{"namespace": namespace}, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("vector count: %s", resp.Error)
	}
	return resp.Count, nil
}

// Close releases resources.
func (h *HTTPIndex) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

func (h *HTTPIndex) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", h.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector service: status %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
