// Package engine provides the public Go SDK for the Answer Engine API.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the public SDK client for the Answer Engine.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL string
	Token   string // bearer token; optional when the server runs with auth disabled
	Timeout time.Duration
}

// NewClient creates a new Answer Engine client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8090"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// ResolveRequest represents a query resolution request.
type ResolveRequest struct {
	Query           string `json:"query"`
	Zone            string `json:"zone"`
	Development     string `json:"development"`
	ContentType     string `json:"contentType,omitempty"`
	ForceRegenerate bool   `json:"forceRegenerate,omitempty"`
}

// SourceRef describes one knowledge chunk a generated answer used.
type SourceRef struct {
	Filename  string  `json:"filename"`
	Page      int     `json:"page,omitempty"`
	Chunk     int     `json:"chunk,omitempty"`
	Relevance float64 `json:"relevance"`
	Preview   string  `json:"preview,omitempty"`
}

// ResolveResponse represents a query resolution response.
type ResolveResponse struct {
	Success    bool        `json:"success"`
	QueryLogID string      `json:"queryLogId,omitempty"`
	Answer     string      `json:"answer"`
	Outcome    string      `json:"outcome"`
	Similarity float64     `json:"similarity,omitempty"`
	Sources    []string    `json:"sources,omitempty"`
	References []SourceRef `json:"references,omitempty"`
	LatencyMs  int64       `json:"latencyMs"`
}

// Resolve answers a buyer question within a zone/development scope.
func (c *Client) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResponse, error) {
	var resp ResolveResponse
	if err := c.post(ctx, "/api/v1/queries/resolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FeedbackRequest represents an answer rating submission.
type FeedbackRequest struct {
	QueryLogID string `json:"queryLogId"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment,omitempty"`
}

// FeedbackResponse represents a feedback submission response.
type FeedbackResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
}

// SubmitFeedback rates a previously resolved answer.
func (c *Client) SubmitFeedback(ctx context.Context, req FeedbackRequest) (*FeedbackResponse, error) {
	var resp FeedbackResponse
	if err := c.post(ctx, "/api/v1/feedback", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReinforceReport represents the result of a reinforcement run.
type ReinforceReport struct {
	StartedAt  string   `json:"startedAt"`
	FinishedAt string   `json:"finishedAt"`
	Processed  int      `json:"processed"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Errors     []string `json:"errors,omitempty"`
}

// RunReinforce triggers a reinforcement run over recent feedback.
func (c *Client) RunReinforce(ctx context.Context) (*ReinforceReport, error) {
	var resp ReinforceReport
	if err := c.post(ctx, "/api/v1/reinforce/run", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	defer httpResp.Body.Close()

	var resp HealthResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &resp, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode}
		raw, _ := io.ReadAll(httpResp.Body)
		var errBody struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			apiErr.Message = errBody.Error
			apiErr.Detail = errBody.Detail
		} else {
			apiErr.Message = string(raw)
		}
		return apiErr
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
