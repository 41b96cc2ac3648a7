// Package client provides an HTTP client for a Rice Search server used as
// the platform under evaluation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is an HTTP client for the Rice Search API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	connectionID string
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the API server.
	BaseURL string `yaml:"base_url"`

	// Timeout is the request timeout.
	Timeout time.Duration `yaml:"timeout"`

	// ConnectionID is sent as X-Connection-ID when set.
	ConnectionID string `yaml:"connection_id"`

	// MaxConnsPerHost limits the total number of connections per host.
	// Zero means the default of 100.
	MaxConnsPerHost int `yaml:"max_conns_per_host"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8080",
		Timeout:         30 * time.Second,
		MaxConnsPerHost: 100,
	}
}

// New creates a new API client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 100
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		connectionID: cfg.ConnectionID,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Store represents a store.
type Store struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IndexRequest represents a request to index files.
type IndexRequest struct {
	Files []IndexFile `json:"files"`
	Force bool        `json:"force,omitempty"`
}

// IndexFile represents a file to index.
type IndexFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// IndexResult represents the result of indexing.
type IndexResult struct {
	Store   string `json:"store"`
	Indexed int    `json:"indexed"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// SearchRequest represents a search request.
type SearchRequest struct {
	Query           string   `json:"query"`
	TopK            int      `json:"top_k,omitempty"`
	Filter          *Filter  `json:"filter,omitempty"`
	EnableReranking *bool    `json:"enable_reranking,omitempty"`
	IncludeContent  bool     `json:"include_content,omitempty"`
	SparseWeight    *float32 `json:"sparse_weight,omitempty"`
	DenseWeight     *float32 `json:"dense_weight,omitempty"`
}

// Filter defines search filters.
type Filter struct {
	PathPrefix string   `json:"path_prefix,omitempty"`
	Languages  []string `json:"languages,omitempty"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	ID        string   `json:"id"`
	Path      string   `json:"path"`
	Language  string   `json:"language"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Content   string   `json:"content,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Score     float32  `json:"score"`
}

// SearchResponse represents a search response.
type SearchResponse struct {
	Query   string         `json:"query"`
	Store   string         `json:"store"`
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// APIError represents an API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Temporary reports whether the server signalled a retryable condition.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Health checks if the API is healthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateStore creates a new store.
func (c *Client) CreateStore(ctx context.Context, name, description string) (*Store, error) {
	req := map[string]string{
		"name":        name,
		"description": description,
	}
	var store Store
	if err := c.post(ctx, "/v1/stores", req, &store); err != nil {
		return nil, err
	}
	return &store, nil
}

// DeleteStore deletes a store.
func (c *Client) DeleteStore(ctx context.Context, name string) error {
	return c.delete(ctx, "/v1/stores/"+url.PathEscape(name))
}

// Index indexes files into a store.
func (c *Client) Index(ctx context.Context, store string, req IndexRequest) (*IndexResult, error) {
	var result IndexResult
	if err := c.post(ctx, fmt.Sprintf("/v1/stores/%s/index", url.PathEscape(store)), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search performs a search.
func (c *Client) Search(ctx context.Context, store string, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.post(ctx, fmt.Sprintf("/v1/stores/%s/search", url.PathEscape(store)), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// delete performs a DELETE request.
func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, nil)
}

// RequestError is a transport-level failure: the server was not reached or
// the response could not be read.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return "request failed: " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// do executes a request.
func (c *Client) do(req *http.Request, result interface{}) error {
	if c.connectionID != "" {
		req.Header.Set("X-Connection-ID", c.connectionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = string(body)
		}
		return &apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
