package platform

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-eval/internal/client"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// RiceSearchSettingsFile is the per-version settings file of the rice-search platform.
const RiceSearchSettingsFile = "ricesearch.yaml"

// RiceSearchSettings point an index version at a rice-search server.
type RiceSearchSettings struct {
	client.Config `yaml:",inline"`

	// PathField is the corpus field used as the indexed file path.
	PathField string `yaml:"path_field"`
	// ContentField is the corpus field holding the text to index. When a
	// document lacks it the whole document is indexed as JSON.
	ContentField string `yaml:"content_field"`
	BatchSize    int    `yaml:"batch_size"`
}

func (s *RiceSearchSettings) applyDefaults() {
	if s.PathField == "" {
		s.PathField = "id"
	}
	if s.ContentField == "" {
		s.ContentField = "content"
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
}

// RiceSearch evaluates a running rice-search server: each index version
// becomes a store filled from the corpus.
type RiceSearch struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[string]*client.Client
}

// NewRiceSearch creates a rice-search platform.
func NewRiceSearch(log *logger.Logger) *RiceSearch {
	if log == nil {
		log = logger.Discard()
	}
	return &RiceSearch{
		log:     log.WithComponent("ricesearch-platform"),
		clients: make(map[string]*client.Client),
	}
}

// Name returns "ricesearch".
func (r *RiceSearch) Name() string {
	return TypeRiceSearch
}

// RequiresCorpus returns true.
func (r *RiceSearch) RequiresCorpus() bool {
	return true
}

// Load recreates the store indexName and indexes the corpus into it.
func (r *RiceSearch) Load(ctx context.Context, corpusFile, settingsPath, indexName, version string) error {
	settings, err := loadRiceSearchSettings(filepath.Join(settingsPath, RiceSearchSettingsFile))
	if err != nil {
		return err
	}

	docs, err := ReadCorpus(corpusFile)
	if err != nil {
		return err
	}

	files := make([]client.IndexFile, 0, len(docs))
	for i, doc := range docs {
		f, err := documentToFile(doc, settings)
		if err != nil {
			return errors.ConfigurationError(fmt.Sprintf("corpus document %d", i+1), err)
		}
		files = append(files, f)
	}

	c := client.New(settings.Config)

	if err := c.DeleteStore(ctx, indexName); err != nil && !isNotFound(err) {
		return errors.Wrap(errors.CodeInternal, fmt.Sprintf("unable to reset store %s", indexName), err)
	}
	if _, err := c.CreateStore(ctx, indexName, "rice-eval "+version); err != nil {
		return errors.Wrap(errors.CodeInternal, fmt.Sprintf("unable to create store %s", indexName), err)
	}

	indexed := 0
	for start := 0; start < len(files); start += settings.BatchSize {
		end := min(start+settings.BatchSize, len(files))
		result, err := c.Index(ctx, indexName, client.IndexRequest{Files: files[start:end], Force: true})
		if err != nil {
			return errors.Wrap(errors.CodeInternal, fmt.Sprintf("unable to index batch %d-%d", start, end), err)
		}
		indexed += result.Indexed
	}

	r.mu.Lock()
	r.clients[indexName] = c
	r.mu.Unlock()

	r.log.WithVersion(version).Info("Store loaded",
		"index", indexName,
		"documents", len(files),
		"indexed", indexed,
		"base_url", c.BaseURL(),
	)
	return nil
}

func loadRiceSearchSettings(path string) (RiceSearchSettings, error) {
	settings := RiceSearchSettings{Config: client.DefaultConfig()}

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, errors.ConfigurationError(fmt.Sprintf("unable to read %s", path), err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, errors.ConfigurationError(fmt.Sprintf("invalid settings %s", path), err)
	}
	settings.applyDefaults()
	return settings, nil
}

func documentToFile(doc map[string]any, settings RiceSearchSettings) (client.IndexFile, error) {
	path, ok := doc[settings.PathField]
	if !ok || path == nil {
		return client.IndexFile{}, fmt.Errorf("missing %s", settings.PathField)
	}

	content, ok := doc[settings.ContentField].(string)
	if !ok {
		data, err := json.Marshal(doc)
		if err != nil {
			return client.IndexFile{}, err
		}
		content = string(data)
	}

	return client.IndexFile{Path: fmt.Sprint(path), Content: content}, nil
}

// ExecuteQuery sends a search request to the store indexName.
func (r *RiceSearch) ExecuteQuery(ctx context.Context, indexName, version, query string, fields []string, maxRows int) (Response, error) {
	r.mu.RLock()
	c, ok := r.clients[indexName]
	r.mu.RUnlock()
	if !ok {
		return Response{}, errors.NotFoundError("store " + indexName)
	}

	req, err := parseRiceSearchQuery(query)
	if err != nil {
		return Response{}, err
	}
	if maxRows <= 0 {
		maxRows = 10
	}
	req.TopK = maxRows

	resp, err := c.Search(ctx, indexName, req)
	if err != nil {
		return Response{}, classifyClientError(indexName, err)
	}

	hits := make([]Hit, len(resp.Results))
	for i, res := range resp.Results {
		hits[i] = Project(resultToHit(res), fields)
	}

	total := int64(resp.Total)
	if total < int64(len(hits)) {
		total = int64(len(hits))
	}
	return Response{TotalHits: total, Hits: hits}, nil
}

// Close forgets every store client.
func (r *RiceSearch) Close() error {
	r.mu.Lock()
	r.clients = make(map[string]*client.Client)
	r.mu.Unlock()
	return nil
}

func parseRiceSearchQuery(query string) (client.SearchRequest, error) {
	trimmed := strings.TrimSpace(query)
	if !strings.HasPrefix(trimmed, "{") {
		return client.SearchRequest{Query: trimmed}, nil
	}

	var req client.SearchRequest
	if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
		return req, errors.Wrap(errors.CodeValidation, "invalid rice-search query", err)
	}
	return req, nil
}

func resultToHit(res client.SearchResult) Hit {
	hit := Hit{
		"id":         res.ID,
		"path":       res.Path,
		"language":   res.Language,
		"start_line": res.StartLine,
		"end_line":   res.EndLine,
		"score":      float64(res.Score),
	}
	if res.Content != "" {
		hit["content"] = res.Content
	}
	if len(res.Symbols) > 0 {
		hit["symbols"] = res.Symbols
	}
	return hit
}

// classifyClientError keeps server-side and network failures transient and
// makes request errors fatal.
func classifyClientError(store string, err error) error {
	var reqErr *client.RequestError
	if stderrors.As(err, &reqErr) {
		return errors.Wrap(errors.CodeUnavailable, fmt.Sprintf("rice-search unreachable for %s", store), err)
	}

	var apiErr *client.APIError
	if stderrors.As(err, &apiErr) && apiErr.Temporary() {
		return errors.PlatformError(fmt.Sprintf("rice-search search on %s", store), err)
	}
	return errors.Wrap(errors.CodeValidation, fmt.Sprintf("rice-search rejected query on %s", store), err)
}

func isNotFound(err error) bool {
	var apiErr *client.APIError
	return stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
