package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/qdrant"
)

// QdrantSettingsFile is the per-version settings file of the qdrant platform.
const QdrantSettingsFile = "qdrant.yaml"

// QdrantSettings configure one evaluated qdrant collection.
type QdrantSettings struct {
	qdrant.ClientConfig `yaml:",inline"`

	VectorSize    uint64   `yaml:"vector_size"`
	Distance      string   `yaml:"distance"`
	VectorField   string   `yaml:"vector_field"`
	IDField       string   `yaml:"id_field"`
	KeywordFields []string `yaml:"keyword_fields"`
	BatchSize     int      `yaml:"batch_size"`
	Parallelism   int      `yaml:"parallelism"`
}

func (s *QdrantSettings) applyDefaults() {
	if s.VectorField == "" {
		s.VectorField = "vector"
	}
	if s.IDField == "" {
		s.IDField = "id"
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	if s.Parallelism <= 0 {
		s.Parallelism = 4
	}
}

// QdrantQuery is the JSON form of a vector query.
type QdrantQuery struct {
	Vector []float32      `json:"vector"`
	Filter *qdrant.Filter `json:"filter,omitempty"`
}

// Qdrant evaluates vector search: every index version is a collection and
// every query is a nearest-neighbour lookup.
type Qdrant struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[string]*qdrant.Client
}

// NewQdrant creates a qdrant platform. Connections are opened by Load using
// the settings of each version.
func NewQdrant(log *logger.Logger) *Qdrant {
	if log == nil {
		log = logger.Discard()
	}
	return &Qdrant{
		log:     log.WithComponent("qdrant-platform"),
		clients: make(map[string]*qdrant.Client),
	}
}

// Name returns "qdrant".
func (q *Qdrant) Name() string {
	return TypeQdrant
}

// RequiresCorpus returns true.
func (q *Qdrant) RequiresCorpus() bool {
	return true
}

// Load recreates the collection for indexName and upserts the corpus.
func (q *Qdrant) Load(ctx context.Context, corpusFile, settingsPath, indexName, version string) error {
	settings, err := loadQdrantSettings(filepath.Join(settingsPath, QdrantSettingsFile))
	if err != nil {
		return err
	}

	docs, err := ReadCorpus(corpusFile)
	if err != nil {
		return err
	}

	points := make([]qdrant.Point, 0, len(docs))
	for i, doc := range docs {
		p, err := documentToPoint(doc, settings)
		if err != nil {
			return errors.ConfigurationError(fmt.Sprintf("corpus document %d", i+1), err)
		}
		points = append(points, p)
	}

	client, err := qdrant.NewClient(settings.ClientConfig)
	if err != nil {
		return errors.ConfigurationError("unable to connect to qdrant", err)
	}

	err = client.ResetCollection(ctx, qdrant.CollectionConfig{
		Name:          indexName,
		VectorSize:    settings.VectorSize,
		Distance:      settings.Distance,
		KeywordFields: settings.KeywordFields,
	})
	if err == nil {
		err = client.UpsertPointsBatch(ctx, indexName, points, settings.BatchSize, settings.Parallelism)
	}
	if err != nil {
		_ = client.Close()
		return errors.Wrap(errors.CodeInternal, fmt.Sprintf("unable to load index %s", indexName), err)
	}

	q.mu.Lock()
	if old, ok := q.clients[indexName]; ok {
		_ = old.Close()
	}
	q.clients[indexName] = client
	q.mu.Unlock()

	q.log.WithVersion(version).Info("Collection loaded",
		"index", indexName,
		"points", len(points),
		"host", settings.Host,
	)
	return nil
}

func loadQdrantSettings(path string) (QdrantSettings, error) {
	settings := QdrantSettings{ClientConfig: qdrant.DefaultClientConfig()}

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, errors.ConfigurationError(fmt.Sprintf("unable to read %s", path), err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, errors.ConfigurationError(fmt.Sprintf("invalid settings %s", path), err)
	}
	settings.applyDefaults()

	if settings.VectorSize == 0 {
		return settings, errors.ConfigurationError(fmt.Sprintf("%s: vector_size is required", path), nil)
	}
	return settings, nil
}

// documentToPoint splits a corpus document into its vector and payload.
func documentToPoint(doc map[string]any, settings QdrantSettings) (qdrant.Point, error) {
	raw, ok := doc[settings.VectorField].([]any)
	if !ok {
		return qdrant.Point{}, fmt.Errorf("missing %s array", settings.VectorField)
	}
	if uint64(len(raw)) != settings.VectorSize {
		return qdrant.Point{}, fmt.Errorf("vector has %d dimensions, want %d", len(raw), settings.VectorSize)
	}

	vector := make([]float32, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return qdrant.Point{}, fmt.Errorf("vector[%d] is not a number", i)
		}
		vector[i] = float32(f)
	}

	id, err := pointID(doc[settings.IDField])
	if err != nil {
		return qdrant.Point{}, err
	}

	payload := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != settings.VectorField {
			payload[k] = v
		}
	}

	return qdrant.Point{ID: id, Vector: vector, Payload: payload}, nil
}

// pointID maps a document id onto a qdrant point id. Non-negative integers
// are kept, UUIDs are kept, any other string gets a stable name-based UUID.
func pointID(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		if v >= 0 && v == float64(uint64(v)) {
			return uint64(v), nil
		}
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprint(v))).String(), nil
	case string:
		if id, err := uuid.Parse(v); err == nil {
			return id.String(), nil
		}
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(v)).String(), nil
	case nil:
		return nil, fmt.Errorf("document has no id")
	default:
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprint(v))).String(), nil
	}
}

// ExecuteQuery runs a nearest-neighbour query and counts the matching points.
func (q *Qdrant) ExecuteQuery(ctx context.Context, indexName, version, query string, fields []string, maxRows int) (Response, error) {
	q.mu.RLock()
	client, ok := q.clients[indexName]
	q.mu.RUnlock()
	if !ok {
		return Response{}, errors.NotFoundError("index " + indexName)
	}

	var req QdrantQuery
	if err := json.Unmarshal([]byte(query), &req); err != nil {
		return Response{}, errors.Wrap(errors.CodeValidation, "invalid qdrant query", err)
	}
	if len(req.Vector) == 0 {
		return Response{}, errors.ValidationError("qdrant query has no vector")
	}
	if maxRows <= 0 {
		maxRows = 10
	}

	points, err := client.Search(ctx, indexName, qdrant.SearchRequest{
		Vector: req.Vector,
		Filter: req.Filter,
		Limit:  uint64(maxRows),
	})
	if err != nil {
		return Response{}, errors.PlatformError(fmt.Sprintf("qdrant search on %s", indexName), err)
	}

	total, err := client.CountPoints(ctx, indexName, req.Filter)
	if err != nil {
		return Response{}, errors.PlatformError(fmt.Sprintf("qdrant count on %s", indexName), err)
	}

	hits := make([]Hit, len(points))
	for i, p := range points {
		hits[i] = Project(p.Payload, fields)
	}
	return Response{TotalHits: int64(total), Hits: hits}, nil
}

// Close closes every connection.
func (q *Qdrant) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var firstErr error
	for name, c := range q.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(q.clients, name)
	}
	return firstErr
}
