package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// MemorySettingsFile is the per-version settings file of the memory platform.
const MemorySettingsFile = "settings.yaml"

// MemorySettings configure how a memory index scores documents.
type MemorySettings struct {
	// Fields maps a searchable field to its boost. When empty every string
	// field is searched with boost 1.
	Fields map[string]float64 `yaml:"fields"`
}

// MemoryQuery is the JSON form of a memory platform query.
type MemoryQuery struct {
	Query  string         `json:"query"`
	Fields []string       `json:"fields,omitempty"`
	Filter map[string]any `json:"filter,omitempty"`
}

type memoryIndex struct {
	docs     []map[string]any
	settings MemorySettings
}

// Memory is an in-process term matching engine. Each loaded index keeps the
// corpus in memory and scores documents by boosted term frequency.
type Memory struct {
	log *logger.Logger

	mu      sync.RWMutex
	indexes map[string]*memoryIndex
}

// NewMemory creates an empty memory platform.
func NewMemory(log *logger.Logger) *Memory {
	if log == nil {
		log = logger.Discard()
	}
	return &Memory{
		log:     log.WithComponent("memory-platform"),
		indexes: make(map[string]*memoryIndex),
	}
}

// Name returns "memory".
func (m *Memory) Name() string {
	return TypeMemory
}

// RequiresCorpus returns true.
func (m *Memory) RequiresCorpus() bool {
	return true
}

// Load reads the corpus and the version's settings.yaml into a new index.
func (m *Memory) Load(ctx context.Context, corpusFile, settingsPath, indexName, version string) error {
	settings, err := loadMemorySettings(filepath.Join(settingsPath, MemorySettingsFile))
	if err != nil {
		return err
	}

	docs, err := ReadCorpus(corpusFile)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.indexes[indexName] = &memoryIndex{docs: docs, settings: settings}
	m.mu.Unlock()

	m.log.WithVersion(version).Info("Index loaded",
		"index", indexName,
		"documents", len(docs),
		"fields", len(settings.Fields),
	)
	return nil
}

func loadMemorySettings(path string) (MemorySettings, error) {
	var settings MemorySettings

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return settings, nil
	}
	if err != nil {
		return settings, errors.ConfigurationError(fmt.Sprintf("unable to read %s", path), err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, errors.ConfigurationError(fmt.Sprintf("invalid settings %s", path), err)
	}
	return settings, nil
}

// ExecuteQuery scores every document of the index against query.
func (m *Memory) ExecuteQuery(ctx context.Context, indexName, version, query string, fields []string, maxRows int) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, errors.Wrap(errors.CodeInterrupted, "query cancelled", err)
	}

	m.mu.RLock()
	idx, ok := m.indexes[indexName]
	m.mu.RUnlock()
	if !ok {
		return Response{}, errors.NotFoundError("index " + indexName)
	}

	q, err := parseMemoryQuery(query)
	if err != nil {
		return Response{}, err
	}
	if maxRows <= 0 {
		maxRows = 10
	}

	terms := tokenize(q.Query)
	boosts := idx.settings.Fields
	if len(q.Fields) > 0 {
		boosts = make(map[string]float64, len(q.Fields))
		for _, f := range q.Fields {
			boost := 1.0
			if b, ok := idx.settings.Fields[f]; ok {
				boost = b
			}
			boosts[f] = boost
		}
	}

	type scored struct {
		doc   map[string]any
		score float64
	}
	var matches []scored
	for _, doc := range idx.docs {
		if !matchesFilter(doc, q.Filter) {
			continue
		}
		if s := score(doc, terms, boosts); s > 0 {
			matches = append(matches, scored{doc: doc, score: s})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	n := min(maxRows, len(matches))
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Project(matches[i].doc, fields)
	}
	return Response{TotalHits: int64(len(matches)), Hits: hits}, nil
}

// Close drops every index.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.indexes = make(map[string]*memoryIndex)
	m.mu.Unlock()
	return nil
}

func parseMemoryQuery(query string) (MemoryQuery, error) {
	trimmed := strings.TrimSpace(query)
	if !strings.HasPrefix(trimmed, "{") {
		return MemoryQuery{Query: trimmed}, nil
	}

	var q MemoryQuery
	if err := json.Unmarshal([]byte(trimmed), &q); err != nil {
		return q, errors.Wrap(errors.CodeValidation, "invalid memory query", err)
	}
	return q, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func score(doc map[string]any, terms []string, boosts map[string]float64) float64 {
	if len(terms) == 0 {
		return 0
	}

	var total float64
	scoreField := func(value any, boost float64) {
		tokens := tokenize(fieldText(value))
		for _, term := range terms {
			for _, tok := range tokens {
				if tok == term {
					total += boost
				}
			}
		}
	}

	if len(boosts) == 0 {
		for _, v := range doc {
			if _, ok := v.(string); ok {
				scoreField(v, 1)
			}
		}
		return total
	}

	for field, boost := range boosts {
		if v, ok := doc[field]; ok {
			scoreField(v, boost)
		}
	}
	return total
}

func fieldText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, " ")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func matchesFilter(doc map[string]any, filter map[string]any) bool {
	for field, want := range filter {
		if fmt.Sprint(doc[field]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
