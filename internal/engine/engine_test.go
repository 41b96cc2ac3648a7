package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/platform"
	"github.com/ricesearch/rice-eval/internal/ratings"
	"github.com/ricesearch/rice-eval/internal/template"
)

const testRatings = `{
  "index": "products",
  "collection_file": "products.json",
  "topics": [
    {
      "description": "Brand search",
      "query_groups": [
        {
          "name": "acme",
          "description": "Acme products",
          "template": "only_q.json",
          "relevant_documents": {"1": {"gain": 3}, "2": {"gain": 1}},
          "queries": [
            {"placeholders": {"$q": "acme"}}
          ]
        }
      ]
    }
  ]
}`

type stubPlatform struct {
	mu      sync.Mutex
	loaded  []string
	queries []string
	ids     []string
}

func (p *stubPlatform) Name() string         { return "stub" }
func (p *stubPlatform) RequiresCorpus() bool { return true }
func (p *stubPlatform) Close() error         { return nil }

func (p *stubPlatform) Load(_ context.Context, _, _, indexName, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = append(p.loaded, indexName)
	return nil
}

func (p *stubPlatform) ExecuteQuery(_ context.Context, _, _, query string, _ []string, _ int) (platform.Response, error) {
	p.mu.Lock()
	p.queries = append(p.queries, query)
	p.mu.Unlock()

	hits := make([]platform.Hit, len(p.ids))
	for i, id := range p.ids {
		hits[i] = platform.Hit{"id": id}
	}
	return platform.Response{TotalHits: int64(len(hits)), Hits: hits}, nil
}

type recorder struct {
	mu     sync.Mutex
	loads  map[string]int
	scores map[string]float64
}

func (r *recorder) RecordIndexLoad(version string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads[version]++
}

func (r *recorder) RecordScore(metric, version string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[metric+"/"+version] = value
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// setupFolders lays out a run with two matching versions and one unrelated.
func setupFolders(t *testing.T) Folders {
	t.Helper()
	root := t.TempDir()
	f := Folders{
		Configurations: filepath.Join(root, "configuration_sets"),
		Corpora:        filepath.Join(root, "corpora"),
		Ratings:        filepath.Join(root, "ratings"),
		Templates:      filepath.Join(root, "templates"),
	}

	for _, dir := range []string{"v1.0/products", "v1.1/products", "v2.0/other"} {
		if err := os.MkdirAll(filepath.Join(f.Configurations, dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	writeFile(t, filepath.Join(f.Corpora, "products.json"), `[{"id": "1"}, {"id": "2"}, {"id": "3"}]`)
	writeFile(t, filepath.Join(f.Ratings, ratings.FileName), testRatings)
	writeFile(t, filepath.Join(f.Templates, "only_q.json"), `{"query": "$q"}`)
	return f
}

func newEngine(t *testing.T, f Folders, p platform.Platform, metrics []string, opts func(*Options)) *Engine {
	t.Helper()
	resolver, err := template.NewFileResolver(f.Templates)
	if err != nil {
		t.Fatalf("NewFileResolver() error = %v", err)
	}

	o := Options{
		Folders:  f,
		Metrics:  metrics,
		Platform: p,
		Logger:   logger.Discard(),
	}
	if opts != nil {
		opts(&o)
	}
	if o.NewManager == nil {
		o.NewManager = func(versions []string) (evaluation.Manager, error) {
			return evaluation.NewSyncManager(evaluation.Options{
				Platform:  p,
				Templates: template.NewCachingResolver(resolver, nil, logger.Discard()),
				Versions:  versions,
				Bus:       o.Bus,
				RunID:     o.RunID,
				Logger:    logger.Discard(),
			}), nil
		}
	}
	return New(o)
}

func useAsync(o *Options, f Folders, p platform.Platform) {
	o.Async = true
	o.NewManager = func(versions []string) (evaluation.Manager, error) {
		resolver, err := template.NewFileResolver(f.Templates)
		if err != nil {
			return nil, err
		}
		return evaluation.NewAsyncManager(evaluation.Options{
			Platform:  p,
			Templates: resolver,
			Versions:  versions,
			Threads:   4,
			Logger:    logger.Discard(),

			ShutdownTimeout: 2 * time.Second,
		})
	}
}

func TestEngine_Evaluate(t *testing.T) {
	f := setupFolders(t)
	p := &stubPlatform{ids: []string{"1", "2", "3"}}
	rec := &recorder{loads: map[string]int{}, scores: map[string]float64{}}

	e := newEngine(t, f, p, []string{"P", "R", "NDCG@10"}, func(o *Options) {
		o.Recorder = rec
	})

	eval, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if len(p.loaded) != 2 {
		t.Fatalf("loaded = %v, want two indexes", p.loaded)
	}
	for _, q := range p.queries {
		if q != `{"query": "acme"}` {
			t.Errorf("query = %q, want substituted template", q)
		}
	}

	corpus, ok := eval.Corpus("products.json")
	if !ok {
		t.Fatal("corpus products.json missing")
	}
	cfg, ok := corpus.Configuration("products")
	if !ok {
		t.Fatal("configuration products missing")
	}
	topic, ok := cfg.Topic("Brand search")
	if !ok {
		t.Fatal("topic missing")
	}
	group, ok := topic.QueryGroup("acme")
	if !ok {
		t.Fatal("query group missing")
	}
	if _, ok := group.Query(`only_q.json|{"$q":"acme"}`); !ok {
		t.Error(`query only_q.json|{"$q":"acme"} missing`)
	}

	twoThirds := decimal.NewFromInt(2).DivRound(decimal.NewFromInt(3), 16)
	one := decimal.NewFromInt(1)
	tests := []struct {
		metric string
		want   decimal.Decimal
	}{
		{"P", twoThirds},
		{"R", one},
		{"NDCG@10", one},
	}
	for _, tt := range tests {
		m, ok := eval.Metric(tt.metric)
		if !ok {
			t.Fatalf("evaluation metric %s missing", tt.metric)
		}
		for _, v := range []string{"v1.0", "v1.1"} {
			if got := m.Value(v); !got.Equal(tt.want) {
				t.Errorf("%s(%s) = %s, want %s", tt.metric, v, got, tt.want)
			}
		}
		if m.Count("v2.0") != 0 {
			t.Errorf("%s should have no value for v2.0", tt.metric)
		}
	}

	if rec.loads["v1.0"] != 1 || rec.loads["v1.1"] != 1 {
		t.Errorf("index loads = %v", rec.loads)
	}
	if rec.scores["R/v1.0"] != 1 {
		t.Errorf("recorded R/v1.0 = %v, want 1", rec.scores["R/v1.0"])
	}
}

func TestEngine_EvaluateAsync(t *testing.T) {
	f := setupFolders(t)
	p := &stubPlatform{ids: []string{"2"}}

	e := newEngine(t, f, p, []string{"P", "R"}, func(o *Options) {
		useAsync(o, f, p)
	})

	eval, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	m, ok := eval.Metric("R")
	if !ok {
		t.Fatal("evaluation metric R missing")
	}
	half := decimal.RequireFromString("0.5")
	for _, v := range []string{"v1.0", "v1.1"} {
		if got := m.Value(v); !got.Equal(half) {
			t.Errorf("R(%s) = %s, want 0.5", v, got)
		}
	}
}

const sharedPlaceholdersRatings = `{
  "index": "products",
  "collection_file": "products.json",
  "topics": [
    {
      "description": "Brand search",
      "query_groups": [
        {
          "name": "acme",
          "template": "only_q.json",
          "relevant_documents": {"1": {"gain": 3}, "2": {"gain": 1}},
          "queries": [
            {"template": "a.json", "placeholders": {"$q": "acme"}},
            {"template": "b.json", "placeholders": {"$q": "acme"}},
            {"template": "b.json", "placeholders": {"$q": "acme"}}
          ]
        }
      ]
    }
  ]
}`

func TestEngine_QueriesSharingPlaceholders(t *testing.T) {
	tests := []struct {
		name  string
		async bool
	}{
		{"sync", false},
		{"async", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupFolders(t)
			writeFile(t, filepath.Join(f.Ratings, ratings.FileName), sharedPlaceholdersRatings)
			writeFile(t, filepath.Join(f.Templates, "a.json"), `{"a": "$q"}`)
			writeFile(t, filepath.Join(f.Templates, "b.json"), `{"b": "$q"}`)
			p := &stubPlatform{ids: []string{"1"}}

			e := newEngine(t, f, p, []string{"R"}, func(o *Options) {
				if tt.async {
					useAsync(o, f, p)
				}
			})
			eval, err := e.Evaluate(context.Background())
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}

			if len(p.queries) != 6 {
				t.Errorf("executed %d queries, want 6", len(p.queries))
			}

			corpus, _ := eval.Corpus("products.json")
			cfg, _ := corpus.Configuration("products")
			topic, _ := cfg.Topic("Brand search")
			group, _ := topic.QueryGroup("acme")

			queries := group.Queries()
			if len(queries) != 3 {
				t.Fatalf("group has %d queries, want 3", len(queries))
			}
			wantNames := []string{
				`a.json|{"$q":"acme"}`,
				`b.json|{"$q":"acme"}`,
				`b.json|{"$q":"acme"}#3`,
			}
			for i, q := range queries {
				if q.Name() != wantNames[i] {
					t.Errorf("query %d name = %q, want %q", i, q.Name(), wantNames[i])
				}
				for _, v := range []string{"v1.0", "v1.1"} {
					if q.Collected(v) != 1 {
						t.Errorf("%s collected %d times for %s, want 1", q.Name(), q.Collected(v), v)
					}
				}
			}

			m, _ := eval.Metric("R")
			half := decimal.RequireFromString("0.5")
			if got := m.Value("v1.0"); !got.Equal(half) {
				t.Errorf("R(v1.0) = %s, want 0.5", got)
			}
		})
	}
}

func TestEngine_FatalConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		metrics []string
		mutate  func(t *testing.T, f Folders)
	}{
		{
			name:    "unknown metric",
			metrics: []string{"P", "MAP@1000"},
		},
		{
			name:    "missing corpus",
			metrics: []string{"P"},
			mutate: func(t *testing.T, f Folders) {
				if err := os.Remove(filepath.Join(f.Corpora, "products.json")); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name:    "missing ratings",
			metrics: []string{"P"},
			mutate: func(t *testing.T, f Folders) {
				if err := os.Remove(filepath.Join(f.Ratings, ratings.FileName)); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name:    "ratings without index",
			metrics: []string{"P"},
			mutate: func(t *testing.T, f Folders) {
				writeFile(t, filepath.Join(f.Ratings, ratings.FileName), `{"collection_file": "products.json", "topics": []}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupFolders(t)
			if tt.mutate != nil {
				tt.mutate(t, f)
			}
			p := &stubPlatform{}

			_, err := newEngine(t, f, p, tt.metrics, nil).Evaluate(context.Background())
			if !errors.IsConfiguration(err) {
				t.Errorf("Evaluate() error = %v, want configuration error", err)
			}
			if len(p.queries) != 0 {
				t.Errorf("no query should run, got %d", len(p.queries))
			}
		})
	}
}

func TestEngine_PublishesLifecycleEvents(t *testing.T) {
	f := setupFolders(t)
	b := bus.NewMemoryBus(logger.Discard())
	defer b.Close()

	var (
		mu     sync.Mutex
		topics = map[string]bus.Event{}
	)
	for _, topic := range []string{bus.TopicEvaluationStarted, bus.TopicQueryCompleted, bus.TopicEvaluationFinished} {
		err := b.Subscribe(context.Background(), topic, func(_ context.Context, e bus.Event) error {
			mu.Lock()
			defer mu.Unlock()
			topics[e.Type] = e
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	e := newEngine(t, f, &stubPlatform{ids: []string{"1"}}, []string{"R"}, func(o *Options) {
		o.Bus = b
		o.RunID = "run-42"
	})
	if _, err := e.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !b.DrainTimeout(5 * time.Second) {
		t.Fatal("bus did not drain")
	}

	mu.Lock()
	defer mu.Unlock()

	started, ok := topics[bus.TopicEvaluationStarted]
	if !ok {
		t.Fatal("no started event")
	}
	payload := started.Payload.(bus.EvaluationStarted)
	if payload.Index != "products" || len(payload.Versions) != 2 || payload.TotalQueries != 1 {
		t.Errorf("started payload = %+v", payload)
	}

	finished, ok := topics[bus.TopicEvaluationFinished]
	if !ok {
		t.Fatal("no finished event")
	}
	done := finished.Payload.(bus.EvaluationFinished)
	if done.Completed != 1 || done.Total != 1 || done.Error != "" {
		t.Errorf("finished payload = %+v", done)
	}
	if done.Metrics["R"]["v1.0"] != "0.5" {
		t.Errorf("finished R(v1.0) = %q, want 0.5", done.Metrics["R"]["v1.0"])
	}
	if finished.CorrelationID != "run-42" {
		t.Errorf("CorrelationID = %q, want run-42", finished.CorrelationID)
	}
	if _, ok := topics[bus.TopicQueryCompleted]; !ok {
		t.Error("no query completed event")
	}
}

func TestEngine_MemoryPlatform(t *testing.T) {
	f := setupFolders(t)
	writeFile(t, filepath.Join(f.Corpora, "products.json"),
		`{"id": "1", "title": "Acme rocket skates"}
{"id": "2", "title": "Acme anvil"}
{"id": "3", "title": "Generic skates"}
`)
	writeFile(t, filepath.Join(f.Configurations, "v1.1", "products", platform.MemorySettingsFile), "fields:\n  title: 1\n")

	p := platform.NewMemory(logger.Discard())
	eval, err := newEngine(t, f, p, []string{"P", "R"}, nil).Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	m, _ := eval.Metric("R")
	for _, v := range []string{"v1.0", "v1.1"} {
		if got := m.Value(v); !got.Equal(decimal.NewFromInt(1)) {
			t.Errorf("R(%s) = %s, want 1", v, got)
		}
	}
}

func TestDiscoverVersions(t *testing.T) {
	f := setupFolders(t)
	writeFile(t, filepath.Join(f.Configurations, "README"), "not a version")

	versions, err := DiscoverVersions(f.Configurations, "products")
	if err != nil {
		t.Fatalf("DiscoverVersions() error = %v", err)
	}
	if len(versions) != 2 || versions[0] != "v1.0" || versions[1] != "v1.1" {
		t.Errorf("DiscoverVersions() = %v, want [v1.0 v1.1]", versions)
	}

	if _, err := DiscoverVersions(f.Configurations, "unknown"); !errors.IsConfiguration(err) {
		t.Errorf("DiscoverVersions(unknown) error = %v, want configuration error", err)
	}
	if _, err := DiscoverVersions(filepath.Join(f.Configurations, "missing"), "products"); !errors.IsConfiguration(err) {
		t.Errorf("DiscoverVersions(missing folder) error = %v, want configuration error", err)
	}
}

func TestQueryName(t *testing.T) {
	tests := []struct {
		name string
		def  ratings.Query
		want string
	}{
		{
			name: "placeholders in order",
			def:  ratings.Query{Placeholders: ratings.Placeholders{{Name: "$b", Value: "2"}, {Name: "$a", Value: "1"}}},
			want: `default.json|{"$b":"2","$a":"1"}`,
		},
		{
			name: "explicit template with placeholders",
			def:  ratings.Query{Template: "brand.json", Placeholders: ratings.Placeholders{{Name: "$q", Value: "acme"}}},
			want: `brand.json|{"$q":"acme"}`,
		},
		{
			name: "explicit template",
			def:  ratings.Query{Template: "match_all.json"},
			want: "match_all.json",
		},
		{
			name: "group template",
			def:  ratings.Query{},
			want: "default.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QueryName(tt.def, "default.json"); got != tt.want {
				t.Errorf("QueryName() = %q, want %q", got, tt.want)
			}
		})
	}
}
