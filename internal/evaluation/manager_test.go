package evaluation

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/domain"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/platform"
	"github.com/ricesearch/rice-eval/internal/ratings"
	"github.com/ricesearch/rice-eval/internal/scoring"
	"github.com/ricesearch/rice-eval/internal/template"
)

// stubPlatform answers every query with the ids configured per version.
type stubPlatform struct {
	mu      sync.Mutex
	results map[string][]string
	errs    map[string]error
	block   chan struct{}

	indexes []string
	queries []string
	maxRows []int
}

func (p *stubPlatform) Name() string         { return "stub" }
func (p *stubPlatform) RequiresCorpus() bool { return false }
func (p *stubPlatform) Close() error         { return nil }

func (p *stubPlatform) Load(context.Context, string, string, string, string) error {
	return nil
}

func (p *stubPlatform) ExecuteQuery(ctx context.Context, indexName, version, query string, _ []string, maxRows int) (platform.Response, error) {
	p.mu.Lock()
	p.indexes = append(p.indexes, indexName)
	p.queries = append(p.queries, query)
	p.maxRows = append(p.maxRows, maxRows)
	p.mu.Unlock()

	if p.block != nil {
		<-p.block
	}
	if err := ctx.Err(); err != nil {
		return platform.Response{}, errors.Wrap(errors.CodeInterrupted, "query cancelled", err)
	}
	if err := p.errs[version]; err != nil {
		return platform.Response{}, err
	}

	ids := p.results[version]
	hits := make([]platform.Hit, len(ids))
	for i, id := range ids {
		hits[i] = platform.Hit{"id": id}
	}
	return platform.Response{TotalHits: int64(len(ids)), Hits: hits}, nil
}

// stubResolver returns the template name itself as its content.
type stubResolver struct{}

func (stubResolver) Resolve(defaultTemplate, tmpl, version string) (string, error) {
	if tmpl != "" {
		return tmpl, nil
	}
	return defaultTemplate, nil
}

var testVersions = []string{"v1.0", "v1.1"}

func newTestQuery(t *testing.T, name string) *domain.Query {
	t.Helper()
	judgments := scoring.Judgments{"1": scoring.Graded(3), "2": scoring.Graded(2)}
	metrics, err := scoring.Build([]string{"P", "R"}, "id", judgments, testVersions)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	group := domain.NewEvaluation().
		FindOrCreateCorpus("products.json").
		FindOrCreateConfiguration("products").
		FindOrCreateTopic("brand").
		FindOrCreateQueryGroup("acme")
	return group.FindOrCreateQuery(name, metrics)
}

func testDef() ratings.Query {
	return ratings.Query{Placeholders: ratings.Placeholders{{Name: "$q", Value: "acme"}}}
}

func newManagers(t *testing.T, opts Options) map[string]Manager {
	t.Helper()
	async, err := NewAsyncManager(opts)
	if err != nil {
		t.Fatalf("NewAsyncManager() error = %v", err)
	}
	t.Cleanup(func() { async.Stop() })
	return map[string]Manager{
		"sync":  NewSyncManager(opts),
		"async": async,
	}
}

func baseOptions(p platform.Platform) Options {
	return Options{
		Platform:  p,
		Templates: stubResolver{},
		Versions:  testVersions,
		Threads:   4,
		Logger:    logger.Discard(),

		// ants polls pool shutdown at a tenth of the timeout.
		ShutdownTimeout: 2 * time.Second,
	}
}

func metricValue(t *testing.T, q *domain.Query, name, version string) decimal.Decimal {
	t.Helper()
	m, ok := q.Metric(name)
	if !ok {
		t.Fatalf("metric %s missing", name)
	}
	return m.Value(version)
}

func TestPoolSizes(t *testing.T) {
	tests := []struct {
		name      string
		threads   int
		versions  int
		wantQuery int
		wantEval  int
	}{
		{"even split", 8, 4, 4, 4},
		{"capped by versions", 8, 2, 2, 6},
		{"single thread", 1, 3, 1, 1},
		{"no versions", 4, 0, 1, 3},
		{"odd threads", 5, 5, 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, eval := PoolSizes(tt.threads, tt.versions)
			if query != tt.wantQuery || eval != tt.wantEval {
				t.Errorf("PoolSizes(%d, %d) = (%d, %d), want (%d, %d)",
					tt.threads, tt.versions, query, eval, tt.wantQuery, tt.wantEval)
			}
		})
	}
}

func TestManagers_EvaluateQuery(t *testing.T) {
	p := &stubPlatform{results: map[string][]string{
		"v1.0": {"1", "3"},
		"v1.1": {"1", "2"},
	}}

	for name, m := range newManagers(t, baseOptions(p)) {
		t.Run(name, func(t *testing.T) {
			q := newTestQuery(t, name)
			if err := m.EvaluateQuery(context.Background(), q, "products", testDef(), "$q", 2); err != nil {
				t.Fatalf("EvaluateQuery() error = %v", err)
			}

			result := m.Stop()
			if !result.Completed || result.Forced {
				t.Errorf("Stop() = %+v, want completed", result)
			}
			if err := m.Err(); err != nil {
				t.Errorf("Err() = %v", err)
			}
			if m.TotalQueries() != 1 || m.QueriesCompleted() != 1 || m.QueriesRemaining() != 0 {
				t.Errorf("counters = %d/%d/%d, want 1/1/0",
					m.TotalQueries(), m.QueriesCompleted(), m.QueriesRemaining())
			}
			if m.State() != StateStopped {
				t.Errorf("State() = %v, want stopped", m.State())
			}

			if got := metricValue(t, q, "P", "v1.0"); !got.Equal(decimal.RequireFromString("0.5")) {
				t.Errorf("P(v1.0) = %s, want 0.5", got)
			}
			if got := metricValue(t, q, "R", "v1.1"); !got.Equal(decimal.NewFromInt(1)) {
				t.Errorf("R(v1.1) = %s, want 1", got)
			}
			for _, v := range testVersions {
				if s, _ := q.Status(v); s != domain.StatusOK {
					t.Errorf("Status(%s) = %s, want ok", v, s)
				}
			}

			rollup, ok := q.Group().Metric("P")
			if !ok || rollup.Count("v1.0") != 1 {
				t.Error("query values should be rolled up into the group")
			}
		})
	}
}

func TestExecute_IndexNameAndQuery(t *testing.T) {
	p := &stubPlatform{results: map[string][]string{}}
	m := NewSyncManager(baseOptions(p))

	q := newTestQuery(t, "q")
	if err := m.EvaluateQuery(context.Background(), q, "products", testDef(), `{"query": "$q"}`, 0); err != nil {
		t.Fatalf("EvaluateQuery() error = %v", err)
	}

	wantIndexes := []string{"products_v1.0", "products_v1.1"}
	for i, want := range wantIndexes {
		if p.indexes[i] != want {
			t.Errorf("index[%d] = %q, want %q", i, p.indexes[i], want)
		}
		if p.queries[i] != `{"query": "acme"}` {
			t.Errorf("query[%d] = %q, want substituted template", i, p.queries[i])
		}
	}
}

func TestExecute_MaxRows(t *testing.T) {
	tests := []struct {
		name     string
		relevant int
		want     int
	}{
		{"below minimum", 3, MinRows},
		{"zero", 0, MinRows},
		{"above minimum", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPlatform{results: map[string][]string{}}
			m := NewSyncManager(baseOptions(p))
			if err := m.EvaluateQuery(context.Background(), newTestQuery(t, "q"), "products", testDef(), "$q", tt.relevant); err != nil {
				t.Fatalf("EvaluateQuery() error = %v", err)
			}
			for _, got := range p.maxRows {
				if got != tt.want {
					t.Errorf("maxRows = %d, want %d", got, tt.want)
				}
			}
		})
	}
}

func TestManagers_TransientErrorRecordsEmptyResult(t *testing.T) {
	p := &stubPlatform{
		results: map[string][]string{"v1.0": {"1", "2"}},
		errs:    map[string]error{"v1.1": errors.ServiceUnavailableError("stub")},
	}

	for name, m := range newManagers(t, baseOptions(p)) {
		t.Run(name, func(t *testing.T) {
			q := newTestQuery(t, name)
			if err := m.EvaluateQuery(context.Background(), q, "products", testDef(), "$q", 2); err != nil {
				t.Fatalf("EvaluateQuery() error = %v", err)
			}
			m.Stop()

			if err := m.Err(); err != nil {
				t.Errorf("Err() = %v, transient errors should not fail the run", err)
			}
			if s, _ := q.Status("v1.1"); s != domain.StatusPlatformError {
				t.Errorf("Status(v1.1) = %s, want platform_error", s)
			}
			if got := metricValue(t, q, "R", "v1.1"); !got.IsZero() {
				t.Errorf("R(v1.1) = %s, want 0", got)
			}
			if m.QueriesCompleted() != 1 {
				t.Errorf("QueriesCompleted() = %d, want 1", m.QueriesCompleted())
			}
		})
	}
}

func TestManagers_FatalErrorFailsRun(t *testing.T) {
	fatal := errors.ConfigurationError("bad index", nil)
	p := &stubPlatform{
		results: map[string][]string{"v1.0": {"1"}},
		errs:    map[string]error{"v1.1": fatal},
	}

	for name, m := range newManagers(t, baseOptions(p)) {
		t.Run(name, func(t *testing.T) {
			q := newTestQuery(t, name)
			err := m.EvaluateQuery(context.Background(), q, "products", testDef(), "$q", 2)
			m.Stop()

			if name == "sync" && !stderrors.Is(err, fatal) {
				t.Errorf("EvaluateQuery() error = %v, want %v", err, fatal)
			}
			if !stderrors.Is(m.Err(), fatal) {
				t.Errorf("Err() = %v, want %v", m.Err(), fatal)
			}
			if m.QueriesCompleted() != 0 || m.QueriesRemaining() != 0 {
				t.Errorf("completed/remaining = %d/%d, want 0/0", m.QueriesCompleted(), m.QueriesRemaining())
			}
		})
	}
}

func TestManagers_RejectAfterStop(t *testing.T) {
	p := &stubPlatform{results: map[string][]string{}}

	for name, m := range newManagers(t, baseOptions(p)) {
		t.Run(name, func(t *testing.T) {
			m.Stop()
			err := m.EvaluateQuery(context.Background(), newTestQuery(t, name), "products", testDef(), "$q", 0)
			if !stderrors.Is(err, ErrStopped) {
				t.Errorf("EvaluateQuery() after Stop error = %v, want ErrStopped", err)
			}
			if m.TotalQueries() != 0 {
				t.Errorf("TotalQueries() = %d, want 0", m.TotalQueries())
			}
		})
	}
}

func TestSyncManager_Cancelled(t *testing.T) {
	p := &stubPlatform{results: map[string][]string{"v1.0": {"1"}}}
	m := NewSyncManager(baseOptions(p))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := newTestQuery(t, "q")
	err := m.EvaluateQuery(ctx, q, "products", testDef(), "$q", 2)
	if errors.CodeOf(err) != errors.CodeInterrupted {
		t.Errorf("EvaluateQuery() error = %v, want interrupted", err)
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v, cancellation is not a fatal error", m.Err())
	}
	for _, v := range testVersions {
		if s, _ := q.Status(v); s != domain.StatusInterrupted {
			t.Errorf("Status(%s) = %s, want interrupted", v, s)
		}
	}
	if m.QueriesCompleted() != 1 {
		t.Errorf("QueriesCompleted() = %d, want 1", m.QueriesCompleted())
	}
}

func TestAsyncManager_ForcedStop(t *testing.T) {
	p := &stubPlatform{
		results: map[string][]string{},
		block:   make(chan struct{}),
	}
	defer close(p.block)

	opts := baseOptions(p)
	opts.ShutdownTimeout = 50 * time.Millisecond
	m, err := NewAsyncManager(opts)
	if err != nil {
		t.Fatalf("NewAsyncManager() error = %v", err)
	}

	q := newTestQuery(t, "q")
	if err := m.EvaluateQuery(context.Background(), q, "products", testDef(), "$q", 2); err != nil {
		t.Fatalf("EvaluateQuery() error = %v", err)
	}

	result := m.Stop()
	if !result.Forced || result.Completed {
		t.Errorf("Stop() = %+v, want forced", result)
	}
	if again := m.Stop(); again != result {
		t.Errorf("second Stop() = %+v, want %+v", again, result)
	}
}

func TestAsyncManager_EvaluateQueryDoesNotBlock(t *testing.T) {
	p := &stubPlatform{
		results: map[string][]string{"v1.0": {"1"}, "v1.1": {"1"}},
		block:   make(chan struct{}),
	}

	opts := baseOptions(p)
	opts.Threads = 2
	m, err := NewAsyncManager(opts)
	if err != nil {
		t.Fatalf("NewAsyncManager() error = %v", err)
	}
	if m.EvalPoolSize() != 1 {
		t.Fatalf("EvalPoolSize() = %d, want 1", m.EvalPoolSize())
	}

	queries := make([]*domain.Query, 3)
	for i := range queries {
		queries[i] = newTestQuery(t, fmt.Sprintf("q%d", i))
	}

	submitted := make(chan error, 1)
	go func() {
		for _, q := range queries {
			if err := m.EvaluateQuery(context.Background(), q, "products", testDef(), "$q", 2); err != nil {
				submitted <- err
				return
			}
		}
		submitted <- nil
	}()

	select {
	case err := <-submitted:
		if err != nil {
			t.Fatalf("EvaluateQuery() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("EvaluateQuery blocked on a saturated evaluation pool")
	}

	close(p.block)
	result := m.Stop()
	if result.Forced || !result.Completed {
		t.Errorf("Stop() = %+v, want completed", result)
	}
	if m.QueriesCompleted() != 3 {
		t.Errorf("QueriesCompleted() = %d, want 3", m.QueriesCompleted())
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v", m.Err())
	}
}

func TestAsyncManager_CancelledWaitCompletesQuery(t *testing.T) {
	p := &stubPlatform{
		results: map[string][]string{},
		block:   make(chan struct{}),
	}

	opts := baseOptions(p)
	completed := make(chan *domain.Query, 1)
	opts.OnComplete = func(q *domain.Query) { completed <- q }
	m, err := NewAsyncManager(opts)
	if err != nil {
		t.Fatalf("NewAsyncManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := newTestQuery(t, "q")
	if err := m.EvaluateQuery(ctx, q, "products", testDef(), "$q", 2); err != nil {
		t.Fatalf("EvaluateQuery() error = %v", err)
	}
	cancel()

	select {
	case got := <-completed:
		if got != q {
			t.Error("OnComplete received another query")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("query was not completed after cancellation")
	}
	close(p.block)

	for _, v := range testVersions {
		if s, _ := q.Status(v); s != domain.StatusInterrupted {
			t.Errorf("Status(%s) = %s, want interrupted", v, s)
		}
	}
	m.Stop()
	if m.Err() != nil {
		t.Errorf("Err() = %v, cancellation is not a fatal error", m.Err())
	}
}

func TestManagers_PublishQueryCompleted(t *testing.T) {
	b := bus.NewMemoryBus(logger.Discard())
	defer b.Close()

	events := make(chan bus.Event, 4)
	err := b.Subscribe(context.Background(), bus.TopicQueryCompleted, func(_ context.Context, e bus.Event) error {
		events <- e
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	opts := baseOptions(&stubPlatform{results: map[string][]string{"v1.0": {"1"}, "v1.1": {"2"}}})
	opts.Bus = b
	opts.RunID = "run-1"
	m := NewSyncManager(opts)

	if err := m.EvaluateQuery(context.Background(), newTestQuery(t, `{"$q":"acme"}`), "products", testDef(), "$q", 2); err != nil {
		t.Fatalf("EvaluateQuery() error = %v", err)
	}

	select {
	case e := <-events:
		if e.CorrelationID != "run-1" {
			t.Errorf("CorrelationID = %q, want run-1", e.CorrelationID)
		}
		payload, ok := e.Payload.(bus.QueryCompleted)
		if !ok {
			t.Fatalf("Payload type = %T", e.Payload)
		}
		if payload.Configuration != "products" || payload.Topic != "brand" || payload.QueryGroup != "acme" {
			t.Errorf("payload path = %s/%s/%s", payload.Configuration, payload.Topic, payload.QueryGroup)
		}
		if payload.Statuses["v1.0"] != string(domain.StatusOK) || payload.Completed != 1 {
			t.Errorf("payload = %+v", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no query completion event received")
	}
}

type countingRecorder struct {
	mu         sync.Mutex
	submitted  int
	completed  int
	executions map[string]int
}

func (r *countingRecorder) RecordSubmitted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted++
}

func (r *countingRecorder) RecordExecution(_ string, status string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[status]++
}

func (r *countingRecorder) RecordCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
}

func TestManagers_Recorder(t *testing.T) {
	rec := &countingRecorder{executions: map[string]int{}}
	opts := baseOptions(&stubPlatform{
		results: map[string][]string{"v1.0": {"1"}},
		errs:    map[string]error{"v1.1": errors.TimeoutError("search")},
	})
	opts.Recorder = rec

	m := NewSyncManager(opts)
	for _, name := range []string{"a", "b"} {
		if err := m.EvaluateQuery(context.Background(), newTestQuery(t, name), "products", testDef(), "$q", 2); err != nil {
			t.Fatalf("EvaluateQuery() error = %v", err)
		}
	}

	if rec.submitted != 2 || rec.completed != 2 {
		t.Errorf("submitted/completed = %d/%d, want 2/2", rec.submitted, rec.completed)
	}
	if rec.executions["ok"] != 2 || rec.executions["platform_error"] != 2 {
		t.Errorf("executions = %v", rec.executions)
	}
}

var _ template.Resolver = stubResolver{}
