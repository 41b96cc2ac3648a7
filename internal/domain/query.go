package domain

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/scoring"
)

// Status is the outcome of executing a query against one version.
type Status string

const (
	// StatusOK means the platform answered and the hits were collected.
	StatusOK Status = "ok"
	// StatusPlatformError means a transient platform failure was recorded as an empty result.
	StatusPlatformError Status = "platform_error"
	// StatusInterrupted means the run stopped before the version finished.
	StatusInterrupted Status = "interrupted"
)

// ErrAlreadyCollected is returned when a (query, version) pair is recorded twice.
var ErrAlreadyCollected = errors.New(errors.CodeValidation, "query version already collected")

// Query is one templated query and its per-version scores.
type Query struct {
	name   string
	parent *QueryGroup

	metrics []scoring.Metric
	byName  map[string]scoring.Metric

	// collecting is held shared while hits are fed and exclusively while
	// the metrics are rolled up.
	collecting sync.RWMutex

	mu        sync.Mutex
	totalHits map[string]int64
	collected map[string]int
	statuses  map[string]Status

	notify sync.Once
}

func newQuery(name string, parent *QueryGroup, metrics []scoring.Metric) *Query {
	q := &Query{
		name:      name,
		parent:    parent,
		metrics:   metrics,
		byName:    make(map[string]scoring.Metric, len(metrics)),
		totalHits: make(map[string]int64),
		collected: make(map[string]int),
		statuses:  make(map[string]Status),
	}
	for _, m := range metrics {
		q.byName[m.Name()] = m
	}
	return q
}

// Name returns the query name.
func (q *Query) Name() string {
	return q.name
}

// Group returns the owning query group.
func (q *Query) Group() *QueryGroup {
	return q.parent
}

// Metrics returns the query's metrics in configuration order.
func (q *Query) Metrics() []scoring.Metric {
	return append([]scoring.Metric(nil), q.metrics...)
}

// Metric looks a metric up by name.
func (q *Query) Metric(name string) (scoring.Metric, bool) {
	m, ok := q.byName[name]
	return m, ok
}

// Record stores the platform answer for version: the total hit count, then
// every hit in order with ranks starting at 1. Distinct versions may be
// recorded concurrently; recording the same version twice fails with
// ErrAlreadyCollected.
func (q *Query) Record(version string, totalHits int64, hits []map[string]any, status Status) error {
	q.collecting.RLock()
	defer q.collecting.RUnlock()

	q.mu.Lock()
	if _, done := q.statuses[version]; done {
		q.mu.Unlock()
		return ErrAlreadyCollected
	}
	q.statuses[version] = status
	q.totalHits[version] = totalHits
	q.collected[version] = len(hits)
	q.mu.Unlock()

	for _, m := range q.metrics {
		m.SetTotalHits(totalHits, version)
	}
	for i, hit := range hits {
		for _, m := range q.metrics {
			m.Collect(hit, i+1, version)
		}
	}
	return nil
}

// MarkInterrupted records an empty result with StatusInterrupted for every
// version that has no result yet.
func (q *Query) MarkInterrupted(versions []string) {
	for _, v := range versions {
		_ = q.Record(v, 0, nil, StatusInterrupted)
	}
}

// NotifyCollectedMetrics pushes every metric value of every version into the
// rollups of all ancestors. Only the first call has an effect.
func (q *Query) NotifyCollectedMetrics() {
	q.notify.Do(func() {
		q.collecting.Lock()
		defer q.collecting.Unlock()

		ancestors := q.parent.ancestors()
		for _, m := range q.metrics {
			for _, v := range m.Versions() {
				value := m.Value(v)
				for _, a := range ancestors {
					a.averaged(m.Name()).Collect(v, value)
				}
			}
		}
	})
}

// TotalHits returns the total hit count reported for version.
func (q *Query) TotalHits(version string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalHits[version]
}

// Collected returns how many hits were fed to the metrics for version.
func (q *Query) Collected(version string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.collected[version]
}

// Status returns the recorded status of version.
func (q *Query) Status(version string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.statuses[version]
	return s, ok
}

// RecordedVersions returns the versions that have a result, sorted.
func (q *Query) RecordedVersions() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	versions := make([]string, 0, len(q.statuses))
	for v := range q.statuses {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// MarshalJSON renders the query with its per-version results.
func (q *Query) MarshalJSON() ([]byte, error) {
	q.mu.Lock()
	totalHits := make(map[string]int64, len(q.totalHits))
	for k, v := range q.totalHits {
		totalHits[k] = v
	}
	statuses := make(map[string]Status, len(q.statuses))
	for k, v := range q.statuses {
		statuses[k] = v
	}
	q.mu.Unlock()

	return json.Marshal(struct {
		Name      string                       `json:"name"`
		Metrics   map[string]map[string]string `json:"metrics"`
		TotalHits map[string]int64             `json:"total_hits"`
		Statuses  map[string]Status            `json:"statuses"`
	}{q.name, metricValues(q.metrics), totalHits, statuses})
}
