package metrics

import (
	"time"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Metrics holds the telemetry of one evaluation run.
type Metrics struct {
	// Query metrics
	QueriesSubmitted *Counter
	QueriesCompleted *Counter
	QueriesInFlight  *Gauge

	// Platform metrics
	Executions       *CounterVec   // labels: version, status
	ExecutionLatency *HistogramVec // labels: version
	PlatformErrors   *CounterVec   // labels: version, code
	IndexLoadLatency *HistogramVec // labels: version

	// Score metrics
	Scores *GaugeVec // labels: metric, version

	// Cache metrics
	CacheHits   *CounterVec // labels: type
	CacheMisses *CounterVec // labels: type

	// Bus metrics
	BusEventsPublished *CounterVec   // labels: topic
	BusEventLatency    *HistogramVec // labels: topic
	BusErrors          *CounterVec   // labels: topic

	RunDuration *Gauge
	startTime   time.Time
}

// New creates a telemetry set with every metric initialized.
func New() *Metrics {
	return &Metrics{
		QueriesSubmitted: NewCounter(
			"rice_eval_queries_submitted_total",
			"Queries handed to the evaluation manager",
			nil,
		),
		QueriesCompleted: NewCounter(
			"rice_eval_queries_completed_total",
			"Queries whose results were rolled up",
			nil,
		),
		QueriesInFlight: NewGauge(
			"rice_eval_queries_in_flight",
			"Queries submitted but not completed",
			nil,
		),
		Executions: NewCounterVec(
			"rice_eval_executions_total",
			"Query executions per platform version and outcome",
			[]string{"version", "status"},
		),
		ExecutionLatency: NewHistogramVec(
			"rice_eval_execution_duration_ms",
			"Query execution latency in milliseconds",
			[]string{"version"},
			nil,
		),
		PlatformErrors: NewCounterVec(
			"rice_eval_platform_errors_total",
			"Transient platform failures degraded to empty results",
			[]string{"version", "code"},
		),
		IndexLoadLatency: NewHistogramVec(
			"rice_eval_index_load_duration_ms",
			"Corpus load latency in milliseconds",
			[]string{"version"},
			[]float64{100, 500, 1000, 5000, 10000, 30000, 60000, 300000},
		),
		Scores: NewGaugeVec(
			"rice_eval_score",
			"Evaluation-level metric value per platform version",
			[]string{"metric", "version"},
		),
		CacheHits: NewCounterVec(
			"rice_eval_cache_hits_total",
			"Cache hits",
			[]string{"type"},
		),
		CacheMisses: NewCounterVec(
			"rice_eval_cache_misses_total",
			"Cache misses",
			[]string{"type"},
		),
		BusEventsPublished: NewCounterVec(
			"rice_eval_bus_events_published_total",
			"Progress events published",
			[]string{"topic"},
		),
		BusEventLatency: NewHistogramVec(
			"rice_eval_bus_event_latency_seconds",
			"Progress event publish latency in seconds",
			[]string{"topic"},
			[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		),
		BusErrors: NewCounterVec(
			"rice_eval_bus_errors_total",
			"Progress event publish failures",
			[]string{"topic"},
		),
		RunDuration: NewGauge(
			"rice_eval_run_duration_seconds",
			"Wall time of the run so far",
			nil,
		),
		startTime: time.Now(),
	}
}

// RecordSubmitted records a query handed to a manager.
func (m *Metrics) RecordSubmitted() {
	m.QueriesSubmitted.Inc()
	m.QueriesInFlight.Inc()
}

// RecordCompleted records a query whose results were rolled up.
func (m *Metrics) RecordCompleted() {
	m.QueriesCompleted.Inc()
	m.QueriesInFlight.Dec()
}

// RecordExecution records one (query, version) execution.
func (m *Metrics) RecordExecution(version, status string, latency time.Duration, err error) {
	m.Executions.WithLabels(version, status).Inc()
	m.ExecutionLatency.WithLabels(version).Observe(float64(latency.Milliseconds()))
	if err != nil {
		m.PlatformErrors.WithLabels(version, errorCode(err)).Inc()
	}
}

// RecordIndexLoad records the time spent loading the corpus for version.
func (m *Metrics) RecordIndexLoad(version string, latency time.Duration) {
	m.IndexLoadLatency.WithLabels(version).Observe(float64(latency.Milliseconds()))
}

// RecordScore publishes a final metric value.
func (m *Metrics) RecordScore(metric, version string, value float64) {
	m.Scores.WithLabels(metric, version).Set(value)
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabels(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabels(cacheType).Inc()
}

// RecordBusPublish records event bus publish metrics.
func (m *Metrics) RecordBusPublish(topic string, latencyMs int64, err error) {
	m.BusEventsPublished.WithLabels(topic).Inc()

	// Convert milliseconds to seconds for Prometheus convention
	m.BusEventLatency.WithLabels(topic).Observe(float64(latencyMs) / 1000.0)

	if err != nil {
		m.BusErrors.WithLabels(topic).Inc()
	}
}

func errorCode(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return code
	}
	return "unknown"
}
