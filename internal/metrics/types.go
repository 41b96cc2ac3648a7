// Package metrics provides Prometheus-compatible telemetry for evaluation runs.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter represents a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	value  int64
	labels map[string]string
}

// NewCounter creates a new counter.
func NewCounter(name, help string, labels map[string]string) *Counter {
	if labels == nil {
		labels = make(map[string]string)
	}
	return &Counter{
		name:   name,
		help:   help,
		labels: labels,
	}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(delta int64) {
	if delta < 0 {
		return
	}
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Name returns the metric name.
func (c *Counter) Name() string {
	return c.name
}

// Help returns the metric help text.
func (c *Counter) Help() string {
	return c.help
}

// Labels returns a copy of the metric labels.
func (c *Counter) Labels() map[string]string {
	return copyLabels(c.labels)
}

// Gauge represents a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	bits   uint64 // math.Float64bits of the value
	labels map[string]string
}

// NewGauge creates a new gauge.
func NewGauge(name, help string, labels map[string]string) *Gauge {
	if labels == nil {
		labels = make(map[string]string)
	}
	return &Gauge{
		name:   name,
		help:   help,
		labels: labels,
	}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(value float64) {
	atomic.StoreUint64(&g.bits, math.Float64bits(value))
}

// Add adds delta to the gauge.
func (g *Gauge) Add(delta float64) {
	for {
		old := atomic.LoadUint64(&g.bits)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(&g.bits, old, next) {
			return
		}
	}
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.bits))
}

// Name returns the metric name.
func (g *Gauge) Name() string {
	return g.name
}

// Help returns the metric help text.
func (g *Gauge) Help() string {
	return g.help
}

// Labels returns a copy of the metric labels.
func (g *Gauge) Labels() map[string]string {
	return copyLabels(g.labels)
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	labels  map[string]string

	mu     sync.Mutex
	counts []int64
	sum    float64
	count  int64
}

// NewHistogram creates a new histogram with the given buckets.
func NewHistogram(name, help string, buckets []float64, labels map[string]string) *Histogram {
	if len(buckets) == 0 {
		// Default buckets in milliseconds
		buckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	buckets = append([]float64(nil), buckets...)
	sort.Float64s(buckets)
	if labels == nil {
		labels = make(map[string]string)
	}

	return &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		labels:  labels,
		counts:  make([]int64, len(buckets)+1), // +1 for +Inf
	}
}

// Observe adds a single observation.
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += value
	h.count++

	bucketIdx := len(h.buckets)
	for i, bucket := range h.buckets {
		if value <= bucket {
			bucketIdx = i
			break
		}
	}
	for i := bucketIdx; i < len(h.counts); i++ {
		h.counts[i]++
	}
}

// Count returns the total count of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of all observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Buckets returns the bucket upper bounds.
func (h *Histogram) Buckets() []float64 {
	return append([]float64(nil), h.buckets...)
}

// BucketCounts returns the cumulative count of each bucket, +Inf last.
func (h *Histogram) BucketCounts() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.counts...)
}

// Name returns the metric name.
func (h *Histogram) Name() string {
	return h.name
}

// Help returns the metric help text.
func (h *Histogram) Help() string {
	return h.help
}

// Labels returns a copy of the metric labels.
func (h *Histogram) Labels() map[string]string {
	return copyLabels(h.labels)
}

// vec is the label → child bookkeeping shared by the vector types.
type vec[T any] struct {
	name       string
	help       string
	labelNames []string
	create     func(labels map[string]string) *T

	mu       sync.RWMutex
	children map[string]*T
}

func (v *vec[T]) with(labelValues ...string) *T {
	if len(labelValues) != len(v.labelNames) {
		panic(fmt.Sprintf("expected %d label values, got %d", len(v.labelNames), len(labelValues)))
	}

	labels := make(map[string]string, len(v.labelNames))
	for i, name := range v.labelNames {
		labels[name] = labelValues[i]
	}
	key := labelsToKey(labels)

	v.mu.RLock()
	child, exists := v.children[key]
	v.mu.RUnlock()
	if exists {
		return child
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if child, exists := v.children[key]; exists {
		return child
	}
	child = v.create(labels)
	v.children[key] = child
	return child
}

// all returns the children sorted by label key.
func (v *vec[T]) all() []*T {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]string, 0, len(v.children))
	for k := range v.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]*T, 0, len(keys))
	for _, k := range keys {
		result = append(result, v.children[k])
	}
	return result
}

// CounterVec represents a counter with labels.
type CounterVec struct {
	vec[Counter]
}

// NewCounterVec creates a new counter vector.
func NewCounterVec(name, help string, labelNames []string) *CounterVec {
	cv := &CounterVec{}
	cv.vec = vec[Counter]{
		name:       name,
		help:       help,
		labelNames: labelNames,
		children:   make(map[string]*Counter),
		create: func(labels map[string]string) *Counter {
			return NewCounter(name, help, labels)
		},
	}
	return cv
}

// WithLabels returns a counter with the given label values.
func (cv *CounterVec) WithLabels(labelValues ...string) *Counter {
	return cv.with(labelValues...)
}

// GetAll returns all counters in the vector.
func (cv *CounterVec) GetAll() []*Counter {
	return cv.all()
}

// GaugeVec represents a gauge with labels.
type GaugeVec struct {
	vec[Gauge]
}

// NewGaugeVec creates a new gauge vector.
func NewGaugeVec(name, help string, labelNames []string) *GaugeVec {
	gv := &GaugeVec{}
	gv.vec = vec[Gauge]{
		name:       name,
		help:       help,
		labelNames: labelNames,
		children:   make(map[string]*Gauge),
		create: func(labels map[string]string) *Gauge {
			return NewGauge(name, help, labels)
		},
	}
	return gv
}

// WithLabels returns a gauge with the given label values.
func (gv *GaugeVec) WithLabels(labelValues ...string) *Gauge {
	return gv.with(labelValues...)
}

// GetAll returns all gauges in the vector.
func (gv *GaugeVec) GetAll() []*Gauge {
	return gv.all()
}

// HistogramVec represents a histogram with labels.
type HistogramVec struct {
	vec[Histogram]
}

// NewHistogramVec creates a new histogram vector.
func NewHistogramVec(name, help string, labelNames []string, buckets []float64) *HistogramVec {
	hv := &HistogramVec{}
	hv.vec = vec[Histogram]{
		name:       name,
		help:       help,
		labelNames: labelNames,
		children:   make(map[string]*Histogram),
		create: func(labels map[string]string) *Histogram {
			return NewHistogram(name, help, buckets, labels)
		},
	}
	return hv
}

// WithLabels returns a histogram with the given label values.
func (hv *HistogramVec) WithLabels(labelValues ...string) *Histogram {
	return hv.with(labelValues...)
}

// GetAll returns all histograms in the vector.
func (hv *HistogramVec) GetAll() []*Histogram {
	return hv.all()
}

func copyLabels(labels map[string]string) map[string]string {
	result := make(map[string]string, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// labelsToKey creates a stable key from label map.
func labelsToKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(labels[k])
	}
	return sb.String()
}
