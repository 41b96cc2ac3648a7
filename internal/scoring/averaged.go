package scoring

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// AveragedMetric accumulates metric values reported by many queries into a
// per-version mean. Collect is safe for concurrent use; each version has its
// own lock so unrelated versions never contend.
type AveragedMetric struct {
	name string

	mu      sync.RWMutex
	buckets map[string]*averageBucket
}

type averageBucket struct {
	mu    sync.Mutex
	sum   decimal.Decimal
	count int64
}

// NewAveragedMetric creates an empty accumulator.
func NewAveragedMetric(name string) *AveragedMetric {
	return &AveragedMetric{
		name:    name,
		buckets: make(map[string]*averageBucket),
	}
}

// Name returns the metric name.
func (m *AveragedMetric) Name() string {
	return m.name
}

// Collect adds value to the running total of version.
func (m *AveragedMetric) Collect(version string, value decimal.Decimal) {
	b := m.bucket(version)

	b.mu.Lock()
	b.sum = b.sum.Add(value)
	b.count++
	b.mu.Unlock()
}

func (m *AveragedMetric) bucket(version string) *averageBucket {
	m.mu.RLock()
	b, ok := m.buckets[version]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[version]; ok {
		return b
	}
	b = &averageBucket{sum: decimal.Zero}
	m.buckets[version] = b
	return b
}

// Value returns the mean of the values collected for version, or zero when
// nothing was collected.
func (m *AveragedMetric) Value(version string) decimal.Decimal {
	m.mu.RLock()
	b, ok := m.buckets[version]
	m.mu.RUnlock()
	if !ok {
		return decimal.Zero
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return decimal.Zero
	}
	return b.sum.DivRound(decimal.NewFromInt(b.count), divisionScale)
}

// Count returns how many values were collected for version.
func (m *AveragedMetric) Count(version string) int64 {
	m.mu.RLock()
	b, ok := m.buckets[version]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Versions returns the versions that received at least one value, sorted.
func (m *AveragedMetric) Versions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := make([]string, 0, len(m.buckets))
	for v := range m.buckets {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}
