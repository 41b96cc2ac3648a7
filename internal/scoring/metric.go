package scoring

import (
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultIDField is the hit field holding the document identifier.
const DefaultIDField = "id"

// divisionScale is the number of fractional digits kept by ratio divisions.
const divisionScale = 16

// ValueFactory is the scoring state of one metric for one platform version.
//
// A ValueFactory is written by a single goroutine at a time: hits for a
// (query, version) pair are delivered sequentially with increasing rank.
type ValueFactory interface {
	// SetTotalHits records the total number of matches reported by the platform.
	SetTotalHits(totalHits int64)

	// Collect ingests the hit found at the given 1-based rank.
	Collect(hit map[string]any, rank int)

	// Value computes the score from the state collected so far.
	Value() decimal.Decimal
}

// Valuer is the read side shared by query metrics and averaged rollups.
type Valuer interface {
	Name() string
	Versions() []string
	Value(version string) decimal.Decimal
}

// Metric is a ranking metric evaluated for a single query across versions.
type Metric interface {
	Valuer

	SetIDField(field string)
	SetJudgments(judgments Judgments)
	SetVersions(versions []string)
	SetTotalHits(totalHits int64, version string)
	Collect(hit map[string]any, rank int, version string)
	ValueFactory(version string) ValueFactory
}

// base implements the version bookkeeping common to all metrics. Concrete
// metrics supply newFactory, which builds the per-version scoring state.
type base struct {
	name       string
	idField    string
	judgments  Judgments
	newFactory func(version string) ValueFactory

	mu        sync.RWMutex
	versions  []string
	factories map[string]ValueFactory
}

func (b *base) init(name string, newFactory func(version string) ValueFactory) {
	b.name = name
	b.idField = DefaultIDField
	b.judgments = Judgments{}
	b.newFactory = newFactory
	b.factories = make(map[string]ValueFactory)
}

// Name returns the metric name.
func (b *base) Name() string {
	return b.name
}

// SetIDField sets the hit field used to look judgments up.
func (b *base) SetIDField(field string) {
	if field == "" {
		field = DefaultIDField
	}
	b.idField = field
}

// SetJudgments attaches the judgment set of the query group.
func (b *base) SetJudgments(judgments Judgments) {
	if judgments == nil {
		judgments = Judgments{}
	}
	b.judgments = judgments
}

// SetVersions creates one value factory per version.
func (b *base) SetVersions(versions []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.versions = append([]string(nil), versions...)
	for _, v := range versions {
		if _, ok := b.factories[v]; !ok {
			b.factories[v] = b.newFactory(v)
		}
	}
}

// Versions returns the configured versions in declaration order.
func (b *base) Versions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.versions...)
}

// ValueFactory returns the scoring state for version, creating it on first use.
func (b *base) ValueFactory(version string) ValueFactory {
	b.mu.RLock()
	f, ok := b.factories[version]
	b.mu.RUnlock()
	if ok {
		return f
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.factories[version]; ok {
		return f
	}
	f = b.newFactory(version)
	b.factories[version] = f
	return f
}

// SetTotalHits forwards the total hit count to the version's factory.
func (b *base) SetTotalHits(totalHits int64, version string) {
	b.ValueFactory(version).SetTotalHits(totalHits)
}

// Collect forwards a hit to the version's factory.
func (b *base) Collect(hit map[string]any, rank int, version string) {
	b.ValueFactory(version).Collect(hit, rank)
}

// Value returns the current score for version.
func (b *base) Value(version string) decimal.Decimal {
	return b.ValueFactory(version).Value()
}

// judgment looks up the judgment of a hit.
func (b *base) judgment(hit map[string]any) (Judgment, bool) {
	return b.judgments.Lookup(documentID(hit, b.idField))
}

// emptyResult is the shared convention for a version that returned nothing:
// a perfect score when nothing was expected either, zero otherwise.
func (b *base) emptyResult() decimal.Decimal {
	if len(b.judgments) == 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

// ratio divides two counts, returning zero for a zero denominator.
func ratio(numerator, denominator int64) decimal.Decimal {
	if denominator == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(numerator).DivRound(decimal.NewFromInt(denominator), divisionScale)
}
