package scoring

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FMeasure combines precision and recall, weighting recall beta times as much
// as precision.
type FMeasure struct {
	base
	betaSquared decimal.Decimal
	precision   *Precision
	recall      *Recall
}

// NewFMeasure creates an F-Measure metric with the given beta.
func NewFMeasure(name string, beta float64) *FMeasure {
	b := decimal.NewFromFloat(beta)
	f := &FMeasure{
		betaSquared: b.Mul(b),
		precision:   NewPrecision(),
		recall:      NewRecall(),
	}
	if name == "" {
		name = fmt.Sprintf("F%s", b.String())
	}
	f.init(name, f.newFactory)
	return f
}

// NewF1 creates the balanced F-Measure.
func NewF1() *FMeasure { return NewFMeasure("F1", 1) }

// NewF05 creates the precision oriented F-Measure.
func NewF05() *FMeasure { return NewFMeasure("F0.5", 0.5) }

// NewF2 creates the recall oriented F-Measure.
func NewF2() *FMeasure { return NewFMeasure("F2", 2) }

// SetIDField sets the id field on the measure and its components.
func (f *FMeasure) SetIDField(field string) {
	f.base.SetIDField(field)
	f.precision.SetIDField(field)
	f.recall.SetIDField(field)
}

// SetJudgments attaches judgments to the measure and its components.
func (f *FMeasure) SetJudgments(judgments Judgments) {
	f.base.SetJudgments(judgments)
	f.precision.SetJudgments(judgments)
	f.recall.SetJudgments(judgments)
}

// SetVersions configures versions on the measure and its components.
func (f *FMeasure) SetVersions(versions []string) {
	f.precision.SetVersions(versions)
	f.recall.SetVersions(versions)
	f.base.SetVersions(versions)
}

func (f *FMeasure) newFactory(version string) ValueFactory {
	return &fmeasureState{metric: f, version: version}
}

type fmeasureState struct {
	metric  *FMeasure
	version string
}

func (s *fmeasureState) SetTotalHits(totalHits int64) {
	s.metric.precision.SetTotalHits(totalHits, s.version)
	s.metric.recall.SetTotalHits(totalHits, s.version)
}

func (s *fmeasureState) Collect(hit map[string]any, rank int) {
	s.metric.precision.Collect(hit, rank, s.version)
	s.metric.recall.Collect(hit, rank, s.version)
}

func (s *fmeasureState) Value() decimal.Decimal {
	p := s.metric.precision.Value(s.version)
	r := s.metric.recall.Value(s.version)
	if p.IsZero() || r.IsZero() {
		return decimal.Zero
	}

	beta2 := s.metric.betaSquared
	dividend := p.Mul(r)
	divisor := beta2.Mul(p).Add(r)

	return decimal.NewFromInt(1).Add(beta2).Mul(dividend.DivRound(divisor, divisionScale))
}
