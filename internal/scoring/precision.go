package scoring

import "github.com/shopspring/decimal"

// Precision is the fraction of returned hits that are judged relevant.
type Precision struct {
	base
}

// NewPrecision creates a Precision metric.
func NewPrecision() *Precision {
	p := &Precision{}
	p.init("P", p.newFactory)
	return p
}

func (p *Precision) newFactory(string) ValueFactory {
	return &precisionState{metric: p}
}

type precisionState struct {
	metric        *Precision
	totalHits     int64
	retrieved     int64
	relevantFound int64
}

func (s *precisionState) SetTotalHits(totalHits int64) {
	s.totalHits = totalHits
}

func (s *precisionState) Collect(hit map[string]any, _ int) {
	s.retrieved++
	if _, ok := s.metric.judgment(hit); ok {
		s.relevantFound++
	}
}

func (s *precisionState) Value() decimal.Decimal {
	if s.totalHits == 0 {
		return s.metric.emptyResult()
	}
	if len(s.metric.judgments) == 0 {
		return decimal.Zero
	}
	return ratio(s.relevantFound, s.retrieved)
}

// Recall is the fraction of judged documents that were returned.
type Recall struct {
	base
}

// NewRecall creates a Recall metric.
func NewRecall() *Recall {
	r := &Recall{}
	r.init("R", r.newFactory)
	return r
}

func (r *Recall) newFactory(string) ValueFactory {
	return &recallState{metric: r}
}

type recallState struct {
	metric        *Recall
	totalHits     int64
	relevantFound int64
}

func (s *recallState) SetTotalHits(totalHits int64) {
	s.totalHits = totalHits
}

func (s *recallState) Collect(hit map[string]any, _ int) {
	if _, ok := s.metric.judgment(hit); ok {
		s.relevantFound++
	}
}

func (s *recallState) Value() decimal.Decimal {
	if s.totalHits == 0 {
		return s.metric.emptyResult()
	}
	return ratio(s.relevantFound, int64(len(s.metric.judgments)))
}
