package scoring

import "github.com/shopspring/decimal"

// ReciprocalRank scores the rank of the first judged hit as 1/rank.
type ReciprocalRank struct {
	base
}

// NewReciprocalRank creates a reciprocal rank metric.
func NewReciprocalRank() *ReciprocalRank {
	r := &ReciprocalRank{}
	r.init("RR", r.newFactory)
	return r
}

func (r *ReciprocalRank) newFactory(string) ValueFactory {
	return &reciprocalRankState{metric: r}
}

type reciprocalRankState struct {
	metric    *ReciprocalRank
	totalHits int64
	firstRank int
}

func (s *reciprocalRankState) SetTotalHits(totalHits int64) {
	s.totalHits = totalHits
}

func (s *reciprocalRankState) Collect(hit map[string]any, rank int) {
	if s.firstRank > 0 {
		return
	}
	if _, ok := s.metric.judgment(hit); ok {
		s.firstRank = rank
	}
}

func (s *reciprocalRankState) Value() decimal.Decimal {
	if s.totalHits == 0 {
		return s.metric.emptyResult()
	}
	if s.firstRank == 0 {
		return decimal.Zero
	}
	return ratio(1, int64(s.firstRank))
}

// AveragePrecision averages the precision observed at each judged hit over
// the size of the judgment set.
type AveragePrecision struct {
	base
}

// NewAveragePrecision creates an average precision metric.
func NewAveragePrecision() *AveragePrecision {
	a := &AveragePrecision{}
	a.init("AP", a.newFactory)
	return a
}

func (a *AveragePrecision) newFactory(string) ValueFactory {
	return &averagePrecisionState{metric: a, sum: decimal.Zero}
}

type averagePrecisionState struct {
	metric        *AveragePrecision
	totalHits     int64
	relevantFound int64
	sum           decimal.Decimal
}

func (s *averagePrecisionState) SetTotalHits(totalHits int64) {
	s.totalHits = totalHits
}

func (s *averagePrecisionState) Collect(hit map[string]any, rank int) {
	if _, ok := s.metric.judgment(hit); !ok {
		return
	}
	s.relevantFound++
	s.sum = s.sum.Add(ratio(s.relevantFound, int64(rank)))
}

func (s *averagePrecisionState) Value() decimal.Decimal {
	if s.totalHits == 0 {
		return s.metric.emptyResult()
	}
	relevant := len(s.metric.judgments)
	if relevant == 0 {
		return decimal.Zero
	}
	return s.sum.DivRound(decimal.NewFromInt(int64(relevant)), divisionScale)
}
