package scoring

import (
	"math"

	"github.com/shopspring/decimal"
)

// ndcgWindow is the number of top ranks considered by NDCG@10.
const ndcgWindow = 10

// NDCGAtTen is the normalized discounted cumulative gain over the first ten ranks.
type NDCGAtTen struct {
	base
}

// NewNDCGAtTen creates an NDCG@10 metric.
func NewNDCGAtTen() *NDCGAtTen {
	n := &NDCGAtTen{}
	n.init("NDCG@10", n.newFactory)
	return n
}

func (n *NDCGAtTen) newFactory(string) ValueFactory {
	return &ndcgState{metric: n, dcg: decimal.Zero}
}

type ndcgState struct {
	metric    *NDCGAtTen
	totalHits int64
	dcg       decimal.Decimal
}

func (s *ndcgState) SetTotalHits(totalHits int64) {
	s.totalHits = totalHits
}

func (s *ndcgState) Collect(hit map[string]any, rank int) {
	if rank < 1 || rank > ndcgWindow {
		return
	}
	judgment, ok := s.metric.judgment(hit)
	if !ok {
		return
	}
	s.dcg = s.dcg.Add(discountedGain(judgment.Grade(), rank))
}

func (s *ndcgState) Value() decimal.Decimal {
	if s.totalHits == 0 {
		return s.metric.emptyResult()
	}

	ideal := idealDCG(s.metric.judgments)
	if ideal.IsZero() {
		return decimal.Zero
	}

	return s.dcg.DivRound(ideal, divisionScale).RoundFloor(2)
}

// discountedGain returns the contribution of a grade found at rank: the raw
// gain at rank 1, gain / log2(rank + 1) afterwards.
func discountedGain(grade, rank int) decimal.Decimal {
	if rank == 1 {
		return decimal.NewFromInt(int64(grade))
	}
	return decimal.NewFromFloat(float64(grade) / math.Log2(float64(rank+1)))
}

// idealDCG computes the DCG of the best possible ranking of the judged
// documents. The window of min(|judgments|, 10) ranks is filled with grade 3
// documents, then grade 2 ones; every remaining rank counts as grade 1,
// whatever the grade of the documents left over.
func idealDCG(judgments Judgments) decimal.Decimal {
	window := min(len(judgments), ndcgWindow)

	tiers := make(map[int]int)
	for _, judgment := range judgments {
		tiers[judgment.Grade()]++
	}
	top := min(tiers[3], window)
	second := min(tiers[2], window-top)

	result := decimal.Zero
	for i := 0; i < window; i++ {
		grade := 1
		switch {
		case i < top:
			grade = 3
		case i < top+second:
			grade = 2
		}
		result = result.Add(discountedGain(grade, i+1))
	}
	return result
}
