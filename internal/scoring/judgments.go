// Package scoring implements the ranking metrics computed for every evaluated query.
//
// A Metric keeps one ValueFactory per platform version. A ValueFactory ingests the
// hits returned for its version in rank order and exposes the score computed from
// what it has seen so far. All arithmetic is decimal to keep ratios reproducible.
package scoring

import "fmt"

// DefaultGrade is the relevance grade of a judgment that carries no explicit gain.
const DefaultGrade = 2

// Judgment is the human relevance judgment attached to a document.
type Judgment struct {
	Gain   *int `json:"gain,omitempty"`
	Rating *int `json:"rating,omitempty"`
}

// Grade returns the judgment gain, falling back to rating and then DefaultGrade.
func (j Judgment) Grade() int {
	if j.Gain != nil {
		return *j.Gain
	}
	if j.Rating != nil {
		return *j.Rating
	}
	return DefaultGrade
}

// Judgments maps a document identifier to its judgment.
type Judgments map[string]Judgment

// Lookup returns the judgment for id, if any.
func (j Judgments) Lookup(id string) (Judgment, bool) {
	if j == nil || id == "" {
		return Judgment{}, false
	}
	judgment, ok := j[id]
	return judgment, ok
}

// Graded builds a judgment carrying an explicit gain.
func Graded(gain int) Judgment {
	return Judgment{Gain: &gain}
}

// documentID extracts the identifier of a hit from the configured field.
func documentID(hit map[string]any, field string) string {
	value, ok := hit[field]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case []any:
		// Multi-valued fields are judged on their first value.
		if len(v) == 0 {
			return ""
		}
		return fmt.Sprint(v[0])
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}
