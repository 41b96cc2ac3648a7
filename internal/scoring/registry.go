package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Constructor builds a fresh, unconfigured metric.
type Constructor func() Metric

var registry = map[string]Constructor{
	"P":       func() Metric { return NewPrecision() },
	"R":       func() Metric { return NewRecall() },
	"F0.5":    func() Metric { return NewF05() },
	"F1":      func() Metric { return NewF1() },
	"F2":      func() Metric { return NewF2() },
	"NDCG@10": func() Metric { return NewNDCGAtTen() },
	"RR":      func() Metric { return NewReciprocalRank() },
	"AP":      func() Metric { return NewAveragePrecision() },
}

// Names returns the registered metric names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the metric registered under name.
func New(name string) (Metric, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, errors.ConfigurationError(
			fmt.Sprintf("unknown metric %q (available: %s)", name, strings.Join(Names(), ", ")), nil)
	}
	return ctor(), nil
}

// Validate checks that every name is registered and none repeats.
func Validate(names []string) error {
	if len(names) == 0 {
		return errors.ConfigurationError("no metrics configured", nil)
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := registry[name]; !ok {
			return errors.ConfigurationError(fmt.Sprintf("unknown metric %q", name), nil)
		}
		if seen[name] {
			return errors.ConfigurationError(fmt.Sprintf("metric %q configured twice", name), nil)
		}
		seen[name] = true
	}
	return nil
}

// Build creates a configured metric set for one query.
func Build(names []string, idField string, judgments Judgments, versions []string) ([]Metric, error) {
	metrics := make([]Metric, 0, len(names))
	for _, name := range names {
		m, err := New(name)
		if err != nil {
			return nil, err
		}
		m.SetIDField(idField)
		m.SetJudgments(judgments)
		m.SetVersions(versions)
		metrics = append(metrics, m)
	}
	return metrics, nil
}
