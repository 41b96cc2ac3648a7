package scoring

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFMeasure_ZeroWhenPrecisionOrRecallIsZero(t *testing.T) {
	for _, name := range []string{"F0.5", "F1", "F2"} {
		t.Run(name, func(t *testing.T) {
			f := newConfigured(t, name, Judgments{"a": Graded(3)})
			f.SetTotalHits(2, aVersion)
			f.Collect(searchHit("x"), 1, aVersion)
			f.Collect(searchHit("y"), 2, aVersion)

			assertValue(t, f.Value(aVersion), "0")
		})
	}
}

func TestFMeasure_HarmonicCombination(t *testing.T) {
	judgments := Judgments{"a": Graded(3), "b": Graded(2), "c": Graded(1), "d": Graded(1)}
	hits := []string{"a", "x", "b", "y"}

	tests := []struct {
		name string
		beta float64
	}{
		{"F0.5", 0.5},
		{"F1", 1},
		{"F2", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newConfigured(t, tt.name, judgments)
			f.SetTotalHits(int64(len(hits)), aVersion)
			for i, id := range hits {
				f.Collect(searchHit(id), i+1, aVersion)
			}

			// P = 2/4, R = 2/4
			p := decimal.RequireFromString("0.5")
			r := decimal.RequireFromString("0.5")
			b2 := decimal.NewFromFloat(tt.beta * tt.beta)
			want := decimal.NewFromInt(1).Add(b2).
				Mul(p.Mul(r).DivRound(b2.Mul(p).Add(r), divisionScale))

			if got := f.Value(aVersion); !got.Equal(want) {
				t.Errorf("%s = %s, want %s", tt.name, got, want)
			}
		})
	}
}

func TestFMeasure_ForwardsConfigurationToComponents(t *testing.T) {
	f := NewF1()
	f.SetIDField("sku")
	f.SetJudgments(Judgments{"a": Graded(3)})
	f.SetVersions([]string{"v1", "v2"})

	f.SetTotalHits(1, "v1")
	f.Collect(map[string]any{"sku": "a"}, 1, "v1")
	f.SetTotalHits(1, "v2")
	f.Collect(map[string]any{"sku": "b"}, 1, "v2")

	assertValue(t, f.Value("v1"), "1")
	assertValue(t, f.Value("v2"), "0")

	if got := f.precision.Versions(); len(got) != 2 {
		t.Errorf("precision versions = %v, want 2 entries", got)
	}
}

func TestNewFMeasure_DefaultName(t *testing.T) {
	f := NewFMeasure("", 3)
	if f.Name() != "F3" {
		t.Errorf("Name() = %q, want %q", f.Name(), "F3")
	}
}
