package scoring

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAveragedMetric_SingleThread(t *testing.T) {
	am := NewAveragedMetric("P")
	am.Collect("v1", decimal.NewFromInt(1))
	am.Collect("v1", decimal.Zero)
	am.Collect("v2", decimal.RequireFromString("0.25"))

	assertValue(t, am.Value("v1"), "0.5")
	assertValue(t, am.Value("v2"), "0.25")
	assertValue(t, am.Value("missing"), "0")

	if got := am.Count("v1"); got != 2 {
		t.Errorf("Count(v1) = %d, want 2", got)
	}
	if got := am.Versions(); len(got) != 2 || got[0] != "v1" || got[1] != "v2" {
		t.Errorf("Versions() = %v, want [v1 v2]", got)
	}
}

func TestAveragedMetric_ConcurrentCollectSameVersion(t *testing.T) {
	const n = 1000
	am := NewAveragedMetric("NDCG@10")

	values := make([]decimal.Decimal, n)
	sum := decimal.Zero
	for i := range values {
		values[i] = decimal.NewFromInt(int64(rand.Intn(100))).Div(decimal.NewFromInt(100))
		sum = sum.Add(values[i])
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, v := range values {
		wg.Add(1)
		go func(v decimal.Decimal) {
			defer wg.Done()
			<-start
			am.Collect("v1", v)
		}(v)
	}
	close(start)
	wg.Wait()

	if got := am.Count("v1"); got != n {
		t.Fatalf("Count() = %d, want %d (lost updates)", got, n)
	}
	want := sum.DivRound(decimal.NewFromInt(n), divisionScale)
	if got := am.Value("v1"); !got.Equal(want) {
		t.Errorf("Value() = %s, want %s", got, want)
	}
}

func TestAveragedMetric_ConcurrentCollectManyVersions(t *testing.T) {
	versions := make([]string, 50)
	for i := range versions {
		versions[i] = fmt.Sprintf("v%d", i)
	}

	am := NewAveragedMetric("test")
	var wg sync.WaitGroup
	for _, v := range versions {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(v string) {
				defer wg.Done()
				am.Collect(v, decimal.NewFromInt(1))
			}(v)
		}
	}
	wg.Wait()

	if got := len(am.Versions()); got != len(versions) {
		t.Fatalf("len(Versions()) = %d, want %d", got, len(versions))
	}
	for _, v := range versions {
		if got := am.Count(v); got != 20 {
			t.Errorf("Count(%s) = %d, want 20", v, got)
		}
		assertValue(t, am.Value(v), "1")
	}
}
