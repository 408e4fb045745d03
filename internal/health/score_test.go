package health

import (
	"math"
	"testing"
	"time"

	"github.com/opspulse/opspulse/internal/metrics"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 0.01 }

func record(st *metrics.Store, name, source string, value float64) {
	st.Record(metrics.Point{
		Name:      name,
		Value:     value,
		Source:    source,
		Timestamp: time.Now().Add(-time.Second),
	})
}

func TestCompute_AllFactorsNeutralWithoutData(t *testing.T) {
	st := metrics.NewStore(100)
	sc := NewScorer(st, 0)

	score := sc.Compute()
	if !almostEqual(score.Overall, 100) {
		t.Errorf("Overall with no data = %.2f, want 100", score.Overall)
	}
	for _, f := range score.Factors {
		if f.Impact != ImpactNeutral {
			t.Errorf("factor %s impact = %q, want neutral", f.Name, f.Impact)
		}
	}
}

func TestCompute_WeightedBlend(t *testing.T) {
	st := metrics.NewStore(100)
	sc := NewScorer(st, 2)

	// performance: avg 10000ms → score 90
	record(st, "api_response_time", "dashboard", 10000)
	// reliability: avg ratio 0.5 → score 50
	record(st, "relay_health_ratio", "relay", 0.5)
	// availability: 2 of 2 sources reporting → 100

	score := sc.Compute()
	want := 90*weightPerformance + 50*weightReliability + 100*weightAvailability
	if !almostEqual(score.Overall, want) {
		t.Errorf("Overall = %.2f, want %.2f", score.Overall, want)
	}
	if len(score.Factors) != 3 {
		t.Fatalf("Factors: got %d, want 3", len(score.Factors))
	}
}

func TestPerformanceFactor_NegativeImpactOverThreshold(t *testing.T) {
	st := metrics.NewStore(100)
	sc := NewScorer(st, 1)

	record(st, "response_time", "dashboard", 2500)

	score := sc.Compute()
	perf := score.Factors[0]
	if perf.Name != FactorPerformance {
		t.Fatalf("Factors[0] = %q, want performance", perf.Name)
	}
	if perf.Impact != ImpactNegative {
		t.Errorf("performance impact at 2500ms = %q, want negative", perf.Impact)
	}
}

func TestPerformanceFactor_FloorsAtZero(t *testing.T) {
	st := metrics.NewStore(100)
	sc := NewScorer(st, 1)

	record(st, "response_time", "dashboard", 500000)

	score := sc.Compute()
	if score.Factors[0].Score != 0 {
		t.Errorf("performance score at 500s = %.2f, want 0", score.Factors[0].Score)
	}
}

func TestAvailabilityFactor_MissingSource(t *testing.T) {
	st := metrics.NewStore(100)
	sc := NewScorer(st, 4)

	record(st, "heartbeat_health_ratio", "heartbeat", 1)

	score := sc.Compute()
	avail := score.Factors[2]
	if avail.Name != FactorAvailability {
		t.Fatalf("Factors[2] = %q, want availability", avail.Name)
	}
	if !almostEqual(avail.Score, 25) {
		t.Errorf("availability with 1/4 sources = %.2f, want 25", avail.Score)
	}
	if avail.Impact != ImpactNegative {
		t.Errorf("availability impact = %q, want negative", avail.Impact)
	}
}

func TestCompute_FullyReplacesPriorScore(t *testing.T) {
	st := metrics.NewStore(100)
	sc := NewScorer(st, 1)

	record(st, "health_ratio", "relay", 0.2)
	first := sc.Compute()

	record(st, "health_ratio", "relay", 1.0)
	second := sc.Compute()

	if second.Overall <= first.Overall {
		t.Errorf("second score %.2f should exceed first %.2f after recovery",
			second.Overall, first.Overall)
	}
}
