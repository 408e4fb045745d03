// Package health computes the weighted system health score from recent
// metric activity: a performance factor from response-time metrics, a
// reliability factor from health-ratio metrics, and an availability factor
// from the share of enabled sources currently reporting.
package health

import (
	"math"
	"strings"
	"time"

	"github.com/opspulse/opspulse/internal/metrics"
)

// Factor weights. They must sum to 1.0.
const (
	weightPerformance  = 0.30
	weightReliability  = 0.40
	weightAvailability = 0.30
)

// Factor names.
const (
	FactorPerformance  = "performance"
	FactorReliability  = "reliability"
	FactorAvailability = "availability"
)

// Impact labels recorded per factor.
const (
	ImpactPositive = "positive"
	ImpactNegative = "negative"
	ImpactNeutral  = "neutral"
)

// responseTimeNegativeMs is the average response time beyond which the
// performance factor counts as a negative impact.
const responseTimeNegativeMs = 2000

// factorWindow is the trailing window of metric activity each factor reads.
const factorWindow = 5 * time.Minute

// Score is the fully-recomputed health snapshot for one cycle.
type Score struct {
	Overall   float64   `json:"overall"`
	Factors   []Factor  `json:"factors"`
	Timestamp time.Time `json:"timestamp"`
}

// Factor is one weighted component of the overall score.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
	Impact string  `json:"impact"`
}

// Scorer derives health scores from the metric store. It holds no state
// between cycles; every Compute fully replaces the previous score.
type Scorer struct {
	store          *metrics.Store
	enabledSources int
	now            func() time.Time
}

// NewScorer creates a Scorer. enabledSources is the number of configured
// metric producers; the availability factor compares it against the sources
// actually reporting within the factor window.
func NewScorer(store *metrics.Store, enabledSources int) *Scorer {
	return &Scorer{store: store, enabledSources: enabledSources, now: time.Now}
}

// Compute blends the three weighted factors into an overall 0-100 score.
func (s *Scorer) Compute() Score {
	perf := s.performanceFactor()
	rel := s.reliabilityFactor()
	avail := s.availabilityFactor()

	overall := perf.Score*perf.Weight + rel.Score*rel.Weight + avail.Score*avail.Weight

	return Score{
		Overall:   clamp(overall, 0, 100),
		Factors:   []Factor{perf, rel, avail},
		Timestamp: s.now(),
	}
}

// performanceFactor averages every *_response_time metric over the window.
// Score = max(0, 100 - avgMs/1000); an average above the negative threshold
// flips the impact.
func (s *Scorer) performanceFactor() Factor {
	avg, n := s.windowAverage(func(name string) bool {
		return strings.HasSuffix(name, "_response_time") || name == "response_time"
	})

	f := Factor{Name: FactorPerformance, Weight: weightPerformance, Score: 100, Impact: ImpactNeutral}
	if n == 0 {
		return f
	}

	f.Score = math.Max(0, 100-avg/1000)
	if avg > responseTimeNegativeMs {
		f.Impact = ImpactNegative
	} else {
		f.Impact = ImpactPositive
	}
	return f
}

// reliabilityFactor averages every *_health_ratio metric (values 0-1) over
// the window and scales to 0-100.
func (s *Scorer) reliabilityFactor() Factor {
	avg, n := s.windowAverage(func(name string) bool {
		return strings.HasSuffix(name, "_health_ratio") || name == "health_ratio"
	})

	f := Factor{Name: FactorReliability, Weight: weightReliability, Score: 100, Impact: ImpactNeutral}
	if n == 0 {
		return f
	}

	f.Score = clamp(avg*100, 0, 100)
	if f.Score < 50 {
		f.Impact = ImpactNegative
	} else {
		f.Impact = ImpactPositive
	}
	return f
}

// availabilityFactor scores the share of enabled sources that reported any
// point within the window.
func (s *Scorer) availabilityFactor() Factor {
	f := Factor{Name: FactorAvailability, Weight: weightAvailability, Score: 100, Impact: ImpactNeutral}
	if s.enabledSources <= 0 {
		return f
	}

	active := len(s.store.SourcesSeen(factorWindow))
	f.Score = clamp(float64(active)/float64(s.enabledSources)*100, 0, 100)
	if f.Score < 100 {
		f.Impact = ImpactNegative
	} else {
		f.Impact = ImpactPositive
	}
	return f
}

// windowAverage averages the windowed values of every series whose name
// matches, returning the mean and the number of contributing points.
func (s *Scorer) windowAverage(match func(string) bool) (float64, int) {
	var sum float64
	var n int
	for _, name := range s.store.Names() {
		if !match(name) {
			continue
		}
		for _, p := range s.store.Query(name, factorWindow) {
			sum += p.Value
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
