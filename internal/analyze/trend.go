package analyze

import (
	"math"
	"sync"
	"time"

	"github.com/opspulse/opspulse/internal/metrics"
)

// Trend analysis parameters.
const (
	// trendWindow is the number of recent points split into the two
	// compared sub-windows. Fewer points than this and no trend is reported.
	trendWindow = 10

	// trendBandPct is the change-percent magnitude beyond which a trend is
	// classified increasing or decreasing rather than stable.
	trendBandPct = 5.0
)

// Trend directions.
const (
	DirectionIncreasing = "increasing"
	DirectionDecreasing = "decreasing"
	DirectionStable     = "stable"
)

// TrendEstimate is the derived directional change of one metric. It is
// recomputed from the series every cycle and never persisted.
type TrendEstimate struct {
	MetricName    string  `json:"metric_name"`
	CurrentValue  float64 `json:"current_value"`
	PreviousValue float64 `json:"previous_value"`
	ChangePercent float64 `json:"change_percent"`
	Direction     string  `json:"direction"`
	Confidence    float64 `json:"confidence"`
	SampleCount   int     `json:"sample_count"`
}

// Analyzer computes trends and anomalies over a metric store.
// All exported methods are safe for concurrent use with store writes; the
// analyzer itself holds baseline and anomaly state guarded by its own lock.
type Analyzer struct {
	store     *metrics.Store
	baselines *baselineSet

	mu         sync.RWMutex
	anomalies  []Anomaly
	anomalyCap int

	now func() time.Time
}

// NewAnalyzer creates an Analyzer over store. anomalyCap bounds the retained
// anomaly history; <= 0 falls back to DefaultAnomalyCap.
func NewAnalyzer(store *metrics.Store, anomalyCap int) *Analyzer {
	if anomalyCap <= 0 {
		anomalyCap = DefaultAnomalyCap
	}
	return &Analyzer{
		store:      store,
		baselines:  newBaselineSet(),
		anomalyCap: anomalyCap,
		now:        time.Now,
	}
}

// Trend reports the directional change of the named metric, comparing the
// average of the newest half of the trend window against the oldest half.
// It returns false when the series holds fewer than the required points.
func (a *Analyzer) Trend(name string) (TrendEstimate, bool) {
	pts := a.store.Last(name, trendWindow)
	if len(pts) < trendWindow {
		return TrendEstimate{}, false
	}

	half := len(pts) / 2
	prevAvg := avgValues(pts[:half])
	curAvg := avgValues(pts[half:])

	var changePct float64
	if prevAvg != 0 {
		changePct = (curAvg - prevAvg) / prevAvg * 100
	}

	direction := DirectionStable
	switch {
	case changePct > trendBandPct:
		direction = DirectionIncreasing
	case changePct < -trendBandPct:
		direction = DirectionDecreasing
	}

	return TrendEstimate{
		MetricName:    name,
		CurrentValue:  curAvg,
		PreviousValue: prevAvg,
		ChangePercent: changePct,
		Direction:     direction,
		Confidence:    math.Min(100, math.Abs(changePct)*10),
		SampleCount:   len(pts),
	}, true
}

// Trends computes estimates for every series with enough samples.
func (a *Analyzer) Trends() []TrendEstimate {
	var out []TrendEstimate
	for _, name := range a.store.Names() {
		if est, ok := a.Trend(name); ok {
			out = append(out, est)
		}
	}
	return out
}

func avgValues(pts []metrics.Point) float64 {
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Value
	}
	return sum / float64(len(pts))
}
