package analyze

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Anomaly detection parameters.
const (
	// DefaultAnomalyCap bounds the retained anomaly history.
	DefaultAnomalyCap = 100

	// anomalyMinSamples is the minimum series length before a metric is
	// eligible for anomaly detection.
	anomalyMinSamples = 20

	// anomalyRecentWindow is how many of the newest points are averaged and
	// compared against the baseline.
	anomalyRecentWindow = 5

	// anomalyTrigger is the relative deviation beyond which an anomaly is
	// emitted. Bands above it select the severity.
	anomalyTrigger  = 0.2
	anomalyHighBand = 0.3
	anomalyCritBand = 0.5

	// baselineBlend is the EWMA weight of the newest average when a calm
	// series nudges its baseline.
	baselineBlend = 0.1
)

// Anomaly severities, lowest to highest.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Baseline is the slow-moving reference value for one metric. It is updated
// opportunistically while the series is calm and survives until an explicit
// reset.
type Baseline struct {
	MetricName     string    `json:"metric_name"`
	Value          float64   `json:"value"`
	UpperThreshold float64   `json:"upper_threshold"`
	LowerThreshold float64   `json:"lower_threshold"`
	Confidence     float64   `json:"confidence"`
	SampleCount    int       `json:"sample_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Anomaly records one baseline deviation beyond the trigger threshold.
type Anomaly struct {
	ID             string    `json:"id"`
	MetricName     string    `json:"metric_name"`
	CurrentValue   float64   `json:"current_value"`
	ExpectedValue  float64   `json:"expected_value"`
	DeviationRatio float64   `json:"deviation_ratio"`
	Severity       string    `json:"severity"`
	Confidence     float64   `json:"confidence"`
	Description    string    `json:"description"`
	Resolved       bool      `json:"resolved"`
	Timestamp      time.Time `json:"timestamp"`
}

// baselineSet holds per-metric baselines behind a lock.
type baselineSet struct {
	mu   sync.RWMutex
	data map[string]Baseline
}

func newBaselineSet() *baselineSet {
	return &baselineSet{data: make(map[string]Baseline)}
}

func (b *baselineSet) get(name string) (Baseline, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bl, ok := b.data[name]
	return bl, ok
}

func (b *baselineSet) put(bl Baseline) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[bl.MetricName] = bl
}

// DetectAnomalies scans every series with enough samples and an existing
// baseline, emitting one anomaly per metric whose recent average deviates
// beyond the trigger threshold. Metrics without a baseline are skipped
// silently: absence of a baseline is a cold-start condition, not a fault.
// Calm metrics nudge their baseline toward the recent average instead.
func (a *Analyzer) DetectAnomalies() []Anomaly {
	now := a.now()
	var found []Anomaly

	for _, name := range a.store.Names() {
		if a.store.Len(name) < anomalyMinSamples {
			continue
		}
		bl, ok := a.baselines.get(name)
		if !ok || bl.Value == 0 {
			continue
		}

		recent := avgValues(a.store.Last(name, anomalyRecentWindow))
		deviation := math.Abs(recent-bl.Value) / bl.Value

		if deviation <= anomalyTrigger {
			a.baselines.put(reviseBaseline(bl, recent, now))
			continue
		}

		severity := SeverityMedium
		switch {
		case deviation > anomalyCritBand:
			severity = SeverityCritical
		case deviation > anomalyHighBand:
			severity = SeverityHigh
		}

		found = append(found, Anomaly{
			ID:             fmt.Sprintf("anomaly-%s-%d", name, now.UnixNano()),
			MetricName:     name,
			CurrentValue:   recent,
			ExpectedValue:  bl.Value,
			DeviationRatio: deviation,
			Severity:       severity,
			Confidence:     math.Min(100, deviation*100),
			Description: fmt.Sprintf("%s deviates %.0f%% from baseline %.2f (current %.2f)",
				name, deviation*100, bl.Value, recent),
			Timestamp: now,
		})
	}

	if len(found) > 0 {
		a.appendAnomalies(found)
	}
	return found
}

// SetBaseline installs or replaces the baseline for a metric. Thresholds are
// derived from the value when left zero.
func (a *Analyzer) SetBaseline(name string, value float64, samples int) {
	a.baselines.put(Baseline{
		MetricName:     name,
		Value:          value,
		UpperThreshold: value * (1 + anomalyTrigger),
		LowerThreshold: value * (1 - anomalyTrigger),
		Confidence:     math.Min(100, float64(samples)),
		SampleCount:    samples,
		LastUpdated:    a.now(),
	})
}

// SeedBaselines establishes a baseline for every eligible series that does
// not have one yet, using the mean of the full retained window. The engine
// calls this each cycle so cold metrics graduate into anomaly detection.
func (a *Analyzer) SeedBaselines() {
	for _, name := range a.store.Names() {
		n := a.store.Len(name)
		if n < anomalyMinSamples {
			continue
		}
		if _, ok := a.baselines.get(name); ok {
			continue
		}
		mean := avgValues(a.store.Last(name, n))
		if mean != 0 {
			a.SetBaseline(name, mean, n)
		}
	}
}

// Baselines returns a copy of all current baselines.
func (a *Analyzer) Baselines() []Baseline {
	a.baselines.mu.RLock()
	defer a.baselines.mu.RUnlock()
	out := make([]Baseline, 0, len(a.baselines.data))
	for _, bl := range a.baselines.data {
		out = append(out, bl)
	}
	return out
}

// RestoreBaselines reinstalls baselines loaded from a persisted snapshot.
func (a *Analyzer) RestoreBaselines(bls []Baseline) {
	for _, bl := range bls {
		a.baselines.put(bl)
	}
}

// ResetBaselines discards every baseline. The next cycles re-seed them.
func (a *Analyzer) ResetBaselines() {
	a.baselines.mu.Lock()
	defer a.baselines.mu.Unlock()
	a.baselines.data = make(map[string]Baseline)
}

// Anomalies returns the retained anomaly history, oldest first.
func (a *Analyzer) Anomalies() []Anomaly {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Anomaly, len(a.anomalies))
	copy(out, a.anomalies)
	return out
}

// LatestAnomaly returns the newest unresolved anomaly for a metric.
func (a *Analyzer) LatestAnomaly(name string) (Anomaly, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := len(a.anomalies) - 1; i >= 0; i-- {
		if a.anomalies[i].MetricName == name && !a.anomalies[i].Resolved {
			return a.anomalies[i], true
		}
	}
	return Anomaly{}, false
}

func (a *Analyzer) appendAnomalies(found []Anomaly) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.anomalies = append(a.anomalies, found...)
	if len(a.anomalies) > a.anomalyCap {
		a.anomalies = a.anomalies[len(a.anomalies)-a.anomalyCap:]
	}
}

// reviseBaseline blends the recent average into a calm baseline and refreshes
// its derived thresholds.
func reviseBaseline(bl Baseline, recent float64, now time.Time) Baseline {
	bl.Value = bl.Value*(1-baselineBlend) + recent*baselineBlend
	bl.UpperThreshold = bl.Value * (1 + anomalyTrigger)
	bl.LowerThreshold = bl.Value * (1 - anomalyTrigger)
	bl.SampleCount++
	bl.Confidence = math.Min(100, bl.Confidence+1)
	bl.LastUpdated = now
	return bl
}
