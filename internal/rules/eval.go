package rules

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opspulse/opspulse/internal/analyze"
	"github.com/opspulse/opspulse/internal/metrics"
)

// ErrNotFound is returned by administrative operations that reference an
// unknown rule ID.
var ErrNotFound = fmt.Errorf("rule not found")

func errEmptyField(field string) error { return fmt.Errorf("rule: %s must not be empty", field) }

func errBadValue(what, got string) error { return fmt.Errorf("rule: unknown %s %q", what, got) }

// Triggered reports one rule whose conditions all held this cycle, together
// with the value of the last condition evaluated (used in alert messages).
type Triggered struct {
	Rule    Rule
	Value   float64
	Message string
}

// Evaluator tests enabled rules in configuration order against the metric
// store and the analyzer's derived state. It is the single writer of rule
// trigger bookkeeping.
type Evaluator struct {
	mu       sync.RWMutex
	rules    []Rule
	maxRules int

	store    *metrics.Store
	analyzer *analyze.Analyzer
}

// NewEvaluator creates an Evaluator over store and analyzer. maxRules caps
// the rule set; <= 0 means unlimited.
func NewEvaluator(store *metrics.Store, analyzer *analyze.Analyzer, maxRules int) *Evaluator {
	return &Evaluator{store: store, analyzer: analyzer, maxRules: maxRules}
}

// Evaluate runs every enabled rule and returns those that triggered.
// A rule inside its cooldown, past its trigger cap, or with any failing
// condition is skipped. Trigger bookkeeping is updated here, under the
// evaluator lock.
func (e *Evaluator) Evaluate(now time.Time) []Triggered {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Triggered
	for i := range e.rules {
		r := &e.rules[i]
		if !r.Enabled {
			continue
		}
		if !r.LastTriggered.IsZero() && now.Sub(r.LastTriggered) < r.CooldownPeriod {
			continue
		}
		if r.MaxTriggers > 0 && r.TriggerCount >= r.MaxTriggers {
			continue
		}

		ok, value := e.conditionsHold(r)
		if !ok {
			continue
		}

		r.TriggerCount++
		r.LastTriggered = now
		out = append(out, Triggered{
			Rule:    *r,
			Value:   value,
			Message: fmt.Sprintf("%s: conditions met (value %.2f)", r.Name, value),
		})
	}
	return out
}

// conditionsHold ANDs every condition of r. The returned value is the
// aggregated value of the last condition checked.
func (e *Evaluator) conditionsHold(r *Rule) (bool, float64) {
	var last float64
	for _, c := range r.Conditions {
		v, ok := e.evalCondition(c)
		if !ok {
			return false, 0
		}
		last = v
	}
	return true, last
}

// evalCondition evaluates one condition. A condition whose metric has no
// data in the window evaluates false: rules never trigger on absent data.
func (e *Evaluator) evalCondition(c Condition) (float64, bool) {
	switch c.Type {
	case ConditionThreshold, "":
		pts := e.store.Query(c.Metric, c.Duration)
		if len(pts) == 0 {
			return 0, false
		}
		v := aggregate(pts, c.Aggregation)
		return v, compare(v, c.Operator, c.Value)

	case ConditionTrend:
		est, ok := e.analyzer.Trend(c.Metric)
		if !ok {
			return 0, false
		}
		return est.ChangePercent, compare(est.ChangePercent, c.Operator, c.Value)

	case ConditionAnomaly:
		an, ok := e.analyzer.LatestAnomaly(c.Metric)
		if !ok {
			return 0, false
		}
		return an.DeviationRatio, compare(an.DeviationRatio, c.Operator, c.Value)

	case ConditionAbsence, ConditionPresence:
		// Extension point: declared in configuration but not yet evaluated.
		slog.Debug("rules: condition type not implemented, evaluating false",
			"type", c.Type, "metric", c.Metric)
		return 0, false

	default:
		return 0, false
	}
}

// aggregate reduces windowed points. An unknown or empty aggregation
// defaults to avg.
func aggregate(pts []metrics.Point, agg string) float64 {
	switch agg {
	case AggMin:
		v := pts[0].Value
		for _, p := range pts[1:] {
			if p.Value < v {
				v = p.Value
			}
		}
		return v
	case AggMax:
		v := pts[0].Value
		for _, p := range pts[1:] {
			if p.Value > v {
				v = p.Value
			}
		}
		return v
	case AggSum:
		var sum float64
		for _, p := range pts {
			sum += p.Value
		}
		return sum
	case AggCount:
		return float64(len(pts))
	default: // avg
		var sum float64
		for _, p := range pts {
			sum += p.Value
		}
		return sum / float64(len(pts))
	}
}

func compare(v float64, op string, threshold float64) bool {
	switch op {
	case OpGT:
		return v > threshold
	case OpLT:
		return v < threshold
	case OpEQ:
		return v == threshold
	case OpNE:
		return v != threshold
	case OpGTE:
		return v >= threshold
	case OpLTE:
		return v <= threshold
	default:
		return false
	}
}

// Add appends a validated rule, rejecting duplicates and overflow of the
// configured cap.
func (e *Evaluator) Add(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.maxRules > 0 && len(e.rules) >= e.maxRules {
		return fmt.Errorf("rules: cap of %d reached", e.maxRules)
	}
	for _, existing := range e.rules {
		if existing.ID == r.ID {
			return fmt.Errorf("rules: duplicate id %q", r.ID)
		}
	}
	e.rules = append(e.rules, r)
	return nil
}

// Remove deletes the rule with the given ID.
func (e *Evaluator) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove %q: %w", id, ErrNotFound)
}

// Reset clears a rule's trigger bookkeeping. This is the only path that
// reopens a rule once its lifetime trigger cap is reached.
func (e *Evaluator) Reset(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules[i].TriggerCount = 0
			e.rules[i].LastTriggered = time.Time{}
			return nil
		}
	}
	return fmt.Errorf("reset %q: %w", id, ErrNotFound)
}

// Rules returns a copy of the current rule set in configuration order.
func (e *Evaluator) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Replace swaps the entire rule set, preserving trigger bookkeeping for
// rules whose ID survives. Used by config hot-reload and state restore.
func (e *Evaluator) Replace(rs []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := make(map[string]Rule, len(e.rules))
	for _, r := range e.rules {
		prev[r.ID] = r
	}
	e.rules = make([]Rule, 0, len(rs))
	for _, r := range rs {
		if old, ok := prev[r.ID]; ok {
			r.TriggerCount = old.TriggerCount
			r.LastTriggered = old.LastTriggered
		}
		e.rules = append(e.rules, r)
	}
}
