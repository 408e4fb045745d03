package engine

import (
	"github.com/opspulse/opspulse/internal/alerts"
	"github.com/opspulse/opspulse/internal/analyze"
	"github.com/opspulse/opspulse/internal/dispatch"
	"github.com/opspulse/opspulse/internal/health"
	"github.com/opspulse/opspulse/internal/rules"
)

// Administrative operations. Each one serializes behind the engine mutex
// like a tick and snapshots state on success, so an operator change survives
// an immediate crash.

// AcknowledgeAlert marks an active alert acknowledged by an operator.
func (e *Engine) AcknowledgeAlert(id, who string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.alerts.Acknowledge(id, who); err != nil {
		return err
	}
	e.persist(e.now())
	return nil
}

// ResolveAlert resolves an alert on behalf of an operator.
func (e *Engine) ResolveAlert(id, who string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.alerts.Resolve(id, who); err != nil {
		return err
	}
	e.persist(e.now())
	return nil
}

// AddRule installs a new rule after validation.
func (e *Engine) AddRule(r rules.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.evaluator.Add(r); err != nil {
		return err
	}
	e.persist(e.now())
	return nil
}

// RemoveRule deletes a rule by ID.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.evaluator.Remove(id); err != nil {
		return err
	}
	e.persist(e.now())
	return nil
}

// ResetRule clears a rule's trigger counter and cooldown clock. This is the
// only way a rule that exhausted its lifetime trigger cap fires again.
func (e *Engine) ResetRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.evaluator.Reset(id); err != nil {
		return err
	}
	e.persist(e.now())
	return nil
}

// UpdateChannel installs or replaces a notification channel definition.
func (e *Engine) UpdateChannel(ch dispatch.Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.channels.Update(ch)
	e.persist(e.now())
}

// ClearHistory discards the retained alert history.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.alerts.ClearHistory()
	e.persist(e.now())
}

// ResetBaselines discards learned baselines; subsequent cycles re-seed them
// from current series. Useful after a known workload shift.
func (e *Engine) ResetBaselines() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.analyzer.ResetBaselines()
	e.persist(e.now())
}

// Read-only accessors for the CLI and any embedding surface.

// ActiveAlerts returns the unresolved alert set.
func (e *Engine) ActiveAlerts() []alerts.Event { return e.alerts.Active() }

// AlertHistory returns retained resolved alerts.
func (e *Engine) AlertHistory() []alerts.Event { return e.alerts.History() }

// Rules returns the configured rule set.
func (e *Engine) Rules() []rules.Rule { return e.evaluator.Rules() }

// Health returns the score computed on the most recent cycle.
func (e *Engine) Health() health.Score {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastScore
}

// Trends returns the estimates computed on the most recent cycle.
func (e *Engine) Trends() []analyze.TrendEstimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]analyze.TrendEstimate, len(e.lastTrends))
	copy(out, e.lastTrends)
	return out
}
