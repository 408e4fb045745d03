// Package alerts owns alert events and their lifecycle: creation on rule
// trigger, acknowledge/resolve/escalate transitions, timeout-driven
// auto-resolution, and bounded active and history sets.
package alerts

import "time"

// Event statuses. Resolved is terminal.
const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
	StatusEscalated    = "escalated"
)

// Event is one alert raised by a rule trigger. It is mutated only through
// Manager operations; dispatch workers report outcomes via ActionResults
// applied by the single writer.
type Event struct {
	ID              string         `json:"id"`
	RuleID          string         `json:"rule_id"`
	RuleName        string         `json:"rule_name"`
	Timestamp       time.Time      `json:"timestamp"`
	Severity        string         `json:"severity"`
	Status          string         `json:"status"`
	Message         string         `json:"message"`
	Value           float64        `json:"value"`
	EscalationLevel int            `json:"escalation_level,omitempty"`
	Actions         []ActionResult `json:"actions,omitempty"`

	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// ActionResult records the final outcome of one dispatched action.
type ActionResult struct {
	ActionID  string    `json:"action_id"`
	Type      string    `json:"type"`
	Target    string    `json:"target"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}
