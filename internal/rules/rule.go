// Package rules defines alert rule configuration and the evaluator that
// tests rule conditions against aggregated metric activity, honoring
// per-rule cooldowns and lifetime trigger caps.
package rules

import (
	"time"
)

// Condition types.
const (
	ConditionThreshold = "threshold"
	ConditionTrend     = "trend"
	ConditionAnomaly   = "anomaly"
	// Absence and presence are declared extension points: recognized by
	// configuration but not yet evaluated. They never satisfy a rule.
	ConditionAbsence  = "absence"
	ConditionPresence = "presence"
)

// Comparison operators.
const (
	OpGT  = "gt"
	OpLT  = "lt"
	OpEQ  = "eq"
	OpNE  = "ne"
	OpGTE = "gte"
	OpLTE = "lte"
)

// Aggregations applied to a condition's windowed points.
const (
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggSum   = "sum"
	AggCount = "count"
)

// Action types.
const (
	ActionNotification = "notification"
	ActionWebhook      = "webhook"
	ActionCommand      = "command"
	ActionEscalation   = "escalation"
	ActionAutomation   = "automation"
)

// Rule is one configured alert rule. Conditions are ANDed. TriggerCount and
// LastTriggered are mutated only by the evaluator (and the administrative
// reset), never by dispatch workers.
type Rule struct {
	ID               string            `yaml:"id" json:"id"`
	Name             string            `yaml:"name" json:"name"`
	Severity         string            `yaml:"severity" json:"severity"`
	Enabled          bool              `yaml:"enabled" json:"enabled"`
	Conditions       []Condition       `yaml:"conditions" json:"conditions"`
	Actions          []Action          `yaml:"actions" json:"actions"`
	EscalationPolicy *EscalationPolicy `yaml:"escalation_policy,omitempty" json:"escalation_policy,omitempty"`
	CooldownPeriod   time.Duration     `yaml:"cooldown_period" json:"cooldown_period"`
	MaxTriggers      int               `yaml:"max_triggers" json:"max_triggers"`
	TriggerCount     int               `yaml:"-" json:"trigger_count"`
	LastTriggered    time.Time         `yaml:"-" json:"last_triggered,omitempty"`
}

// Condition is one immutable test against a metric's aggregated window.
type Condition struct {
	Type        string        `yaml:"type" json:"type"`
	Metric      string        `yaml:"metric" json:"metric"`
	Operator    string        `yaml:"operator" json:"operator"`
	Value       float64       `yaml:"value" json:"value"`
	Duration    time.Duration `yaml:"duration" json:"duration"`
	Aggregation string        `yaml:"aggregation" json:"aggregation"`
}

// Action is one dispatch step executed when its rule triggers. RetryCount
// tracks retries of a single action instance during dispatch.
type Action struct {
	ID         string        `yaml:"id" json:"id"`
	Type       string        `yaml:"type" json:"type"`
	Target     string        `yaml:"target" json:"target"`
	Template   string        `yaml:"template" json:"template"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RetryCount int           `yaml:"-" json:"retry_count"`
}

// EscalationPolicy is an ordered list of levels an unresolved alert climbs.
// Policies are immutable configuration, referenced by alerts, never copied.
type EscalationPolicy struct {
	ID     string            `yaml:"id" json:"id"`
	Levels []EscalationLevel `yaml:"levels" json:"levels"`
}

// MaxLevel returns the highest reachable escalation level (1-based).
func (p *EscalationPolicy) MaxLevel() int {
	if p == nil {
		return 0
	}
	return len(p.Levels)
}

// Level returns the 1-based level definition, or false when out of range.
func (p *EscalationPolicy) Level(n int) (EscalationLevel, bool) {
	if p == nil || n < 1 || n > len(p.Levels) {
		return EscalationLevel{}, false
	}
	return p.Levels[n-1], true
}

// EscalationLevel is one numbered step of a policy.
type EscalationLevel struct {
	Delay      time.Duration `yaml:"delay" json:"delay"`
	Actions    []Action      `yaml:"actions" json:"actions"`
	Recipients []string      `yaml:"recipients,omitempty" json:"recipients,omitempty"`
	Channels   []string      `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// Validate checks structural constraints on a rule definition.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return errEmptyField("id")
	}
	if r.Name == "" {
		return errEmptyField("name")
	}
	if len(r.Conditions) == 0 {
		return errEmptyField("conditions")
	}
	for _, c := range r.Conditions {
		switch c.Type {
		case ConditionThreshold, ConditionTrend, ConditionAnomaly, ConditionAbsence, ConditionPresence:
		default:
			return errBadValue("condition type", c.Type)
		}
		switch c.Operator {
		case OpGT, OpLT, OpEQ, OpNE, OpGTE, OpLTE:
		default:
			return errBadValue("operator", c.Operator)
		}
		switch c.Aggregation {
		case AggAvg, AggMin, AggMax, AggSum, AggCount, "":
		default:
			return errBadValue("aggregation", c.Aggregation)
		}
	}
	for _, a := range r.Actions {
		switch a.Type {
		case ActionNotification, ActionWebhook, ActionCommand, ActionEscalation, ActionAutomation:
		default:
			return errBadValue("action type", a.Type)
		}
	}
	return nil
}
