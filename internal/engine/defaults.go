package engine

import (
	"time"

	"github.com/opspulse/opspulse/internal/dispatch"
	"github.com/opspulse/opspulse/internal/rules"
)

// defaultRules is the rule set installed on first run, before any operator
// configuration exists. They target the built-in ops-webhook channel, which
// ships disabled until an operator points it somewhere.
func defaultRules() []rules.Rule {
	return []rules.Rule{
		{
			ID:       "high-cpu",
			Name:     "High CPU usage",
			Severity: "critical",
			Enabled:  true,
			Conditions: []rules.Condition{{
				Type:        rules.ConditionThreshold,
				Metric:      "cpu_usage",
				Operator:    rules.OpGT,
				Value:       90,
				Duration:    5 * time.Minute,
				Aggregation: rules.AggAvg,
			}},
			Actions: []rules.Action{{
				ID:         "high-cpu-notify",
				Type:       rules.ActionNotification,
				Target:     "ops-webhook",
				Template:   "{{ruleName}}: {{message}}",
				MaxRetries: 2,
				RetryDelay: 5 * time.Second,
			}},
			CooldownPeriod: 10 * time.Minute,
		},
		{
			ID:       "low-health-score",
			Name:     "System health degraded",
			Severity: "warning",
			Enabled:  true,
			Conditions: []rules.Condition{{
				Type:        rules.ConditionThreshold,
				Metric:      "system_health_score",
				Operator:    rules.OpLT,
				Value:       50,
				Duration:    5 * time.Minute,
				Aggregation: rules.AggAvg,
			}},
			Actions: []rules.Action{{
				ID:         "low-health-notify",
				Type:       rules.ActionNotification,
				Target:     "ops-webhook",
				Template:   "{{ruleName}}: {{message}}",
				MaxRetries: 2,
				RetryDelay: 5 * time.Second,
			}},
			CooldownPeriod: 15 * time.Minute,
		},
		{
			ID:       "cpu-anomaly",
			Name:     "CPU usage anomaly",
			Severity: "critical",
			Enabled:  true,
			Conditions: []rules.Condition{{
				Type:     rules.ConditionAnomaly,
				Metric:   "cpu_usage",
				Operator: rules.OpGT,
				Value:    0.5,
			}},
			Actions: []rules.Action{{
				ID:         "cpu-anomaly-notify",
				Type:       rules.ActionNotification,
				Target:     "ops-webhook",
				Template:   "{{ruleName}}: {{message}}",
				MaxRetries: 2,
				RetryDelay: 5 * time.Second,
			}},
			CooldownPeriod: 10 * time.Minute,
		},
	}
}

// defaultChannels ships one disabled webhook channel as a template; the
// operator enables it with a URL through the admin surface.
func defaultChannels() []dispatch.Channel {
	return []dispatch.Channel{{
		ID:        "ops-webhook",
		Type:      dispatch.ChannelWebhook,
		Config:    map[string]string{"url": ""},
		Enabled:   false,
		RateLimit: 10,
	}}
}
