// Package config loads the engine configuration document: a single YAML
// file parsed into typed structs with documented defaults. An absent file
// is not an error — the defaults are used and later persisted alongside the
// engine state.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval          = 30 * time.Second
	DefaultSpoolDir          = "./spool"
	DefaultAlertTimeout      = 30 * time.Minute
	DefaultSeriesCap         = 1000
	DefaultAnomalyHistoryCap = 100
	DefaultMaxRules          = 100
	DefaultActiveCap         = 50
	DefaultHistoryCap        = 200
	DefaultMaxEscalation     = 3
	DefaultStatePath         = "./opspulse-state.json"
)

// Config is the top-level engine configuration.
type Config struct {
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Rules         RulesConfig         `yaml:"rules"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	State         StateConfig         `yaml:"state"`
	Email         EmailConfig         `yaml:"email"`
}

// MonitoringConfig controls the tick loop and metric retention.
type MonitoringConfig struct {
	// Interval is the period of the monitoring tick (default 30s).
	Interval time.Duration `yaml:"interval"`

	// SpoolDir is where producers drop metric snapshots (default ./spool).
	SpoolDir string `yaml:"spool_dir"`

	// AlertTimeout force-resolves active alerts older than this (default 30m).
	AlertTimeout time.Duration `yaml:"alert_timeout"`

	// SeriesCap bounds each metric series (default 1000 points).
	SeriesCap int `yaml:"series_cap"`

	// AnomalyHistoryCap bounds retained anomalies (default 100).
	AnomalyHistoryCap int `yaml:"anomaly_history_cap"`

	// EnabledSources is the number of configured metric producers; the
	// availability health factor compares it against sources actually
	// reporting. 0 disables the factor.
	EnabledSources int `yaml:"enabled_sources"`
}

// RulesConfig bounds the rule set and alert retention.
type RulesConfig struct {
	// MaxRules caps the configured rule set (default 100).
	MaxRules int `yaml:"max_rules"`

	// ActiveCap bounds concurrently active alerts (default 50).
	ActiveCap int `yaml:"active_cap"`

	// HistoryCap bounds retained alert history (default 200).
	HistoryCap int `yaml:"history_cap"`
}

// NotificationsConfig controls channel-level delivery behavior.
type NotificationsConfig struct {
	// RateLimiting enables per-channel send limits (default true).
	RateLimiting *bool `yaml:"rate_limiting"`
}

// RateLimitingEnabled resolves the tri-state flag with its default of true.
func (n NotificationsConfig) RateLimitingEnabled() bool {
	return n.RateLimiting == nil || *n.RateLimiting
}

// EscalationConfig controls automatic escalation of unresolved alerts.
type EscalationConfig struct {
	// AutoEscalate advances unresolved alerts through their policy levels
	// once each level's delay elapses (default true).
	AutoEscalate *bool `yaml:"auto_escalate"`

	// MaxEscalationLevels globally caps policy depth (default 3).
	MaxEscalationLevels int `yaml:"max_escalation_levels"`
}

// AutoEscalateEnabled resolves the tri-state flag with its default of true.
func (e EscalationConfig) AutoEscalateEnabled() bool {
	return e.AutoEscalate == nil || *e.AutoEscalate
}

// DashboardConfig names the external dashboard collaborator.
type DashboardConfig struct {
	// URL receives a JSON summary POST at the end of every tick; empty
	// disables the push.
	URL string `yaml:"url"`
}

// StateConfig locates the persisted engine snapshot.
type StateConfig struct {
	// Path of the state document (default ./opspulse-state.json).
	Path string `yaml:"path"`
}

// EmailConfig configures the outbound mail collaborator.
type EmailConfig struct {
	// RelayAddr is the SMTP relay (host:port). Empty disables email actions.
	RelayAddr string `yaml:"relay_addr"`

	// From is the envelope sender.
	From string `yaml:"from"`
}

// Load reads and parses the config file at path. A missing file yields the
// defaults; a malformed file is an error the caller recovers from by
// falling back to Defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config: file absent, using defaults", "path", path)
			return Defaults(), nil
		}
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with every default value.
func Defaults() *Config {
	return &Config{
		Monitoring: MonitoringConfig{
			Interval:          DefaultInterval,
			SpoolDir:          DefaultSpoolDir,
			AlertTimeout:      DefaultAlertTimeout,
			SeriesCap:         DefaultSeriesCap,
			AnomalyHistoryCap: DefaultAnomalyHistoryCap,
		},
		Rules: RulesConfig{
			MaxRules:   DefaultMaxRules,
			ActiveCap:  DefaultActiveCap,
			HistoryCap: DefaultHistoryCap,
		},
		Escalation: EscalationConfig{
			MaxEscalationLevels: DefaultMaxEscalation,
		},
		State: StateConfig{
			Path: DefaultStatePath,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Monitoring.Interval <= 0 {
		return fmt.Errorf("monitoring.interval must be positive, got %v", cfg.Monitoring.Interval)
	}
	if cfg.Monitoring.SpoolDir == "" {
		return fmt.Errorf("monitoring.spool_dir must not be empty")
	}
	if cfg.Monitoring.SeriesCap < 0 || cfg.Monitoring.AnomalyHistoryCap < 0 {
		return fmt.Errorf("monitoring caps must not be negative")
	}
	if cfg.Rules.MaxRules < 0 || cfg.Rules.ActiveCap < 0 || cfg.Rules.HistoryCap < 0 {
		return fmt.Errorf("rules caps must not be negative")
	}
	if cfg.Escalation.MaxEscalationLevels < 0 {
		return fmt.Errorf("escalation.max_escalation_levels must not be negative")
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path must not be empty")
	}
	return nil
}
