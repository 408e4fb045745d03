package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AbsentFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load on absent file: %v", err)
	}
	if cfg.Monitoring.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want default %v", cfg.Monitoring.Interval, DefaultInterval)
	}
	if !cfg.Notifications.RateLimitingEnabled() {
		t.Error("rate limiting should default to enabled")
	}
	if !cfg.Escalation.AutoEscalateEnabled() {
		t.Error("auto escalation should default to enabled")
	}
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
monitoring:
  interval: 10s
  spool_dir: /var/spool/opspulse
rules:
  max_rules: 20
notifications:
  rate_limiting: false
escalation:
  auto_escalate: false
  max_escalation_levels: 5
dashboard:
  url: http://dash.internal/summary
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Monitoring.Interval != 10*time.Second {
		t.Errorf("Interval = %v, want 10s", cfg.Monitoring.Interval)
	}
	if cfg.Monitoring.SpoolDir != "/var/spool/opspulse" {
		t.Errorf("SpoolDir = %q", cfg.Monitoring.SpoolDir)
	}
	if cfg.Rules.MaxRules != 20 {
		t.Errorf("MaxRules = %d, want 20", cfg.Rules.MaxRules)
	}
	if cfg.Notifications.RateLimitingEnabled() {
		t.Error("rate limiting should be disabled")
	}
	if cfg.Escalation.AutoEscalateEnabled() {
		t.Error("auto escalation should be disabled")
	}
	if cfg.Escalation.MaxEscalationLevels != 5 {
		t.Errorf("MaxEscalationLevels = %d, want 5", cfg.Escalation.MaxEscalationLevels)
	}
	if cfg.Dashboard.URL != "http://dash.internal/summary" {
		t.Errorf("Dashboard.URL = %q", cfg.Dashboard.URL)
	}

	// Untouched sections keep defaults.
	if cfg.Rules.HistoryCap != DefaultHistoryCap {
		t.Errorf("HistoryCap = %d, want default %d", cfg.Rules.HistoryCap, DefaultHistoryCap)
	}
	if cfg.State.Path != DefaultStatePath {
		t.Errorf("State.Path = %q, want default", cfg.State.Path)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "monitoring: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("Load on malformed yaml: expected error")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative interval", "monitoring:\n  interval: -5s\n"},
		{"empty state path", "state:\n  path: \"\"\n"},
		{"negative max rules", "rules:\n  max_rules: -1\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
