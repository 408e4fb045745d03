package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Strategy is one automated remediation bound to a rule. A successful run
// resolves the triggering alert.
type Strategy interface {
	// Name identifies the strategy in logs and action results.
	Name() string

	// Remediate performs the remediation for the given alert context.
	Remediate(ctx context.Context, alertID, ruleID string) error
}

// StrategyRegistry maps rule IDs to remediation strategies. Lookup misses
// are an explicit dispatch failure, not a silent no-op.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewStrategyRegistry returns an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: make(map[string]Strategy)}
}

// Register binds a strategy to a rule ID, replacing any previous binding.
func (r *StrategyRegistry) Register(ruleID string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[ruleID] = s
}

// Run executes the strategy bound to ruleID.
func (r *StrategyRegistry) Run(ctx context.Context, alertID, ruleID string) error {
	r.mu.RLock()
	s, ok := r.strategies[ruleID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("automation: no strategy registered for rule %q", ruleID)
	}

	slog.Info("automation: running strategy", "strategy", s.Name(), "rule", ruleID, "alert", alertID)
	if err := s.Remediate(ctx, alertID, ruleID); err != nil {
		return fmt.Errorf("automation %s: %w", s.Name(), err)
	}
	return nil
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc struct {
	StrategyName string
	Fn           func(ctx context.Context, alertID, ruleID string) error
}

func (s StrategyFunc) Name() string { return s.StrategyName }

func (s StrategyFunc) Remediate(ctx context.Context, alertID, ruleID string) error {
	return s.Fn(ctx, alertID, ruleID)
}

// Built-in remediations. Each wraps the command collaborator so the actual
// system interaction stays behind CommandRunner.

// RestartServiceStrategy restarts a systemd unit.
func RestartServiceStrategy(runner CommandRunner, service string) Strategy {
	return commandStrategy("restart-service", "systemctl restart "+service, runner)
}

// ClearCacheStrategy removes the files under a cache directory.
func ClearCacheStrategy(runner CommandRunner, dir string) Strategy {
	return commandStrategy("clear-cache", fmt.Sprintf("find %s -type f -delete", dir), runner)
}

// RotateLogsStrategy forces a logrotate run for the given config.
func RotateLogsStrategy(runner CommandRunner, configPath string) Strategy {
	return commandStrategy("rotate-logs", "logrotate -f "+configPath, runner)
}

func commandStrategy(name, command string, runner CommandRunner) Strategy {
	return StrategyFunc{
		StrategyName: name,
		Fn: func(ctx context.Context, alertID, ruleID string) error {
			if runner == nil {
				return fmt.Errorf("%s: command runner not configured", name)
			}
			return runner.Run(ctx, command)
		},
	}
}
