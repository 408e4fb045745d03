// Package engine wires the monitoring pipeline together and drives it from
// a single periodic tick: ingest, trend and anomaly analysis, health
// scoring, rule evaluation, escalation, lifecycle sweep, state persistence,
// and the dashboard summary push. One Engine instance owns all mutable
// state; there are no package-level singletons.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/opspulse/opspulse/internal/alerts"
	"github.com/opspulse/opspulse/internal/analyze"
	"github.com/opspulse/opspulse/internal/config"
	"github.com/opspulse/opspulse/internal/dispatch"
	"github.com/opspulse/opspulse/internal/health"
	"github.com/opspulse/opspulse/internal/ingest"
	"github.com/opspulse/opspulse/internal/metrics"
	"github.com/opspulse/opspulse/internal/rules"
	"github.com/opspulse/opspulse/internal/state"
)

// Engine is the single-process alerting and aggregation core. The tick body
// and every administrative operation serialize behind one mutex, so shared
// state has exactly one logical writer; dispatch workers run concurrently
// and report back through the outcome channel.
type Engine struct {
	cfg *config.Config

	store      *metrics.Store
	analyzer   *analyze.Analyzer
	scorer     *health.Scorer
	evaluator  *rules.Evaluator
	alerts     *alerts.Manager
	channels   *dispatch.ChannelSet
	dispatcher *dispatch.Dispatcher
	ingester   *ingest.Ingester
	states     state.DocumentStore
	summaries  state.DocumentStore

	mu           sync.Mutex
	lastScore    health.Score
	lastTrends   []analyze.TrendEstimate
	dashboardURL string

	client *http.Client
	now    func() time.Time
}

// persistedState is the snapshot document written at the end of every tick
// and read back at startup.
type persistedState struct {
	Rules     []rules.Rule       `json:"rules"`
	Active    []alerts.Event     `json:"active_alerts"`
	History   []alerts.Event     `json:"alert_history"`
	Channels  []dispatch.Channel `json:"channels"`
	Baselines []analyze.Baseline `json:"baselines"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// New constructs an Engine from cfg, restoring persisted state when a valid
// snapshot exists and installing the built-in rule set and channels
// otherwise. runner and mailer are the external command and email
// collaborators; either may be nil to disable those action types.
func New(cfg *config.Config, states state.DocumentStore, runner dispatch.CommandRunner, mailer dispatch.Mailer) (*Engine, error) {
	store := metrics.NewStore(cfg.Monitoring.SeriesCap)
	analyzer := analyze.NewAnalyzer(store, cfg.Monitoring.AnomalyHistoryCap)
	scorer := health.NewScorer(store, cfg.Monitoring.EnabledSources)
	evaluator := rules.NewEvaluator(store, analyzer, cfg.Rules.MaxRules)
	manager := alerts.NewManager(cfg.Rules.ActiveCap, cfg.Rules.HistoryCap, cfg.Monitoring.AlertTimeout)

	ingester, err := ingest.New(cfg.Monitoring.SpoolDir, store)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:          cfg,
		store:        store,
		analyzer:     analyzer,
		scorer:       scorer,
		evaluator:    evaluator,
		alerts:       manager,
		ingester:     ingester,
		states:       states,
		dashboardURL: cfg.Dashboard.URL,
		client:       &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}

	channels := e.restore()
	e.channels = dispatch.NewChannelSet(channels, cfg.Notifications.RateLimitingEnabled())
	e.dispatcher = dispatch.NewDispatcher(e.channels, dispatch.NewStrategyRegistry(), runner, mailer)
	return e, nil
}

// restore loads the persisted snapshot, falling back to the built-in rule
// set and channels on a missing or corrupt document. It returns the channel
// definitions to install.
func (e *Engine) restore() []dispatch.Channel {
	var doc persistedState
	err := e.states.Load(context.Background(), &doc)
	switch {
	case err == nil:
		e.evaluator.Replace(doc.Rules)
		e.alerts.Restore(doc.Active, doc.History)
		e.analyzer.RestoreBaselines(doc.Baselines)
		slog.Info("engine: state restored",
			"rules", len(doc.Rules),
			"active_alerts", len(doc.Active),
			"history", len(doc.History))
		if len(doc.Channels) > 0 {
			return doc.Channels
		}
		return defaultChannels()

	case errors.Is(err, state.ErrNotFound):
		slog.Info("engine: no persisted state, installing defaults")
	default:
		slog.Warn("engine: state snapshot unreadable, falling back to defaults", "err", err)
	}

	for _, r := range defaultRules() {
		if addErr := e.evaluator.Add(r); addErr != nil {
			slog.Warn("engine: skipping default rule", "rule", r.ID, "err", addErr)
		}
	}
	return defaultChannels()
}

// ApplyConfig absorbs a hot-reloaded configuration. Only settings that are
// safe to change on a live engine take effect (dashboard URL for now);
// interval, caps, and paths need a restart.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cfg.Dashboard.URL != e.dashboardURL {
		slog.Info("engine: dashboard URL updated", "url", cfg.Dashboard.URL)
		e.dashboardURL = cfg.Dashboard.URL
	}
}

// RegisterAutomation binds a remediation strategy to a rule ID.
func (e *Engine) RegisterAutomation(ruleID string, s dispatch.Strategy) {
	e.dispatcher.Automations().Register(ruleID, s)
}

// Run drives the monitoring loop until ctx is cancelled. The in-flight tick
// always finishes; pending dispatch retries are cancelled on the way out.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("engine: monitoring loop starting", "interval", e.cfg.Monitoring.Interval)

	// Spool watcher shortens the latency between a producer drop and
	// ingestion; the tick-time Scan remains the source of truth.
	go func() {
		if err := e.ingester.Watch(ctx, e.ScanNow); err != nil {
			slog.Error("engine: spool watcher stopped", "err", err)
		}
	}()

	ticker := time.NewTicker(e.cfg.Monitoring.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.dispatcher.Shutdown()
			slog.Info("engine: monitoring loop stopped")
			return
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}

// Tick runs one full pipeline cycle. A panic anywhere in the cycle is
// logged as critical and swallowed so the loop keeps running.
func (e *Engine) Tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: tick panicked, continuing",
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if n := e.ingester.Scan(); n > 0 {
		slog.Debug("engine: ingested producer snapshots", "points", n)
	}

	e.analyzer.SeedBaselines()
	trends := e.analyzer.Trends()
	anomalies := e.analyzer.DetectAnomalies()
	for _, an := range anomalies {
		slog.Warn("engine: anomaly detected",
			"metric", an.MetricName, "severity", an.Severity,
			"deviation", fmt.Sprintf("%.2f", an.DeviationRatio))
	}

	score := e.scorer.Compute()
	// The overall score is recorded as a metric of its own so rules can
	// alert on system health directly.
	e.store.Record(metrics.Point{
		Name: "system_health_score", Value: score.Overall,
		Source: "opspulse", Timestamp: now,
	})

	for _, trg := range e.evaluator.Evaluate(now) {
		e.raise(trg, now)
	}

	if e.cfg.Escalation.AutoEscalateEnabled() {
		e.autoEscalate(now)
	}
	e.alerts.Sweep(now)
	e.applyOutcomes()

	e.lastScore = score
	e.lastTrends = trends

	e.persist(now)
	e.pushSummary(now)
}

// ScanNow ingests any spooled snapshots immediately, outside the tick.
func (e *Engine) ScanNow() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ingester.Scan()
}

// raise creates the alert event for a triggered rule and starts its actions.
func (e *Engine) raise(trg rules.Triggered, now time.Time) {
	ev := alerts.Event{
		ID:        fmt.Sprintf("alert-%s-%d", trg.Rule.ID, now.UnixNano()),
		RuleID:    trg.Rule.ID,
		RuleName:  trg.Rule.Name,
		Timestamp: now,
		Severity:  trg.Rule.Severity,
		Status:    alerts.StatusActive,
		Message:   trg.Message,
		Value:     trg.Value,
	}
	e.alerts.Append(ev)
	slog.Warn("engine: alert triggered",
		"alert", ev.ID, "rule", trg.Rule.ID, "severity", ev.Severity, "value", trg.Value)

	e.dispatcher.Execute(ev, trg.Rule.Actions)
}

// applyOutcomes drains finished dispatch results and applies their state
// transitions. This is the only path by which worker outcomes touch alert
// state.
func (e *Engine) applyOutcomes() {
	for {
		select {
		case out := <-e.dispatcher.Outcomes():
			e.alerts.RecordResult(out.AlertID, out.Result)
			switch {
			case out.ResolveAlert:
				if err := e.alerts.Resolve(out.AlertID, "automation"); err != nil {
					slog.Debug("engine: automation resolve skipped", "alert", out.AlertID, "err", err)
				}
			case out.Escalate:
				e.escalate(out.AlertID, out.RuleID)
			}
		default:
			return
		}
	}
}

// escalate advances an alert one level through its rule's policy and
// executes exactly that level's action list.
func (e *Engine) escalate(alertID, ruleID string) {
	ev, ok := e.alerts.Get(alertID)
	if !ok {
		return
	}
	r, ok := e.ruleByID(ruleID)
	if !ok || r.EscalationPolicy == nil {
		return
	}

	next := ev.EscalationLevel + 1
	maxLevel := r.EscalationPolicy.MaxLevel()
	if e.cfg.Escalation.MaxEscalationLevels > 0 && maxLevel > e.cfg.Escalation.MaxEscalationLevels {
		maxLevel = e.cfg.Escalation.MaxEscalationLevels
	}
	if next > maxLevel {
		return
	}

	if err := e.alerts.Escalate(alertID, next); err != nil {
		slog.Debug("engine: escalate skipped", "alert", alertID, "err", err)
		return
	}
	slog.Warn("engine: alert escalated", "alert", alertID, "rule", ruleID, "level", next)

	if lvl, ok := r.EscalationPolicy.Level(next); ok {
		ev.EscalationLevel = next
		e.dispatcher.Execute(ev, lvl.Actions)
	}
}

// autoEscalate advances unresolved alerts whose next policy level's
// cumulative delay has elapsed since the alert fired.
func (e *Engine) autoEscalate(now time.Time) {
	for _, ev := range e.alerts.Active() {
		if ev.Status == alerts.StatusResolved || ev.Status == alerts.StatusAcknowledged {
			continue
		}
		r, ok := e.ruleByID(ev.RuleID)
		if !ok || r.EscalationPolicy == nil {
			continue
		}
		next := ev.EscalationLevel + 1
		if _, ok := r.EscalationPolicy.Level(next); !ok {
			continue
		}
		if now.Sub(ev.Timestamp) >= cumulativeDelay(r.EscalationPolicy, next) {
			e.escalate(ev.ID, ev.RuleID)
		}
	}
}

// cumulativeDelay sums the delays of levels 1..n.
func cumulativeDelay(p *rules.EscalationPolicy, n int) time.Duration {
	var total time.Duration
	for i := 1; i <= n; i++ {
		if lvl, ok := p.Level(i); ok {
			total += lvl.Delay
		}
	}
	return total
}

func (e *Engine) ruleByID(id string) (rules.Rule, bool) {
	for _, r := range e.evaluator.Rules() {
		if r.ID == id {
			return r, true
		}
	}
	return rules.Rule{}, false
}

// persist writes the engine snapshot. Persistence failures are logged and
// never interrupt the loop.
func (e *Engine) persist(now time.Time) {
	doc := persistedState{
		Rules:     e.evaluator.Rules(),
		Active:    e.alerts.Active(),
		History:   e.alerts.History(),
		Channels:  e.channels.Channels(),
		Baselines: e.analyzer.Baselines(),
		UpdatedAt: now,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.states.Save(ctx, doc); err != nil {
		slog.Error("engine: state persistence failed", "err", err)
	}
}
