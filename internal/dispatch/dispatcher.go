package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/opspulse/opspulse/internal/alerts"
	"github.com/opspulse/opspulse/internal/rules"
)

const (
	// transportTimeout bounds a single webhook, email, or command attempt.
	transportTimeout = 10 * time.Second

	// outcomeBuffer is the capacity of the outcome channel drained by the
	// engine each cycle.
	outcomeBuffer = 256

	// outcomeSendTimeout bounds how long a worker blocks when the outcome
	// channel is full before giving up on the result.
	outcomeSendTimeout = 5 * time.Second
)

// Outcome is the result of one finished action, reported back to the single
// writer. Workers never mutate alert or rule state directly.
type Outcome struct {
	AlertID string
	RuleID  string
	Result  alerts.ActionResult

	// ResolveAlert is set when a successful automation should resolve the
	// alert (resolved_by "automation").
	ResolveAlert bool

	// Escalate is set when an escalation action should advance the alert one
	// level; the engine applies the transition and runs that level's actions.
	Escalate bool
}

// CommandRunner invokes an external command collaborator.
type CommandRunner interface {
	Run(ctx context.Context, command string) error
}

// ExecRunner runs commands through the shell.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, command string) error {
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %q: %w (output: %s)", command, err, bytes.TrimSpace(out))
	}
	return nil
}

// Mailer delivers plain-text email through an external transport.
type Mailer interface {
	Send(to, subject, body string) error
}

// Dispatcher executes alert actions concurrently and reports outcomes over
// a channel. Retries are per action, scheduled through a cancellable
// scheduler, and one action's failure never blocks its siblings.
type Dispatcher struct {
	channels  *ChannelSet
	automate  *StrategyRegistry
	runner    CommandRunner
	mailer    Mailer
	client    *http.Client
	scheduler *RetryScheduler
	outcomes  chan Outcome
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher. runner and mailer may be nil, in which
// case command and email actions fail with a configuration error.
func NewDispatcher(channels *ChannelSet, automate *StrategyRegistry, runner CommandRunner, mailer Mailer) *Dispatcher {
	return &Dispatcher{
		channels:  channels,
		automate:  automate,
		runner:    runner,
		mailer:    mailer,
		client:    &http.Client{Timeout: transportTimeout},
		scheduler: NewRetryScheduler(),
		outcomes:  make(chan Outcome, outcomeBuffer),
		now:       time.Now,
	}
}

// Outcomes is the channel the engine drains to apply action results.
func (d *Dispatcher) Outcomes() <-chan Outcome { return d.outcomes }

// Automations exposes the strategy registry for remediation bindings.
func (d *Dispatcher) Automations() *StrategyRegistry { return d.automate }

// Shutdown cancels all pending retries. In-flight attempts finish and their
// outcomes stay readable from the channel.
func (d *Dispatcher) Shutdown() { d.scheduler.Shutdown() }

// Execute runs every action of a fresh alert concurrently.
func (d *Dispatcher) Execute(ev alerts.Event, actions []rules.Action) {
	for _, act := range actions {
		go d.attempt(ev, act, 1)
	}
}

// attempt performs one try of an action. Failures within the retry budget
// are rescheduled after the action's retry delay; a rate-limit rejection and
// exhausted retries are final.
func (d *Dispatcher) attempt(ev alerts.Event, act rules.Action, try int) {
	err := d.run(ev, act)

	if err == nil {
		slog.Debug("dispatch: action succeeded",
			"alert", ev.ID, "action", act.ID, "type", act.Type, "attempt", try)
		d.report(ev, act, try, nil)
		return
	}

	if errors.Is(err, ErrRateLimited) {
		slog.Warn("dispatch: send rejected by rate limit",
			"alert", ev.ID, "action", act.ID, "channel", act.Target)
		d.report(ev, act, try, err)
		return
	}

	if try <= act.MaxRetries {
		delay := act.RetryDelay
		if delay <= 0 {
			delay = time.Second
		}
		slog.Warn("dispatch: action failed, retry scheduled",
			"alert", ev.ID, "action", act.ID, "attempt", try, "retry_in", delay, "err", err)
		d.scheduler.After(delay, func() { d.attempt(ev, act, try+1) })
		return
	}

	slog.Error("dispatch: action failed permanently",
		"alert", ev.ID, "action", act.ID, "attempts", try, "err", err)
	d.report(ev, act, try, err)
}

// run executes the transport for one action type.
func (d *Dispatcher) run(ev alerts.Event, act rules.Action) error {
	rendered := renderTemplate(act.Template, ev)
	ctx, cancel := context.WithTimeout(context.Background(), transportTimeout)
	defer cancel()

	switch act.Type {
	case rules.ActionNotification, rules.ActionWebhook:
		ch, err := d.channels.Acquire(act.Target)
		if err != nil {
			return err
		}
		return d.deliver(ch, ev, rendered)

	case rules.ActionCommand:
		if d.runner == nil {
			return fmt.Errorf("command runner not configured")
		}
		return d.runner.Run(ctx, rendered)

	case rules.ActionAutomation:
		return d.automate.Run(ctx, ev.ID, ev.RuleID)

	case rules.ActionEscalation:
		// Applied by the single writer via the outcome; nothing to transport.
		return nil

	default:
		return fmt.Errorf("unknown action type %q", act.Type)
	}
}

// deliver sends a rendered message through a channel transport.
func (d *Dispatcher) deliver(ch Channel, ev alerts.Event, rendered string) error {
	switch ch.Type {
	case ChannelWebhook:
		return d.postWebhook(ch, ev)

	case ChannelEmail:
		if d.mailer == nil {
			return fmt.Errorf("email transport not configured")
		}
		// Email defaults to critical alerts only unless the channel opts in.
		if ev.Severity != "critical" && ch.Config["all_severities"] != "true" {
			slog.Debug("dispatch: email gated to critical severity, skipping",
				"channel", ch.ID, "severity", ev.Severity)
			return nil
		}
		subject := fmt.Sprintf("[opspulse] %s alert: %s", ev.Severity, ev.RuleName)
		return d.mailer.Send(ch.Config["recipient"], subject, rendered)

	default:
		return fmt.Errorf("channel %q has unknown type %q", ch.ID, ch.Type)
	}
}

// webhookEnvelope is the JSON body POSTed to webhook channels.
type webhookEnvelope struct {
	Alert     webhookAlert `json:"alert"`
	Channel   string       `json:"channel"`
	Timestamp time.Time    `json:"timestamp"`
}

type webhookAlert struct {
	ID        string         `json:"id"`
	RuleID    string         `json:"ruleId"`
	RuleName  string         `json:"ruleName"`
	Severity  string         `json:"severity"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func (d *Dispatcher) postWebhook(ch Channel, ev alerts.Event) error {
	url := ch.Config["url"]
	if url == "" {
		return fmt.Errorf("channel %q has no url configured", ch.ID)
	}

	body, err := json.Marshal(webhookEnvelope{
		Alert: webhookAlert{
			ID:        ev.ID,
			RuleID:    ev.RuleID,
			RuleName:  ev.RuleName,
			Severity:  ev.Severity,
			Status:    ev.Status,
			Message:   ev.Message,
			Timestamp: ev.Timestamp,
			Data:      map[string]any{"value": ev.Value},
		},
		Channel:   ch.ID,
		Timestamp: d.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// report emits the final outcome for an action.
func (d *Dispatcher) report(ev alerts.Event, act rules.Action, attempts int, err error) {
	out := Outcome{
		AlertID: ev.ID,
		RuleID:  ev.RuleID,
		Result: alerts.ActionResult{
			ActionID:  act.ID,
			Type:      act.Type,
			Target:    act.Target,
			Success:   err == nil,
			Attempts:  attempts,
			Timestamp: d.now(),
		},
	}
	if err != nil {
		out.Result.Error = err.Error()
	}
	if err == nil {
		switch act.Type {
		case rules.ActionAutomation:
			out.ResolveAlert = true
		case rules.ActionEscalation:
			out.Escalate = true
		}
	}

	timeout := time.NewTimer(outcomeSendTimeout)
	defer timeout.Stop()
	select {
	case d.outcomes <- out:
	case <-timeout.C:
		slog.Error("dispatch: outcome channel full, dropping result",
			"alert", ev.ID, "action", act.ID)
	}
}
