package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspulse/opspulse/internal/alerts"
	"github.com/opspulse/opspulse/internal/rules"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func testEvent() alerts.Event {
	return alerts.Event{
		ID:        "alert-1",
		RuleID:    "rule-1",
		RuleName:  "high-cpu",
		Severity:  "critical",
		Status:    alerts.StatusActive,
		Message:   "cpu over threshold",
		Value:     92.5,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func waitOutcome(t *testing.T, d *Dispatcher) Outcome {
	t.Helper()
	select {
	case out := <-d.Outcomes():
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch outcome")
		return Outcome{}
	}
}

func TestRenderTemplate(t *testing.T) {
	ev := testEvent()
	got := renderTemplate("{{ruleName}} [{{severity}}]: {{message}} value={{value}}", ev)
	assert.Equal(t, "high-cpu [critical]: cpu over threshold value=92.50", got)

	assert.Equal(t, ev.Message, renderTemplate("", ev), "empty template falls back to message")
}

func TestChannelSet_RateLimitWindow(t *testing.T) {
	base := time.Now()
	cs := NewChannelSet([]Channel{{
		ID: "dashboard", Type: ChannelWebhook, Enabled: true, RateLimit: 1,
		Config: map[string]string{"url": "http://example.invalid"},
	}}, true)
	cs.now = fixedClock(base)

	_, err := cs.Acquire("dashboard")
	require.NoError(t, err, "first send must pass")

	cs.now = fixedClock(base.Add(30 * time.Second))
	_, err = cs.Acquire("dashboard")
	require.ErrorIs(t, err, ErrRateLimited, "second send inside the 60s window must be rejected")

	cs.now = fixedClock(base.Add(61 * time.Second))
	_, err = cs.Acquire("dashboard")
	require.NoError(t, err, "send after the window must pass")
}

func TestChannelSet_RateLimitingDisabled(t *testing.T) {
	cs := NewChannelSet([]Channel{{
		ID: "dashboard", Type: ChannelWebhook, Enabled: true, RateLimit: 1,
	}}, false)

	for i := 0; i < 3; i++ {
		_, err := cs.Acquire("dashboard")
		require.NoError(t, err)
	}
}

func TestChannelSet_DisabledAndUnknown(t *testing.T) {
	cs := NewChannelSet([]Channel{{ID: "off", Type: ChannelWebhook, Enabled: false}}, true)

	_, err := cs.Acquire("off")
	assert.Error(t, err)
	_, err = cs.Acquire("ghost")
	assert.Error(t, err)
}

func TestDispatch_WebhookDelivery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cs := NewChannelSet([]Channel{{
		ID: "dashboard", Type: ChannelWebhook, Enabled: true,
		Config: map[string]string{"url": srv.URL},
	}}, true)
	d := NewDispatcher(cs, NewStrategyRegistry(), nil, nil)

	d.attempt(testEvent(), rules.Action{
		ID: "act-1", Type: rules.ActionWebhook, Target: "dashboard",
	}, 1)

	out := waitOutcome(t, d)
	require.True(t, out.Result.Success, "outcome: %+v", out.Result)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, out.Result.Attempts)
}

func TestDispatch_RetryThenSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cs := NewChannelSet([]Channel{{
		ID: "dashboard", Type: ChannelWebhook, Enabled: true,
		Config: map[string]string{"url": srv.URL},
	}}, false)
	d := NewDispatcher(cs, NewStrategyRegistry(), nil, nil)

	d.attempt(testEvent(), rules.Action{
		ID: "act-1", Type: rules.ActionWebhook, Target: "dashboard",
		MaxRetries: 2, RetryDelay: 10 * time.Millisecond,
	}, 1)

	out := waitOutcome(t, d)
	require.True(t, out.Result.Success)
	assert.Equal(t, 2, out.Result.Attempts, "should succeed on the retry")
	assert.Equal(t, int32(2), hits.Load())
}

func TestDispatch_RetriesExhaustedMarksFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cs := NewChannelSet([]Channel{{
		ID: "dashboard", Type: ChannelWebhook, Enabled: true,
		Config: map[string]string{"url": srv.URL},
	}}, false)
	d := NewDispatcher(cs, NewStrategyRegistry(), nil, nil)

	d.attempt(testEvent(), rules.Action{
		ID: "act-1", Type: rules.ActionWebhook, Target: "dashboard",
		MaxRetries: 1, RetryDelay: 10 * time.Millisecond,
	}, 1)

	out := waitOutcome(t, d)
	require.False(t, out.Result.Success)
	assert.Equal(t, 2, out.Result.Attempts)
	assert.Contains(t, out.Result.Error, "HTTP 500")
}

func TestDispatch_RateLimitIsFinalNotRetried(t *testing.T) {
	base := time.Now()
	cs := NewChannelSet([]Channel{{
		ID: "dashboard", Type: ChannelWebhook, Enabled: true, RateLimit: 1,
		Config: map[string]string{"url": "http://example.invalid"},
	}}, true)
	cs.now = fixedClock(base)
	_, err := cs.Acquire("dashboard") // consume the slot
	require.NoError(t, err)

	d := NewDispatcher(cs, NewStrategyRegistry(), nil, nil)
	d.attempt(testEvent(), rules.Action{
		ID: "act-1", Type: rules.ActionNotification, Target: "dashboard",
		MaxRetries: 3, RetryDelay: 10 * time.Millisecond,
	}, 1)

	out := waitOutcome(t, d)
	require.False(t, out.Result.Success)
	assert.Equal(t, 1, out.Result.Attempts, "rate-limit rejection must not retry")
	assert.Equal(t, 0, d.scheduler.Pending())
}

func TestDispatch_PartialFailureIsolation(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	cs := NewChannelSet([]Channel{
		{ID: "good", Type: ChannelWebhook, Enabled: true, Config: map[string]string{"url": okSrv.URL}},
		{ID: "bad", Type: ChannelWebhook, Enabled: true, Config: map[string]string{}}, // no url — permanent failure
	}, false)
	d := NewDispatcher(cs, NewStrategyRegistry(), nil, nil)

	d.Execute(testEvent(), []rules.Action{
		{ID: "act-bad", Type: rules.ActionWebhook, Target: "bad"},
		{ID: "act-good", Type: rules.ActionWebhook, Target: "good"},
	})

	results := map[string]bool{}
	for i := 0; i < 2; i++ {
		out := waitOutcome(t, d)
		results[out.Result.ActionID] = out.Result.Success
	}
	assert.False(t, results["act-bad"])
	assert.True(t, results["act-good"], "sibling action must succeed despite act-bad failing")
}

func TestDispatch_AutomationSuccessResolves(t *testing.T) {
	reg := NewStrategyRegistry()
	reg.Register("rule-1", StrategyFunc{
		StrategyName: "restart-if-down",
		Fn:           func(ctx context.Context, alertID, ruleID string) error { return nil },
	})
	d := NewDispatcher(NewChannelSet(nil, false), reg, nil, nil)

	d.attempt(testEvent(), rules.Action{ID: "act-1", Type: rules.ActionAutomation}, 1)

	out := waitOutcome(t, d)
	require.True(t, out.Result.Success)
	assert.True(t, out.ResolveAlert)
}

func TestDispatch_AutomationMissingStrategyFails(t *testing.T) {
	d := NewDispatcher(NewChannelSet(nil, false), NewStrategyRegistry(), nil, nil)

	d.attempt(testEvent(), rules.Action{ID: "act-1", Type: rules.ActionAutomation}, 1)

	out := waitOutcome(t, d)
	require.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "no strategy registered")
	assert.False(t, out.ResolveAlert, "failed automation must not resolve the alert")
}

func TestDispatch_AutomationFailureKeepsAlert(t *testing.T) {
	reg := NewStrategyRegistry()
	reg.Register("rule-1", StrategyFunc{
		StrategyName: "cache-clear",
		Fn: func(ctx context.Context, alertID, ruleID string) error {
			return fmt.Errorf("cache service unreachable")
		},
	})
	d := NewDispatcher(NewChannelSet(nil, false), reg, nil, nil)

	d.attempt(testEvent(), rules.Action{ID: "act-1", Type: rules.ActionAutomation}, 1)

	out := waitOutcome(t, d)
	assert.False(t, out.Result.Success)
	assert.False(t, out.ResolveAlert)
}

func TestDispatch_FullOutcomeChannelBlocksUntilDrained(t *testing.T) {
	d := NewDispatcher(NewChannelSet(nil, false), NewStrategyRegistry(), nil, nil)

	for i := 0; i < outcomeBuffer; i++ {
		d.outcomes <- Outcome{AlertID: "filler"}
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		<-d.outcomes
	}()

	// report must wait for the drain instead of dropping the escalation.
	d.report(testEvent(), rules.Action{ID: "act-1", Type: rules.ActionEscalation}, 1, nil)

	var found bool
	for i := 0; i < outcomeBuffer && !found; i++ {
		out := waitOutcome(t, d)
		if out.AlertID == "alert-1" {
			found = true
			assert.True(t, out.Escalate)
		}
	}
	require.True(t, found, "escalation outcome must survive a full channel")
}

func TestDispatch_EscalationOutcome(t *testing.T) {
	d := NewDispatcher(NewChannelSet(nil, false), NewStrategyRegistry(), nil, nil)

	d.attempt(testEvent(), rules.Action{ID: "act-1", Type: rules.ActionEscalation}, 1)

	out := waitOutcome(t, d)
	require.True(t, out.Result.Success)
	assert.True(t, out.Escalate)
}

type recordingMailer struct {
	sent atomic.Int32
}

func (m *recordingMailer) Send(to, subject, body string) error {
	m.sent.Add(1)
	return nil
}

func TestDispatch_EmailGatedToCritical(t *testing.T) {
	mailer := &recordingMailer{}
	cs := NewChannelSet([]Channel{{
		ID: "oncall-mail", Type: ChannelEmail, Enabled: true,
		Config: map[string]string{"recipient": "oncall@example.com"},
	}}, false)
	d := NewDispatcher(cs, NewStrategyRegistry(), nil, mailer)

	ev := testEvent()
	ev.Severity = "warning"
	d.attempt(ev, rules.Action{ID: "act-1", Type: rules.ActionNotification, Target: "oncall-mail"}, 1)
	out := waitOutcome(t, d)
	require.True(t, out.Result.Success, "gated email reports success without sending")
	assert.Equal(t, int32(0), mailer.sent.Load())

	ev.Severity = "critical"
	d.attempt(ev, rules.Action{ID: "act-2", Type: rules.ActionNotification, Target: "oncall-mail"}, 1)
	waitOutcome(t, d)
	assert.Equal(t, int32(1), mailer.sent.Load())
}

func TestRetryScheduler_ShutdownCancelsPending(t *testing.T) {
	s := NewRetryScheduler()
	var fired atomic.Int32

	s.After(50*time.Millisecond, func() { fired.Add(1) })
	require.Equal(t, 1, s.Pending())

	s.Shutdown()
	assert.Equal(t, 0, s.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "cancelled retry must not fire")

	// After shutdown, new schedules are dropped.
	s.After(time.Millisecond, func() { fired.Add(1) })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

type recordingRunner struct {
	commands []string
}

func (r *recordingRunner) Run(ctx context.Context, command string) error {
	r.commands = append(r.commands, command)
	return nil
}

func TestBuiltinStrategies(t *testing.T) {
	runner := &recordingRunner{}
	reg := NewStrategyRegistry()
	reg.Register("svc-down", RestartServiceStrategy(runner, "relay"))
	reg.Register("cache-full", ClearCacheStrategy(runner, "/var/cache/opspulse"))
	reg.Register("disk-full", RotateLogsStrategy(runner, "/etc/logrotate.d/opspulse"))

	for _, rule := range []string{"svc-down", "cache-full", "disk-full"} {
		require.NoError(t, reg.Run(context.Background(), "alert-1", rule))
	}

	require.Len(t, runner.commands, 3)
	assert.Equal(t, "systemctl restart relay", runner.commands[0])
	assert.Contains(t, runner.commands[1], "/var/cache/opspulse")
	assert.Contains(t, runner.commands[2], "logrotate -f")
}

func TestBuiltinStrategy_NilRunnerFails(t *testing.T) {
	s := RestartServiceStrategy(nil, "relay")
	err := s.Remediate(context.Background(), "alert-1", "rule-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestCommandAction_RunnerNotConfigured(t *testing.T) {
	d := NewDispatcher(NewChannelSet(nil, false), NewStrategyRegistry(), nil, nil)

	d.attempt(testEvent(), rules.Action{ID: "act-1", Type: rules.ActionCommand, Template: "echo hi"}, 1)

	out := waitOutcome(t, d)
	require.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "not configured")
}
