package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opspulse/opspulse/internal/alerts"
	"github.com/opspulse/opspulse/internal/analyze"
	"github.com/opspulse/opspulse/internal/health"
	"github.com/opspulse/opspulse/internal/state"
)

// Summary is the per-cycle digest pushed to the dashboard URL and written to
// the summary document.
type Summary struct {
	Health       health.Score            `json:"health"`
	ActiveAlerts []alerts.Event          `json:"activeAlerts"`
	Anomalies    []analyze.Anomaly       `json:"anomalies"`
	Trends       []analyze.TrendEstimate `json:"trends"`
	Timestamp    time.Time               `json:"timestamp"`
}

// SetSummarySink installs an optional document store that receives the
// latest Summary every cycle. Call before Run.
func (e *Engine) SetSummarySink(sink state.DocumentStore) { e.summaries = sink }

// Summary returns the digest of the most recent cycle.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaryLocked(e.now())
}

func (e *Engine) summaryLocked(now time.Time) Summary {
	return Summary{
		Health:       e.lastScore,
		ActiveAlerts: e.alerts.Active(),
		Anomalies:    e.analyzer.Anomalies(),
		Trends:       e.lastTrends,
		Timestamp:    now,
	}
}

// pushSummary writes the cycle digest to the summary sink and POSTs it to
// the dashboard URL when one is configured. Failures are logged and never
// interrupt the loop.
func (e *Engine) pushSummary(now time.Time) {
	sum := e.summaryLocked(now)

	if e.summaries != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.summaries.Save(ctx, sum); err != nil {
			slog.Warn("engine: summary write failed", "err", err)
		}
		cancel()
	}

	if e.dashboardURL == "" {
		return
	}

	body, err := json.Marshal(sum)
	if err != nil {
		slog.Error("engine: summary marshal failed", "err", err)
		return
	}
	resp, err := e.client.Post(e.dashboardURL, "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Warn("engine: dashboard push failed", "url", e.dashboardURL, "err", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		slog.Warn("engine: dashboard rejected summary",
			"url", e.dashboardURL, "status", resp.StatusCode)
	}
}
