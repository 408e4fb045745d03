package alerts

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default capacity and timeout values.
const (
	DefaultActiveCap    = 50
	DefaultHistoryCap   = 200
	DefaultAlertTimeout = 30 * time.Minute
)

// ErrNotFound is returned when an operation references an unknown alert ID.
var ErrNotFound = errors.New("alert not found")

// Manager owns the active and historical alert sets. All mutation goes
// through its lock; overflow of the active set demotes the oldest event to
// history, and history is FIFO-evicted at its own cap.
type Manager struct {
	mu         sync.RWMutex
	active     []*Event
	history    []Event
	activeCap  int
	historyCap int
	timeout    time.Duration
	now        func() time.Time
}

// NewManager creates a Manager. Non-positive caps and timeout fall back to
// the package defaults.
func NewManager(activeCap, historyCap int, timeout time.Duration) *Manager {
	if activeCap <= 0 {
		activeCap = DefaultActiveCap
	}
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	if timeout <= 0 {
		timeout = DefaultAlertTimeout
	}
	return &Manager{
		activeCap:  activeCap,
		historyCap: historyCap,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Append adds a freshly-triggered event to the active set. When the set is
// full the oldest active event is demoted to history first.
func (m *Manager) Append(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Status == "" {
		ev.Status = StatusActive
	}
	if len(m.active) >= m.activeCap {
		oldest := m.active[0]
		m.active = m.active[1:]
		m.pushHistory(*oldest)
		slog.Warn("alerts: active set full, demoted oldest to history",
			"evicted", oldest.ID, "cap", m.activeCap)
	}
	m.active = append(m.active, &ev)
}

// Acknowledge marks an active alert acknowledged. Acknowledging an already
// acknowledged or resolved alert is a no-op, not an error.
func (m *Manager) Acknowledge(id, who string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := m.find(id)
	if ev == nil {
		// Resolved alerts live in history; acknowledging them is idempotent.
		for _, h := range m.history {
			if h.ID == id {
				return nil
			}
		}
		return fmt.Errorf("acknowledge %q: %w", id, ErrNotFound)
	}
	if ev.Status == StatusResolved || ev.Status == StatusAcknowledged {
		return nil
	}
	ev.Status = StatusAcknowledged
	ev.AcknowledgedBy = who
	return nil
}

// Resolve marks an alert resolved and moves it to history. Resolving twice
// is a no-op for the still-active copy; an unknown ID is an error.
func (m *Manager) Resolve(id, who string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(id, who)
}

func (m *Manager) resolveLocked(id, who string) error {
	for i, ev := range m.active {
		if ev.ID != id {
			continue
		}
		now := m.now()
		ev.Status = StatusResolved
		ev.ResolvedBy = who
		ev.ResolvedAt = &now
		m.active = append(m.active[:i], m.active[i+1:]...)
		m.pushHistory(*ev)
		return nil
	}
	// Already resolved events live in history; resolving them again is
	// idempotent.
	for _, ev := range m.history {
		if ev.ID == id {
			return nil
		}
	}
	return fmt.Errorf("resolve %q: %w", id, ErrNotFound)
}

// Escalate advances an unresolved alert to the given level and marks it
// escalated. Levels only move upward.
func (m *Manager) Escalate(id string, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := m.find(id)
	if ev == nil {
		return fmt.Errorf("escalate %q: %w", id, ErrNotFound)
	}
	if ev.Status == StatusResolved {
		return nil
	}
	if level <= ev.EscalationLevel {
		return nil
	}
	ev.EscalationLevel = level
	ev.Status = StatusEscalated
	return nil
}

// RecordResult appends a dispatch outcome to the alert's action results.
// Unknown IDs are ignored: the alert may have been evicted meanwhile.
func (m *Manager) RecordResult(id string, res ActionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev := m.find(id); ev != nil {
		ev.Actions = append(ev.Actions, res)
	}
}

// Sweep force-resolves active (not acknowledged, not escalated past their
// policy) alerts older than the configured timeout. It returns the IDs of
// the alerts it resolved.
func (m *Manager) Sweep(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var resolved []string
	for _, ev := range m.activeSnapshotLocked() {
		if ev.Status != StatusActive {
			continue
		}
		if now.Sub(ev.Timestamp) <= m.timeout {
			continue
		}
		if err := m.resolveLocked(ev.ID, "timeout"); err == nil {
			resolved = append(resolved, ev.ID)
			slog.Info("alerts: auto-resolved on timeout", "alert", ev.ID, "age", now.Sub(ev.Timestamp))
		}
	}
	return resolved
}

// Active returns copies of all unresolved alerts, oldest first.
func (m *Manager) Active() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0, len(m.active))
	for _, ev := range m.active {
		out = append(out, *ev)
	}
	return out
}

// History returns copies of the retained resolved/demoted alerts, oldest first.
func (m *Manager) History() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// Get returns a copy of the alert with the given ID from the active set.
func (m *Manager) Get(id string) (Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ev := m.find(id); ev != nil {
		return *ev, true
	}
	return Event{}, false
}

// ClearHistory discards the history list.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

// Restore reinstalls alert state loaded from a persisted snapshot.
func (m *Manager) Restore(active, history []Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = m.active[:0]
	for i := range active {
		ev := active[i]
		m.active = append(m.active, &ev)
	}
	m.history = append([]Event(nil), history...)
}

func (m *Manager) find(id string) *Event {
	for _, ev := range m.active {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

func (m *Manager) pushHistory(ev Event) {
	m.history = append(m.history, ev)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
}

// activeSnapshotLocked copies the active slice so Sweep can mutate it while
// iterating.
func (m *Manager) activeSnapshotLocked() []Event {
	out := make([]Event, 0, len(m.active))
	for _, ev := range m.active {
		out = append(out, *ev)
	}
	return out
}
