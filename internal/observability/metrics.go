// Package observability carries the process metrics and the diagnostic
// query surface behind observability_query and harness_slo_evaluate.
package observability

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of counters and gauges the engine updates. One
// instance per process, registered on the default registry.
type Metrics struct {
	TurnsStarted   prometheus.Counter
	TurnsCompleted prometheus.Counter
	TurnsFailed    prometheus.Counter
	ToolExecutions *prometheus.CounterVec
	EventsEmitted  prometheus.Counter
	ActiveSessions prometheus.Gauge
	ActiveTurns    prometheus.Gauge

	mu        sync.Mutex
	startedAt time.Time
	counts    snapshotCounts
}

type snapshotCounts struct {
	TurnsStarted   int64 `json:"turnsStarted"`
	TurnsCompleted int64 `json:"turnsCompleted"`
	TurnsFailed    int64 `json:"turnsFailed"`
	ToolExecutions int64 `json:"toolExecutions"`
	ToolErrors     int64 `json:"toolErrors"`
	EventsEmitted  int64 `json:"eventsEmitted"`
}

// Snapshot is the JSON answer to observability_query.
type Snapshot struct {
	snapshotCounts
	ActiveSessions int64  `json:"activeSessions"`
	ActiveTurns    int64  `json:"activeTurns"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	Query          string `json:"query,omitempty"`
}

var (
	newOnce sync.Once
	global  *Metrics
)

// New returns the process metrics, creating and registering them on first
// use. Prometheus rejects duplicate registration, so this is a singleton.
func New() *Metrics {
	newOnce.Do(func() {
		global = &Metrics{
			TurnsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cowork_turns_started_total",
				Help: "Turns started across all sessions.",
			}),
			TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cowork_turns_completed_total",
				Help: "Turns that ran to completion.",
			}),
			TurnsFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cowork_turns_failed_total",
				Help: "Turns ended by a provider or internal error.",
			}),
			ToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cowork_tool_executions_total",
				Help: "Tool executions by tool name and outcome.",
			}, []string{"tool", "outcome"}),
			EventsEmitted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cowork_events_emitted_total",
				Help: "Events fanned out to clients.",
			}),
			ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cowork_active_sessions",
				Help: "Sessions currently open.",
			}),
			ActiveTurns: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cowork_active_turns",
				Help: "Turns currently running.",
			}),
			startedAt: time.Now(),
		}
	})
	return global
}

// RecordTurnStart marks a turn as running.
func (m *Metrics) RecordTurnStart() {
	m.TurnsStarted.Inc()
	m.ActiveTurns.Inc()
	m.mu.Lock()
	m.counts.TurnsStarted++
	m.mu.Unlock()
}

// RecordTurnEnd marks a turn as finished; failed turns count separately.
func (m *Metrics) RecordTurnEnd(failed bool) {
	m.ActiveTurns.Dec()
	if failed {
		m.TurnsFailed.Inc()
	} else {
		m.TurnsCompleted.Inc()
	}
	m.mu.Lock()
	if failed {
		m.counts.TurnsFailed++
	} else {
		m.counts.TurnsCompleted++
	}
	m.mu.Unlock()
}

// RecordToolExecution counts one tool execution.
func (m *Metrics) RecordToolExecution(tool string, isError bool) {
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	m.mu.Lock()
	m.counts.ToolExecutions++
	if isError {
		m.counts.ToolErrors++
	}
	m.mu.Unlock()
}

// RecordEvent counts one emitted event.
func (m *Metrics) RecordEvent() {
	m.EventsEmitted.Inc()
	m.mu.Lock()
	m.counts.EventsEmitted++
	m.mu.Unlock()
}

// SessionOpened / SessionClosed track the active session gauge.
func (m *Metrics) SessionOpened() { m.ActiveSessions.Inc() }
func (m *Metrics) SessionClosed() { m.ActiveSessions.Dec() }

// QueryJSON answers an observability_query with the counter snapshot. The
// query string is echoed back; it selects nothing today.
func (m *Metrics) QueryJSON(query string, activeSessions, activeTurns int64) (json.RawMessage, error) {
	m.mu.Lock()
	counts := m.counts
	uptime := int64(time.Since(m.startedAt).Seconds())
	m.mu.Unlock()

	return json.Marshal(Snapshot{
		snapshotCounts: counts,
		ActiveSessions: activeSessions,
		ActiveTurns:    activeTurns,
		UptimeSeconds:  uptime,
		Query:          query,
	})
}

// SLOResult is the answer to harness_slo_evaluate.
type SLOResult struct {
	Query     string  `json:"query,omitempty"`
	OK        bool    `json:"ok"`
	ErrorRate float64 `json:"errorRate"`
}

// EvaluateSLO reports whether the turn error rate is under 5%. The query
// string is carried through for the caller's bookkeeping.
func (m *Metrics) EvaluateSLO(query string) (json.RawMessage, error) {
	m.mu.Lock()
	total := m.counts.TurnsCompleted + m.counts.TurnsFailed
	failed := m.counts.TurnsFailed
	m.mu.Unlock()

	rate := 0.0
	if total > 0 {
		rate = float64(failed) / float64(total)
	}
	return json.Marshal(SLOResult{Query: query, OK: rate < 0.05, ErrorRate: rate})
}
