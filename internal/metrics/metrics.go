// Package metrics is the orchestrator's Prometheus surface, grounded on the
// teacher's internal/observability.Metrics: one promauto-registered vector
// per concern, with a thin recording method per call site. Narrowed down
// from the teacher's full channel/LLM-provider/webhook/queue surface (out
// of scope here) to the three things this orchestrator actually measures:
// tool executions, reminder fires, and active reasoning sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-lifetime Prometheus collectors.
type Metrics struct {
	ToolExecutions *prometheus.CounterVec
	ReminderFires  *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
}

// New creates and registers all collectors against the default registry.
// Call once at startup.
func New() *Metrics {
	return &Metrics{
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outie_tool_executions_total",
				Help: "Total tool executions by tool name and outcome",
			},
			[]string{"tool_name", "outcome"},
		),
		ReminderFires: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outie_reminder_fires_total",
				Help: "Total reminder fires by dispatch outcome",
			},
			[]string{"outcome"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "outie_active_sessions",
				Help: "1 while a reasoning session is in flight, 0 otherwise",
			},
		),
	}
}

func (m *Metrics) RecordToolExecution(toolName string, isError bool) {
	outcome := "success"
	if isError {
		outcome = "error"
	}
	m.ToolExecutions.WithLabelValues(toolName, outcome).Inc()
}

func (m *Metrics) RecordReminderFire(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ReminderFires.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.ActiveSessions.Set(1)
		return
	}
	m.ActiveSessions.Set(0)
}
