// Package metrics holds the agent's self-observability metrics: how many
// benchmark sessions are active, how many started or failed per
// operation/mode, and how many counter samples the collector has taken per
// device. These are distinct from internal/aggregator's GaugeRegistry,
// which projects *other agents'* counter snapshots and reports rather than
// this process's own activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

const (
	namespace = "rdmabench"
	subsystem = "agent"
)

// Label names for agent self-metrics.
const (
	labelRole      = "role"
	labelOperation = "operation"
	labelMode      = "mode"
	labelDriver    = "driver"
	labelInterface = "interface"
)

// Collector holds all agent self-metrics.
//
//   - Sessions tracks currently active benchmark sessions by role.
//   - SessionsStarted/SessionsFailed count session outcomes per
//     operation/mode for alerting on a rising failure rate.
//   - CounterSamples counts how many times the local collector has sampled
//     RDMA port counters per device.
type Collector struct {
	// Sessions tracks the number of currently active benchmark sessions,
	// labeled by role ("server" or "initiator"). Incremented when the
	// session coordinator begins a run, decremented when it finishes.
	Sessions *prometheus.GaugeVec

	// SessionsStarted counts benchmark sessions begun, labeled by
	// operation and mode.
	SessionsStarted *prometheus.CounterVec

	// SessionsFailed counts benchmark sessions that ended in error,
	// labeled by operation and mode.
	SessionsFailed *prometheus.CounterVec

	// CounterSamples counts RDMA port counter samples taken by the local
	// collector, labeled by driver and interface.
	CounterSamples *prometheus.CounterVec
}

// NewCollector creates a Collector with all agent metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.SessionsStarted,
		c.SessionsFailed,
		c.CounterSamples,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	sessionGaugeLabels := []string{labelRole}
	sessionOutcomeLabels := []string{labelOperation, labelMode}
	sampleLabels := []string{labelDriver, labelInterface}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently active benchmark sessions.",
		}, sessionGaugeLabels),

		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_started_total",
			Help:      "Total benchmark sessions started.",
		}, sessionOutcomeLabels),

		SessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_failed_total",
			Help:      "Total benchmark sessions that ended in error.",
		}, sessionOutcomeLabels),

		CounterSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "counter_samples_total",
			Help:      "Total RDMA port counter samples taken by the local collector.",
		}, sampleLabels),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge for role.
func (c *Collector) RegisterSession(role string) {
	c.Sessions.WithLabelValues(role).Inc()
}

// UnregisterSession decrements the active sessions gauge for role.
func (c *Collector) UnregisterSession(role string) {
	c.Sessions.WithLabelValues(role).Dec()
}

// IncSessionsStarted increments the started-sessions counter for op/mode.
func (c *Collector) IncSessionsStarted(op agentpb.Operation, mode agentpb.Mode) {
	c.SessionsStarted.WithLabelValues(op.String(), mode.String()).Inc()
}

// IncSessionsFailed increments the failed-sessions counter for op/mode.
func (c *Collector) IncSessionsFailed(op agentpb.Operation, mode agentpb.Mode) {
	c.SessionsFailed.WithLabelValues(op.String(), mode.String()).Inc()
}

// -------------------------------------------------------------------------
// Collector Samples
// -------------------------------------------------------------------------

// IncCounterSamples increments the sample counter for the given driver and
// interface. Called once per interface port on every polling tick by the
// agent's RDMA collector.
func (c *Collector) IncCounterSamples(driver, iface string) {
	c.CounterSamples.WithLabelValues(driver, iface).Inc()
}
