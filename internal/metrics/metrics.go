// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the monitoring pipeline:
// - security event volume by agent/type/severity
// - authentication attempts and authorization decisions
// - per-(server, method) response latency from audit records
// - active agent sessions
// - pipeline internals (queue depth, dispatch/persist failures)

var (
	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_security_events_total",
			Help: "Total security events by agent, type, and severity",
		},
		[]string{"agent", "event_type", "severity"},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_auth_attempts_total",
			Help: "Authentication attempts by agent and status",
		},
		[]string{"agent", "status"}, // status: "success", "failure"
	)

	AuthorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_authz_decisions_total",
			Help: "Authorization decisions by agent, resource, and decision",
		},
		[]string{"agent", "resource", "decision"}, // decision: "ALLOWED", "DENIED"
	)

	ResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwatch_response_time_seconds",
			Help:    "Per-server, per-method response times from audit records",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "method"},
	)

	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentwatch_active_sessions",
			Help: "Agents with a live session: set on login, cleared on lockout",
		},
		[]string{"agent"},
	)

	// Pipeline Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_event_queue_depth",
			Help: "Events currently buffered in the pipeline queue",
		},
	)

	AlertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_alerts_dispatched_total",
			Help: "Alerts dispatched by rule and channel",
		},
		[]string{"rule", "channel"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_alerts_suppressed_total",
			Help: "Rule matches suppressed by cooldown",
		},
		[]string{"rule"},
	)

	ChannelFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_channel_failures_total",
			Help: "Notification channel delivery failures",
		},
		[]string{"channel"},
	)

	PersistenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwatch_persistence_errors_total",
			Help: "Event persistence failures (events are not requeued)",
		},
	)

	CollectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_collector_errors_total",
			Help: "Collector I/O and parse errors by collector and kind",
		},
		[]string{"collector", "kind"}, // kind: "io", "malformed"
	)

	ComplianceViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_compliance_violations_total",
			Help: "Compliance violations by policy and severity",
		},
		[]string{"policy", "severity"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_anomalies_detected_total",
			Help: "Behavioral anomalies by agent and metric",
		},
		[]string{"agent", "metric"},
	)
)

// ObserveResponseTime records an audit-record response time.
func ObserveResponseTime(server, method string, d time.Duration) {
	ResponseTime.WithLabelValues(server, method).Observe(d.Seconds())
}

// RecordSecurityEvent increments the security event counter.
func RecordSecurityEvent(agent, eventType, severity string) {
	SecurityEvents.WithLabelValues(agent, eventType, severity).Inc()
}

// RecordAuthAttempt increments the authentication attempt counter.
func RecordAuthAttempt(agent string, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	AuthenticationAttempts.WithLabelValues(agent, status).Inc()
}

// RecordAuthzDecision increments the authorization decision counter.
func RecordAuthzDecision(agent, resource, decision string) {
	AuthorizationDecisions.WithLabelValues(agent, resource, decision).Inc()
}
