// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package dashboard writes the static monitoring dashboard descriptor. The
// descriptor is produced once at startup and consumed by the operator's
// dashboarding stack; this process never reads it back.
package dashboard

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/agentwatch/agentwatch/internal/logging"
)

// Panel is one dashboard view backed by a PromQL expression.
type Panel struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Query       string `json:"query"`
	Description string `json:"description,omitempty"`
}

// Descriptor is the full dashboard document.
type Descriptor struct {
	Title   string  `json:"title"`
	Version int     `json:"version"`
	Panels  []Panel `json:"panels"`
}

// Default returns the four standard security monitoring views.
func Default() Descriptor {
	return Descriptor{
		Title:   "AgentWatch Security Monitoring",
		Version: 1,
		Panels: []Panel{
			{
				Title:       "Security Events by Severity",
				Type:        "timeseries",
				Query:       `sum by (severity) (rate(agentwatch_security_events_total[5m]))`,
				Description: "Event rate per severity across all agents",
			},
			{
				Title:       "Authentication Success Rate",
				Type:        "stat",
				Query:       `sum(rate(agentwatch_auth_attempts_total{status="success"}[5m])) / sum(rate(agentwatch_auth_attempts_total[5m]))`,
				Description: "Fraction of authentication attempts succeeding",
			},
			{
				Title:       "Authorization Decision Mix",
				Type:        "piechart",
				Query:       `sum by (decision) (increase(agentwatch_authz_decisions_total[1h]))`,
				Description: "ALLOWED vs DENIED over the trailing hour",
			},
			{
				Title:       "Response Time p95",
				Type:        "timeseries",
				Query:       `histogram_quantile(0.95, sum by (le, server) (rate(agentwatch_response_time_seconds_bucket[5m])))`,
				Description: "95th percentile latency per server",
			},
		},
	}
}

// Write renders the descriptor as JSON at the given path, creating parent
// directories as needed.
func Write(path string, d Descriptor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dashboard directory: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dashboard: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write dashboard: %w", err)
	}

	logging.Info().Str("path", path).Int("panels", len(d.Panels)).Msg("dashboard descriptor written")
	return nil
}
