// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package collectors runs the telemetry producers: an audit-log tailer and
// pollers for authentication events and authorization decisions. Each
// collector is an independent long-running task; failures are logged and
// backed off, never fatal, and collectors share state only through the event
// queue.
package collectors

import (
	"context"
	"time"

	"github.com/agentwatch/agentwatch/internal/models"
)

// Publisher enqueues events for the dispatcher. Blocks while the queue is at
// capacity.
type Publisher interface {
	Publish(ctx context.Context, event *models.SecurityEvent) error
}

// AuthEvent is one record from the authentication event source.
type AuthEvent struct {
	AgentID  string `json:"agent_id"`
	Success  bool   `json:"success"`
	SourceIP string `json:"source_ip,omitempty"`
}

// AuthEventSource is an ordered list-like store of authentication events,
// read non-destructively. Events returns the full list; the collector tracks
// its own position.
type AuthEventSource interface {
	Events(ctx context.Context) ([]AuthEvent, error)
}

// Authorization decision outcomes.
const (
	DecisionAllowed = "ALLOWED"
	DecisionDenied  = "DENIED"
)

// AuthzDecision is one row from the authorization decision source.
type AuthzDecision struct {
	AgentID       string    `json:"agent_id"`
	Resource      string    `json:"resource"`
	Action        string    `json:"action"`
	Decision      string    `json:"decision"`
	Timestamp     time.Time `json:"timestamp"`
	PolicyMatched string    `json:"policy_matched"`
}

// AuthzDecisionSource returns authorization decisions recorded since the
// given time.
type AuthzDecisionSource interface {
	Decisions(ctx context.Context, since time.Time) ([]AuthzDecision, error)
}
