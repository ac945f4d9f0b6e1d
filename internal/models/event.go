// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package models defines the core data types flowing through the monitoring
// pipeline: security events, risk indicators, compliance violations, and
// dispatched alerts. These are pure data records; behavior lives in the
// packages that produce and consume them.
package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType classifies the telemetry source of a security event.
type EventType string

const (
	// EventTypeInteraction is a scored platform interaction (tool call, API request).
	EventTypeInteraction EventType = "interaction"

	// EventTypeAuthentication covers login attempts and brute-force signals.
	EventTypeAuthentication EventType = "authentication"

	// EventTypeAuthorization covers authorization decisions, including
	// privilege-escalation attempts derived from DENIED decisions.
	EventTypeAuthorization EventType = "authorization"

	// EventTypeBehavioralAnomaly is emitted by the baseline tracker when a
	// per-agent metric deviates from its rolling history.
	EventTypeBehavioralAnomaly EventType = "behavioral_anomaly"

	// EventTypeComplianceViolation is emitted by the compliance scanner.
	EventTypeComplianceViolation EventType = "compliance_violation"
)

// Valid reports whether the event type is one of the known values.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeInteraction, EventTypeAuthentication, EventTypeAuthorization,
		EventTypeBehavioralAnomaly, EventTypeComplianceViolation:
		return true
	}
	return false
}

// Severity is the ordered severity classification of an event or violation.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders severities LOW < MEDIUM < HIGH < CRITICAL.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Valid reports whether the severity is a known value.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is equal to or more severe than other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// IndicatorType identifies a risk indicator rule.
type IndicatorType string

const (
	IndicatorUnauthorizedAccess  IndicatorType = "unauthorized_access"
	IndicatorOffHoursAccess      IndicatorType = "off_hours_access"
	IndicatorHighRequestVolume   IndicatorType = "high_request_volume"
	IndicatorHighErrorRate       IndicatorType = "high_error_rate"
	IndicatorPrivilegeEscalation IndicatorType = "privilege_escalation"
)

// RiskIndicator is a weighted signal contributing to an event's risk score.
// Indicators are transient: they are folded into the event's score and
// detail mapping and never persisted independently.
type RiskIndicator struct {
	Type        IndicatorType `json:"type"`
	Weight      float64       `json:"weight"`
	Description string        `json:"description"`
}

// PatternDetailKey is the detail-mapping key carrying the free-text pattern
// tag that alert rules can match on (e.g. "repeated_failures").
const PatternDetailKey = "pattern"

// SecurityEvent is the canonical record flowing through the pipeline.
// Events are immutable once created: collectors and the anomaly tracker
// construct them fully populated and downstream consumers only read.
type SecurityEvent struct {
	EventID        string         `json:"event_id"`
	Timestamp      time.Time      `json:"timestamp"`
	AgentID        string         `json:"agent_id"`
	Type           EventType      `json:"event_type"`
	Severity       Severity       `json:"severity"`
	Resource       string         `json:"resource"`
	Action         string         `json:"action"`
	SourceIP       string         `json:"source_ip,omitempty"`
	ClientID       string         `json:"client_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	RiskScore      float64        `json:"risk_score"`
	ComplianceTags []string       `json:"compliance_tags,omitempty"`
}

// NewSecurityEvent creates an event with a unique ID and UTC timestamp.
func NewSecurityEvent(agentID string, eventType EventType) *SecurityEvent {
	return &SecurityEvent{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		Type:      eventType,
	}
}

// Validate checks that the event carries the fields every consumer relies on.
func (e *SecurityEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("invalid event_type %q", e.Type)
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", e.Severity)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Pattern returns the event's pattern tag, or "" if none is set.
func (e *SecurityEvent) Pattern() string {
	if e.Details == nil {
		return ""
	}
	if p, ok := e.Details[PatternDetailKey].(string); ok {
		return p
	}
	return ""
}

// Marshal encodes the event as JSON.
func (e *SecurityEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// UnmarshalSecurityEvent decodes a JSON-encoded event.
func UnmarshalSecurityEvent(data []byte) (*SecurityEvent, error) {
	var event SecurityEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}
