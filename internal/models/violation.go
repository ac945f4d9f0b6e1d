// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/google/uuid"
)

// ComplianceViolation records a failed policy probe. Violations are immutable
// once created; escalation decisions are taken exactly once, at creation.
type ComplianceViolation struct {
	ViolationID         string         `json:"violation_id"`
	Timestamp           time.Time      `json:"timestamp"`
	AgentID             string         `json:"agent_id,omitempty"`
	Policy              string         `json:"policy_violated"`
	Severity            Severity       `json:"severity"`
	Description         string         `json:"description"`
	Evidence            map[string]any `json:"evidence,omitempty"`
	RemediationRequired bool           `json:"remediation_required"`
	EscalationLevel     int            `json:"escalation_level"`
}

// NewComplianceViolation creates a violation with a unique ID and UTC timestamp.
func NewComplianceViolation(policy string, severity Severity) *ComplianceViolation {
	return &ComplianceViolation{
		ViolationID: uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Policy:      policy,
		Severity:    severity,
	}
}

// Event converts the violation to a SecurityEvent for rule evaluation and
// persistence alongside streamed telemetry.
func (v *ComplianceViolation) Event() *SecurityEvent {
	return &SecurityEvent{
		EventID:   v.ViolationID,
		Timestamp: v.Timestamp,
		AgentID:   orUnknown(v.AgentID),
		Type:      EventTypeComplianceViolation,
		Severity:  v.Severity,
		Resource:  v.Policy,
		Action:    "policy_check",
		Details: map[string]any{
			"description":          v.Description,
			"evidence":             v.Evidence,
			"remediation_required": v.RemediationRequired,
			"escalation_level":     v.EscalationLevel,
		},
		ComplianceTags: []string{"COMPLIANCE"},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
