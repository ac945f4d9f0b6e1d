// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package compliance runs periodic policy probes against external platform
// state and produces violation records. High-severity violations are escalated
// through the alert notification path at creation time; the scanner keeps a
// bounded in-memory history for reporting.
package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/agentwatch/agentwatch/internal/models"
)

// Policy is one independent compliance probe. Check inspects external state
// and returns zero or more violations. Probes must honor the context: a probe
// that cannot finish within the scanner's per-probe timeout is reported as
// inconclusive, never as a pass.
type Policy interface {
	Name() string
	Check(ctx context.Context) ([]*models.ComplianceViolation, error)
}

// RetentionSource reports the audit store's configured retention window.
type RetentionSource interface {
	RetentionWindow(ctx context.Context) (time.Duration, error)
}

// RetentionPolicy checks that audit records are kept at least as long as the
// compliance framework requires.
type RetentionPolicy struct {
	Source   RetentionSource
	Required time.Duration
}

func (p RetentionPolicy) Name() string { return "audit_retention" }

func (p RetentionPolicy) Check(ctx context.Context) ([]*models.ComplianceViolation, error) {
	window, err := p.Source.RetentionWindow(ctx)
	if err != nil {
		return nil, fmt.Errorf("query retention window: %w", err)
	}
	if window >= p.Required {
		return nil, nil
	}

	v := models.NewComplianceViolation(p.Name(), models.SeverityHigh)
	v.Description = "audit log retention window is shorter than required"
	v.RemediationRequired = true
	v.Evidence = map[string]any{
		"configured_days": int(window.Hours() / 24),
		"required_days":   int(p.Required.Hours() / 24),
	}
	return []*models.ComplianceViolation{v}, nil
}

// EncryptionPosture describes the platform's encryption state.
type EncryptionPosture struct {
	AtRest    bool
	InTransit bool
}

// EncryptionSource reports the platform's current encryption posture.
type EncryptionSource interface {
	Posture(ctx context.Context) (EncryptionPosture, error)
}

// EncryptionPolicy checks encryption at rest and in transit. Missing
// encryption is a CRITICAL violation and escalates immediately.
type EncryptionPolicy struct {
	Source EncryptionSource
}

func (p EncryptionPolicy) Name() string { return "encryption_posture" }

func (p EncryptionPolicy) Check(ctx context.Context) ([]*models.ComplianceViolation, error) {
	posture, err := p.Source.Posture(ctx)
	if err != nil {
		return nil, fmt.Errorf("query encryption posture: %w", err)
	}

	var violations []*models.ComplianceViolation
	if !posture.AtRest {
		v := models.NewComplianceViolation(p.Name(), models.SeverityCritical)
		v.Description = "data at rest is not encrypted"
		v.RemediationRequired = true
		v.Evidence = map[string]any{"at_rest": false}
		violations = append(violations, v)
	}
	if !posture.InTransit {
		v := models.NewComplianceViolation(p.Name(), models.SeverityCritical)
		v.Description = "data in transit is not encrypted"
		v.RemediationRequired = true
		v.Evidence = map[string]any{"in_transit": false}
		violations = append(violations, v)
	}
	return violations, nil
}

// GrantLister exposes the current (agent, resource, action) grant set.
// Satisfied by the authorization allow-list.
type GrantLister interface {
	Grants() [][]string
}

// LeastPrivilegePolicy flags agents holding wildcard action grants. A grant
// of every action on a resource defeats per-action authorization review.
type LeastPrivilegePolicy struct {
	Grants GrantLister
}

func (p LeastPrivilegePolicy) Name() string { return "least_privilege" }

func (p LeastPrivilegePolicy) Check(ctx context.Context) ([]*models.ComplianceViolation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var violations []*models.ComplianceViolation
	for _, grant := range p.Grants.Grants() {
		if len(grant) < 3 || grant[2] != "*" {
			continue
		}
		v := models.NewComplianceViolation(p.Name(), models.SeverityHigh)
		v.AgentID = grant[0]
		v.Description = "agent holds a wildcard action grant"
		v.RemediationRequired = true
		v.Evidence = map[string]any{
			"agent":    grant[0],
			"resource": grant[1],
			"action":   grant[2],
		}
		violations = append(violations, v)
	}
	return violations, nil
}

// DutySource reports each agent's assigned duty roles.
type DutySource interface {
	Assignments(ctx context.Context) (map[string][]string, error)
}

// SegregationPolicy flags agents assigned both halves of a conflicting duty
// pair (e.g. "deploy" and "approve_deploy").
type SegregationPolicy struct {
	Source    DutySource
	Conflicts [][2]string
}

func (p SegregationPolicy) Name() string { return "segregation_of_duties" }

func (p SegregationPolicy) Check(ctx context.Context) ([]*models.ComplianceViolation, error) {
	assignments, err := p.Source.Assignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("query duty assignments: %w", err)
	}

	var violations []*models.ComplianceViolation
	for agent, roles := range assignments {
		held := make(map[string]bool, len(roles))
		for _, r := range roles {
			held[r] = true
		}
		for _, pair := range p.Conflicts {
			if held[pair[0]] && held[pair[1]] {
				v := models.NewComplianceViolation(p.Name(), models.SeverityHigh)
				v.AgentID = agent
				v.Description = "agent holds conflicting duty roles"
				v.RemediationRequired = true
				v.Evidence = map[string]any{
					"agent": agent,
					"roles": []string{pair[0], pair[1]},
				}
				violations = append(violations, v)
			}
		}
	}
	return violations, nil
}
