// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package alerting matches scored security events against declarative alert
// rules, applies per-(rule, agent) cooldown, and dispatches the resulting
// alerts through pluggable notification channels.
package alerting

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agentwatch/agentwatch/internal/models"
)

// Condition is a node in a rule's predicate tree. All nodes are validated at
// load time so a malformed rule is a startup error, not a silent no-match.
type Condition interface {
	Match(event *models.SecurityEvent) bool
	Validate() error
}

// FieldEquals matches a named event attribute against a literal value.
type FieldEquals struct {
	Field string
	Value string
}

// matchableFields are the event attributes rules may test for equality.
var matchableFields = map[string]func(*models.SecurityEvent) string{
	"event_type": func(e *models.SecurityEvent) string { return string(e.Type) },
	"agent_id":   func(e *models.SecurityEvent) string { return e.AgentID },
	"resource":   func(e *models.SecurityEvent) string { return e.Resource },
	"action":     func(e *models.SecurityEvent) string { return e.Action },
	"source_ip":  func(e *models.SecurityEvent) string { return e.SourceIP },
	"client_id":  func(e *models.SecurityEvent) string { return e.ClientID },
}

func (c FieldEquals) Match(event *models.SecurityEvent) bool {
	get, ok := matchableFields[c.Field]
	if !ok {
		return false
	}
	return get(event) == c.Value
}

func (c FieldEquals) Validate() error {
	if _, ok := matchableFields[c.Field]; !ok {
		return fmt.Errorf("unknown match field %q", c.Field)
	}
	return nil
}

// MinScore matches events whose risk score is at least Min (inclusive).
type MinScore struct {
	Min float64
}

func (c MinScore) Match(event *models.SecurityEvent) bool {
	return event.RiskScore >= c.Min
}

func (c MinScore) Validate() error {
	if c.Min < 0 {
		return fmt.Errorf("min risk score must not be negative")
	}
	return nil
}

// SeverityIn matches events whose severity is in the given set.
type SeverityIn struct {
	Severities []models.Severity
}

func (c SeverityIn) Match(event *models.SecurityEvent) bool {
	for _, s := range c.Severities {
		if event.Severity == s {
			return true
		}
	}
	return false
}

func (c SeverityIn) Validate() error {
	if len(c.Severities) == 0 {
		return fmt.Errorf("severity set must not be empty")
	}
	for _, s := range c.Severities {
		if !s.Valid() {
			return fmt.Errorf("unknown severity %q", s)
		}
	}
	return nil
}

// PatternIs matches the event's free-text pattern tag.
type PatternIs struct {
	Pattern string
}

func (c PatternIs) Match(event *models.SecurityEvent) bool {
	return event.Pattern() == c.Pattern
}

func (c PatternIs) Validate() error {
	if c.Pattern == "" {
		return fmt.Errorf("pattern must not be empty")
	}
	return nil
}

// AllOf matches when every child condition matches.
type AllOf struct {
	Conditions []Condition
}

func (c AllOf) Match(event *models.SecurityEvent) bool {
	for _, cond := range c.Conditions {
		if !cond.Match(event) {
			return false
		}
	}
	return true
}

func (c AllOf) Validate() error {
	for _, cond := range c.Conditions {
		if err := cond.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Rule is a compiled, immutable alert rule.
type Rule struct {
	Name      string
	Condition Condition
	Channels  []string
	Cooldown  time.Duration
}

// RuleConfig is the declarative rule representation loaded from configuration.
type RuleConfig struct {
	Name       string          `koanf:"name" validate:"required"`
	Conditions ConditionConfig `koanf:"conditions"`
	Channels   []string        `koanf:"channels" validate:"min=1,dive,required"`
	Cooldown   time.Duration   `koanf:"cooldown" validate:"min=0"`
}

// ConditionConfig holds the declarative condition set; all present clauses
// are combined with AND.
type ConditionConfig struct {
	// Fields maps event attribute names to required literal values.
	Fields map[string]string `koanf:"fields"`

	// MinRiskScore is an inclusive minimum on the event's risk score.
	MinRiskScore *float64 `koanf:"min_risk_score"`

	// Severities is a severity-set membership test.
	Severities []models.Severity `koanf:"severities"`

	// Pattern is a free-text pattern tag test.
	Pattern string `koanf:"pattern"`
}

var validate = validator.New()

// CompileRules validates and compiles the declarative rule set. Any error
// here is a configuration error and fatal at startup.
func CompileRules(configs []RuleConfig) ([]Rule, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no alert rules configured")
	}

	seen := make(map[string]struct{}, len(configs))
	rules := make([]Rule, 0, len(configs))

	for _, rc := range configs {
		if err := validate.Struct(rc); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		if _, dup := seen[rc.Name]; dup {
			return nil, fmt.Errorf("duplicate rule name %q", rc.Name)
		}
		seen[rc.Name] = struct{}{}

		cond, err := compileConditions(rc.Conditions)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
		}

		rules = append(rules, Rule{
			Name:      rc.Name,
			Condition: cond,
			Channels:  append([]string(nil), rc.Channels...),
			Cooldown:  rc.Cooldown,
		})
	}

	return rules, nil
}

func compileConditions(cc ConditionConfig) (Condition, error) {
	var conds []Condition

	for field, value := range cc.Fields {
		conds = append(conds, FieldEquals{Field: field, Value: value})
	}
	if cc.MinRiskScore != nil {
		conds = append(conds, MinScore{Min: *cc.MinRiskScore})
	}
	if len(cc.Severities) > 0 {
		conds = append(conds, SeverityIn{Severities: cc.Severities})
	}
	if cc.Pattern != "" {
		conds = append(conds, PatternIs{Pattern: cc.Pattern})
	}

	if len(conds) == 0 {
		return nil, fmt.Errorf("rule has no conditions")
	}

	root := AllOf{Conditions: conds}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return root, nil
}

// DefaultRuleConfigs returns the reference rule set, used when the operator
// configures none.
func DefaultRuleConfigs() []RuleConfig {
	minCritical := 8.0
	return []RuleConfig{
		{
			Name: "unauthorized_access_critical",
			Conditions: ConditionConfig{
				Fields:       map[string]string{"event_type": string(models.EventTypeInteraction)},
				MinRiskScore: &minCritical,
				Severities:   []models.Severity{models.SeverityHigh, models.SeverityCritical},
			},
			Channels: []string{"email", "chat", "pager"},
			Cooldown: 5 * time.Minute,
		},
		{
			Name: "brute_force_attempt",
			Conditions: ConditionConfig{
				Fields:  map[string]string{"event_type": string(models.EventTypeAuthentication)},
				Pattern: "repeated_failures",
			},
			Channels: []string{"email", "auto_lockout"},
			Cooldown: time.Minute,
		},
		{
			Name: "privilege_escalation",
			Conditions: ConditionConfig{
				Fields:     map[string]string{"event_type": string(models.EventTypeAuthorization)},
				Pattern:    "privilege_escalation",
				Severities: []models.Severity{models.SeverityHigh, models.SeverityCritical},
			},
			Channels: []string{"email", "chat", "incident_creation"},
			Cooldown: 0, // privilege escalation always alerts
		},
		{
			Name: "compliance_violation_critical",
			Conditions: ConditionConfig{
				Fields:     map[string]string{"event_type": string(models.EventTypeComplianceViolation)},
				Severities: []models.Severity{models.SeverityCritical},
			},
			Channels: []string{"email", "chat"},
			Cooldown: 30 * time.Minute,
		},
	}
}
