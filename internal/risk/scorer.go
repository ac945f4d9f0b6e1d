// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package risk turns raw interaction records into weighted risk indicators
// and a severity classification. Scoring is a pure decision function: it
// reads the allow-list and trailing activity aggregates through collaborator
// interfaces and returns data, never errors.
package risk

import (
	"fmt"
	"time"

	"github.com/agentwatch/agentwatch/internal/models"
)

// Indicator weights. These are fixed by the scoring contract; severity
// breakpoints below them are the tunable policy.
const (
	WeightUnauthorizedAccess = 8.0
	WeightOffHoursAccess     = 3.0
	WeightHighRequestVolume  = 5.0
	WeightHighErrorRate      = 4.0
)

// Authorizer answers allow-list membership for (agent, resource, action).
type Authorizer interface {
	IsAllowed(agent, resource, action string) bool
}

// ActivityStats supplies trailing request/error aggregates for an agent.
type ActivityStats interface {
	// RequestRate returns the agent's request count over the trailing minute.
	RequestRate(agentID string) float64

	// ErrorRate returns the agent's trailing error ratio in [0, 1].
	ErrorRate(agentID string) float64
}

// Interaction is a raw telemetry record handed to the scorer.
type Interaction struct {
	AgentID  string
	Resource string
	Action   string
	Time     time.Time
	SourceIP string
	ClientID string
}

// Config holds the tunable scoring policy.
type Config struct {
	// OffHoursBefore / OffHoursAfter bound the working day: a local hour
	// strictly below the former or strictly above the latter is off-hours.
	OffHoursBefore int `koanf:"off_hours_before"`
	OffHoursAfter  int `koanf:"off_hours_after"`

	// RequestRateThreshold is the trailing one-minute request count above
	// which volume is flagged.
	RequestRateThreshold float64 `koanf:"request_rate_threshold"`

	// ErrorRateThreshold is the trailing error ratio above which errors are flagged.
	ErrorRateThreshold float64 `koanf:"error_rate_threshold"`

	// HighScore and MediumScore are the severity breakpoints applied to the
	// summed indicator weights.
	HighScore   float64 `koanf:"high_score"`
	MediumScore float64 `koanf:"medium_score"`
}

// DefaultConfig returns the reference scoring policy.
func DefaultConfig() Config {
	return Config{
		OffHoursBefore:       6,
		OffHoursAfter:        22,
		RequestRateThreshold: 100,
		ErrorRateThreshold:   0.10,
		HighScore:            8,
		MediumScore:          4,
	}
}

// Scorer evaluates interactions against the indicator rules.
type Scorer struct {
	cfg   Config
	allow Authorizer
	stats ActivityStats
}

// NewScorer creates a scorer with the given collaborators.
func NewScorer(cfg Config, allow Authorizer, stats ActivityStats) *Scorer {
	return &Scorer{cfg: cfg, allow: allow, stats: stats}
}

// Score evaluates every indicator rule independently and returns the
// indicators that fired. Indicators are cumulative, not mutually exclusive.
func (s *Scorer) Score(rec Interaction) []models.RiskIndicator {
	var indicators []models.RiskIndicator

	if !s.allow.IsAllowed(rec.AgentID, rec.Resource, rec.Action) {
		indicators = append(indicators, models.RiskIndicator{
			Type:        models.IndicatorUnauthorizedAccess,
			Weight:      WeightUnauthorizedAccess,
			Description: fmt.Sprintf("agent %s not authorized for %s:%s", rec.AgentID, rec.Resource, rec.Action),
		})
	}

	hour := rec.Time.Local().Hour()
	if hour < s.cfg.OffHoursBefore || hour > s.cfg.OffHoursAfter {
		indicators = append(indicators, models.RiskIndicator{
			Type:        models.IndicatorOffHoursAccess,
			Weight:      WeightOffHoursAccess,
			Description: fmt.Sprintf("access at hour %02d outside working hours", hour),
		})
	}

	if rate := s.stats.RequestRate(rec.AgentID); rate > s.cfg.RequestRateThreshold {
		indicators = append(indicators, models.RiskIndicator{
			Type:        models.IndicatorHighRequestVolume,
			Weight:      WeightHighRequestVolume,
			Description: fmt.Sprintf("abnormal request volume: %.0f/min", rate),
		})
	}

	if errRate := s.stats.ErrorRate(rec.AgentID); errRate > s.cfg.ErrorRateThreshold {
		indicators = append(indicators, models.RiskIndicator{
			Type:        models.IndicatorHighErrorRate,
			Weight:      WeightHighErrorRate,
			Description: fmt.Sprintf("elevated error rate: %.1f%%", errRate*100),
		})
	}

	return indicators
}

// TotalScore sums the indicator weights.
func TotalScore(indicators []models.RiskIndicator) float64 {
	var total float64
	for _, ind := range indicators {
		total += ind.Weight
	}
	return total
}

// DeriveSeverity maps a set of indicators to a severity. Unauthorized access
// and privilege escalation force CRITICAL regardless of the summed score.
func (s *Scorer) DeriveSeverity(indicators []models.RiskIndicator) models.Severity {
	return DeriveSeverity(indicators, s.cfg)
}

// DeriveSeverity is the pure form of severity derivation, usable without a Scorer.
func DeriveSeverity(indicators []models.RiskIndicator, cfg Config) models.Severity {
	for _, ind := range indicators {
		if ind.Type == models.IndicatorUnauthorizedAccess || ind.Type == models.IndicatorPrivilegeEscalation {
			return models.SeverityCritical
		}
	}

	total := TotalScore(indicators)
	switch {
	case total >= cfg.HighScore:
		return models.SeverityHigh
	case total >= cfg.MediumScore:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
