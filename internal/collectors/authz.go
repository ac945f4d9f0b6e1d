// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package collectors

import (
	"context"
	"time"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/models"
	"github.com/agentwatch/agentwatch/internal/risk"
)

// AuthzConfig holds authorization collector settings.
type AuthzConfig struct {
	// PollInterval is how often the decision source is queried.
	PollInterval time.Duration `koanf:"poll_interval"`

	// PollTimeout bounds each source query.
	PollTimeout time.Duration `koanf:"poll_timeout"`

	// EscalationThreshold is the risk score above which a denied decision
	// is treated as a privilege-escalation attempt.
	EscalationThreshold float64 `koanf:"escalation_threshold"`
}

// DefaultAuthzConfig returns the reference authorization collector settings.
func DefaultAuthzConfig() AuthzConfig {
	return AuthzConfig{
		PollInterval:        15 * time.Second,
		PollTimeout:         5 * time.Second,
		EscalationThreshold: 7.0,
	}
}

// AuthzCollector polls authorization decisions, records the decision mix,
// and scores DENIED decisions for privilege-escalation attempts.
type AuthzCollector struct {
	cfg    AuthzConfig
	source AuthzDecisionSource
	queue  Publisher
	scorer *risk.Scorer

	since time.Time
}

// NewAuthzCollector creates the authorization collector.
func NewAuthzCollector(cfg AuthzConfig, source AuthzDecisionSource, queue Publisher, scorer *risk.Scorer) *AuthzCollector {
	def := DefaultAuthzConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = def.EscalationThreshold
	}
	return &AuthzCollector{
		cfg:    cfg,
		source: source,
		queue:  queue,
		scorer: scorer,
		since:  time.Now(),
	}
}

// Serve polls until the context is cancelled. Implements suture.Service.
func (c *AuthzCollector) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.poll(ctx); err != nil {
				metrics.CollectorErrors.WithLabelValues("authz", "poll").Inc()
				logging.Err(err).Msg("authz decision poll failed")
			}
		}
	}
}

func (c *AuthzCollector) poll(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	decisions, err := c.source.Decisions(pollCtx, c.since)
	cancel()
	if err != nil {
		return err
	}

	for _, dec := range decisions {
		if dec.Timestamp.After(c.since) {
			c.since = dec.Timestamp
		}
		if dec.AgentID == "" {
			metrics.CollectorErrors.WithLabelValues("authz", "malformed").Inc()
			continue
		}
		metrics.RecordAuthzDecision(dec.AgentID, dec.Resource, dec.Decision)

		if dec.Decision != DecisionDenied {
			continue
		}
		if err := c.scoreDenial(ctx, dec); err != nil {
			return err
		}
	}
	return nil
}

// scoreDenial runs the denied decision through risk scoring. A score above
// the escalation threshold marks a privilege-escalation attempt, tagged for
// the SOX and PCI DSS frameworks.
func (c *AuthzCollector) scoreDenial(ctx context.Context, dec AuthzDecision) error {
	indicators := c.scorer.Score(risk.Interaction{
		AgentID:  dec.AgentID,
		Resource: dec.Resource,
		Action:   dec.Action,
		Time:     dec.Timestamp,
	})
	total := risk.TotalScore(indicators)
	if total <= c.cfg.EscalationThreshold {
		return nil
	}

	event := models.NewSecurityEvent(dec.AgentID, models.EventTypeAuthorization)
	event.Severity = models.SeverityHigh
	event.Resource = dec.Resource
	event.Action = dec.Action
	event.RiskScore = total
	event.ComplianceTags = []string{"SOX", "PCI_DSS"}
	event.Details = map[string]any{
		models.PatternDetailKey: "privilege_escalation",
		"decision":              dec.Decision,
		"policy_matched":        dec.PolicyMatched,
	}

	logging.Warn().
		Str("agent", dec.AgentID).
		Str("resource", dec.Resource).
		Str("action", dec.Action).
		Float64("risk_score", total).
		Msg("privilege escalation attempt")
	return c.queue.Publish(ctx, event)
}
