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
)

// AuthConfig holds authentication collector settings.
type AuthConfig struct {
	// PollInterval is how often the event source is re-read.
	PollInterval time.Duration `koanf:"poll_interval"`

	// PollTimeout bounds each source read.
	PollTimeout time.Duration `koanf:"poll_timeout"`

	// FailureThreshold is the consecutive failure count that signals a
	// brute-force attempt.
	FailureThreshold int `koanf:"failure_threshold" validate:"min=1"`

	// ResetInterval is how often failure counters are cleared.
	ResetInterval time.Duration `koanf:"reset_interval"`
}

// DefaultAuthConfig returns the reference authentication collector settings.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		PollInterval:     10 * time.Second,
		PollTimeout:      5 * time.Second,
		FailureThreshold: 5,
		ResetInterval:    24 * time.Hour,
	}
}

// AuthCollector polls the authentication event source, tracks per-agent
// consecutive failures, and emits a brute-force event once the threshold is
// crossed. Counters are cleared by a dedicated reset timer, so the clearing
// cadence is independent of polling.
type AuthCollector struct {
	cfg    AuthConfig
	source AuthEventSource
	queue  Publisher

	// Single-goroutine state: only Serve touches these.
	pos      int
	failures map[string]int
	active   map[string]bool
}

// NewAuthCollector creates the authentication collector.
func NewAuthCollector(cfg AuthConfig, source AuthEventSource, queue Publisher) *AuthCollector {
	def := DefaultAuthConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetInterval <= 0 {
		cfg.ResetInterval = def.ResetInterval
	}
	return &AuthCollector{
		cfg:      cfg,
		source:   source,
		queue:    queue,
		failures: make(map[string]int),
		active:   make(map[string]bool),
	}
}

// Serve polls until the context is cancelled. Implements suture.Service.
func (c *AuthCollector) Serve(ctx context.Context) error {
	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()
	reset := time.NewTicker(c.cfg.ResetInterval)
	defer reset.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reset.C:
			c.failures = make(map[string]int)
			logging.Info().Msg("auth failure counters reset")
		case <-poll.C:
			if err := c.poll(ctx); err != nil {
				metrics.CollectorErrors.WithLabelValues("auth", "poll").Inc()
				logging.Err(err).Msg("auth event poll failed")
			}
		}
	}
}

func (c *AuthCollector) poll(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	events, err := c.source.Events(pollCtx)
	cancel()
	if err != nil {
		return err
	}

	// The source is read non-destructively; only records past the last
	// consumed position are new.
	if c.pos > len(events) {
		c.pos = 0 // source was rewritten
	}
	fresh := events[c.pos:]
	c.pos = len(events)

	for _, ev := range fresh {
		if ev.AgentID == "" {
			metrics.CollectorErrors.WithLabelValues("auth", "malformed").Inc()
			continue
		}
		if ev.Success {
			metrics.RecordAuthAttempt(ev.AgentID, true)
			if !c.active[ev.AgentID] {
				c.active[ev.AgentID] = true
				metrics.ActiveSessions.WithLabelValues(ev.AgentID).Inc()
			}
			c.failures[ev.AgentID] = 0
			continue
		}

		metrics.RecordAuthAttempt(ev.AgentID, false)
		c.failures[ev.AgentID]++
		if c.failures[ev.AgentID] >= c.cfg.FailureThreshold {
			// A lockout-worthy failure streak ends the agent's session.
			if c.active[ev.AgentID] {
				delete(c.active, ev.AgentID)
				metrics.ActiveSessions.WithLabelValues(ev.AgentID).Dec()
			}
			if err := c.emitBruteForce(ctx, ev, c.failures[ev.AgentID]); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitBruteForce enqueues the repeated-failures event. The brute-force alert
// rule's cooldown keeps the downstream lockout at most once per window even
// though every failure past the threshold re-emits.
func (c *AuthCollector) emitBruteForce(ctx context.Context, ev AuthEvent, count int) error {
	event := models.NewSecurityEvent(ev.AgentID, models.EventTypeAuthentication)
	event.Severity = models.SeverityHigh
	event.Action = "login"
	event.SourceIP = ev.SourceIP
	event.RiskScore = 8.0
	event.Details = map[string]any{
		models.PatternDetailKey: "repeated_failures",
		"failure_count":         count,
	}

	logging.Warn().
		Str("agent", ev.AgentID).
		Int("failures", count).
		Msg("repeated authentication failures")
	return c.queue.Publish(ctx, event)
}
