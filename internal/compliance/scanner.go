// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package compliance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/models"
)

// Escalator routes a high-severity violation through the alert notification
// path. Implemented by the pipeline dispatcher.
type Escalator interface {
	Escalate(ctx context.Context, violation *models.ComplianceViolation) error
}

// ViolationSink persists violation records.
type ViolationSink interface {
	SaveViolation(ctx context.Context, violation *models.ComplianceViolation) error
}

// ProbeStatus is the outcome of one policy probe in the latest scan.
type ProbeStatus string

const (
	ProbePass         ProbeStatus = "pass"
	ProbeViolated     ProbeStatus = "violated"
	ProbeInconclusive ProbeStatus = "inconclusive"
)

// Config holds scanner settings.
type Config struct {
	// Interval between scans.
	Interval time.Duration `koanf:"interval" validate:"min=0"`

	// ProbeTimeout bounds each probe. Capped at Interval so a stuck probe
	// never blocks past one scan cycle.
	ProbeTimeout time.Duration `koanf:"probe_timeout" validate:"min=0"`

	// HistoryLimit bounds the in-memory violation history.
	HistoryLimit int `koanf:"history_limit" validate:"min=0"`

	// EscalateAt is the minimum severity escalated synchronously.
	EscalateAt models.Severity `koanf:"escalate_at"`
}

// DefaultConfig returns the reference scanner settings.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Minute,
		ProbeTimeout: time.Minute,
		HistoryLimit: 1000,
		EscalateAt:   models.SeverityHigh,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.ProbeTimeout > c.Interval {
		c.ProbeTimeout = c.Interval
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if !c.EscalateAt.Valid() {
		c.EscalateAt = def.EscalateAt
	}
}

// Scanner runs the configured policies on a fixed interval.
type Scanner struct {
	cfg       Config
	policies  []Policy
	escalator Escalator
	sink      ViolationSink

	mu       sync.RWMutex
	history  []*models.ComplianceViolation
	statuses map[string]ProbeStatus
	lastScan time.Time
}

// NewScanner creates a scanner over the given policies.
func NewScanner(cfg Config, policies []Policy, escalator Escalator, sink ViolationSink) *Scanner {
	cfg.applyDefaults()
	return &Scanner{
		cfg:       cfg,
		policies:  policies,
		escalator: escalator,
		sink:      sink,
		statuses:  make(map[string]ProbeStatus),
	}
}

// Serve runs the scan loop until the context is cancelled. One scan runs
// immediately so a fresh process reports posture without waiting a full
// interval. Implements suture.Service.
func (s *Scanner) Serve(ctx context.Context) error {
	s.Scan(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs every policy probe once. Violation handling is synchronous:
// persistence and escalation complete before the next probe starts.
func (s *Scanner) Scan(ctx context.Context) {
	statuses := make(map[string]ProbeStatus, len(s.policies))

	for _, policy := range s.policies {
		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		violations, err := policy.Check(probeCtx)
		cancel()

		switch {
		case err != nil:
			// A probe that cannot answer is inconclusive, not a pass.
			statuses[policy.Name()] = ProbeInconclusive
			if errors.Is(err, context.DeadlineExceeded) {
				logging.Warn().
					Str("policy", policy.Name()).
					Dur("timeout", s.cfg.ProbeTimeout).
					Msg("compliance probe timed out")
			} else {
				logging.Err(err).
					Str("policy", policy.Name()).
					Msg("compliance probe failed")
			}
		case len(violations) == 0:
			statuses[policy.Name()] = ProbePass
		default:
			statuses[policy.Name()] = ProbeViolated
			for _, v := range violations {
				s.handleViolation(ctx, v)
			}
		}
	}

	s.mu.Lock()
	s.statuses = statuses
	s.lastScan = time.Now().UTC()
	s.mu.Unlock()
}

// handleViolation records, persists, and (for high severities) escalates one
// violation. Escalation happens exactly once, here, at creation time.
func (s *Scanner) handleViolation(ctx context.Context, v *models.ComplianceViolation) {
	metrics.ComplianceViolations.WithLabelValues(v.Policy, string(v.Severity)).Inc()
	logging.Warn().
		Str("policy", v.Policy).
		Str("severity", string(v.Severity)).
		Str("agent", v.AgentID).
		Str("description", v.Description).
		Msg("compliance violation")

	s.mu.Lock()
	s.history = append(s.history, v)
	if over := len(s.history) - s.cfg.HistoryLimit; over > 0 {
		s.history = s.history[over:]
	}
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.SaveViolation(ctx, v); err != nil {
			metrics.PersistenceErrors.Inc()
			logging.Err(err).Str("violation", v.ViolationID).Msg("persist violation")
		}
	}

	if v.Severity.AtLeast(s.cfg.EscalateAt) && s.escalator != nil {
		v.EscalationLevel = 1
		if err := s.escalator.Escalate(ctx, v); err != nil {
			logging.Err(err).Str("violation", v.ViolationID).Msg("escalate violation")
		}
	}
}

// History returns a consistent snapshot of the violation history, newest last.
func (s *Scanner) History() []*models.ComplianceViolation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ComplianceViolation, len(s.history))
	copy(out, s.history)
	return out
}

// Statuses returns the per-policy outcome of the latest scan and its time.
func (s *Scanner) Statuses() (map[string]ProbeStatus, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ProbeStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out, s.lastScan
}
