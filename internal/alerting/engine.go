// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"sync"
	"time"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/models"
)

// cooldownKey identifies one (rule, agent) cooldown slot.
type cooldownKey struct {
	rule  string
	agent string
}

// Engine evaluates events against the immutable rule set. Cooldown state is
// process-wide and owned exclusively by the engine; it is updated at match
// time, before dispatch, so delivery failures cannot cause duplicate storms.
type Engine struct {
	rules []Rule

	mu        sync.Mutex
	cooldowns map[cooldownKey]time.Time
	now       func() time.Time
}

// NewEngine creates an engine over a compiled rule set.
func NewEngine(rules []Rule) *Engine {
	return &Engine{
		rules:     rules,
		cooldowns: make(map[cooldownKey]time.Time),
		now:       time.Now,
	}
}

// Evaluate returns one alert per matching, non-suppressed rule. A rule that
// matched within its cooldown window for this agent is suppressed; rules
// with zero cooldown always fire.
func (e *Engine) Evaluate(event *models.SecurityEvent) []*models.Alert {
	var alerts []*models.Alert

	e.mu.Lock()
	now := e.now()
	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Condition.Match(event) {
			continue
		}

		key := cooldownKey{rule: rule.Name, agent: event.AgentID}
		if rule.Cooldown > 0 {
			if last, ok := e.cooldowns[key]; ok && now.Sub(last) < rule.Cooldown {
				metrics.AlertsSuppressed.WithLabelValues(rule.Name).Inc()
				logging.Debug().
					Str("rule", rule.Name).
					Str("agent", event.AgentID).
					Msg("alert suppressed by cooldown")
				continue
			}
		}
		e.cooldowns[key] = now

		alerts = append(alerts, models.NewAlert(event, rule.Name, rule.Channels))
	}
	e.mu.Unlock()

	return alerts
}

// Rules returns the engine's rule set. The slice is shared; callers must not
// mutate it.
func (e *Engine) Rules() []Rule {
	return e.rules
}
