// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/models"
)

// Channel delivers an alert to one notification target. Implementations
// either succeed or return a channel-specific error; the dispatcher catches
// and logs failures without blocking other channels.
type Channel interface {
	// Name returns the channel identifier rules reference (e.g. "email").
	Name() string

	// Send delivers the alert.
	Send(ctx context.Context, alert *models.Alert) error
}

// Registry resolves channel names to senders. Built once at startup; rules
// referencing unregistered channels are a configuration error.
type Registry struct {
	channels map[string]Channel
}

// NewRegistry creates a registry over the given channels.
func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel, len(channels))}
	for _, c := range channels {
		r.channels[c.Name()] = c
	}
	return r
}

// Get returns the channel for a name.
func (r *Registry) Get(name string) (Channel, bool) {
	c, ok := r.channels[name]
	return c, ok
}

// Names returns the registered channel names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateRules checks that every channel referenced by the rule set is
// registered. Called at startup; a miss is fatal.
func (r *Registry) ValidateRules(rules []Rule) error {
	for _, rule := range rules {
		for _, name := range rule.Channels {
			if _, ok := r.channels[name]; !ok {
				return fmt.Errorf("rule %q references unknown channel %q (registered: %v)",
					rule.Name, name, r.Names())
			}
		}
	}
	return nil
}

// LogChannel records alerts in the structured log. It stands in for any
// channel a rule references but the operator has not configured, so the rule
// set stays valid while its deliveries remain visible.
type LogChannel struct {
	name string
}

// NewLogChannel creates a log-only channel with the given name.
func NewLogChannel(name string) *LogChannel {
	return &LogChannel{name: name}
}

// Name returns the configured channel name.
func (c *LogChannel) Name() string { return c.name }

// Send writes the alert to the log.
func (c *LogChannel) Send(ctx context.Context, alert *models.Alert) error {
	logging.Warn().
		Str("channel", c.name).
		Str("rule", alert.RuleName).
		Str("agent", alert.Event.AgentID).
		Str("severity", string(alert.Event.Severity)).
		Float64("risk_score", alert.Event.RiskScore).
		Msg("alert delivered to log-only channel")
	return nil
}

// AgentLocker applies an automated lockout to an agent on the monitored
// platform. The platform's control plane supplies the implementation.
type AgentLocker interface {
	Lock(ctx context.Context, agentID, reason string) error
}

// LockoutChannel executes automated lockouts in response to alerts such as
// brute-force detection. Each alert locks the offending agent at most once;
// repeat alerts within the rule's cooldown never reach this channel.
type LockoutChannel struct {
	locker AgentLocker

	mu     sync.Mutex
	locked map[string]int
}

// NewLockoutChannel creates the auto_lockout channel.
func NewLockoutChannel(locker AgentLocker) *LockoutChannel {
	return &LockoutChannel{
		locker: locker,
		locked: make(map[string]int),
	}
}

// Name returns "auto_lockout".
func (c *LockoutChannel) Name() string { return "auto_lockout" }

// Send locks the agent named by the alert's event.
func (c *LockoutChannel) Send(ctx context.Context, alert *models.Alert) error {
	agentID := alert.Event.AgentID
	reason := alert.RuleName

	if err := c.locker.Lock(ctx, agentID, reason); err != nil {
		return fmt.Errorf("lock agent %s: %w", agentID, err)
	}

	c.mu.Lock()
	c.locked[agentID]++
	c.mu.Unlock()

	logging.Warn().
		Str("agent", agentID).
		Str("rule", reason).
		Msg("agent locked out")
	return nil
}

// LockCount returns how many lockouts have been executed for an agent.
func (c *LockoutChannel) LockCount(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked[agentID]
}
