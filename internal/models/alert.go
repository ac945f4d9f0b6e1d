// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/google/uuid"
)

// Alert is a dispatchable notification produced when a security event
// matches a non-suppressed alert rule.
type Alert struct {
	AlertID   string         `json:"alert_id"`
	RuleName  string         `json:"rule_name"`
	Channels  []string       `json:"channels"`
	Event     *SecurityEvent `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewAlert creates an alert for the given event and rule.
func NewAlert(event *SecurityEvent, ruleName string, channels []string) *Alert {
	return &Alert{
		AlertID:   uuid.New().String(),
		RuleName:  ruleName,
		Channels:  channels,
		Event:     event,
		Timestamp: time.Now().UTC(),
	}
}
