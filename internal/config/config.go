// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the process configuration with layered precedence:
// built-in defaults, then an optional YAML file, then AGENTWATCH_ environment
// variables. Validation failures are startup errors; the process never runs
// on a partially valid configuration.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agentwatch/agentwatch/internal/alerting"
	"github.com/agentwatch/agentwatch/internal/anomaly"
	"github.com/agentwatch/agentwatch/internal/api"
	"github.com/agentwatch/agentwatch/internal/authz"
	"github.com/agentwatch/agentwatch/internal/collectors"
	"github.com/agentwatch/agentwatch/internal/compliance"
	"github.com/agentwatch/agentwatch/internal/pipeline"
	"github.com/agentwatch/agentwatch/internal/risk"
	"github.com/agentwatch/agentwatch/internal/store"
	"github.com/agentwatch/agentwatch/internal/supervisor"
)

// Config is the full process configuration.
type Config struct {
	Logging    LoggingConfig         `koanf:"logging"`
	Store      store.Config          `koanf:"store"`
	Authz      authz.Config          `koanf:"authz"`
	Risk       risk.Config           `koanf:"risk"`
	Anomaly    anomaly.Config        `koanf:"anomaly"`
	Compliance compliance.Config     `koanf:"compliance"`
	Policies   PoliciesConfig        `koanf:"policies"`
	Queue      pipeline.QueueConfig  `koanf:"queue"`
	Collectors CollectorsConfig      `koanf:"collectors"`
	Alerting   AlertingConfig        `koanf:"alerting"`
	API        api.Config            `koanf:"api"`
	Supervisor supervisor.TreeConfig `koanf:"supervisor"`
	Dashboard  DashboardConfig       `koanf:"dashboard"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`
}

// CollectorsConfig holds the telemetry collector settings and the paths of
// the platform-written source files the pollers read.
type CollectorsConfig struct {
	Audit collectors.AuditConfig `koanf:"audit"`
	Auth  collectors.AuthConfig  `koanf:"auth"`
	Authz collectors.AuthzConfig `koanf:"authz"`

	// AuthSourcePath is the JSON-lines authentication event file.
	AuthSourcePath string `koanf:"auth_source_path" validate:"required"`

	// AuthzSourcePath is the JSON-lines authorization decision file.
	AuthzSourcePath string `koanf:"authz_source_path" validate:"required"`
}

// AlertingConfig holds the rule set and notification channel settings.
type AlertingConfig struct {
	// Rules is the declarative rule set. Empty falls back to the built-in
	// reference rules at load time.
	Rules []alerting.RuleConfig `koanf:"rules" validate:"dive"`

	// Email and Lockout are validated only when enabled.
	Email   EmailConfig   `koanf:"email" validate:"-"`
	Lockout LockoutConfig `koanf:"lockout" validate:"-"`

	// Webhooks lists the HTTP channels (chat, pager, incident_creation).
	Webhooks []alerting.WebhookConfig `koanf:"webhooks" validate:"dive"`

	// Breaker wraps every webhook channel.
	Breaker alerting.BreakerConfig `koanf:"breaker"`
}

// EmailConfig enables and configures the email channel.
type EmailConfig struct {
	Enabled  bool     `koanf:"enabled"`
	SMTPAddr string   `koanf:"smtp_addr"`
	From     string   `koanf:"from"`
	To       []string `koanf:"to"`
	Username string   `koanf:"username"`
	Password string   `koanf:"password"`
}

// Channel converts to the alerting package's channel configuration.
func (c EmailConfig) Channel() alerting.EmailConfig {
	return alerting.EmailConfig{
		SMTPAddr: c.SMTPAddr,
		From:     c.From,
		To:       c.To,
		Username: c.Username,
		Password: c.Password,
	}
}

// LockoutConfig enables and configures the auto_lockout channel.
type LockoutConfig struct {
	Enabled  bool          `koanf:"enabled"`
	URL      string        `koanf:"url"`
	Token    string        `koanf:"token"`
	Timeout  time.Duration `koanf:"timeout"`
	RetryMax int           `koanf:"retry_max"`
}

// Channel converts to the alerting package's lockout configuration.
func (c LockoutConfig) Channel() alerting.LockoutConfig {
	return alerting.LockoutConfig{
		URL:      c.URL,
		Token:    c.Token,
		Timeout:  c.Timeout,
		RetryMax: c.RetryMax,
	}
}

// PoliciesConfig wires the compliance probes to platform state.
type PoliciesConfig struct {
	// RequiredRetention is the minimum audit retention the retention probe
	// accepts.
	RequiredRetention time.Duration `koanf:"required_retention"`

	// PlatformStatePath is the control-plane-written JSON posture file read
	// by the encryption and duty probes.
	PlatformStatePath string `koanf:"platform_state_path" validate:"required"`

	// DutyConflicts lists role pairs one agent must not hold together.
	// Entries with other than two roles are rejected at load time.
	DutyConflicts [][]string `koanf:"duty_conflicts" validate:"dive,len=2"`
}

// ConflictPairs converts DutyConflicts to the compliance package's pair type.
func (c PoliciesConfig) ConflictPairs() [][2]string {
	pairs := make([][2]string, 0, len(c.DutyConflicts))
	for _, conflict := range c.DutyConflicts {
		if len(conflict) != 2 {
			continue
		}
		pairs = append(pairs, [2]string{conflict[0], conflict[1]})
	}
	return pairs
}

// DashboardConfig controls the startup dashboard descriptor.
type DashboardConfig struct {
	// Path is where the descriptor is written. Empty disables it.
	Path string `koanf:"path"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the configuration. Channel settings guarded by an Enabled
// flag are only checked when enabled.
func (c *Config) Validate() error {
	v := structValidator()

	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Alerting.Email.Enabled {
		if err := v.Struct(c.Alerting.Email.Channel()); err != nil {
			return fmt.Errorf("invalid email channel: %w", err)
		}
	}
	if c.Alerting.Lockout.Enabled {
		if err := v.Struct(c.Alerting.Lockout.Channel()); err != nil {
			return fmt.Errorf("invalid lockout channel: %w", err)
		}
	}
	return nil
}
