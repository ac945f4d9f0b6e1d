// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/agentwatch/agentwatch/internal/alerting"
	"github.com/agentwatch/agentwatch/internal/anomaly"
	"github.com/agentwatch/agentwatch/internal/api"
	"github.com/agentwatch/agentwatch/internal/collectors"
	"github.com/agentwatch/agentwatch/internal/compliance"
	"github.com/agentwatch/agentwatch/internal/pipeline"
	"github.com/agentwatch/agentwatch/internal/risk"
	"github.com/agentwatch/agentwatch/internal/store"
	"github.com/agentwatch/agentwatch/internal/supervisor"
)

// DefaultConfigPaths lists where the config file is searched, in order.
var DefaultConfigPaths = []string{
	"agentwatch.yaml",
	"agentwatch.yml",
	"/etc/agentwatch/config.yaml",
	"/etc/agentwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "AGENTWATCH_CONFIG"

// envPrefix scopes environment overrides to this process.
const envPrefix = "AGENTWATCH_"

// defaultConfig returns the full default configuration. Defaults mirror the
// per-package reference settings so a bare binary runs with only the source
// paths overridden.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: store.Config{
			Path:       "/data/agentwatch/store",
			SyncWrites: true,
			Retention:  0, // keep everything
		},
		Risk:       risk.DefaultConfig(),
		Anomaly:    anomaly.DefaultConfig(),
		Compliance: compliance.DefaultConfig(),
		Queue:      pipeline.DefaultQueueConfig(),
		Policies: PoliciesConfig{
			RequiredRetention: 90 * 24 * time.Hour,
			PlatformStatePath: "/var/lib/agentwatch/platform_state.json",
			DutyConflicts:     [][]string{{"deploy", "approve_deploy"}},
		},
		Collectors: CollectorsConfig{
			Audit: collectors.AuditConfig{
				Path:         "/var/log/agentwatch/audit.jsonl",
				PollInterval: 500 * time.Millisecond,
				ReopenDelay:  time.Second,
			},
			Auth:            collectors.DefaultAuthConfig(),
			Authz:           collectors.DefaultAuthzConfig(),
			AuthSourcePath:  "/var/log/agentwatch/auth.jsonl",
			AuthzSourcePath: "/var/log/agentwatch/authz.jsonl",
		},
		Alerting: AlertingConfig{
			Breaker: alerting.DefaultBreakerConfig(),
		},
		API:        api.DefaultConfig(),
		Supervisor: supervisor.DefaultTreeConfig(),
		Dashboard: DashboardConfig{
			Path: "/data/agentwatch/dashboards/agentwatch.json",
		},
	}
}

// Load builds the configuration with layered precedence: defaults, then an
// optional YAML file, then AGENTWATCH_ environment variables. The result is
// validated; an invalid configuration is a startup error.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceValues(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if len(cfg.Alerting.Rules) == 0 {
		cfg.Alerting.Rules = alerting.DefaultRuleConfigs()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings binds AGENTWATCH_ variables to config paths. Unmapped
// variables are ignored so unrelated environment noise never reaches the
// configuration.
var envMappings = map[string]string{
	"log_level":  "logging.level",
	"log_format": "logging.format",

	"store_path":        "store.path",
	"store_sync_writes": "store.sync_writes",
	"store_retention":   "store.retention",

	"authz_model_path":  "authz.model_path",
	"authz_policy_path": "authz.policy_path",

	"risk_request_rate_threshold": "risk.request_rate_threshold",
	"risk_error_rate_threshold":   "risk.error_rate_threshold",

	"anomaly_z_threshold": "anomaly.z_threshold",
	"anomaly_min_samples": "anomaly.min_samples",

	"compliance_interval":      "compliance.interval",
	"compliance_probe_timeout": "compliance.probe_timeout",

	"required_retention":  "policies.required_retention",
	"platform_state_path": "policies.platform_state_path",

	"queue_capacity": "queue.capacity",

	"audit_log_path":         "collectors.audit.path",
	"audit_poll_interval":    "collectors.audit.poll_interval",
	"auth_source_path":       "collectors.auth_source_path",
	"authz_source_path":      "collectors.authz_source_path",
	"auth_poll_interval":     "collectors.auth.poll_interval",
	"auth_failure_threshold": "collectors.auth.failure_threshold",
	"auth_reset_interval":    "collectors.auth.reset_interval",

	"email_enabled":   "alerting.email.enabled",
	"email_smtp_addr": "alerting.email.smtp_addr",
	"email_from":      "alerting.email.from",
	"email_to":        "alerting.email.to",
	"email_username":  "alerting.email.username",
	"email_password":  "alerting.email.password",

	"lockout_enabled": "alerting.lockout.enabled",
	"lockout_url":     "alerting.lockout.url",
	"lockout_token":   "alerting.lockout.token",

	"api_addr":         "api.addr",
	"api_cors_origins": "api.allowed_origins",
	"api_rate_limit":   "api.rate_limit",

	"dashboard_path": "dashboard.path",
}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// sliceConfigPaths are the paths that accept comma-separated values from the
// environment.
var sliceConfigPaths = []string{
	"api.allowed_origins",
	"alerting.email.to",
}

func splitSliceValues(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, p)
			}
		}
		if err := k.Set(path, values); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
