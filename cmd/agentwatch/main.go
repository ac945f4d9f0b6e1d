// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the AgentWatch monitoring process.
//
// Startup order:
//
//  1. Configuration: layered defaults, YAML file, AGENTWATCH_ environment
//     variables (Koanf v2); an invalid configuration never starts the process
//  2. Event store: BadgerDB-backed persistence for events and violations
//  3. Authorization allow-list and risk scorer
//  4. Alerting: compiled rules, notification channel registry
//  5. Pipeline: bounded event queue and its single dispatcher
//  6. Anomaly tracker and compliance scanner
//  7. Collectors: audit-log tailer, auth and authz pollers
//  8. Reporting HTTP API
//
// Everything long-running is placed under a suture supervision tree with
// separate collector, pipeline, and API layers; a crashing collector restarts
// without disturbing the dispatcher. SIGINT and SIGTERM trigger a graceful
// shutdown through context cancellation.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentwatch/agentwatch/internal/alerting"
	"github.com/agentwatch/agentwatch/internal/anomaly"
	"github.com/agentwatch/agentwatch/internal/api"
	"github.com/agentwatch/agentwatch/internal/authz"
	"github.com/agentwatch/agentwatch/internal/collectors"
	"github.com/agentwatch/agentwatch/internal/compliance"
	"github.com/agentwatch/agentwatch/internal/config"
	"github.com/agentwatch/agentwatch/internal/dashboard"
	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/pipeline"
	"github.com/agentwatch/agentwatch/internal/risk"
	"github.com/agentwatch/agentwatch/internal/store"
	"github.com/agentwatch/agentwatch/internal/supervisor"
)

// storeGCInterval is how often Badger value-log garbage collection runs.
const storeGCInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config not yet available; the default logger applies.
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Str("api_addr", cfg.API.Addr).
		Int("queue_capacity", cfg.Queue.Capacity).
		Int("rules", len(cfg.Alerting.Rules)).
		Msg("starting agentwatch")

	if cfg.Dashboard.Path != "" {
		if err := dashboard.Write(cfg.Dashboard.Path, dashboard.Default()); err != nil {
			// The descriptor is a convenience artifact, not a dependency.
			logging.Warn().Err(err).Msg("dashboard descriptor not written")
		}
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open event store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing event store")
		}
	}()

	allow, err := authz.NewAllowList(cfg.Authz)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build authorization allow-list")
	}

	activity := risk.NewActivityTracker()
	scorer := risk.NewScorer(cfg.Risk, allow, activity)

	queue := pipeline.NewQueue(cfg.Queue)
	defer func() {
		if err := queue.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing event queue")
		}
	}()

	rules, err := alerting.CompileRules(cfg.Alerting.Rules)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid alert rules")
	}

	registry := buildChannelRegistry(cfg, rules)
	if err := registry.ValidateRules(rules); err != nil {
		logging.Fatal().Err(err).Msg("alert rules reference unknown channels")
	}

	engine := alerting.NewEngine(rules)
	dispatcher := pipeline.NewDispatcher(queue, engine, registry, st)
	anomalyTracker := anomaly.NewTracker(cfg.Anomaly, activity, queue)

	platformState := &compliance.FilePlatformState{Path: cfg.Policies.PlatformStatePath}
	scanner := compliance.NewScanner(cfg.Compliance, []compliance.Policy{
		compliance.RetentionPolicy{Source: st, Required: cfg.Policies.RequiredRetention},
		compliance.EncryptionPolicy{Source: platformState},
		compliance.LeastPrivilegePolicy{Grants: allow},
		compliance.SegregationPolicy{Source: platformState, Conflicts: cfg.Policies.ConflictPairs()},
	}, dispatcher, st)

	auditCollector := collectors.NewAuditCollector(cfg.Collectors.Audit, queue, scorer, activity)
	authCollector := collectors.NewAuthCollector(cfg.Collectors.Auth,
		&collectors.FileAuthSource{Path: cfg.Collectors.AuthSourcePath}, queue)
	authzCollector := collectors.NewAuthzCollector(cfg.Collectors.Authz,
		&collectors.FileAuthzSource{Path: cfg.Collectors.AuthzSourcePath}, queue, scorer)

	handler := api.NewHandler(st, st, anomalyTracker, scanner, queue.Len)
	server := api.NewServer(cfg.API, handler)

	tree := supervisor.NewTree(logging.NewSlogLogger(), cfg.Supervisor)
	tree.AddPipelineService(queue)
	tree.AddPipelineService(dispatcher)
	tree.AddPipelineService(anomalyTracker)
	tree.AddPipelineService(scanner)
	tree.AddPipelineService(serviceFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(storeGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				st.RunGC()
			}
		}
	}))
	tree.AddCollector(auditCollector)
	tree.AddCollector(authCollector)
	tree.AddCollector(authzCollector)
	tree.AddAPIService(server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("supervision tree starting")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervision tree exited")
	}
	logging.Info().Msg("shutdown complete")
}

// buildChannelRegistry assembles the notification channels. Webhook channels
// are wrapped in a circuit breaker; any channel the rule set references but
// the operator has not configured falls back to a log-only channel so the
// rule set stays valid.
func buildChannelRegistry(cfg *config.Config, rules []alerting.Rule) *alerting.Registry {
	var channels []alerting.Channel

	if cfg.Alerting.Email.Enabled {
		channels = append(channels, alerting.NewEmailChannel(cfg.Alerting.Email.Channel()))
	}
	if cfg.Alerting.Lockout.Enabled {
		locker := alerting.NewHTTPLocker(cfg.Alerting.Lockout.Channel())
		channels = append(channels, alerting.NewLockoutChannel(locker))
	}
	for _, whCfg := range cfg.Alerting.Webhooks {
		channels = append(channels,
			alerting.WithBreaker(alerting.NewWebhookChannel(whCfg), cfg.Alerting.Breaker))
	}

	configured := make(map[string]bool, len(channels))
	for _, c := range channels {
		configured[c.Name()] = true
	}
	for _, rule := range rules {
		for _, name := range rule.Channels {
			if configured[name] {
				continue
			}
			configured[name] = true
			channels = append(channels, alerting.NewLogChannel(name))
			logging.Warn().
				Str("channel", name).
				Str("rule", rule.Name).
				Msg("channel not configured, alerts will only be logged")
		}
	}

	return alerting.NewRegistry(channels...)
}

// serviceFunc adapts a function to suture.Service.
type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }
