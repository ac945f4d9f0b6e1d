// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor builds the suture supervision tree for the monitoring
// process. Three child supervisors isolate failures by layer: a crashing
// collector restarts without touching the dispatcher, and neither disturbs
// the reporting API.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64 `koanf:"failure_threshold"`

	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay float64 `koanf:"failure_decay"`

	// FailureBackoff is the wait when the threshold is exceeded.
	FailureBackoff time.Duration `koanf:"failure_backoff"`

	// ShutdownTimeout is the maximum wait for graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DefaultTreeConfig matches suture's built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the process supervision hierarchy:
//   - collectors: audit tailer, auth poller, authz poller
//   - pipeline: event queue forwarder, dispatcher, anomaly tracker,
//     compliance scanner
//   - api: reporting HTTP server
type Tree struct {
	root       *suture.Supervisor
	collectors *suture.Supervisor
	pipeline   *suture.Supervisor
	api        *suture.Supervisor
	config     TreeConfig
}

// NewTree creates the supervision tree. Suture events are reported through
// the given slog logger (the zerolog bridge in internal/logging).
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("agentwatch", rootSpec)
	collectors := suture.New("collectors-layer", childSpec)
	pipeline := suture.New("pipeline-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(pipeline)
	root.Add(collectors)
	root.Add(api)

	return &Tree{
		root:       root,
		collectors: collectors,
		pipeline:   pipeline,
		api:        api,
		config:     config,
	}
}

// AddCollector adds a telemetry collector service.
func (t *Tree) AddCollector(svc suture.Service) suture.ServiceToken {
	return t.collectors.Add(svc)
}

// AddPipelineService adds a queue, dispatcher, or periodic-timer service.
func (t *Tree) AddPipelineService(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

// AddAPIService adds the reporting HTTP server.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve starts the tree and blocks until the context is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a background goroutine.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that failed to stop within the
// shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
