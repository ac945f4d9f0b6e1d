// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package anomaly maintains per-agent rolling baselines of activity metrics
// and emits behavioral-anomaly events when a metric deviates from its
// history by more than the configured z-score threshold.
package anomaly

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/models"
)

// SeverityBand maps a minimum |z| to a severity. The mapping is policy, not
// algorithm: operators tune it via configuration.
type SeverityBand struct {
	Z        float64         `koanf:"z"`
	Severity models.Severity `koanf:"severity"`
}

// Config holds baseline tracker configuration.
type Config struct {
	// TickInterval is how often snapshots are taken. Default: 1h.
	TickInterval time.Duration `koanf:"tick_interval"`

	// MaxWindow bounds the rolling history length. Default: 720 (30 days hourly).
	MaxWindow int `koanf:"max_window"`

	// MinSamples is the history length required before anomaly detection
	// activates. Default: 168 (7 days hourly).
	MinSamples int `koanf:"min_samples"`

	// ZThreshold is the deviation threshold in standard deviations. Default: 3.
	ZThreshold float64 `koanf:"z_threshold"`

	// SeverityBands maps |z| magnitude to event severity, highest band wins.
	SeverityBands []SeverityBand `koanf:"severity_bands"`
}

// DefaultConfig returns the reference tracker policy.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Hour,
		MaxWindow:    30 * 24,
		MinSamples:   7 * 24,
		ZThreshold:   3,
		SeverityBands: []SeverityBand{
			{Z: 3, Severity: models.SeverityMedium},
			{Z: 5, Severity: models.SeverityHigh},
			{Z: 8, Severity: models.SeverityCritical},
		},
	}
}

// SnapshotSource supplies the current per-agent metric counters on each tick.
type SnapshotSource interface {
	Snapshot() map[string]map[string]float64
}

// Publisher enqueues anomaly events into the main pipeline.
type Publisher interface {
	Publish(ctx context.Context, event *models.SecurityEvent) error
}

// AgentState summarizes one agent's baseline for reporting.
type AgentState struct {
	AgentID string `json:"agent_id"`
	Samples int    `json:"samples"`
	Warm    bool   `json:"warm"`
}

type baseline struct {
	window []map[string]float64
	warm   bool
}

// Tracker owns the per-agent baselines. Only the tick loop mutates them;
// Baselines() takes a consistent snapshot for concurrent readers.
type Tracker struct {
	cfg       Config
	source    SnapshotSource
	publisher Publisher

	mu        sync.RWMutex
	baselines map[string]*baseline
}

// NewTracker creates a tracker over the given source and publisher.
func NewTracker(cfg Config, source SnapshotSource, publisher Publisher) *Tracker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Hour
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = 30 * 24
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 7 * 24
	}
	if cfg.ZThreshold <= 0 {
		cfg.ZThreshold = 3
	}
	if len(cfg.SeverityBands) == 0 {
		cfg.SeverityBands = DefaultConfig().SeverityBands
	}
	sort.Slice(cfg.SeverityBands, func(i, j int) bool {
		return cfg.SeverityBands[i].Z < cfg.SeverityBands[j].Z
	})

	return &Tracker{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
		baselines: make(map[string]*baseline),
	}
}

// Serve runs the hourly tick loop until the context is canceled.
// Designed for suture supervision.
func (t *Tracker) Serve(ctx context.Context) error {
	logger := logging.With().Str("component", "anomaly-tracker").Logger()
	logger.Info().Dur("interval", t.cfg.TickInterval).Msg("baseline tracking started")

	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("baseline tracking stopped")
			return ctx.Err()
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick appends the current snapshot to every agent's baseline and emits an
// event for each anomalous metric. Detection compares the new value against
// the window as it stood before the append, so a value never dilutes its own
// reference.
func (t *Tracker) Tick(ctx context.Context) {
	snapshots := t.source.Snapshot()

	t.mu.Lock()
	defer t.mu.Unlock()

	for agentID, snapshot := range snapshots {
		b := t.baselines[agentID]
		if b == nil {
			b = &baseline{}
			t.baselines[agentID] = b
		}

		// COLD -> WARM is one-directional: once enough history exists,
		// detection stays active for the life of the process.
		if !b.warm && len(b.window) >= t.cfg.MinSamples {
			b.warm = true
		}

		if b.warm {
			t.detect(ctx, agentID, snapshot, b.window)
		}

		b.window = append(b.window, snapshot)
		if len(b.window) > t.cfg.MaxWindow {
			b.window = b.window[1:]
		}
	}
}

// detect flags metrics in the snapshot that deviate beyond the threshold.
func (t *Tracker) detect(ctx context.Context, agentID string, snapshot map[string]float64, window []map[string]float64) {
	for metric, value := range snapshot {
		mean, stddev := windowStats(window, metric)

		var z float64
		switch {
		case stddev == 0 && value == mean:
			continue
		case stddev == 0:
			// Constant history, new value differs: unambiguous deviation.
			z = math.Inf(1)
		default:
			z = (value - mean) / stddev
		}

		if math.Abs(z) <= t.cfg.ZThreshold {
			continue
		}

		event := t.anomalyEvent(agentID, metric, value, mean, stddev, z)
		metrics.AnomaliesDetected.WithLabelValues(agentID, metric).Inc()

		if err := t.publisher.Publish(ctx, event); err != nil {
			logging.Err(err).
				Str("agent", agentID).
				Str("metric", metric).
				Msg("failed to enqueue anomaly event")
		}
	}
}

func (t *Tracker) anomalyEvent(agentID, metric string, value, mean, stddev, z float64) *models.SecurityEvent {
	event := models.NewSecurityEvent(agentID, models.EventTypeBehavioralAnomaly)
	event.Severity = t.severityFor(z)
	event.Resource = metric
	event.Action = "anomaly_detected"
	event.RiskScore = roundScore(math.Abs(z))
	event.ComplianceTags = []string{"MONITORING"}
	event.Details = map[string]any{
		"metric":  metric,
		"value":   value,
		"mean":    mean,
		"stddev":  stddev,
		"z_score": z,
	}
	return event
}

// severityFor picks the highest band whose threshold |z| reaches.
func (t *Tracker) severityFor(z float64) models.Severity {
	abs := math.Abs(z)
	severity := models.SeverityLow
	for _, band := range t.cfg.SeverityBands {
		if abs >= band.Z {
			severity = band.Severity
		}
	}
	return severity
}

// Baselines returns a consistent snapshot of per-agent baseline state.
func (t *Tracker) Baselines() []AgentState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]AgentState, 0, len(t.baselines))
	for agentID, b := range t.baselines {
		states = append(states, AgentState{
			AgentID: agentID,
			Samples: len(b.window),
			Warm:    b.warm,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].AgentID < states[j].AgentID })
	return states
}

// WindowLen returns the current window length for an agent. Test hook for
// the eviction invariant.
func (t *Tracker) WindowLen(agentID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b := t.baselines[agentID]; b != nil {
		return len(b.window)
	}
	return 0
}

// windowStats computes the sample mean and standard deviation of a metric
// over the window. Snapshots missing the metric contribute zero, matching
// how an idle hour is recorded.
func windowStats(window []map[string]float64, metric string) (mean, stddev float64) {
	n := float64(len(window))
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, snap := range window {
		sum += snap[metric]
	}
	mean = sum / n

	var sq float64
	for _, snap := range window {
		d := snap[metric] - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / n)
	return mean, stddev
}

// roundScore keeps anomaly risk scores bounded and readable; extreme z values
// (constant history broken) collapse to a fixed ceiling.
func roundScore(abs float64) float64 {
	if math.IsInf(abs, 1) || abs > 10 {
		return 10
	}
	return math.Round(abs*10) / 10
}
