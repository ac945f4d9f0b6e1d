// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package collectors

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/models"
	"github.com/agentwatch/agentwatch/internal/risk"
)

// AuditConfig holds audit-log tail collector settings.
type AuditConfig struct {
	// Path is the newline-delimited JSON audit log.
	Path string `koanf:"path" validate:"required"`

	// PollInterval is how often to re-check the file at EOF.
	PollInterval time.Duration `koanf:"poll_interval"`

	// ReopenDelay is the backoff before reopening after an I/O error.
	ReopenDelay time.Duration `koanf:"reopen_delay"`
}

// auditRecord is one line of the audit log.
type auditRecord struct {
	AgentID    string  `json:"agent_id"`
	Method     string  `json:"method"`
	ServerName string  `json:"server_name"`
	DurationMS float64 `json:"duration_ms"`
	SourceIP   string  `json:"source_ip"`
	UserAgent  string  `json:"user_agent"`
	Status     string  `json:"status"`
}

// AuditCollector tails the audit log, scores each interaction, and enqueues
// the resulting events. Tailing starts at end-of-file so a restart does not
// replay history; across reopens the collector resumes from its last file
// position.
type AuditCollector struct {
	cfg     AuditConfig
	queue   Publisher
	scorer  *risk.Scorer
	tracker *risk.ActivityTracker

	offset  int64
	started bool
}

// NewAuditCollector creates the audit-log collector.
func NewAuditCollector(cfg AuditConfig, queue Publisher, scorer *risk.Scorer, tracker *risk.ActivityTracker) *AuditCollector {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ReopenDelay <= 0 {
		cfg.ReopenDelay = time.Second
	}
	return &AuditCollector{
		cfg:     cfg,
		queue:   queue,
		scorer:  scorer,
		tracker: tracker,
	}
}

// Serve tails the log until the context is cancelled. I/O errors log, back
// off, and reopen; they never propagate. Implements suture.Service.
func (c *AuditCollector) Serve(ctx context.Context) error {
	for {
		if err := c.tailOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			metrics.CollectorErrors.WithLabelValues("audit", "io").Inc()
			logging.Err(err).Str("path", c.cfg.Path).Msg("audit tailer error, will reopen")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReopenDelay):
		}
	}
}

func (c *AuditCollector) tailOnce(ctx context.Context) error {
	f, err := os.Open(c.cfg.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	switch {
	case !c.started:
		// First open starts at EOF: history is not replayed.
		c.offset = st.Size()
		c.started = true
	case st.Size() < c.offset:
		// Truncation or rotation: start over from the top of the new file.
		logging.Warn().Str("path", c.cfg.Path).Msg("audit log truncated, restarting from beginning")
		c.offset = 0
	}

	if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
		return err
	}
	reader := bufio.NewReaderSize(f, 256*1024)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if st, statErr := f.Stat(); statErr == nil && st.Size() < c.offset {
					return fmt.Errorf("file truncated under tail")
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.cfg.PollInterval):
				}
				continue
			}
			return err
		}

		c.offset += int64(len(line))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := c.handleLine(ctx, line); err != nil {
			return err
		}
	}
}

// handleLine parses and scores one audit record. Malformed records are
// skipped; only queue publication errors (context ending) propagate.
func (c *AuditCollector) handleLine(ctx context.Context, line []byte) error {
	var rec auditRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		metrics.CollectorErrors.WithLabelValues("audit", "malformed").Inc()
		logging.Warn().Err(err).Msg("skipping malformed audit record")
		return nil
	}
	if rec.AgentID == "" {
		metrics.CollectorErrors.WithLabelValues("audit", "malformed").Inc()
		logging.Warn().Msg("skipping audit record without agent_id")
		return nil
	}

	isError := rec.Status == "error"
	c.tracker.Record(rec.AgentID, rec.ServerName, isError)
	metrics.ObserveResponseTime(rec.ServerName, rec.Method,
		time.Duration(rec.DurationMS*float64(time.Millisecond)))

	now := time.Now()
	indicators := c.scorer.Score(risk.Interaction{
		AgentID:  rec.AgentID,
		Resource: rec.ServerName,
		Action:   rec.Method,
		Time:     now,
		SourceIP: rec.SourceIP,
		ClientID: rec.UserAgent,
	})

	event := models.NewSecurityEvent(rec.AgentID, models.EventTypeInteraction)
	event.Resource = rec.ServerName
	event.Action = rec.Method
	event.SourceIP = rec.SourceIP
	event.ClientID = rec.UserAgent
	event.RiskScore = risk.TotalScore(indicators)
	event.Severity = c.scorer.DeriveSeverity(indicators)
	event.Details = map[string]any{
		"duration_ms": rec.DurationMS,
		"status":      rec.Status,
	}
	if len(indicators) > 0 {
		names := make([]string, len(indicators))
		for i, ind := range indicators {
			names[i] = string(ind.Type)
		}
		event.Details["indicators"] = names
	}

	return c.queue.Publish(ctx, event)
}
