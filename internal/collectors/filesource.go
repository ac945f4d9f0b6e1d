// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package collectors

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
)

// FileAuthSource reads authentication events from a JSON-lines file written
// by the platform. The file is append-only from the platform's side; reads
// are non-destructive and return the full list each time.
type FileAuthSource struct {
	Path string
}

// Events reads every record in the file. A missing file is an empty source,
// not an error: the platform may not have produced events yet. Malformed
// lines are skipped so one bad record never wedges the poller.
func (s *FileAuthSource) Events(ctx context.Context) ([]AuthEvent, error) {
	var events []AuthEvent
	err := readJSONLines(ctx, s.Path, "auth", func(line []byte) error {
		var ev AuthEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	return events, err
}

// FileAuthzSource reads authorization decisions from a JSON-lines file.
type FileAuthzSource struct {
	Path string
}

// Decisions returns records with a timestamp after since.
func (s *FileAuthzSource) Decisions(ctx context.Context, since time.Time) ([]AuthzDecision, error) {
	var decisions []AuthzDecision
	err := readJSONLines(ctx, s.Path, "authz", func(line []byte) error {
		var d AuthzDecision
		if err := json.Unmarshal(line, &d); err != nil {
			return err
		}
		if d.Timestamp.After(since) {
			decisions = append(decisions, d)
		}
		return nil
	})
	return decisions, err
}

// readJSONLines feeds each non-empty line to fn. A line fn rejects is
// skipped with a warning, never an error: failing the whole read would stall
// the calling poller behind one bad record.
func readJSONLines(ctx context.Context, path, collector string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			metrics.CollectorErrors.WithLabelValues(collector, "malformed").Inc()
			logging.Warn().Err(err).
				Str("path", path).
				Int("line", lineNo).
				Msg("skipping malformed record")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}
