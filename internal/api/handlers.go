// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/agentwatch/agentwatch/internal/anomaly"
	"github.com/agentwatch/agentwatch/internal/compliance"
	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/models"
	"github.com/agentwatch/agentwatch/internal/store"
)

// EventQuerier reads persisted events.
type EventQuerier interface {
	QueryEvents(ctx context.Context, filter store.EventFilter) ([]*models.SecurityEvent, error)
}

// ViolationQuerier reads persisted violations.
type ViolationQuerier interface {
	QueryViolations(ctx context.Context, from, to time.Time, limit int) ([]*models.ComplianceViolation, error)
}

// BaselineSource exposes the anomaly tracker's per-agent state.
type BaselineSource interface {
	Baselines() []anomaly.AgentState
}

// ComplianceSource exposes the latest compliance scan outcome.
type ComplianceSource interface {
	Statuses() (map[string]compliance.ProbeStatus, time.Time)
}

// Handler implements the reporting endpoints.
type Handler struct {
	events     EventQuerier
	violations ViolationQuerier
	baselines  BaselineSource
	compliance ComplianceSource
	queueLen   func() int
	started    time.Time
}

// NewHandler creates the handler over the given data sources.
func NewHandler(events EventQuerier, violations ViolationQuerier, baselines BaselineSource, compliance ComplianceSource, queueLen func() int) *Handler {
	return &Handler{
		events:     events,
		violations: violations,
		baselines:  baselines,
		compliance: compliance,
		queueLen:   queueLen,
		started:    time.Now().UTC(),
	}
}

// Events serves GET /api/v1/events with from/to/agent/limit filters.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := timeRangeParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.events.QueryEvents(r.Context(), store.EventFilter{
		From:    from,
		To:      to,
		AgentID: r.URL.Query().Get("agent"),
		Limit:   limit,
	})
	if err != nil {
		logging.Err(err).Msg("event query failed")
		respondError(w, http.StatusInternalServerError, "event query failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// Violations serves GET /api/v1/violations with from/to/limit filters.
func (h *Handler) Violations(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := timeRangeParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	violations, err := h.violations.QueryViolations(r.Context(), from, to, limit)
	if err != nil {
		logging.Err(err).Msg("violation query failed")
		respondError(w, http.StatusInternalServerError, "violation query failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"violations": violations,
		"count":      len(violations),
	})
}

// Baselines serves GET /api/v1/baselines.
func (h *Handler) Baselines(w http.ResponseWriter, r *http.Request) {
	states := h.baselines.Baselines()
	respondJSON(w, http.StatusOK, map[string]any{
		"baselines": states,
		"count":     len(states),
	})
}

// Health serves GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	statuses, lastScan := h.compliance.Statuses()

	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"queue_depth":    h.queueLen(),
		"compliance": map[string]any{
			"last_scan": lastScan,
			"probes":    statuses,
		},
	}
	respondJSON(w, http.StatusOK, body)
}

// timeRangeParams parses from/to (RFC 3339) and limit query parameters.
func timeRangeParams(r *http.Request) (from, to time.Time, limit int, err error) {
	q := r.URL.Query()

	if v := q.Get("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid from: %w", err)
		}
	}
	if v := q.Get("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid to: %w", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("invalid limit %q", v)
		}
	}
	return from, to, limit, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Err(err).Msg("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
