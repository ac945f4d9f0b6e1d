// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package risk

import (
	"sync"
	"time"
)

const (
	requestWindow = time.Minute
	errorWindow   = 5 * time.Minute
)

// ActivityTracker maintains per-agent sliding windows of request and error
// timestamps. It implements ActivityStats for the scorer and also backs the
// anomaly tracker's hourly snapshots.
//
// Writes come from the collectors; reads from the scorer and the anomaly
// tick. A single mutex is sufficient at telemetry volumes where the scoring
// thresholds (100 req/min) live.
type ActivityTracker struct {
	mu     sync.Mutex
	agents map[string]*agentActivity
	now    func() time.Time
}

type agentActivity struct {
	requests  []time.Time
	errors    []time.Time
	resources map[string]struct{}
}

// NewActivityTracker creates an empty tracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		agents: make(map[string]*agentActivity),
		now:    time.Now,
	}
}

// Record registers one request for the agent, optionally marking it as an
// error and noting the resource touched.
func (t *ActivityTracker) Record(agentID, resource string, isError bool) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.agents[agentID]
	if a == nil {
		a = &agentActivity{resources: make(map[string]struct{})}
		t.agents[agentID] = a
	}

	a.requests = append(a.requests, now)
	if isError {
		a.errors = append(a.errors, now)
	}
	if resource != "" {
		a.resources[resource] = struct{}{}
	}

	a.prune(now)
}

// RequestRate returns the agent's request count over the trailing minute.
func (t *ActivityTracker) RequestRate(agentID string) float64 {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.agents[agentID]
	if a == nil {
		return 0
	}
	a.prune(now)

	cutoff := now.Add(-requestWindow)
	var n int
	for _, ts := range a.requests {
		if ts.After(cutoff) {
			n++
		}
	}
	return float64(n)
}

// ErrorRate returns the agent's error ratio over the trailing five minutes,
// or 0 when the agent made no requests in that window.
func (t *ActivityTracker) ErrorRate(agentID string) float64 {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.agents[agentID]
	if a == nil {
		return 0
	}
	a.prune(now)

	if len(a.requests) == 0 {
		return 0
	}
	return float64(len(a.errors)) / float64(len(a.requests))
}

// Snapshot returns the current per-agent counters consumed by the anomaly
// baseline tracker: request count, error count, and distinct resources
// touched since the previous snapshot. Resource sets reset on snapshot;
// request/error windows keep sliding.
func (t *ActivityTracker) Snapshot() map[string]map[string]float64 {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]map[string]float64, len(t.agents))
	for agentID, a := range t.agents {
		a.prune(now)
		out[agentID] = map[string]float64{
			"request_count":      float64(len(a.requests)),
			"error_count":        float64(len(a.errors)),
			"distinct_resources": float64(len(a.resources)),
		}
		a.resources = make(map[string]struct{})
	}
	return out
}

// prune drops entries older than the largest window. Caller holds t.mu.
func (a *agentActivity) prune(now time.Time) {
	cutoff := now.Add(-errorWindow)
	a.requests = dropBefore(a.requests, cutoff)
	a.errors = dropBefore(a.errors, cutoff)
}

func dropBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
