// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package collectors

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/models"
	"github.com/agentwatch/agentwatch/internal/risk"
)

type fakeQueue struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (q *fakeQueue) Publish(ctx context.Context, event *models.SecurityEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, event)
	return nil
}

func (q *fakeQueue) published() []*models.SecurityEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.SecurityEvent, len(q.events))
	copy(out, q.events)
	return out
}

type allowFunc func(agent, resource, action string) bool

func (f allowFunc) IsAllowed(agent, resource, action string) bool { return f(agent, resource, action) }

func allowAll() allowFunc {
	return func(string, string, string) bool { return true }
}

func denyAll() allowFunc {
	return func(string, string, string) bool { return false }
}

func newScorer(allow allowFunc) (*risk.Scorer, *risk.ActivityTracker) {
	tracker := risk.NewActivityTracker()
	return risk.NewScorer(risk.DefaultConfig(), allow, tracker), tracker
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}

func TestAuditCollectorStartsAtEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writeLines(t, path, `{"agent_id":"agent-old","method":"query","server_name":"db"}`)

	queue := &fakeQueue{}
	scorer, tracker := newScorer(allowAll())
	c := NewAuditCollector(AuditConfig{Path: path, PollInterval: 10 * time.Millisecond}, queue, scorer, tracker)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	c.tailOnce(ctx)

	// The pre-existing line must not be replayed.
	if got := queue.published(); len(got) != 0 {
		t.Fatalf("published %d events from history, want 0", len(got))
	}
}

func TestAuditCollectorTailsNewRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writeLines(t, path, `{"agent_id":"agent-old","method":"query","server_name":"db"}`)

	queue := &fakeQueue{}
	scorer, tracker := newScorer(allowAll())
	c := NewAuditCollector(AuditConfig{Path: path, PollInterval: 5 * time.Millisecond}, queue, scorer, tracker)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.tailOnce(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	writeLines(t, path,
		`{"agent_id":"agent-1","method":"read_tool","server_name":"payments-db","duration_ms":42.5,"source_ip":"10.0.0.9","user_agent":"cli-7"}`,
		`not valid json`,
		`{"agent_id":"agent-1","method":"write_tool","server_name":"payments-db","status":"error"}`,
	)
	<-done

	got := queue.published()
	if len(got) != 2 {
		t.Fatalf("published %d events, want 2 (malformed line skipped)", len(got))
	}
	first := got[0]
	if first.AgentID != "agent-1" || first.Type != models.EventTypeInteraction {
		t.Errorf("event = agent %q type %q", first.AgentID, first.Type)
	}
	if first.Resource != "payments-db" || first.Action != "read_tool" {
		t.Errorf("resource/action = %q/%q", first.Resource, first.Action)
	}
	if first.SourceIP != "10.0.0.9" || first.ClientID != "cli-7" {
		t.Errorf("source_ip/client_id = %q/%q", first.SourceIP, first.ClientID)
	}
	if !first.Severity.Valid() {
		t.Errorf("severity %q not derived", first.Severity)
	}

	// Both records fed the activity tracker.
	if rate := tracker.RequestRate("agent-1"); rate != 2 {
		t.Errorf("tracked request rate = %v, want 2", rate)
	}
	if errRate := tracker.ErrorRate("agent-1"); errRate != 0.5 {
		t.Errorf("tracked error rate = %v, want 0.5", errRate)
	}
}

func TestAuditCollectorFlagsUnauthorized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writeLines(t, path, "")

	queue := &fakeQueue{}
	scorer, tracker := newScorer(denyAll())
	c := NewAuditCollector(AuditConfig{Path: path, PollInterval: 5 * time.Millisecond}, queue, scorer, tracker)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.tailOnce(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	writeLines(t, path, `{"agent_id":"agent-1","method":"query","server_name":"payments-db"}`)
	<-done

	got := queue.published()
	if len(got) != 1 {
		t.Fatalf("published %d events, want 1", len(got))
	}
	if got[0].Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL for unauthorized access", got[0].Severity)
	}
	if got[0].RiskScore < risk.WeightUnauthorizedAccess {
		t.Errorf("risk score = %v, want at least %v", got[0].RiskScore, risk.WeightUnauthorizedAccess)
	}
}

func TestAuditCollectorResumesAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writeLines(t, path, `{"agent_id":"agent-old","method":"query","server_name":"db"}`)

	queue := &fakeQueue{}
	scorer, tracker := newScorer(allowAll())
	c := NewAuditCollector(AuditConfig{Path: path, PollInterval: 5 * time.Millisecond}, queue, scorer, tracker)

	// Simulate a previous tail that had consumed past the rotated file's size.
	c.started = true
	c.offset = 1 << 20

	if err := os.WriteFile(path, []byte(`{"agent_id":"agent-2","method":"query","server_name":"db"}`+"\n"), 0o644); err != nil {
		t.Fatalf("rewrite log: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	c.tailOnce(ctx)

	got := queue.published()
	if len(got) != 1 || got[0].AgentID != "agent-2" {
		t.Fatalf("published %v, want the post-rotation record", got)
	}
}

func TestAuditCollectorObservesResponseTime(t *testing.T) {
	queue := &fakeQueue{}
	scorer, tracker := newScorer(allowAll())
	c := NewAuditCollector(AuditConfig{Path: "unused"}, queue, scorer, tracker)

	before := testutil.CollectAndCount(metrics.ResponseTime)
	line := []byte(`{"agent_id":"agent-1","method":"call_tool","server_name":"latency-test-server","duration_ms":42.5}`)
	if err := c.handleLine(context.Background(), line); err != nil {
		t.Fatalf("handleLine() error = %v", err)
	}

	// A fresh (server, method) pair means a new histogram series.
	if after := testutil.CollectAndCount(metrics.ResponseTime); after != before+1 {
		t.Errorf("response time series = %d, want %d", after, before+1)
	}
}

type fakeAuthSource struct {
	mu     sync.Mutex
	events []AuthEvent
}

func (s *fakeAuthSource) Events(ctx context.Context) ([]AuthEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuthEvent(nil), s.events...), nil
}

func (s *fakeAuthSource) add(events ...AuthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func TestAuthCollectorBruteForce(t *testing.T) {
	source := &fakeAuthSource{}
	queue := &fakeQueue{}
	c := NewAuthCollector(AuthConfig{FailureThreshold: 5}, source, queue)

	ctx := context.Background()

	// Four failures: below threshold, nothing emitted.
	for i := 0; i < 4; i++ {
		source.add(AuthEvent{AgentID: "agent-1", Success: false, SourceIP: "10.0.0.9"})
	}
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if got := queue.published(); len(got) != 0 {
		t.Fatalf("published %d events below threshold, want 0", len(got))
	}

	// Fifth failure crosses the threshold.
	source.add(AuthEvent{AgentID: "agent-1", Success: false, SourceIP: "10.0.0.9"})
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	got := queue.published()
	if len(got) != 1 {
		t.Fatalf("published %d events, want 1", len(got))
	}
	event := got[0]
	if event.Type != models.EventTypeAuthentication || event.Pattern() != "repeated_failures" {
		t.Errorf("event type %q pattern %q", event.Type, event.Pattern())
	}
	if event.Details["failure_count"] != 5 {
		t.Errorf("failure_count = %v, want 5", event.Details["failure_count"])
	}
}

func TestAuthCollectorSuccessResetsFailures(t *testing.T) {
	source := &fakeAuthSource{}
	queue := &fakeQueue{}
	c := NewAuthCollector(AuthConfig{FailureThreshold: 5}, source, queue)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		source.add(AuthEvent{AgentID: "agent-1", Success: false})
	}
	source.add(AuthEvent{AgentID: "agent-1", Success: true})
	for i := 0; i < 4; i++ {
		source.add(AuthEvent{AgentID: "agent-1", Success: false})
	}
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}

	if got := queue.published(); len(got) != 0 {
		t.Fatalf("published %d events, want 0 (success reset the counter)", len(got))
	}
}

func TestAuthCollectorSessionLifecycle(t *testing.T) {
	const agent = "session-test-agent"
	source := &fakeAuthSource{}
	queue := &fakeQueue{}
	c := NewAuthCollector(AuthConfig{FailureThreshold: 2}, source, queue)

	ctx := context.Background()
	successBefore := testutil.ToFloat64(metrics.AuthenticationAttempts.WithLabelValues(agent, "success"))
	failureBefore := testutil.ToFloat64(metrics.AuthenticationAttempts.WithLabelValues(agent, "failure"))

	source.add(AuthEvent{AgentID: agent, Success: true})
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.ActiveSessions.WithLabelValues(agent)); got != 1 {
		t.Errorf("active sessions after login = %v, want 1", got)
	}

	// A second successful login is a new attempt but not a new session.
	source.add(AuthEvent{AgentID: agent, Success: true})
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.ActiveSessions.WithLabelValues(agent)); got != 1 {
		t.Errorf("active sessions after repeat login = %v, want 1", got)
	}

	// A lockout-worthy failure streak ends the session.
	source.add(
		AuthEvent{AgentID: agent, Success: false},
		AuthEvent{AgentID: agent, Success: false},
	)
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.ActiveSessions.WithLabelValues(agent)); got != 0 {
		t.Errorf("active sessions after lockout = %v, want 0", got)
	}

	successAfter := testutil.ToFloat64(metrics.AuthenticationAttempts.WithLabelValues(agent, "success"))
	failureAfter := testutil.ToFloat64(metrics.AuthenticationAttempts.WithLabelValues(agent, "failure"))
	if successAfter != successBefore+2 {
		t.Errorf("success attempts = %v, want %v", successAfter, successBefore+2)
	}
	if failureAfter != failureBefore+2 {
		t.Errorf("failure attempts = %v, want %v", failureAfter, failureBefore+2)
	}
}

func TestAuthCollectorReadsNonDestructively(t *testing.T) {
	source := &fakeAuthSource{}
	queue := &fakeQueue{}
	c := NewAuthCollector(AuthConfig{FailureThreshold: 2}, source, queue)

	ctx := context.Background()
	source.add(
		AuthEvent{AgentID: "agent-1", Success: false},
		AuthEvent{AgentID: "agent-1", Success: false},
	)
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if got := queue.published(); len(got) != 1 {
		t.Fatalf("published %d events, want 1", len(got))
	}

	// Re-polling the unchanged source must not re-count old records.
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if got := queue.published(); len(got) != 1 {
		t.Fatalf("published %d events after re-poll, want still 1", len(got))
	}
}

type fakeAuthzSource struct {
	decisions []AuthzDecision
}

func (s *fakeAuthzSource) Decisions(ctx context.Context, since time.Time) ([]AuthzDecision, error) {
	var out []AuthzDecision
	for _, d := range s.decisions {
		if d.Timestamp.After(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestAuthzCollectorPrivilegeEscalation(t *testing.T) {
	now := time.Now()
	source := &fakeAuthzSource{decisions: []AuthzDecision{
		{AgentID: "agent-1", Resource: "payments-db", Action: "drop_table", Decision: DecisionDenied, Timestamp: now.Add(time.Second)},
		{AgentID: "agent-2", Resource: "payments-db", Action: "read", Decision: DecisionAllowed, Timestamp: now.Add(2 * time.Second)},
	}}

	queue := &fakeQueue{}
	scorer, _ := newScorer(denyAll())
	c := NewAuthzCollector(AuthzConfig{}, source, queue, scorer)
	c.since = now

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll() error = %v", err)
	}

	got := queue.published()
	if len(got) != 1 {
		t.Fatalf("published %d events, want 1 (only the denied decision)", len(got))
	}
	event := got[0]
	if event.Type != models.EventTypeAuthorization || event.Pattern() != "privilege_escalation" {
		t.Errorf("event type %q pattern %q", event.Type, event.Pattern())
	}
	if event.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want HIGH", event.Severity)
	}
	if len(event.ComplianceTags) != 2 || event.ComplianceTags[0] != "SOX" || event.ComplianceTags[1] != "PCI_DSS" {
		t.Errorf("compliance tags = %v, want [SOX PCI_DSS]", event.ComplianceTags)
	}
}

func TestAuthzCollectorAdvancesWindow(t *testing.T) {
	now := time.Now()
	source := &fakeAuthzSource{decisions: []AuthzDecision{
		{AgentID: "agent-1", Resource: "db", Action: "drop", Decision: DecisionDenied, Timestamp: now.Add(time.Second)},
	}}

	queue := &fakeQueue{}
	scorer, _ := newScorer(denyAll())
	c := NewAuthzCollector(AuthzConfig{}, source, queue, scorer)
	c.since = now

	ctx := context.Background()
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	// Second poll over the same source sees nothing new.
	if err := c.poll(ctx); err != nil {
		t.Fatalf("poll() error = %v", err)
	}

	if got := queue.published(); len(got) != 1 {
		t.Fatalf("published %d events, want 1 (window advanced past consumed rows)", len(got))
	}
}

func TestAuthzCollectorBelowThreshold(t *testing.T) {
	now := time.Now()
	source := &fakeAuthzSource{decisions: []AuthzDecision{
		{AgentID: "agent-1", Resource: "db", Action: "read", Decision: DecisionDenied, Timestamp: now.Add(time.Second)},
	}}

	queue := &fakeQueue{}
	// Allow-list permits the triple: the denial scores below the threshold.
	scorer, _ := newScorer(allowAll())
	c := NewAuthzCollector(AuthzConfig{}, source, queue, scorer)
	c.since = now

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if got := queue.published(); len(got) != 0 {
		t.Fatalf("published %d events, want 0 for low-risk denial", len(got))
	}
}
