// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agentwatch/agentwatch/internal/alerting"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/models"
)

type fakeStore struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
	err    error
}

func (s *fakeStore) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeStore) saved() []*models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

type fakeChannel struct {
	mu    sync.Mutex
	name  string
	sent  []*models.Alert
	err   error
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, alert *models.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, alert)
	return nil
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func highRiskEngine(t *testing.T, channels ...string) *alerting.Engine {
	t.Helper()
	min := 8.0
	rules, err := alerting.CompileRules([]alerting.RuleConfig{{
		Name:       "high_risk",
		Conditions: alerting.ConditionConfig{MinRiskScore: &min},
		Channels:   channels,
		Cooldown:   0,
	}})
	if err != nil {
		t.Fatalf("CompileRules() error = %v", err)
	}
	return alerting.NewEngine(rules)
}

func pipelineEvent(agentID string, score float64) *models.SecurityEvent {
	event := models.NewSecurityEvent(agentID, models.EventTypeInteraction)
	event.Severity = models.SeverityHigh
	event.Resource = "payments-db"
	event.Action = "query"
	event.RiskScore = score
	return event
}

func TestQueuePublishBlocksAtCapacity(t *testing.T) {
	q := NewQueue(QueueConfig{Capacity: 2})
	defer q.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := q.Publish(ctx, pipelineEvent("agent-1", 1.0)); err != nil {
			t.Fatalf("Publish() #%d error = %v", i+1, err)
		}
	}

	// Queue full, no consumer: the next publish must block until its
	// context ends.
	blockCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := q.Publish(blockCtx, pipelineEvent("agent-1", 1.0))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Publish() at capacity error = %v, want deadline exceeded", err)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestPipelineDeliversInOrder(t *testing.T) {
	q := NewQueue(QueueConfig{Capacity: 10})
	defer q.Close()

	store := &fakeStore{}
	d := NewDispatcher(q, highRiskEngine(t, "chat"), alerting.NewRegistry(&fakeChannel{name: "chat"}), store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start order does not matter: the forwarder holds events until the
	// dispatcher's subscription is live.
	go q.Serve(ctx)
	go d.Serve(ctx)

	var want []string
	for i := 0; i < 5; i++ {
		event := pipelineEvent("agent-1", 1.0)
		want = append(want, event.EventID)
		if err := q.Publish(ctx, event); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for len(store.saved()) < 5 {
		select {
		case <-deadline:
			t.Fatalf("timed out: %d of 5 events persisted", len(store.saved()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	got := store.saved()
	for i, event := range got {
		if event.EventID != want[i] {
			t.Fatalf("event %d = %s, want %s (order violated)", i, event.EventID, want[i])
		}
	}
}

func TestQueueHoldsEventsUntilConsumerSubscribes(t *testing.T) {
	q := NewQueue(QueueConfig{Capacity: 10})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Forwarder running, no subscriber yet: published events must wait in
	// the queue rather than be dropped into an unsubscribed topic.
	go q.Serve(ctx)

	event := pipelineEvent("agent-1", 1.0)
	if err := q.Publish(ctx, event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	msgs, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.UUID != event.EventID {
			t.Errorf("delivered %s, want %s", msg.UUID, event.EventID)
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("event published before subscription was never delivered")
	}
}

func TestProcessDispatchesAndPersists(t *testing.T) {
	chat := &fakeChannel{name: "chat"}
	pager := &fakeChannel{name: "pager"}
	store := &fakeStore{}
	d := NewDispatcher(nil, highRiskEngine(t, "chat", "pager"), alerting.NewRegistry(chat, pager), store)

	counter := metrics.SecurityEvents.WithLabelValues(
		"agent-1", string(models.EventTypeInteraction), string(models.SeverityHigh))
	before := testutil.ToFloat64(counter)

	d.Process(context.Background(), pipelineEvent("agent-1", 9.0))

	if chat.count() != 1 || pager.count() != 1 {
		t.Errorf("channel sends = chat %d, pager %d, want 1 each", chat.count(), pager.count())
	}
	if len(store.saved()) != 1 {
		t.Errorf("persisted %d events, want 1", len(store.saved()))
	}
	if after := testutil.ToFloat64(counter); after != before+1 {
		t.Errorf("security event counter = %v, want %v", after, before+1)
	}
}

func TestProcessToleratesChannelFailure(t *testing.T) {
	broken := &fakeChannel{name: "chat", err: errors.New("webhook down")}
	pager := &fakeChannel{name: "pager"}
	store := &fakeStore{}
	d := NewDispatcher(nil, highRiskEngine(t, "chat", "pager"), alerting.NewRegistry(broken, pager), store)

	d.Process(context.Background(), pipelineEvent("agent-1", 9.0))

	// The failing channel does not block the healthy one or persistence.
	if pager.count() != 1 {
		t.Errorf("pager sends = %d, want 1", pager.count())
	}
	if len(store.saved()) != 1 {
		t.Errorf("persisted %d events, want 1", len(store.saved()))
	}
}

func TestProcessPersistsWithoutMatch(t *testing.T) {
	store := &fakeStore{}
	d := NewDispatcher(nil, highRiskEngine(t, "chat"), alerting.NewRegistry(&fakeChannel{name: "chat"}), store)

	d.Process(context.Background(), pipelineEvent("agent-1", 1.0))

	if len(store.saved()) != 1 {
		t.Errorf("persisted %d events, want 1 (persistence independent of alerting)", len(store.saved()))
	}
}

func TestProcessSurvivesPersistenceFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	d := NewDispatcher(nil, highRiskEngine(t, "chat"), alerting.NewRegistry(&fakeChannel{name: "chat"}), store)

	// At-most-once persistence: the failure is logged, not retried, and
	// Process returns normally.
	d.Process(context.Background(), pipelineEvent("agent-1", 9.0))
}

func TestEscalateRunsRulesSynchronously(t *testing.T) {
	chat := &fakeChannel{name: "chat"}
	email := &fakeChannel{name: "email"}

	rules, err := alerting.CompileRules([]alerting.RuleConfig{{
		Name: "compliance_violation_critical",
		Conditions: alerting.ConditionConfig{
			Fields:     map[string]string{"event_type": string(models.EventTypeComplianceViolation)},
			Severities: []models.Severity{models.SeverityCritical},
		},
		Channels: []string{"email", "chat"},
	}})
	if err != nil {
		t.Fatalf("CompileRules() error = %v", err)
	}

	d := NewDispatcher(nil, alerting.NewEngine(rules), alerting.NewRegistry(chat, email), &fakeStore{})

	v := models.NewComplianceViolation("encryption_posture", models.SeverityCritical)
	v.Description = "data at rest is not encrypted"
	if err := d.Escalate(context.Background(), v); err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}

	if chat.count() != 1 || email.count() != 1 {
		t.Errorf("channel sends = chat %d, email %d, want 1 each", chat.count(), email.count())
	}
}
