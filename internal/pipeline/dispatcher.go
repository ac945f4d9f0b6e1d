// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"

	"github.com/agentwatch/agentwatch/internal/alerting"
	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/models"
)

// EventStore persists security events.
type EventStore interface {
	SaveEvent(ctx context.Context, event *models.SecurityEvent) error
}

// Dispatcher is the sole consumer of the event queue. For each event it
// evaluates alert rules, dispatches resulting alerts across all configured
// channels tolerating partial failure, then persists the event regardless of
// alert outcome.
type Dispatcher struct {
	queue    *Queue
	engine   *alerting.Engine
	registry *alerting.Registry
	store    EventStore
}

// NewDispatcher creates the dispatcher.
func NewDispatcher(queue *Queue, engine *alerting.Engine, registry *alerting.Registry, store EventStore) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		engine:   engine,
		registry: registry,
		store:    store,
	}
}

// Serve drains the queue until the context is cancelled. Implements
// suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	msgs, err := d.queue.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			event, err := models.UnmarshalSecurityEvent(msg.Payload)
			if err != nil {
				// Malformed records are skipped, never fatal.
				logging.Err(err).Str("message", msg.UUID).Msg("dropping malformed event")
				msg.Ack()
				continue
			}
			d.Process(ctx, event)
			msg.Ack()
		}
	}
}

// Process runs one event through rules, channels, and persistence.
func (d *Dispatcher) Process(ctx context.Context, event *models.SecurityEvent) {
	metrics.RecordSecurityEvent(event.AgentID, string(event.Type), string(event.Severity))

	for _, alert := range d.engine.Evaluate(event) {
		d.dispatch(ctx, alert)
	}

	// Persistence is never skipped because of alerting failures. At most
	// once: a failed write is logged, not requeued.
	if err := d.store.SaveEvent(ctx, event); err != nil {
		metrics.PersistenceErrors.Inc()
		logging.Err(err).Str("event", event.EventID).Msg("persist event")
	}
}

// dispatch sends one alert to every channel its rule names. A failure on one
// channel is logged and does not block the others.
func (d *Dispatcher) dispatch(ctx context.Context, alert *models.Alert) {
	for _, name := range alert.Channels {
		channel, ok := d.registry.Get(name)
		if !ok {
			// Rules are validated against the registry at startup; a miss
			// here means the registry changed underneath us.
			logging.Error().
				Str("rule", alert.RuleName).
				Str("channel", name).
				Msg("alert references unregistered channel")
			continue
		}
		if err := channel.Send(ctx, alert); err != nil {
			metrics.ChannelFailures.WithLabelValues(name).Inc()
			logging.Err(err).
				Str("rule", alert.RuleName).
				Str("channel", name).
				Str("agent", alert.Event.AgentID).
				Msg("alert channel failed")
			continue
		}
		metrics.AlertsDispatched.WithLabelValues(alert.RuleName, name).Inc()
	}

	logging.Info().
		Str("rule", alert.RuleName).
		Str("agent", alert.Event.AgentID).
		Str("severity", string(alert.Event.Severity)).
		Float64("risk_score", alert.Event.RiskScore).
		Msg("alert dispatched")
}

// Escalate routes a compliance violation through the same rule and channel
// path used for streamed events, synchronously, bypassing the queue.
// Satisfies the compliance scanner's escalator.
func (d *Dispatcher) Escalate(ctx context.Context, violation *models.ComplianceViolation) error {
	event := violation.Event()
	metrics.RecordSecurityEvent(event.AgentID, string(event.Type), string(event.Severity))

	for _, alert := range d.engine.Evaluate(event) {
		d.dispatch(ctx, alert)
	}
	return nil
}
