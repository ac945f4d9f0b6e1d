// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline connects collectors to the dispatcher through a bounded
// FIFO event queue. Producers block when the queue is full; that blocking is
// the system's backpressure mechanism.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/models"
)

const eventTopic = "security_events"

// QueueConfig holds event queue settings.
type QueueConfig struct {
	// Capacity is the bounded queue size. Publishers block when the queue
	// holds this many unconsumed events.
	Capacity int `koanf:"capacity" validate:"min=1"`
}

// DefaultQueueConfig returns the reference queue settings.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Capacity: 1000}
}

// Queue is the bounded FIFO event queue between collectors and the
// dispatcher. A fixed-capacity buffer provides the bound; a single forwarder
// hands each buffered message to the Pub/Sub and waits for the consumer's
// ack, which keeps delivery strictly in arrival order.
type Queue struct {
	buf    chan *message.Message
	pubsub *gochannel.GoChannel

	// The Pub/Sub is not persistent: a message published with no live
	// subscriber is lost. The forwarder therefore waits on ready, which is
	// open whenever at least one subscriber is attached.
	mu    sync.Mutex
	subs  int
	ready chan struct{}
}

// NewQueue creates the queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultQueueConfig().Capacity
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            1,
		BlockPublishUntilSubscriberAck: true,
	}, newWatermillLogger())
	return &Queue{
		buf:    make(chan *message.Message, cfg.Capacity),
		pubsub: pubsub,
		ready:  make(chan struct{}),
	}
}

// Publish enqueues an event, blocking while the queue is at capacity. The
// block is released either by the dispatcher draining the queue or by the
// caller's context ending during shutdown.
func (q *Queue) Publish(ctx context.Context, event *models.SecurityEvent) error {
	payload, err := event.Marshal()
	if err != nil {
		return err
	}

	msg := message.NewMessage(event.EventID, payload)
	select {
	case q.buf <- msg:
		metrics.QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve forwards buffered messages to the subscriber one at a time, waiting
// for each ack before sending the next. Each forward waits for a live
// subscriber first: events buffered before the dispatcher subscribes, or
// while it restarts, stay in the queue instead of vanishing into an
// unsubscribed topic. Implements suture.Service.
func (q *Queue) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q.buf:
			metrics.QueueDepth.Dec()
			if err := q.awaitSubscriber(ctx); err != nil {
				return err
			}
			if err := q.pubsub.Publish(eventTopic, msg); err != nil {
				return fmt.Errorf("forward event %s: %w", msg.UUID, err)
			}
		}
	}
}

func (q *Queue) awaitSubscriber(ctx context.Context) error {
	q.mu.Lock()
	ready := q.ready
	q.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) addSubscriber() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs++
	if q.subs == 1 {
		close(q.ready)
	}
}

func (q *Queue) removeSubscriber() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs--
	if q.subs == 0 {
		q.ready = make(chan struct{})
	}
}

// Subscribe returns the consumer channel. The dispatcher is the only
// subscriber. The subscription counts toward forwarder readiness until its
// context ends.
func (q *Queue) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	msgs, err := q.pubsub.Subscribe(ctx, eventTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to event queue: %w", err)
	}
	q.addSubscriber()
	go func() {
		<-ctx.Done()
		q.removeSubscriber()
	}()
	return msgs, nil
}

// Len reports the number of buffered, undelivered events.
func (q *Queue) Len() int {
	return len(q.buf)
}

// Close shuts the Pub/Sub down, releasing a blocked forwarder.
func (q *Queue) Close() error {
	if err := q.pubsub.Close(); err != nil {
		return fmt.Errorf("close event queue: %w", err)
	}
	return nil
}

// watermillLogger adapts the global zerolog logger to watermill's interface.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) log(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.log(logging.Err(err), msg, fields)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log(logging.Debug(), msg, fields) // watermill info is operational noise
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log(logging.Debug(), msg, fields)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log(logging.Debug(), msg, fields)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &watermillLogger{fields: merged}
}
