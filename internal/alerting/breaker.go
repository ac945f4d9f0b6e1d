// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/models"
)

// BreakerConfig configures the circuit breaker wrapped around a channel.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold uint32 `koanf:"failure_threshold"`

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration `koanf:"open_timeout"`
}

// DefaultBreakerConfig returns the reference breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// BreakerChannel wraps a channel with a circuit breaker so that a dead
// notification target fails fast instead of stalling every dispatch on its
// timeout.
type BreakerChannel struct {
	inner   Channel
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// WithBreaker wraps the channel in a circuit breaker.
func WithBreaker(inner Channel, cfg BreakerConfig) *BreakerChannel {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("channel", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("notification channel breaker state change")
		},
	}

	return &BreakerChannel{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Name returns the wrapped channel's name.
func (c *BreakerChannel) Name() string { return c.inner.Name() }

// Send delivers through the breaker.
func (c *BreakerChannel) Send(ctx context.Context, alert *models.Alert) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.inner.Send(ctx, alert)
	})
	return err
}

// State returns the breaker state string for health reporting.
func (c *BreakerChannel) State() string {
	return c.breaker.State().String()
}
