// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/agentwatch/agentwatch/internal/models"
)

// WebhookConfig configures one HTTP-posting notification channel. The chat,
// pager, and incident_creation channels are all instances of this type with
// different names and endpoints.
type WebhookConfig struct {
	Name        string            `koanf:"name" validate:"required"`
	URL         string            `koanf:"url" validate:"required,url"`
	Headers     map[string]string `koanf:"headers"`
	Timeout     time.Duration     `koanf:"timeout"`
	RetryMax    int               `koanf:"retry_max"`
	RateLimitMs int               `koanf:"rate_limit_ms"`
}

// WebhookChannel posts alert payloads to an HTTP endpoint with bounded
// retries and a per-channel rate limit.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *retryablehttp.Client
	limiter *rate.Limiter
}

// WebhookPayload is the JSON body sent to the endpoint.
type WebhookPayload struct {
	Alert     *models.Alert `json:"alert"`
	EventType string        `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
}

// NewWebhookChannel creates an HTTP notification channel.
func NewWebhookChannel(cfg WebhookConfig) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = 3
	}
	interval := time.Duration(cfg.RateLimitMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.HTTPClient.Timeout = timeout
	client.Logger = nil // errors surface through Send; no per-attempt noise

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &WebhookChannel{
		name:    cfg.Name,
		url:     cfg.URL,
		headers: headers,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Name returns the configured channel name.
func (c *WebhookChannel) Name() string { return c.name }

// Send posts the alert, honoring the rate limit and context cancellation.
func (c *WebhookChannel) Send(ctx context.Context, alert *models.Alert) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload := WebhookPayload{
		Alert:     alert,
		EventType: "security_alert",
		Timestamp: time.Now().UTC(),
		Source:    "agentwatch",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d", c.name, resp.StatusCode)
	}
	return nil
}
