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
)

// LockoutConfig configures the control-plane lockout endpoint.
type LockoutConfig struct {
	// URL is the control-plane endpoint that executes the lockout.
	URL string `koanf:"url" validate:"required,url"`

	// Token is sent as a bearer token when non-empty.
	Token string `koanf:"token"`

	Timeout  time.Duration `koanf:"timeout"`
	RetryMax int           `koanf:"retry_max"`
}

// HTTPLocker asks the platform control plane to lock an agent. Lockouts are
// idempotent on the control-plane side, so bounded retries are safe.
type HTTPLocker struct {
	url    string
	token  string
	client *retryablehttp.Client
}

// NewHTTPLocker creates a control-plane backed locker.
func NewHTTPLocker(cfg LockoutConfig) *HTTPLocker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = 3
	}

	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &HTTPLocker{
		url:    cfg.URL,
		token:  cfg.Token,
		client: client,
	}
}

// Lock posts the lockout request. Implements AgentLocker.
func (l *HTTPLocker) Lock(ctx context.Context, agentID, reason string) error {
	body, err := json.Marshal(map[string]string{
		"agent_id": agentID,
		"reason":   reason,
	})
	if err != nil {
		return fmt.Errorf("marshal lockout request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create lockout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("lockout request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("control plane returned status %d", resp.StatusCode)
	}
	return nil
}
