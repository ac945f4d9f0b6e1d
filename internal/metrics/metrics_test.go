// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAuthAttempt(t *testing.T) {
	before := testutil.ToFloat64(AuthenticationAttempts.WithLabelValues("metrics-test-agent", "failure"))
	RecordAuthAttempt("metrics-test-agent", false)
	after := testutil.ToFloat64(AuthenticationAttempts.WithLabelValues("metrics-test-agent", "failure"))

	if after != before+1 {
		t.Errorf("failure counter = %v, want %v", after, before+1)
	}

	RecordAuthAttempt("metrics-test-agent", true)
	if got := testutil.ToFloat64(AuthenticationAttempts.WithLabelValues("metrics-test-agent", "success")); got < 1 {
		t.Errorf("success counter = %v, want >= 1", got)
	}
}

func TestRecordSecurityEvent(t *testing.T) {
	before := testutil.ToFloat64(SecurityEvents.WithLabelValues("metrics-test-agent", "interaction", "HIGH"))
	RecordSecurityEvent("metrics-test-agent", "interaction", "HIGH")
	after := testutil.ToFloat64(SecurityEvents.WithLabelValues("metrics-test-agent", "interaction", "HIGH"))

	if after != before+1 {
		t.Errorf("security event counter = %v, want %v", after, before+1)
	}
}

func TestObserveResponseTime(t *testing.T) {
	// Histograms only need to accept observations without panicking; the
	// exposition format is covered by client_golang itself.
	ObserveResponseTime("tools-server", "call_tool", 42*time.Millisecond)
	ObserveResponseTime("tools-server", "call_tool", 1200*time.Millisecond)

	count := testutil.CollectAndCount(ResponseTime)
	if count == 0 {
		t.Error("expected response time histogram to collect at least one series")
	}
}
