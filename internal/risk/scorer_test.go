// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package risk

import (
	"testing"
	"time"

	"github.com/agentwatch/agentwatch/internal/models"
)

type staticAuthorizer map[string]bool

func (a staticAuthorizer) IsAllowed(agent, resource, action string) bool {
	return a[agent+"/"+resource+"/"+action]
}

type staticStats struct {
	rate    float64
	errRate float64
}

func (s staticStats) RequestRate(string) float64 { return s.rate }
func (s staticStats) ErrorRate(string) float64   { return s.errRate }

func at(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 0, 0, 0, time.Local)
}

func TestScoreUnauthorizedAccess(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), staticAuthorizer{}, staticStats{})

	indicators := scorer.Score(Interaction{
		AgentID: "a2", Resource: "payments-db", Action: "write", Time: at(14),
	})

	if len(indicators) != 1 {
		t.Fatalf("got %d indicators, want 1: %+v", len(indicators), indicators)
	}
	if indicators[0].Type != models.IndicatorUnauthorizedAccess {
		t.Errorf("type = %q, want unauthorized_access", indicators[0].Type)
	}
	if indicators[0].Weight != 8.0 {
		t.Errorf("weight = %v, want 8.0", indicators[0].Weight)
	}
	if sev := scorer.DeriveSeverity(indicators); sev != models.SeverityCritical {
		t.Errorf("severity = %q, want CRITICAL", sev)
	}
}

func TestScoreHighVolumeAuthorized(t *testing.T) {
	// 150 requests in one minute, no errors, authorized resource, 14:00.
	allow := staticAuthorizer{"a1/tools-server/call_tool": true}
	scorer := NewScorer(DefaultConfig(), allow, staticStats{rate: 150})

	indicators := scorer.Score(Interaction{
		AgentID: "a1", Resource: "tools-server", Action: "call_tool", Time: at(14),
	})

	if len(indicators) != 1 {
		t.Fatalf("got %d indicators, want exactly 1: %+v", len(indicators), indicators)
	}
	if indicators[0].Type != models.IndicatorHighRequestVolume {
		t.Errorf("type = %q, want high_request_volume", indicators[0].Type)
	}
	if indicators[0].Weight != 5.0 {
		t.Errorf("weight = %v, want 5.0", indicators[0].Weight)
	}
	if sev := scorer.DeriveSeverity(indicators); sev != models.SeverityMedium {
		t.Errorf("severity = %q, want MEDIUM", sev)
	}
}

func TestScoreUnauthorizedOffHours(t *testing.T) {
	// Unauthorized access at 02:00: 8.0 + 3.0 = 11.0, CRITICAL.
	scorer := NewScorer(DefaultConfig(), staticAuthorizer{}, staticStats{})

	indicators := scorer.Score(Interaction{
		AgentID: "a2", Resource: "secrets-server", Action: "read", Time: at(2),
	})

	if len(indicators) != 2 {
		t.Fatalf("got %d indicators, want 2: %+v", len(indicators), indicators)
	}
	if total := TotalScore(indicators); total != 11.0 {
		t.Errorf("total = %v, want 11.0", total)
	}
	if sev := scorer.DeriveSeverity(indicators); sev != models.SeverityCritical {
		t.Errorf("severity = %q, want CRITICAL", sev)
	}
}

func TestScoreOffHoursBoundaries(t *testing.T) {
	allow := staticAuthorizer{"a1/tools-server/call_tool": true}
	scorer := NewScorer(DefaultConfig(), allow, staticStats{})

	tests := []struct {
		hour     int
		offHours bool
	}{
		{5, true},
		{6, false},
		{14, false},
		{22, false},
		{23, true},
		{0, true},
	}

	for _, tt := range tests {
		indicators := scorer.Score(Interaction{
			AgentID: "a1", Resource: "tools-server", Action: "call_tool", Time: at(tt.hour),
		})
		got := len(indicators) == 1 && indicators[0].Type == models.IndicatorOffHoursAccess
		if got != tt.offHours {
			t.Errorf("hour %d: off-hours indicator = %v, want %v", tt.hour, got, tt.offHours)
		}
	}
}

func TestScoreHighErrorRate(t *testing.T) {
	allow := staticAuthorizer{"a1/tools-server/call_tool": true}
	scorer := NewScorer(DefaultConfig(), allow, staticStats{errRate: 0.25})

	indicators := scorer.Score(Interaction{
		AgentID: "a1", Resource: "tools-server", Action: "call_tool", Time: at(14),
	})

	if len(indicators) != 1 || indicators[0].Type != models.IndicatorHighErrorRate {
		t.Fatalf("expected single high_error_rate indicator, got %+v", indicators)
	}
	if indicators[0].Weight != 4.0 {
		t.Errorf("weight = %v, want 4.0", indicators[0].Weight)
	}
}

func TestDeriveSeverityBreakpoints(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name       string
		indicators []models.RiskIndicator
		want       models.Severity
	}{
		{"empty", nil, models.SeverityLow},
		{"below medium", []models.RiskIndicator{{Type: models.IndicatorOffHoursAccess, Weight: 3}}, models.SeverityLow},
		{"medium", []models.RiskIndicator{{Type: models.IndicatorHighErrorRate, Weight: 4}}, models.SeverityMedium},
		{
			"high from sum",
			[]models.RiskIndicator{
				{Type: models.IndicatorHighRequestVolume, Weight: 5},
				{Type: models.IndicatorHighErrorRate, Weight: 4},
			},
			models.SeverityHigh,
		},
		{
			"privilege escalation forces critical",
			[]models.RiskIndicator{{Type: models.IndicatorPrivilegeEscalation, Weight: 7}},
			models.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveSeverity(tt.indicators, cfg); got != tt.want {
				t.Errorf("DeriveSeverity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActivityTrackerRates(t *testing.T) {
	tracker := NewActivityTracker()
	now := time.Now()
	tracker.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		tracker.Record("a1", "tools-server", i < 2) // 2 errors, 10 requests
	}

	if rate := tracker.RequestRate("a1"); rate != 10 {
		t.Errorf("RequestRate = %v, want 10", rate)
	}
	if errRate := tracker.ErrorRate("a1"); errRate != 0.2 {
		t.Errorf("ErrorRate = %v, want 0.2", errRate)
	}
	if rate := tracker.RequestRate("unseen"); rate != 0 {
		t.Errorf("RequestRate(unseen) = %v, want 0", rate)
	}
}

func TestActivityTrackerPruning(t *testing.T) {
	tracker := NewActivityTracker()
	now := time.Now()
	tracker.now = func() time.Time { return now }

	tracker.Record("a1", "tools-server", false)

	// Advance past the one-minute request window but inside the error window.
	now = now.Add(2 * time.Minute)
	if rate := tracker.RequestRate("a1"); rate != 0 {
		t.Errorf("RequestRate after window = %v, want 0", rate)
	}

	// Advance past the five-minute error window; everything is pruned.
	now = now.Add(5 * time.Minute)
	if errRate := tracker.ErrorRate("a1"); errRate != 0 {
		t.Errorf("ErrorRate after window = %v, want 0", errRate)
	}
}

func TestActivityTrackerSnapshot(t *testing.T) {
	tracker := NewActivityTracker()
	now := time.Now()
	tracker.now = func() time.Time { return now }

	tracker.Record("a1", "tools-server", false)
	tracker.Record("a1", "docs-server", true)

	snap := tracker.Snapshot()
	a1 := snap["a1"]
	if a1 == nil {
		t.Fatal("expected snapshot for a1")
	}
	if a1["request_count"] != 2 || a1["error_count"] != 1 || a1["distinct_resources"] != 2 {
		t.Errorf("unexpected snapshot: %+v", a1)
	}

	// Resource set resets per snapshot; the sliding windows do not.
	snap = tracker.Snapshot()
	if snap["a1"]["distinct_resources"] != 0 {
		t.Errorf("distinct_resources = %v after reset, want 0", snap["a1"]["distinct_resources"])
	}
	if snap["a1"]["request_count"] != 2 {
		t.Errorf("request_count = %v, want 2 (window still open)", snap["a1"]["request_count"])
	}
}
