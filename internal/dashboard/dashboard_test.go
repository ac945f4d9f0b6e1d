// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestWriteDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboards", "agentwatch.json")

	if err := Write(path, Default()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if len(d.Panels) != 4 {
		t.Fatalf("got %d panels, want 4", len(d.Panels))
	}

	// Every panel queries this process's metric families.
	for _, p := range d.Panels {
		if !strings.Contains(p.Query, "agentwatch_") {
			t.Errorf("panel %q query does not reference agentwatch metrics: %s", p.Title, p.Query)
		}
	}
}
