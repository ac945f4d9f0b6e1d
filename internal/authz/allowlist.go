// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package authz maintains the authorization allow-list consulted by risk
// scoring. A Casbin enforcer holds (agent, resource, action) triples; an
// interaction whose triple is absent is scored as unauthorized access.
package authz

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Config holds allow-list configuration.
type Config struct {
	// ModelPath is the path to a Casbin model file. Empty uses the embedded model.
	ModelPath string `koanf:"model_path"`

	// PolicyPath is the path to a Casbin policy CSV. Empty uses the embedded policy.
	PolicyPath string `koanf:"policy_path"`
}

// AllowList answers whether an (agent, resource, action) triple is permitted.
type AllowList struct {
	enforcer *casbin.SyncedEnforcer
}

// NewAllowList builds the enforcer from the configured model and policy.
// Unreadable files are a startup configuration error (fatal per the error
// handling design), so failures here propagate to the caller.
func NewAllowList(cfg Config) (*AllowList, error) {
	modelText := embeddedModel
	if cfg.ModelPath != "" {
		data, err := os.ReadFile(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("read authz model: %w", err)
		}
		modelText = string(data)
	}

	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("parse authz model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" {
		if _, err := os.Stat(cfg.PolicyPath); err != nil {
			return nil, fmt.Errorf("authz policy file: %w", err)
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
		if err != nil {
			return nil, fmt.Errorf("create enforcer: %w", err)
		}
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, fmt.Errorf("create enforcer: %w", err)
		}
		if err := loadEmbeddedPolicy(enforcer); err != nil {
			return nil, err
		}
	}

	return &AllowList{enforcer: enforcer}, nil
}

// loadEmbeddedPolicy writes the embedded policy to a temp file and loads it
// through the standard file adapter, keeping a single policy-parsing path.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer) error {
	tmp, err := os.CreateTemp("", "agentwatch-policy-*.csv")
	if err != nil {
		return fmt.Errorf("stage embedded policy: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(embeddedPolicy); err != nil {
		tmp.Close()
		return fmt.Errorf("stage embedded policy: %w", err)
	}
	tmp.Close()

	enforcer.SetAdapter(fileadapter.NewAdapter(tmp.Name()))
	if err := enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("load embedded policy: %w", err)
	}
	return nil
}

// IsAllowed reports whether the agent may perform action on resource.
// Enforcement errors are treated as "not allowed": a broken allow-list must
// fail closed, not grant access.
func (a *AllowList) IsAllowed(agent, resource, action string) bool {
	ok, err := a.enforcer.Enforce(agent, resource, action)
	if err != nil {
		return false
	}
	return ok
}

// Grant adds a triple to the allow-list. Used at startup when grants come
// from configuration rather than a policy file, and by tests.
func (a *AllowList) Grant(agent, resource, action string) error {
	if _, err := a.enforcer.AddPolicy(agent, resource, action); err != nil {
		return fmt.Errorf("add policy: %w", err)
	}
	return nil
}

// Grants returns all (agent, resource, action) triples currently loaded.
// The compliance scanner's least-privilege probe compares these against the
// platform's actual grant set.
func (a *AllowList) Grants() [][]string {
	grants, err := a.enforcer.GetPolicy()
	if err != nil {
		return nil
	}
	return grants
}
