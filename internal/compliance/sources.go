// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

package compliance

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// platformState is the JSON document the platform's control plane publishes
// describing its own posture.
type platformState struct {
	Encryption struct {
		AtRest    bool `json:"at_rest"`
		InTransit bool `json:"in_transit"`
	} `json:"encryption"`
	Duties map[string][]string `json:"duties"`
}

// FilePlatformState reads platform posture from a control-plane-written JSON
// file. It serves both the encryption and duty-assignment probes. A missing
// or unreadable file is an error, which the scanner reports as inconclusive
// rather than a pass.
type FilePlatformState struct {
	Path string
}

// Posture implements EncryptionSource.
func (s *FilePlatformState) Posture(ctx context.Context) (EncryptionPosture, error) {
	state, err := s.read(ctx)
	if err != nil {
		return EncryptionPosture{}, err
	}
	return EncryptionPosture{
		AtRest:    state.Encryption.AtRest,
		InTransit: state.Encryption.InTransit,
	}, nil
}

// Assignments implements DutySource.
func (s *FilePlatformState) Assignments(ctx context.Context) (map[string][]string, error) {
	state, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return state.Duties, nil
}

func (s *FilePlatformState) read(ctx context.Context) (*platformState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read platform state: %w", err)
	}
	state := &platformState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse platform state %s: %w", s.Path, err)
	}
	return state, nil
}
