// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
)

// Manager orchestrates checkpoint creation and startup recovery for the
// execution engine. It wraps a Store with the policy decisions
// (interval cadence, expiry, auto-resume) read from Config.
type Manager struct {
	config *Config
	store  Store
}

// NewManager creates a new checkpoint Manager over the given Store.
func NewManager(cfg *Config, store Store) *Manager {
	if cfg == nil {
		cfg = &Config{}
		cfg.SetDefaults()
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	return &Manager{config: cfg, store: store}
}

// IsEnabled returns whether checkpointing is enabled.
func (m *Manager) IsEnabled() bool {
	return m.config.IsEnabled()
}

// Config returns the checkpoint configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// Save persists a checkpoint snapshot unconditionally. Callers needing
// cadence-aware checkpointing should use SaveAtNodeCount or SaveOnWait.
func (m *Manager) Save(ctx context.Context, snap *Snapshot) error {
	if !m.IsEnabled() {
		return nil
	}
	if err := m.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save checkpoint for execution %s: %w", snap.ExecutionID, err)
	}
	slog.Debug("saved checkpoint", "execution_id", snap.ExecutionID, "waiting_for", snap.WaitingFor)
	return nil
}

// SaveAtNodeCount saves a checkpoint only if completedNodeCount lands on the
// configured interval boundary.
func (m *Manager) SaveAtNodeCount(ctx context.Context, snap *Snapshot, completedNodeCount int) error {
	if !m.config.ShouldCheckpointAtNodeCount(completedNodeCount) {
		return nil
	}
	return m.Save(ctx, snap)
}

// SaveOnWait saves a checkpoint for a waiting transition, tagging the
// snapshot with the wait kind and metadata so resume has what it needs.
func (m *Manager) SaveOnWait(ctx context.Context, snap *Snapshot, kind WaitKind, metadata map[string]any) error {
	if !m.config.ShouldCheckpointOnWait() {
		return nil
	}
	return m.Save(ctx, snap.WithWait(kind, metadata))
}

// Load retrieves a checkpoint snapshot by execution id, failing if it has
// expired according to the configured recovery timeout.
func (m *Manager) Load(ctx context.Context, executionID string) (*Snapshot, error) {
	snap, err := m.store.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if snap.IsExpired(m.config.GetRecoveryTimeout()) {
		return nil, fmt.Errorf("checkpoint for execution %s expired", executionID)
	}
	return snap, nil
}

// Clear removes the checkpoint for an execution, called once it reaches a
// terminal status.
func (m *Manager) Clear(ctx context.Context, executionID string) error {
	if !m.IsEnabled() {
		return nil
	}
	if err := m.store.Clear(ctx, executionID); err != nil {
		slog.Warn("failed to clear checkpoint", "execution_id", executionID, "error", err)
		return err
	}
	return nil
}

// RecoverResumable lists every waiting execution whose checkpoint has not
// expired, for a startup recovery sweep. Expired checkpoints are skipped and
// logged; the caller is responsible for marking their executions timed_out.
func (m *Manager) RecoverResumable(ctx context.Context) ([]*Snapshot, error) {
	if !m.config.ShouldAutoResume() {
		return nil, nil
	}

	all, err := m.store.ListResumable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resumable checkpoints: %w", err)
	}

	timeout := m.config.GetRecoveryTimeout()
	resumable := make([]*Snapshot, 0, len(all))
	for _, snap := range all {
		if snap.IsExpired(timeout) {
			slog.Warn("checkpoint expired, skipping auto-resume", "execution_id", snap.ExecutionID)
			continue
		}
		resumable = append(resumable, snap)
	}
	return resumable, nil
}
