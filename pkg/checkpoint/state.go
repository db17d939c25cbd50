// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint captures and restores durable process execution state.
//
// A Snapshot is a JSON-serializable copy of everything a process.State needs
// to resume: variables, completed/skipped nodes, the current node, and loop
// and parallel frames. Snapshots are stored as the ProcessExecution.checkpoint_data
// column by whatever Store implementation the persistence layer provides;
// this package only knows how to build, (de)serialize, redact, and expire them.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// WaitKind is the reason an execution paused, recorded on the snapshot so a
// resumed execution (and any external dispatcher) knows how to wake it.
type WaitKind string

const (
	WaitNone        WaitKind = ""
	WaitApproval    WaitKind = "approval"
	WaitHumanTask   WaitKind = "human_task"
	WaitDelay       WaitKind = "delay"
	WaitSchedule    WaitKind = "schedule"
	WaitEvent       WaitKind = "event"
	WaitSubProcess  WaitKind = "subprocess"
)

// LoopFrame mirrors a single entry of process.State's loop frame stack.
type LoopFrame struct {
	NodeID   string `json:"node_id"`
	Items    []any  `json:"items"`
	ItemVar  string `json:"item_var"`
	IndexVar string `json:"index_var"`
	Index    int    `json:"index"`
}

// ParallelFrame mirrors a single parallel_node_id entry of process.State's
// parallel frame map.
type ParallelFrame struct {
	Branches  [][]string     `json:"branches"`
	Completed []bool         `json:"completed"`
	Results   map[string]any `json:"results,omitempty"`
}

// Snapshot is the serializable form of process.State at a point in time,
// sufficient to resume an execution from its current node.
type Snapshot struct {
	ExecutionID string `json:"execution_id"`

	Variables      map[string]any `json:"variables"`
	CompletedNodes []string       `json:"completed_nodes"`
	SkippedNodes   []string       `json:"skipped_nodes"`
	NodeOutputs    map[string]any `json:"node_outputs"`
	CurrentNodeID  string         `json:"current_node_id"`

	LoopFrames     []LoopFrame              `json:"loop_frames,omitempty"`
	ParallelFrames map[string]ParallelFrame `json:"parallel_frames,omitempty"`

	NodesExecuted int `json:"nodes_executed"`

	// WaitingFor/WaitingMetadata are set when the snapshot was taken at a
	// waiting transition; empty otherwise.
	WaitingFor       WaitKind       `json:"waiting_for,omitempty"`
	WaitingMetadata  map[string]any `json:"waiting_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RedactionMarker replaces a sensitive variable's value in an exported
// (redacted) snapshot.
const RedactionMarker = "[REDACTED]"

// Serialize converts the Snapshot to JSON bytes.
func (s *Snapshot) Serialize() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot serialize nil checkpoint snapshot")
	}
	return json.Marshal(s)
}

// Deserialize reconstructs a Snapshot from JSON bytes.
func Deserialize(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot deserialize empty checkpoint data")
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint snapshot: %w", err)
	}
	return &snap, nil
}

// NewSnapshot creates a Snapshot with required identifying fields.
func NewSnapshot(executionID string) *Snapshot {
	return &Snapshot{
		ExecutionID:    executionID,
		Variables:      make(map[string]any),
		CompletedNodes: []string{},
		SkippedNodes:   []string{},
		NodeOutputs:    make(map[string]any),
		CreatedAt:      time.Now(),
	}
}

// WithWait marks the snapshot as taken at a waiting transition.
func (s *Snapshot) WithWait(kind WaitKind, metadata map[string]any) *Snapshot {
	s.WaitingFor = kind
	s.WaitingMetadata = metadata
	return s
}

// Redact returns a copy of the snapshot with the named variables' values
// replaced by RedactionMarker, safe to hand to logs, audit records, or any
// other externally observable payload. The copy is shallow apart from the
// top-level Variables map, so nested values are shared with s; when s is nil
// or sensitive is empty, s itself is returned.
func (s *Snapshot) Redact(sensitive []string) *Snapshot {
	if s == nil || len(sensitive) == 0 {
		return s
	}
	clone := *s
	clone.Variables = make(map[string]any, len(s.Variables))
	for k, v := range s.Variables {
		clone.Variables[k] = v
	}
	for _, name := range sensitive {
		if _, ok := clone.Variables[name]; ok {
			clone.Variables[name] = RedactionMarker
		}
	}
	return &clone
}

// IsExpired checks if the snapshot has aged past timeout.
func (s *Snapshot) IsExpired(timeout time.Duration) bool {
	if s.CreatedAt.IsZero() || timeout <= 0 {
		return false
	}
	return time.Since(s.CreatedAt) > timeout
}

// IsWaiting returns true if this snapshot was taken at a waiting transition.
func (s *Snapshot) IsWaiting() bool {
	return s.WaitingFor != WaitNone
}
