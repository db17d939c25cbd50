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

package observability

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// attrString builds an attribute.KeyValue for a string attribute.
func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// attrInt builds an attribute.KeyValue for an int attribute.
func attrInt(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}

// noopSpan returns a span that discards everything recorded on it, used as
// a fallback whenever a Tracer is nil or tracing is disabled.
func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}

// =============================================================================
// No-op Manager
// =============================================================================

// NoopManager returns a no-operation Manager that does nothing.
// Use this when observability is completely disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// =============================================================================
// No-op Recorder
// =============================================================================

// Recorder defines the interface for recording process-engine metrics.
// This allows for dependency injection and easier testing.
type Recorder interface {
	RecordExecutionStarted(processID string)
	RecordExecutionFinished(processID, status string, duration time.Duration)

	RecordNodeExecution(nodeType, status string, duration time.Duration)
	RecordNodeRetry(nodeType string)
	RecordNodeError(nodeType, category string)

	RecordCheckpointWrite(processID string, duration time.Duration)
	RecordCheckpointRestore(processID string)

	RecordLLMCall(model string, duration time.Duration)
	RecordLLMTokens(model string, inputTokens, outputTokens int)
	RecordLLMError(model, errorType string)

	RecordToolCall(toolName string, duration time.Duration)
	RecordToolError(toolName, errorType string)

	RecordHTTPRequest(method string, statusCode int, duration time.Duration)

	RecordApprovalRequested(processID string)
	RecordApprovalResolved(processID, outcome string)
	SetWaitingExecutions(waitReason string, count int)

	Handler() http.Handler
}

// NoopMetrics is a Recorder implementation that does nothing. Use it when
// metrics collection is disabled so callers never need a nil check.
type NoopMetrics struct{}

func (NoopMetrics) RecordExecutionStarted(_ string)                          {}
func (NoopMetrics) RecordExecutionFinished(_, _ string, _ time.Duration)     {}
func (NoopMetrics) RecordNodeExecution(_, _ string, _ time.Duration)         {}
func (NoopMetrics) RecordNodeRetry(_ string)                                 {}
func (NoopMetrics) RecordNodeError(_, _ string)                              {}
func (NoopMetrics) RecordCheckpointWrite(_ string, _ time.Duration)          {}
func (NoopMetrics) RecordCheckpointRestore(_ string)                        {}
func (NoopMetrics) RecordLLMCall(_ string, _ time.Duration)                  {}
func (NoopMetrics) RecordLLMTokens(_ string, _, _ int)                       {}
func (NoopMetrics) RecordLLMError(_, _ string)                               {}
func (NoopMetrics) RecordToolCall(_ string, _ time.Duration)                 {}
func (NoopMetrics) RecordToolError(_, _ string)                              {}
func (NoopMetrics) RecordHTTPRequest(_ string, _ int, _ time.Duration)       {}
func (NoopMetrics) RecordApprovalRequested(_ string)                        {}
func (NoopMetrics) RecordApprovalResolved(_, _ string)                      {}
func (NoopMetrics) SetWaitingExecutions(_ string, _ int)                    {}

// Handler returns a handler that returns 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
