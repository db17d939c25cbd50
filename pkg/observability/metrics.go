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
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the process engine.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// Execution metrics
	executionsStarted  *prometheus.CounterVec
	executionsFinished  *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	executionsActive    *prometheus.GaugeVec

	// Node metrics
	nodeExecutions     *prometheus.CounterVec
	nodeDuration       *prometheus.HistogramVec
	nodeRetries        *prometheus.CounterVec
	nodeErrors         *prometheus.CounterVec

	// Checkpoint metrics
	checkpointsWritten  *prometheus.CounterVec
	checkpointDuration  *prometheus.HistogramVec
	checkpointsRestored *prometheus.CounterVec

	// LLM metrics (AI_TASK nodes)
	llmCalls        *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
	llmTokensInput  *prometheus.CounterVec
	llmTokensOutput *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	// Tool metrics (TOOL_CALL nodes)
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	// Outbound HTTP metrics (HTTP_REQUEST nodes)
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Approval/human-task metrics
	approvalsRequested *prometheus.CounterVec
	approvalsResolved  *prometheus.CounterVec
	waitingExecutions  *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initExecutionMetrics()
	m.initNodeMetrics()
	m.initCheckpointMetrics()
	m.initLLMMetrics()
	m.initToolMetrics()
	m.initHTTPMetrics()
	m.initApprovalMetrics()

	return m, nil
}

func (m *Metrics) initExecutionMetrics() {
	m.executionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "execution",
			Name:      "started_total",
			Help:      "Total number of process executions started",
		},
		[]string{"process_id"},
	)

	m.executionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "execution",
			Name:      "finished_total",
			Help:      "Total number of process executions finished, by status",
		},
		[]string{"process_id", "status"},
	)

	m.executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Process execution duration in seconds, start to terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 18), // 100ms to ~3.6h
		},
		[]string{"process_id", "status"},
	)

	m.executionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "execution",
			Name:      "active",
			Help:      "Number of currently running or waiting process executions",
		},
		[]string{"process_id"},
	)

	m.registry.MustRegister(m.executionsStarted, m.executionsFinished, m.executionDuration, m.executionsActive)
}

func (m *Metrics) initNodeMetrics() {
	m.nodeExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "node",
			Name:      "executions_total",
			Help:      "Total number of node executions, by type and status",
		},
		[]string{"node_type", "status"},
	)

	m.nodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "node",
			Name:      "duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18), // 1ms to ~131s
		},
		[]string{"node_type"},
	)

	m.nodeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "node",
			Name:      "retries_total",
			Help:      "Total number of node execution retry attempts",
		},
		[]string{"node_type"},
	)

	m.nodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "node",
			Name:      "errors_total",
			Help:      "Total number of node execution errors, by category",
		},
		[]string{"node_type", "category"},
	)

	m.registry.MustRegister(m.nodeExecutions, m.nodeDuration, m.nodeRetries, m.nodeErrors)
}

func (m *Metrics) initCheckpointMetrics() {
	m.checkpointsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "writes_total",
			Help:      "Total number of checkpoint writes",
		},
		[]string{"process_id"},
	)

	m.checkpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "write_duration_seconds",
			Help:      "Checkpoint write duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"process_id"},
	)

	m.checkpointsRestored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "restores_total",
			Help:      "Total number of checkpoint restores (resumed executions)",
		},
		[]string{"process_id"},
	)

	m.registry.MustRegister(m.checkpointsWritten, m.checkpointDuration, m.checkpointsRestored)
}

func (m *Metrics) initLLMMetrics() {
	m.llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of LLM calls made by AI_TASK nodes",
		},
		[]string{"model"},
	)

	m.llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to 204s
		},
		[]string{"model"},
	)

	m.llmTokensInput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "tokens_input_total",
			Help:      "Total number of input tokens consumed",
		},
		[]string{"model"},
	)

	m.llmTokensOutput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "tokens_output_total",
			Help:      "Total number of output tokens generated",
		},
		[]string{"model"},
	)

	m.llmErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total number of LLM call errors",
		},
		[]string{"model", "error_type"},
	)

	m.registry.MustRegister(m.llmCalls, m.llmCallDuration, m.llmTokensInput, m.llmTokensOutput, m.llmErrors)
}

func (m *Metrics) initToolMetrics() {
	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total number of tool invocations from TOOL_CALL nodes",
		},
		[]string{"tool_name"},
	)

	m.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to 16s
		},
		[]string{"tool_name"},
	)

	m.toolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "tool",
			Name:      "errors_total",
			Help:      "Total number of tool errors",
		},
		[]string{"tool_name", "error_type"},
	)

	m.registry.MustRegister(m.toolCalls, m.toolCallDuration, m.toolErrors)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests made by HTTP_REQUEST nodes",
		},
		[]string{"method", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Outbound HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

func (m *Metrics) initApprovalMetrics() {
	m.approvalsRequested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "approval",
			Name:      "requested_total",
			Help:      "Total number of approval/human-task requests created",
		},
		[]string{"process_id"},
	)

	m.approvalsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "approval",
			Name:      "resolved_total",
			Help:      "Total number of approval/human-task requests resolved, by outcome",
		},
		[]string{"process_id", "outcome"},
	)

	m.waitingExecutions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "approval",
			Name:      "waiting_executions",
			Help:      "Number of executions currently waiting on approval, human task, delay, schedule, or event",
		},
		[]string{"wait_reason"},
	)

	m.registry.MustRegister(m.approvalsRequested, m.approvalsResolved, m.waitingExecutions)
}

// =============================================================================
// Execution Metrics
// =============================================================================

// RecordExecutionStarted records a process execution starting.
func (m *Metrics) RecordExecutionStarted(processID string) {
	if m == nil {
		return
	}
	m.executionsStarted.WithLabelValues(processID).Inc()
	m.executionsActive.WithLabelValues(processID).Inc()
}

// RecordExecutionFinished records a process execution reaching a terminal
// status (completed, failed, or cancelled).
func (m *Metrics) RecordExecutionFinished(processID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.executionsFinished.WithLabelValues(processID, status).Inc()
	m.executionDuration.WithLabelValues(processID, status).Observe(duration.Seconds())
	m.executionsActive.WithLabelValues(processID).Dec()
}

// =============================================================================
// Node Metrics
// =============================================================================

// RecordNodeExecution records a single node execution outcome.
func (m *Metrics) RecordNodeExecution(nodeType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.nodeExecutions.WithLabelValues(nodeType, status).Inc()
	m.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordNodeRetry records a node execution retry attempt.
func (m *Metrics) RecordNodeRetry(nodeType string) {
	if m == nil {
		return
	}
	m.nodeRetries.WithLabelValues(nodeType).Inc()
}

// RecordNodeError records a node execution error by category.
func (m *Metrics) RecordNodeError(nodeType, category string) {
	if m == nil {
		return
	}
	m.nodeErrors.WithLabelValues(nodeType, category).Inc()
}

// =============================================================================
// Checkpoint Metrics
// =============================================================================

// RecordCheckpointWrite records a checkpoint being persisted.
func (m *Metrics) RecordCheckpointWrite(processID string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkpointsWritten.WithLabelValues(processID).Inc()
	m.checkpointDuration.WithLabelValues(processID).Observe(duration.Seconds())
}

// RecordCheckpointRestore records an execution being resumed from a checkpoint.
func (m *Metrics) RecordCheckpointRestore(processID string) {
	if m == nil {
		return
	}
	m.checkpointsRestored.WithLabelValues(processID).Inc()
}

// =============================================================================
// LLM Metrics
// =============================================================================

// RecordLLMCall records an LLM call made by an AI_TASK node.
func (m *Metrics) RecordLLMCall(model string, duration time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model).Inc()
	m.llmCallDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordLLMTokens records token usage for an AI_TASK node's LLM call.
func (m *Metrics) RecordLLMTokens(model string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmTokensInput.WithLabelValues(model).Add(float64(inputTokens))
	m.llmTokensOutput.WithLabelValues(model).Add(float64(outputTokens))
}

// RecordLLMError records an LLM call error.
func (m *Metrics) RecordLLMError(model, errorType string) {
	if m == nil {
		return
	}
	m.llmErrors.WithLabelValues(model, errorType).Inc()
}

// =============================================================================
// Tool Metrics
// =============================================================================

// RecordToolCall records a tool invocation from a TOOL_CALL node.
func (m *Metrics) RecordToolCall(toolName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordToolError records a tool error.
func (m *Metrics) RecordToolError(toolName, errorType string) {
	if m == nil {
		return
	}
	m.toolErrors.WithLabelValues(toolName, errorType).Inc()
}

// =============================================================================
// Outbound HTTP Metrics
// =============================================================================

// RecordHTTPRequest records an outbound HTTP request made by an HTTP_REQUEST node.
func (m *Metrics) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := statusCodeLabel(statusCode)
	m.httpRequests.WithLabelValues(method, status).Inc()
	m.httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// statusCodeLabel converts a status code to a label string.
func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// =============================================================================
// Approval/Human-Task Metrics
// =============================================================================

// RecordApprovalRequested records an approval or human-task request being created.
func (m *Metrics) RecordApprovalRequested(processID string) {
	if m == nil {
		return
	}
	m.approvalsRequested.WithLabelValues(processID).Inc()
}

// RecordApprovalResolved records an approval or human-task request being resolved.
func (m *Metrics) RecordApprovalResolved(processID, outcome string) {
	if m == nil {
		return
	}
	m.approvalsResolved.WithLabelValues(processID, outcome).Inc()
}

// SetWaitingExecutions sets the gauge of executions waiting on a given reason
// (approval, human_task, delay, schedule, event).
func (m *Metrics) SetWaitingExecutions(waitReason string, count int) {
	if m == nil {
		return
	}
	m.waitingExecutions.WithLabelValues(waitReason).Set(float64(count))
}

// =============================================================================
// HTTP Handler
// =============================================================================

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
