package observability

import (
	"context"
	"testing"
	"time"
)

func TestMetricsRecording(t *testing.T) {
	cfg := &MetricsConfig{Enabled: true}
	metrics, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	metrics.RecordExecutionStarted("proc-1")
	metrics.RecordExecutionFinished("proc-1", "completed", 150*time.Millisecond)

	metrics.RecordNodeExecution("ai_task", "success", 500*time.Millisecond)
	metrics.RecordNodeRetry("ai_task")
	metrics.RecordNodeError("ai_task", "dependency")

	metrics.RecordLLMCall("gpt-4o", 500*time.Millisecond)
	metrics.RecordLLMTokens("gpt-4o", 100, 50)

	metrics.RecordToolCall("search", 50*time.Millisecond)
	metrics.RecordHTTPRequest("GET", 200, 10*time.Millisecond)

	metrics.RecordApprovalRequested("proc-1")
	metrics.RecordApprovalResolved("proc-1", "approved")
	metrics.SetWaitingExecutions("approval", 3)
}

func TestMetricsDisabled(t *testing.T) {
	metrics, err := NewMetrics(&MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if metrics != nil {
		t.Fatal("expected nil Metrics when disabled")
	}

	// nil-receiver recorders must never panic.
	metrics.RecordExecutionStarted("proc-1")
	metrics.RecordNodeExecution("ai_task", "success", time.Millisecond)
}

func TestNoopMetrics(t *testing.T) {
	var rec Recorder = NoopMetrics{}

	rec.RecordExecutionStarted("proc-1")
	rec.RecordNodeExecution("ai_task", "success", time.Millisecond)
	rec.RecordLLMCall("test-model", 10*time.Millisecond)

	if rec.Handler() == nil {
		t.Fatal("expected non-nil handler from NoopMetrics")
	}
}

func TestTracerNilSafe(t *testing.T) {
	var tr *Tracer

	ctx := context.Background()
	ctx, span := tr.StartNodeExecution(ctx, "exec-1", "node-1", "ai_task")
	defer span.End()

	tr.AddLLMUsage(span, 10, 20)
	tr.RecordError(span, nil)

	if tr.DebugExporter() != nil {
		t.Fatal("expected nil debug exporter on nil tracer")
	}
	if err := tr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown on nil tracer: %v", err)
	}
}

func TestDebugExporterCapturesNodeSpans(t *testing.T) {
	exp := NewDebugExporter()
	if !exp.shouldCapture(SpanNodeExecution) {
		t.Fatal("expected debug exporter to capture node execution spans")
	}
	if exp.shouldCapture("some.other.span") {
		t.Fatal("expected debug exporter to skip unrelated spans")
	}
}
