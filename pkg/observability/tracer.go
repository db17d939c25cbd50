package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry TracerProvider with span helpers specific to
// the process engine's node-execution lifecycle.
type Tracer struct {
	provider        *sdktrace.TracerProvider
	tracer          trace.Tracer
	debugExporter   *DebugExporter
	capturePayloads bool
}

// TracerOption configures a Tracer at construction time.
type TracerOption func(*Tracer)

// WithDebugExporter attaches an in-memory span exporter for CLI dry-run
// trace inspection.
func WithDebugExporter(exporter *DebugExporter) TracerOption {
	return func(t *Tracer) {
		t.debugExporter = exporter
	}
}

// WithCapturePayloads enables recording full node input/output payloads as
// span attributes. Sensitive-variable masking must still be applied by the
// caller before passing a payload to AddPayload.
func WithCapturePayloads(enabled bool) TracerOption {
	return func(t *Tracer) {
		t.capturePayloads = enabled
	}
}

// NewTracer builds a Tracer from TracingConfig, wiring an OTLP or stdout
// span exporter plus an optional in-memory debug exporter.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	t := &Tracer{}
	for _, opt := range opts {
		opt(t)
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.IsInsecure() {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	}
	if t.debugExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(t.debugExporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	t.provider = tp
	t.tracer = tp.Tracer(DefaultServiceName)
	return t, nil
}

// Start begins a generic span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartExecution begins a span for a full process execution.
func (t *Tracer) StartExecution(ctx context.Context, processID, executionID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanProcessExecution, trace.WithAttributes(
		attrString(AttrProcessID, processID),
		attrString(AttrExecutionID, executionID),
	))
}

// StartNodeExecution begins a span for a single node execution.
func (t *Tracer) StartNodeExecution(ctx context.Context, executionID, nodeID, nodeType string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanNodeExecution, trace.WithAttributes(
		attrString(AttrExecutionID, executionID),
		attrString(AttrNodeID, nodeID),
		attrString(AttrNodeType, nodeType),
	))
}

// StartLLMCall begins a span for an AI_TASK node's LLM request.
func (t *Tracer) StartLLMCall(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanLLMRequest, trace.WithAttributes(attrString(AttrLLMModel, model)))
}

// StartToolExecution begins a span for a TOOL_CALL node's tool invocation.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanToolExecution, trace.WithAttributes(attrString(AttrToolName, toolName)))
}

// AddLLMUsage records input/output token counts on an in-flight LLM span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attrInt(AttrLLMTokensInput, inputTokens),
		attrInt(AttrLLMTokensOutput, outputTokens),
	)
}

// AddPayload records a node's input or output payload on a span, subject to
// capturePayloads being enabled by configuration.
func (t *Tracer) AddPayload(span trace.Span, key, value string) {
	if t == nil || !t.capturePayloads || span == nil {
		return
	}
	span.SetAttributes(attrString(key, value))
}

// RecordError marks a span as failed and attaches the error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attrString(AttrErrorType, err.Error()))
}

// DebugExporter returns the in-memory debug exporter, or nil if not enabled.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown flushes and closes the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
