package process

import (
	"context"
	"math"
	"time"

	"github.com/ahamdihussein-star/processforge/pkg/observability"
)

// ExecutionContext carries the per-step dependencies and identifiers an
// Executor needs beyond the node definition and state.
type ExecutionContext struct {
	context.Context

	ExecutionID string
	OrgID       string

	Deps *Dependencies

	// Obs carries the engine's observability manager down into executors
	// that make their own outbound calls (AI_TASK's LLM request, TOOL_CALL's
	// tool invocation, HTTP_REQUEST), so those get their own spans/counters
	// nested under the node-execution span the engine already opened. May be
	// nil; every Manager/Tracer/Metrics method is nil-receiver safe.
	Obs *observability.Manager
}

// Executor implements the node-type-specific behavior for one NodeType. On
// every visit to a ProcessNode the engine constructs a fresh executor with
// the registered Constructor, runs Validate, and then runs Execute.
type Executor interface {
	// Validate checks the node's type_config for structural errors the
	// engine should surface before executing anything, returning nil when
	// the node is well-formed.
	Validate(node *ProcessNode) *Error

	// Execute runs the node's behavior once, given the current state.
	Execute(ctx *ExecutionContext, node *ProcessNode, state *State) NodeResult
}

// Constructor builds a fresh Executor for a node type. Executors are
// stateless beyond their constructor arguments, so a single Constructor
// may be reused to build one Executor per node.
type Constructor func() Executor

// getConfigValue reads a key out of a node's type_config block, returning
// the zero value and false when absent.
func getConfigValue[T any](node *ProcessNode, key string) (T, bool) {
	var zero T
	raw, ok := node.Config.TypeConfig[key]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// GetConfigString reads a string config value, defaulting to "".
func GetConfigString(node *ProcessNode, key string) string {
	v, _ := getConfigValue[string](node, key)
	return v
}

// GetConfigStringDefault reads a string config value with a fallback.
func GetConfigStringDefault(node *ProcessNode, key, fallback string) string {
	if v, ok := getConfigValue[string](node, key); ok && v != "" {
		return v
	}
	return fallback
}

// GetConfigStringSlice reads a []any config value of strings, ignoring any
// non-string element. JSON-decoded arrays arrive as []any.
func GetConfigStringSlice(node *ProcessNode, key string) []string {
	raw, ok := getConfigValue[[]any](node, key)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetConfigBool reads a bool config value, defaulting to false.
func GetConfigBool(node *ProcessNode, key string) bool {
	v, _ := getConfigValue[bool](node, key)
	return v
}

// GetConfigFloat reads a numeric config value as float64. JSON-decoded
// numbers arrive as float64, so this is the common case; int is accepted
// too for values built programmatically.
func GetConfigFloat(node *ProcessNode, key string) (float64, bool) {
	raw, ok := node.Config.TypeConfig[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Interpolate resolves a node's input_mapping against state, returning a
// map of resolved input values keyed by the mapping's target names.
func Interpolate(node *ProcessNode, state *State) (map[string]any, error) {
	out := make(map[string]any, len(node.InputMapping))
	for target, expression := range node.InputMapping {
		val, err := state.Evaluate(expression)
		if err != nil {
			return nil, err
		}
		out[target] = val
	}
	return out, nil
}

// ExecuteWithRetry wraps fn with the node's configured retry envelope:
// exponential backoff of delay_seconds * backoff_multiplier^attempt,
// retrying while fn's result is a retryable failure, up to max_attempts.
// onRetry, if non-nil, is called once per attempt actually retried (attempt
// numbers start at 1), letting the caller bump a retry counter/metric.
func ExecuteWithRetry(ctx context.Context, node *ProcessNode, onRetry func(attempt int), fn func() NodeResult) NodeResult {
	cfg := node.Config.Retry
	if !cfg.Enabled || cfg.MaxAttempts <= 1 {
		return fn()
	}

	var result NodeResult
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result = fn()
		if result.Status != StatusFailed || result.Error == nil || !result.Error.IsRetryable {
			return result
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		if onRetry != nil {
			onRetry(attempt + 1)
		}

		multiplier := cfg.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 1
		}
		delay := cfg.DelaySeconds * math.Pow(multiplier, float64(attempt))
		select {
		case <-ctx.Done():
			return result
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}
	}
	return result
}

// ExecuteWithTimeout wraps fn with the node's configured timeout, running
// fn on its own goroutine and applying the configured action (fail,
// retry, skip) if it does not complete in time. fn must itself be
// cancellation-aware via ctx for the retry/skip paths to actually free
// the goroutine; a fn that ignores ctx will leak until it returns.
func ExecuteWithTimeout(ctx context.Context, node *ProcessNode, fn func(context.Context) NodeResult) NodeResult {
	cfg := node.Config.Timeout
	if !cfg.Enabled || cfg.Seconds <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Seconds*float64(time.Second)))
	defer cancel()

	done := make(chan NodeResult, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case result := <-done:
		return result
	case <-timeoutCtx.Done():
		switch cfg.Action {
		case TimeoutActionSkip:
			return NodeResult{Status: StatusSkipped, Logs: []string{"node timed out, skipping per timeout.action=skip"}}
		case TimeoutActionRetry:
			return NodeResult{Status: StatusFailed, Error: TimeoutErrorf("node exceeded configured timeout").Retryable(1)}
		default:
			return NodeResult{Status: StatusFailed, Error: TimeoutErrorf("node exceeded configured timeout")}
		}
	}
}
