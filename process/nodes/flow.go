// Package nodes implements the Executor for every NodeType the process
// engine knows about, and registers them into a process.ExecutorRegistry.
package nodes

import (
	"github.com/ahamdihussein-star/processforge/process"
)

// startExecutor is the no-op entry point of a process graph.
type startExecutor struct{}

func (startExecutor) Validate(*process.ProcessNode) *process.Error { return nil }

func (startExecutor) Execute(_ *process.ExecutionContext, _ *process.ProcessNode, _ *process.State) process.NodeResult {
	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{}}
}

// mergeExecutor combines named upstream outputs into a single value. When
// type_config names a parallel_node_id, it republishes that PARALLEL node's
// branch results (already folded into shared State by the engine's own
// PARALLEL handling by the time a top-level visit to MERGE runs). Otherwise
// it reads source_nodes directly from node_outputs and combines them per
// strategy, independent of any PARALLEL node — the general case in S4.
type mergeExecutor struct{}

func (mergeExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "parallel_node_id") == "" && len(process.GetConfigStringSlice(node, "source_nodes")) == 0 {
		return process.ValidationError(process.CodeValidationError, "MERGE node requires type_config.parallel_node_id or source_nodes")
	}
	return nil
}

func (mergeExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	if parallelID := process.GetConfigString(node, "parallel_node_id"); parallelID != "" {
		frame, ok := state.ParallelFrame(parallelID)
		if !ok {
			return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{}}
		}
		state.EndParallel(parallelID)
		return process.NodeResult{Status: process.StatusCompleted, Output: frame.Results, VariablesUpdate: frame.Results}
	}

	sources := process.GetConfigStringSlice(node, "source_nodes")
	strategy := process.GetConfigStringDefault(node, "strategy", "object")

	switch strategy {
	case "array":
		arr := make([]any, 0, len(sources))
		for _, src := range sources {
			v, _ := state.NodeOutput(src)
			arr = append(arr, v)
		}
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"values": arr}, VariablesUpdate: map[string]any{}}
	case "concat":
		var parts []any
		for _, src := range sources {
			v, ok := state.NodeOutput(src)
			if !ok {
				continue
			}
			if list, ok := v.([]any); ok {
				parts = append(parts, list...)
			} else {
				parts = append(parts, v)
			}
		}
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"values": parts}, VariablesUpdate: map[string]any{}}
	default: // "object": shallow-merge each source's map output, last write wins.
		out := make(map[string]any)
		for _, src := range sources {
			v, ok := state.NodeOutput(src)
			if !ok {
				continue
			}
			if m, ok := v.(map[string]any); ok {
				for k, val := range m {
					out[k] = val
				}
			} else {
				out[src] = v
			}
		}
		return process.NodeResult{Status: process.StatusCompleted, Output: out, VariablesUpdate: map[string]any{}}
	}
}

// RegisterFlow adds the flow-control executors (START, MERGE) to reg. END
// has no Executor of its own: the engine short-circuits on NodeEnd and
// resolves its output config directly (see resolveEndOutput in engine.go)
// before building the terminal ProcessResult.
func RegisterFlow(reg *process.ExecutorRegistry) error {
	if err := reg.Register(process.NodeStart, func() process.Executor { return startExecutor{} }); err != nil {
		return err
	}
	return reg.Register(process.NodeMerge, func() process.Executor { return mergeExecutor{} })
}
