package nodes

import (
	"fmt"

	"github.com/ahamdihussein-star/processforge/process"
)

// conditionExecutor evaluates a boolean expression and branches to one of
// two configured next nodes.
type conditionExecutor struct{}

func (conditionExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "expression") == "" {
		return process.ValidationError(process.CodeValidationError, "CONDITION node requires type_config.expression")
	}
	return nil
}

func (conditionExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	expression := process.GetConfigString(node, "expression")
	ok, err := state.EvaluateCondition(expression)
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	next := process.GetConfigString(node, "if_false")
	if ok {
		next = process.GetConfigString(node, "if_true")
	}
	return process.NodeResult{
		Status:          process.StatusCompleted,
		Output:          map[string]any{"result": ok},
		NextNodeID:      next,
		VariablesUpdate: map[string]any{},
	}
}

// switchExecutor evaluates a value expression against an ordered list of
// cases, each mapping a literal to a next node id, falling back to a
// configured default next node.
type switchExecutor struct{}

func (switchExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "expression") == "" {
		return process.ValidationError(process.CodeValidationError, "SWITCH node requires type_config.expression")
	}
	return nil
}

func (switchExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	value, err := state.Evaluate(process.GetConfigString(node, "expression"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	cases, _ := rawMap(node, "cases")
	key := fmt.Sprintf("%v", value)
	if next, ok := cases[key]; ok {
		if nextStr, ok := next.(string); ok {
			return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"matched": key}, NextNodeID: nextStr}
		}
	}

	return process.NodeResult{
		Status:     process.StatusCompleted,
		Output:     map[string]any{"matched": nil},
		NextNodeID: process.GetConfigString(node, "default"),
	}
}

func rawMap(node *process.ProcessNode, key string) (map[string]any, bool) {
	raw, ok := node.Config.TypeConfig[key]
	if !ok {
		return nil, false
	}
	m, ok := raw.(map[string]any)
	return m, ok
}

// loopExecutor iterates a fixed item list, publishing item/index variables
// and visiting a configured body node once per item before visiting the
// node's own next.
type loopExecutor struct{}

func (loopExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "items_expression") == "" {
		return process.ValidationError(process.CodeValidationError, "LOOP node requires type_config.items_expression")
	}
	if process.GetConfigString(node, "body_node_id") == "" {
		return process.ValidationError(process.CodeValidationError, "LOOP node requires type_config.body_node_id")
	}
	return nil
}

func (loopExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	itemVar := process.GetConfigStringDefault(node, "item_var", "item")
	indexVar := process.GetConfigStringDefault(node, "index_var", "index")
	bodyNode := process.GetConfigString(node, "body_node_id")

	// A revisit of this same LOOP node means the body just finished one
	// iteration (the definition routes the body's last node back here):
	// advance the existing frame instead of re-evaluating items_expression.
	if frame, active := state.CurrentLoop(); active && frame.NodeID == node.ID {
		if state.AdvanceLoop() {
			state.SetLoopItem()
			return process.NodeResult{Status: process.StatusCompleted, NextNodeID: bodyNode}
		}
		total := len(frame.Items)
		state.PopLoop()
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"iterations": total}}
	}

	raw, err := state.Evaluate(process.GetConfigString(node, "items_expression"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	items, ok := raw.([]any)
	if !ok {
		items = []any{}
	}
	if max, ok := process.GetConfigFloat(node, "max_iterations"); ok && int(max) < len(items) {
		items = items[:int(max)]
	}
	if len(items) == 0 {
		// Empty-LOOP short-circuit: skip the body entirely.
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"iterations": 0, "results": []any{}}}
	}

	state.PushLoop(node.ID, items, itemVar, indexVar)
	state.SetLoopItem()
	return process.NodeResult{Status: process.StatusCompleted, NextNodeID: bodyNode}
}

// whileExecutor re-evaluates a condition before each iteration, visiting a
// body node while true and a configured "namespaced" iteration counter
// guards against runaway loops independent of the global node-execution
// quota.
type whileExecutor struct{}

func (whileExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "condition") == "" {
		return process.ValidationError(process.CodeValidationError, "WHILE node requires type_config.condition")
	}
	if process.GetConfigString(node, "body_node_id") == "" {
		return process.ValidationError(process.CodeValidationError, "WHILE node requires type_config.body_node_id")
	}
	return nil
}

func (whileExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	counterVar := "__while_" + node.ID + "_iterations"
	maxIterations := 10000
	if v, ok := process.GetConfigFloat(node, "max_iterations"); ok {
		maxIterations = int(v)
	}

	raw, _ := state.Get(counterVar)
	count, _ := raw.(int)
	if count >= maxIterations {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ValidationError(process.CodeMaxNodesExceeded, "WHILE node exceeded max_iterations")}
	}

	ok, err := state.EvaluateCondition(process.GetConfigString(node, "condition"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	if !ok {
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"iterations": count}, VariablesUpdate: map[string]any{counterVar: 0}}
	}

	return process.NodeResult{
		Status:          process.StatusCompleted,
		NextNodeID:      process.GetConfigString(node, "body_node_id"),
		VariablesUpdate: map[string]any{counterVar: count + 1},
	}
}

// subProcessExecutor starts a child process execution through the injected
// SubProcessRunner, either blocking for its completion or returning
// immediately with the child's execution id.
type subProcessExecutor struct{}

func (subProcessExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "definition_id") == "" {
		return process.ValidationError(process.CodeValidationError, "SUB_PROCESS node requires type_config.definition_id")
	}
	return nil
}

func (subProcessExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	if ctx.Deps == nil || ctx.Deps.SubProcessRunner == nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ConfigurationError(process.CodeNoExecutor, "no sub-process runner configured")}
	}

	input, err := process.Interpolate(node, state)
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	wait := process.GetConfigBool(node, "wait_for_completion")
	depth := 0
	if v, ok := process.GetConfigFloat(node, "execution_depth"); ok {
		depth = int(v)
	}

	result, rerr := ctx.Deps.SubProcessRunner.StartChild(ctx, process.GetConfigString(node, "definition_id"), input, ctx.ExecutionID, node.ID, depth+1, wait)
	if rerr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "sub-process execution failed", rerr)}
	}
	if !wait {
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"child_execution_id": result.ExecutionID}}
	}
	if result.Status == process.ExecutionFailed {
		return process.NodeResult{Status: process.StatusFailed, Error: result.Error}
	}
	if out, ok := result.Output.(map[string]any); ok {
		return process.NodeResult{Status: process.StatusCompleted, Output: out}
	}
	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"result": result.Output}}
}

// RegisterLogic adds CONDITION, SWITCH, LOOP, WHILE, and SUB_PROCESS to reg.
// PARALLEL is handled directly by the engine and has no standalone Executor.
func RegisterLogic(reg *process.ExecutorRegistry) error {
	registrations := []struct {
		t    process.NodeType
		ctor process.Constructor
	}{
		{process.NodeCondition, func() process.Executor { return conditionExecutor{} }},
		{process.NodeSwitch, func() process.Executor { return switchExecutor{} }},
		{process.NodeLoop, func() process.Executor { return loopExecutor{} }},
		{process.NodeWhile, func() process.Executor { return whileExecutor{} }},
		{process.NodeSubProcess, func() process.Executor { return subProcessExecutor{} }},
	}
	for _, r := range registrations {
		if err := reg.Register(r.t, r.ctor); err != nil {
			return err
		}
	}
	return nil
}
