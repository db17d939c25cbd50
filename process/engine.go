package process

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ahamdihussein-star/processforge/pkg/checkpoint"
	"github.com/ahamdihussein-star/processforge/pkg/observability"
)

// Recorder persists execution progress. The persistence package implements
// this against the process_executions/process_node_executions tables;
// NoopRecorder is used where only in-memory execution matters (tests, the
// CLI dry-run tool).
type Recorder interface {
	NodeStarted(ctx context.Context, executionID string, node *ProcessNode, order int)
	NodeFinished(ctx context.Context, executionID string, node *ProcessNode, order int, result NodeResult)
	ExecutionUpdated(ctx context.Context, executionID string, result *ProcessResult, state *State)
}

// NoopRecorder discards every call.
type NoopRecorder struct{}

func (NoopRecorder) NodeStarted(context.Context, string, *ProcessNode, int)                   {}
func (NoopRecorder) NodeFinished(context.Context, string, *ProcessNode, int, NodeResult)       {}
func (NoopRecorder) ExecutionUpdated(context.Context, string, *ProcessResult, *State)          {}

var _ Recorder = NoopRecorder{}

// Engine runs ProcessDefinitions to completion or suspension, one step at a
// time, checkpointing and recording progress as it goes. An Engine holds no
// mutable per-execution state of its own: everything that varies between
// concurrent executions lives in the State and ExecutionContext passed
// through each call, so a single Engine is safe to share across executions.
type Engine struct {
	executors  *ExecutorRegistry
	checkpoint *checkpoint.Manager
	recorder   Recorder
	obs        *observability.Manager
}

// NewEngine builds an Engine over a populated executor registry. obs may be
// nil (or observability.NoopManager()): every Manager/Tracer/Metrics method
// used below is nil-receiver safe, so a nil obs simply disables spans and
// counters without requiring a separate no-op engine code path.
func NewEngine(executors *ExecutorRegistry, checkpointMgr *checkpoint.Manager, recorder Recorder, obs *observability.Manager) *Engine {
	if checkpointMgr == nil {
		cfg := &checkpoint.Config{}
		cfg.SetDefaults()
		checkpointMgr = checkpoint.NewManager(cfg, checkpoint.NewInMemoryStore())
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &Engine{executors: executors, checkpoint: checkpointMgr, recorder: recorder, obs: obs}
}

// Run starts a new execution of definition from its START node.
func (e *Engine) Run(ctx context.Context, executionID string, definition *ProcessDefinition, triggerInput map[string]any, deps *Dependencies) *ProcessResult {
	state := NewState(triggerInput)
	for _, v := range definition.Variables {
		if _, exists := state.Get(v.Name); !exists && v.Default != nil {
			state.Set(v.Name, v.Default)
		}
		if v.Sensitive {
			state.MarkSensitive(v.Name)
		}
	}

	start := definition.GetStartNode()
	state.SetCurrentNode(start.ID)

	e.obs.Metrics().RecordExecutionStarted(definition.ID)
	ctx, span := e.obs.Tracer().StartExecution(ctx, definition.ID, executionID)
	defer span.End()
	startedAt := time.Now()

	deadline := time.Now().Add(time.Duration(definition.Settings.MaxExecutionTimeSeconds) * time.Second)
	result := e.run(ctx, executionID, definition, state, deps, start.ID, deadline, false)

	e.obs.Metrics().RecordExecutionFinished(definition.ID, string(result.Status), time.Since(startedAt))
	if result.Error != nil {
		e.obs.Tracer().RecordError(span, result.Error)
	}
	return result
}

// Resume restores a suspended execution from a checkpoint snapshot and
// continues it with the caller-supplied resume input merged into state.
func (e *Engine) Resume(ctx context.Context, executionID string, definition *ProcessDefinition, snap *checkpoint.Snapshot, resumeInput map[string]any, deps *Dependencies) *ProcessResult {
	state := restoreState(snap)

	e.obs.Metrics().RecordCheckpointRestore(definition.ID)
	ctx, span := e.obs.Tracer().StartExecution(ctx, definition.ID, executionID)
	defer span.End()
	startedAt := time.Now()

	if node, ok := definition.GetNode(snap.CurrentNodeID); ok {
		merged := map[string]any{"changed_by": "resume"}
		for k, v := range resumeInput {
			merged[k] = v
		}
		if node.OutputVariable != "" {
			state.Set(node.OutputVariable, merged)
		}
		state.ApplyUpdate(resumeInput)
		state.MarkCompleted(node.ID)
	}

	var result *ProcessResult
	next, nerr := e.selectNext(definition, state, snap.CurrentNodeID, NodeResult{})
	switch {
	case nerr != nil:
		result = e.fail(executionID, state, snap.CurrentNodeID, nerr)
	case next == "":
		result = e.complete(ctx, executionID, state, deps, state.Variables())
	default:
		deadline := time.Now().Add(time.Hour)
		result = e.run(ctx, executionID, definition, state, deps, next, deadline, false)
	}

	e.obs.Metrics().RecordExecutionFinished(definition.ID, string(result.Status), time.Since(startedAt))
	if result.Error != nil {
		e.obs.Tracer().RecordError(span, result.Error)
	}
	return result
}

func restoreState(snap *checkpoint.Snapshot) *State {
	s := NewState(nil)
	for k, v := range snap.Variables {
		s.Set(k, v)
	}
	for _, n := range snap.CompletedNodes {
		s.MarkCompleted(n)
	}
	for _, n := range snap.SkippedNodes {
		s.MarkSkipped(n)
	}
	for k, v := range snap.NodeOutputs {
		s.SetNodeOutput(k, v)
	}
	s.SetCurrentNode(snap.CurrentNodeID)
	for _, lf := range snap.LoopFrames {
		s.loopFrames = append(s.loopFrames, LoopFrame{NodeID: lf.NodeID, Items: lf.Items, ItemVar: lf.ItemVar, IndexVar: lf.IndexVar, Index: lf.Index})
	}
	for id, pf := range snap.ParallelFrames {
		s.parallelFrames[id] = ParallelFrame{Branches: pf.Branches, Completed: pf.Completed, Results: pf.Results}
	}
	return s
}

func snapshotOf(executionID string, state *State) *checkpoint.Snapshot {
	snap := checkpoint.NewSnapshot(executionID)
	snap.Variables = state.Variables()
	snap.CompletedNodes = state.CompletedNodes()
	snap.SkippedNodes = state.SkippedNodes()
	snap.CurrentNodeID = state.CurrentNode()
	snap.NodesExecuted = state.NodeCount()

	state.mu.RLock()
	for k, v := range state.nodeOutputs {
		snap.NodeOutputs[k] = v
	}
	for _, lf := range state.loopFrames {
		snap.LoopFrames = append(snap.LoopFrames, checkpoint.LoopFrame{NodeID: lf.NodeID, Items: lf.Items, ItemVar: lf.ItemVar, IndexVar: lf.IndexVar, Index: lf.Index})
	}
	for id, pf := range state.parallelFrames {
		snap.ParallelFrames[id] = checkpoint.ParallelFrame{Branches: pf.Branches, Completed: pf.Completed, Results: pf.Results}
	}
	state.mu.RUnlock()

	return snap
}

// run is the step-loop: it executes nodes starting at nodeID until the
// execution completes, fails, or suspends waiting on something external.
func (e *Engine) run(ctx context.Context, executionID string, definition *ProcessDefinition, state *State, deps *Dependencies, nodeID string, deadline time.Time, isBranch bool) *ProcessResult {
	for nodeID != "" {
		if time.Now().After(deadline) {
			return e.fail(executionID, state, nodeID, TimeoutErrorf("process exceeded max_execution_time_seconds"))
		}
		if state.NodeCount() >= definition.Settings.MaxNodeExecutions {
			return e.fail(executionID, state, nodeID, ValidationError(CodeMaxNodesExceeded, "process exceeded max_node_executions"))
		}

		node, ok := definition.GetNode(nodeID)
		if !ok {
			return e.fail(executionID, state, nodeID, ValidationError(CodeValidationError, fmt.Sprintf("unknown node id %q", nodeID)))
		}

		if node.Type == NodeEnd {
			state.SetCurrentNode(node.ID)
			state.MarkCompleted(node.ID)
			output, oerr := resolveEndOutput(node, state)
			if oerr != nil {
				return e.fail(executionID, state, node.ID, oerr)
			}
			return e.complete(ctx, executionID, state, deps, output)
		}

		// A PARALLEL branch converges at its MERGE node: the branch stops
		// here and hands its state back to executeParallel to fold in,
		// rather than executing the merge itself (the parent does that
		// once every branch arrives).
		if isBranch && node.Type == NodeMerge {
			state.SetCurrentNode(node.ID)
			return &ProcessResult{
				Status:         ExecutionCompleted,
				FinalVariables: state.Variables(),
				NodesExecuted:  state.NodeCount(),
				ExecutionID:    executionID,
			}
		}

		if node.Type == NodeParallel {
			parallelCtx, parallelSpan := e.obs.Tracer().StartNodeExecution(ctx, executionID, node.ID, string(node.Type))
			parallelStarted := time.Now()
			result, perr := e.executeParallel(parallelCtx, executionID, definition, node, state, deps)
			if perr != nil {
				e.obs.Metrics().RecordNodeExecution(string(node.Type), string(StatusFailed), time.Since(parallelStarted))
				e.obs.Metrics().RecordNodeError(string(node.Type), string(perr.Category))
				e.obs.Tracer().RecordError(parallelSpan, perr)
				parallelSpan.End()
				failNode := node.ID
				if perr.Details != nil {
					if id, ok := perr.Details["branch_node_id"].(string); ok && id != "" {
						failNode = id
					}
				}
				return e.fail(executionID, state, failNode, perr)
			}
			e.obs.Metrics().RecordNodeExecution(string(node.Type), string(result.Status), time.Since(parallelStarted))
			parallelSpan.End()
			result = e.finishNode(ctx, executionID, definition, node, state, result)
			if result.Status == StatusFailed && !node.Config.SkipOnError {
				return e.fail(executionID, state, node.ID, result.Error)
			}

			next, nerr := e.selectNext(definition, state, node.ID, result)
			if nerr != nil {
				return e.fail(executionID, state, node.ID, nerr)
			}
			nodeID = next
			continue
		}

		executor, eerr := e.executors.Build(node.Type)
		if eerr != nil {
			return e.fail(executionID, state, node.ID, eerr)
		}
		if verr := executor.Validate(node); verr != nil {
			return e.fail(executionID, state, node.ID, verr)
		}

		state.SetCurrentNode(node.ID)
		order := state.NodeCount() + 1
		e.recorder.NodeStarted(ctx, executionID, node, order)

		nodeCtx, nodeSpan := e.obs.Tracer().StartNodeExecution(ctx, executionID, node.ID, string(node.Type))
		started := time.Now()
		result := ExecuteWithTimeout(nodeCtx, node, func(c context.Context) NodeResult {
			innerCtx := &ExecutionContext{Context: c, ExecutionID: executionID, Deps: deps, Obs: e.obs}
			return ExecuteWithRetry(c, node, func(int) {
				e.obs.Metrics().RecordNodeRetry(string(node.Type))
			}, func() NodeResult {
				return executor.Execute(innerCtx, node, state)
			})
		})
		duration := time.Since(started)
		if result.DurationMS == 0 {
			result.DurationMS = duration.Milliseconds()
		}
		e.obs.Metrics().RecordNodeExecution(string(node.Type), string(result.Status), duration)
		if result.Status == StatusFailed && result.Error != nil {
			e.obs.Metrics().RecordNodeError(string(node.Type), string(result.Error.Category))
			e.obs.Tracer().RecordError(nodeSpan, result.Error)
		}
		nodeSpan.End()

		if result.Status == StatusWaiting {
			return e.suspend(ctx, executionID, definition, state, node, order, result, deps)
		}

		result = e.finishNode(ctx, executionID, definition, node, state, result)

		if result.Status == StatusFailed {
			if node.Config.SkipOnError {
				state.MarkSkipped(node.ID)
			} else {
				return e.fail(executionID, state, node.ID, result.Error)
			}
		} else {
			state.MarkCompleted(node.ID)
		}

		e.recorder.NodeFinished(ctx, executionID, node, order, result)

		if e.checkpoint.Config().ShouldCheckpointAtNodeCount(state.NodeCount()) {
			ckStarted := time.Now()
			if err := e.checkpoint.SaveAtNodeCount(ctx, snapshotOf(executionID, state), state.NodeCount()); err != nil {
				slog.Warn("interval checkpoint failed", "execution_id", executionID, "error", err)
			} else {
				e.obs.Metrics().RecordCheckpointWrite(definition.ID, time.Since(ckStarted))
			}
		}

		next, nerr := e.selectNext(definition, state, node.ID, result)
		if nerr != nil {
			return e.fail(executionID, state, node.ID, nerr)
		}
		nodeID = next
	}

	return e.complete(ctx, executionID, state, deps, state.Variables())
}

// finishNode applies a node's variable/output side effects once it reports
// a non-waiting status.
func (e *Engine) finishNode(ctx context.Context, executionID string, definition *ProcessDefinition, node *ProcessNode, state *State, result NodeResult) NodeResult {
	if result.Status == StatusCompleted {
		state.ApplyUpdate(result.VariablesUpdate)
		key := node.OutputVariable
		if key == "" {
			key = node.ID
		}
		state.SetNodeOutput(key, result.Output)
		if node.OutputVariable != "" {
			state.Set(node.OutputVariable, result.Output)
		}
	}
	return result
}

func (e *Engine) suspend(ctx context.Context, executionID string, definition *ProcessDefinition, state *State, node *ProcessNode, order int, result NodeResult, deps *Dependencies) *ProcessResult {
	e.recorder.NodeFinished(ctx, executionID, node, order, result)

	snap := snapshotOf(executionID, state)
	kind := checkpoint.WaitKind(result.WaitingFor)
	if e.checkpoint.Config().ShouldCheckpointOnWait() {
		ckStarted := time.Now()
		if err := e.checkpoint.SaveOnWait(ctx, snap, kind, result.WaitingMetadata); err != nil {
			slog.Warn("wait checkpoint failed", "execution_id", executionID, "error", err)
		} else {
			e.obs.Metrics().RecordCheckpointWrite(definition.ID, time.Since(ckStarted))
		}
	}

	if result.WaitingFor == WaitApproval || result.WaitingFor == WaitHumanTask {
		e.obs.Metrics().RecordApprovalRequested(definition.ID)
	}

	pr := &ProcessResult{
		Status:          ExecutionWaiting,
		FinalVariables:  state.Variables(),
		NodesExecuted:   state.NodeCount(),
		WaitingFor:      result.WaitingFor,
		ResumeNodeID:    node.ID,
		WaitingMetadata: result.WaitingMetadata,
		ExecutionID:     executionID,
	}
	e.recorder.ExecutionUpdated(ctx, executionID, pr, state)
	return pr
}

func (e *Engine) fail(executionID string, state *State, nodeID string, err *Error) *ProcessResult {
	pr := &ProcessResult{
		Status:         ExecutionFailed,
		FinalVariables: state.Variables(),
		NodesExecuted:  state.NodeCount(),
		Error:          err,
		FailedNodeID:   nodeID,
		ExecutionID:    executionID,
	}
	e.recorder.ExecutionUpdated(context.Background(), executionID, pr, state)
	return pr
}

func (e *Engine) complete(ctx context.Context, executionID string, state *State, deps *Dependencies, output any) *ProcessResult {
	if err := e.checkpoint.Clear(ctx, executionID); err != nil {
		slog.Warn("failed to clear checkpoint on completion", "execution_id", executionID, "error", err)
	}
	pr := &ProcessResult{
		Status:         ExecutionCompleted,
		Output:         output,
		FinalVariables: state.Variables(),
		NodesExecuted:  state.NodeCount(),
		ExecutionID:    executionID,
	}
	e.recorder.ExecutionUpdated(ctx, executionID, pr, state)
	return pr
}

// resolveEndOutput computes an END node's terminal output: an explicit
// "output" type_config entry, either a field map
// (each value interpolated) or a single value reference, or — when absent —
// the full variable bag. END has no registered Executor (the engine handles
// it directly, see process/nodes/flow.go), so this is the only place that
// output config is ever read.
func resolveEndOutput(node *ProcessNode, state *State) (any, *Error) {
	raw, ok := node.Config.TypeConfig["output"]
	if !ok {
		return state.Variables(), nil
	}
	switch v := raw.(type) {
	case string:
		out, err := interpolateOutputString(v, state)
		if err != nil {
			return nil, AsError(err)
		}
		return out, nil
	case map[string]any:
		out, err := state.InterpolateObject(v)
		if err != nil {
			return nil, AsError(err)
		}
		return out, nil
	default:
		return v, nil
	}
}

// interpolateOutputString evaluates a bare "${expr}" single-variable
// reference to its native value (so END(output="${y}") with y="hello
// world" yields the string "hello world", not a stringified wrapper); any
// other string is treated as a template and interpolated to a string.
func interpolateOutputString(s string, state *State) (any, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") && strings.Count(trimmed, "${") == 1 {
		inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "${"), "}")
		return state.Evaluate(inner)
	}
	return state.InterpolateString(s)
}

// selectNext resolves the node to visit after node/result, applying
// (in priority order) NodeResult.NextNodeID, node.Next, and edge evaluation
// with default-edge fallback. An empty return with a nil error means the
// execution has reached a dead end with no outgoing path and should
// complete.
func (e *Engine) selectNext(definition *ProcessDefinition, state *State, nodeID string, result NodeResult) (string, *Error) {
	if result.NextNodeID != "" {
		return result.NextNodeID, nil
	}
	if node, ok := definition.GetNode(nodeID); ok && node.Next != "" {
		return node.Next, nil
	}

	edges := definition.GetOutgoingEdges(nodeID)
	if len(edges) == 0 {
		return "", nil
	}

	sorted := make([]*ProcessEdge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	var defaultEdge *ProcessEdge
	for _, edge := range sorted {
		if edge.IsDefault {
			defaultEdge = edge
			continue
		}
		if edge.Condition == "" {
			return edge.ToNodeID, nil
		}
		ok, err := state.EvaluateCondition(edge.Condition)
		if err != nil {
			return "", AsError(err)
		}
		if ok {
			return edge.ToNodeID, nil
		}
	}
	if defaultEdge != nil {
		return defaultEdge.ToNodeID, nil
	}
	return "", nil
}

// executeParallel fans out a PARALLEL node's branches concurrently, each
// against a forked State snapshot taken at branch start, and folds branch
// results back into the parent state once every branch reaches its
// corresponding MERGE (or dead-ends). fail_fast in the node's type_config
// cancels remaining branches as soon as one fails.
func (e *Engine) executeParallel(ctx context.Context, executionID string, definition *ProcessDefinition, node *ProcessNode, state *State, deps *Dependencies) (NodeResult, *Error) {
	branchStarts, _ := getConfigValue[[]any](node, "branches")
	branches := make([][]string, 0, len(branchStarts))
	for _, b := range branchStarts {
		switch v := b.(type) {
		case string:
			// A branch given as a single node id.
			branches = append(branches, []string{v})
		case []any:
			// A branch given as an ordered node-id list, e.g. [[X],[Y]];
			// only the first node is needed to seed the branch, the rest
			// follow from the definition's own edges.
			ids := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					ids = append(ids, s)
				}
			}
			if len(ids) > 0 {
				branches = append(branches, ids)
			}
		}
	}
	if len(branches) == 0 {
		return NodeResult{Status: StatusCompleted}, nil
	}

	failFast := GetConfigBool(node, "fail_fast")

	// The join strategy (wait_all, wait_any, wait_n) is read off the
	// PARALLEL node itself rather than the downstream MERGE: the frame and
	// the wait are created together here, and MERGE only reads the
	// finished frame's Results once this function returns.
	strategy := GetConfigStringDefault(node, "strategy", "wait_all")
	threshold := len(branches)
	switch strategy {
	case "wait_any":
		threshold = 1
	case "wait_n":
		if v, ok := GetConfigFloat(node, "min_branches"); ok && int(v) > 0 {
			threshold = int(v)
		}
	}

	state.StartParallel(node.ID, branches)

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		idx int
		err *Error
	}
	done := make(chan outcome, len(branches))
	for i, branch := range branches {
		go func(idx int, startNodeID string) {
			forked := state.Fork()
			deadline := time.Now().Add(time.Hour)
			pr := e.run(branchCtx, fmt.Sprintf("%s-branch-%d", executionID, idx), definition, forked, deps, startNodeID, deadline, true)
			if pr.Status == ExecutionFailed {
				done <- outcome{idx, pr.Error}
				return
			}
			state.CompleteBranch(node.ID, idx, pr.FinalVariables)
			done <- outcome{idx, nil}
		}(i, branch[0])
	}

	completed := 0
	var firstErr *Error
	firstErrIdx := -1
	for completed < len(branches) {
		o := <-done
		completed++
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
				firstErrIdx = o.idx
			}
			if failFast {
				break
			}
			continue
		}
		if completed >= threshold {
			break
		}
	}

	// The parallel frame is deliberately left in place here: the downstream
	// MERGE node (visited next via selectNext) reads its Results by
	// parallel_node_id and is the one that retires it (see mergeExecutor in
	// process/nodes/flow.go). Clearing it here would discard the branch
	// results before MERGE ever sees them.

	// Attribute the failure to the branch's own starting node id (per the
	// spec's fail_fast contract: failed_node_id names the branch that broke,
	// not the PARALLEL node itself), carried back via Details since the
	// engine's fail() only sees the PARALLEL node's id at the call site.
	if firstErr != nil && firstErrIdx >= 0 {
		details := firstErr.Details
		if details == nil {
			details = map[string]any{}
		}
		details["branch_node_id"] = branches[firstErrIdx][0]
		firstErr.Details = details
	}

	if firstErr != nil && failFast {
		return NodeResult{}, firstErr
	}
	if completed < threshold && firstErr != nil {
		return NodeResult{}, firstErr
	}
	return NodeResult{Status: StatusCompleted}, nil
}
