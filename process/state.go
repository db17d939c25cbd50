package process

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// LoopFrame tracks the iteration state of an active LOOP/WHILE node.
type LoopFrame struct {
	NodeID   string
	Items    []any
	ItemVar  string
	IndexVar string
	Index    int
}

// ParallelFrame tracks the branches of an active PARALLEL node awaiting a
// MERGE. Results is populated as branches complete, last-write-wins.
type ParallelFrame struct {
	Branches  [][]string
	Completed []bool
	Results   map[string]any
}

// State is the mutable execution state threaded through every node
// execution: process variables, completion bookkeeping, per-node outputs,
// and the active loop/parallel frame stacks.
//
// State is not safe for concurrent field access except through its
// exported methods, which take the internal lock; PARALLEL branches each
// get their own State snapshot (see Fork) rather than sharing one.
type State struct {
	mu sync.RWMutex

	variables         map[string]any
	sensitiveVariables map[string]bool

	completedNodes []string
	skippedNodes   []string
	nodeOutputs    map[string]any

	currentNodeID string

	loopFrames     []LoopFrame
	parallelFrames map[string]ParallelFrame

	exprCache map[string]*vm.Program
}

// NewState creates an empty State, seeding variables from trigger input.
func NewState(triggerInput map[string]any) *State {
	vars := make(map[string]any, len(triggerInput))
	for k, v := range triggerInput {
		vars[k] = v
	}
	return &State{
		variables:          vars,
		sensitiveVariables: make(map[string]bool),
		nodeOutputs:        make(map[string]any),
		parallelFrames:     make(map[string]ParallelFrame),
		exprCache:          make(map[string]*vm.Program),
	}
}

// MarkSensitive flags a variable name to be redacted on checkpoint export.
func (s *State) MarkSensitive(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensitiveVariables[name] = true
}

// Get returns a variable's value.
func (s *State) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[name]
	return v, ok
}

// Set assigns a variable's value.
func (s *State) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[name] = value
}

// ApplyUpdate merges a node's VariablesUpdate into state.
func (s *State) ApplyUpdate(update map[string]any) {
	if len(update) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range update {
		s.variables[k] = v
	}
}

// Variables returns a shallow copy of the current variable set.
func (s *State) Variables() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.variables))
	for k, v := range s.variables {
		out[k] = v
	}
	return out
}

// MarkCompleted records a node id as completed.
func (s *State) MarkCompleted(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedNodes = append(s.completedNodes, nodeID)
}

// MarkSkipped records a node id as skipped.
func (s *State) MarkSkipped(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skippedNodes = append(s.skippedNodes, nodeID)
}

// CompletedNodes returns a copy of the completed-node id list.
func (s *State) CompletedNodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.completedNodes))
	copy(out, s.completedNodes)
	return out
}

// SkippedNodes returns a copy of the skipped-node id list.
func (s *State) SkippedNodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.skippedNodes))
	copy(out, s.skippedNodes)
	return out
}

// NodeCount returns len(completedNodes), the invariant the engine checks
// against MaxNodeExecutions.
func (s *State) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.completedNodes)
}

// SetNodeOutput stores a node's output under its output variable name, or
// under the node id when no output variable is configured.
func (s *State) SetNodeOutput(key string, output any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeOutputs[key] = output
}

// NodeOutput returns a previously stored node output by its key (the
// producing node's output_variable, or its node id when none was set).
func (s *State) NodeOutput(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.nodeOutputs[key]
	return v, ok
}

// SetCurrentNode records the node currently (or about to be) executing.
func (s *State) SetCurrentNode(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentNodeID = nodeID
}

// CurrentNode returns the current node id.
func (s *State) CurrentNode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentNodeID
}

// PushLoop starts a new loop iteration frame owned by nodeID.
func (s *State) PushLoop(nodeID string, items []any, itemVar, indexVar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopFrames = append(s.loopFrames, LoopFrame{NodeID: nodeID, Items: items, ItemVar: itemVar, IndexVar: indexVar})
}

// CurrentLoop returns the innermost active loop frame, if any.
func (s *State) CurrentLoop() (*LoopFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.loopFrames) == 0 {
		return nil, false
	}
	f := s.loopFrames[len(s.loopFrames)-1]
	return &f, true
}

// SetLoopItem publishes the current loop frame's item/index into variables
// under its configured item_var/index_var names.
func (s *State) SetLoopItem() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.loopFrames) == 0 {
		return
	}
	f := s.loopFrames[len(s.loopFrames)-1]
	if f.Index < len(f.Items) {
		s.variables[f.ItemVar] = f.Items[f.Index]
	}
	if f.IndexVar != "" {
		s.variables[f.IndexVar] = f.Index
	}
}

// AdvanceLoop moves the innermost loop frame to its next item, reporting
// whether more items remain.
func (s *State) AdvanceLoop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.loopFrames) == 0 {
		return false
	}
	i := len(s.loopFrames) - 1
	s.loopFrames[i].Index++
	return s.loopFrames[i].Index < len(s.loopFrames[i].Items)
}

// PopLoop discards the innermost loop frame.
func (s *State) PopLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.loopFrames) == 0 {
		return
	}
	s.loopFrames = s.loopFrames[:len(s.loopFrames)-1]
}

// StartParallel registers a new parallel frame keyed by the PARALLEL node's id.
func (s *State) StartParallel(nodeID string, branches [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parallelFrames[nodeID] = ParallelFrame{
		Branches:  branches,
		Completed: make([]bool, len(branches)),
		Results:   make(map[string]any),
	}
}

// CompleteBranch marks a PARALLEL branch complete and merges its results
// into the frame (last-write-wins across concurrently-completing branches).
func (s *State) CompleteBranch(nodeID string, branchIndex int, results map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.parallelFrames[nodeID]
	if !ok {
		return
	}
	if branchIndex >= 0 && branchIndex < len(f.Completed) {
		f.Completed[branchIndex] = true
	}
	for k, v := range results {
		f.Results[k] = v
	}
	s.parallelFrames[nodeID] = f
}

// ParallelFrame returns a copy of the named parallel frame.
func (s *State) ParallelFrame(nodeID string) (ParallelFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.parallelFrames[nodeID]
	return f, ok
}

// AllBranchesComplete reports whether every branch in the named frame has
// completed, the condition the MERGE node waits on.
func (s *State) AllBranchesComplete(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.parallelFrames[nodeID]
	if !ok {
		return true
	}
	for _, done := range f.Completed {
		if !done {
			return false
		}
	}
	return true
}

// EndParallel discards the named parallel frame once merged.
func (s *State) EndParallel(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parallelFrames, nodeID)
}

// Fork returns an independent copy of State for a PARALLEL branch to
// execute against: a copy-on-write snapshot taken at branch start, per the
// concurrency model. Mutations to the fork do not affect the parent until
// CompleteBranch folds its results back in.
func (s *State) Fork() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vars := make(map[string]any, len(s.variables))
	for k, v := range s.variables {
		vars[k] = v
	}
	sensitive := make(map[string]bool, len(s.sensitiveVariables))
	for k, v := range s.sensitiveVariables {
		sensitive[k] = v
	}
	outputs := make(map[string]any, len(s.nodeOutputs))
	for k, v := range s.nodeOutputs {
		outputs[k] = v
	}
	loops := make([]LoopFrame, len(s.loopFrames))
	copy(loops, s.loopFrames)

	return &State{
		variables:          vars,
		sensitiveVariables: sensitive,
		nodeOutputs:        outputs,
		parallelFrames:     make(map[string]ParallelFrame),
		loopFrames:         loops,
		currentNodeID:      s.currentNodeID,
		exprCache:          make(map[string]*vm.Program),
	}
}

// interpolationPattern matches ${expr} template placeholders.
var interpolationPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// InterpolateString substitutes every ${expr} placeholder in s with the
// string form of evaluating expr against state.
func (s *State) InterpolateString(str string) (string, error) {
	var evalErr error
	out := interpolationPattern.ReplaceAllStringFunc(str, func(match string) string {
		if evalErr != nil {
			return match
		}
		inner := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		val, err := s.Evaluate(inner)
		if err != nil {
			evalErr = err
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if evalErr != nil {
		return "", evalErr
	}
	return out, nil
}

// InterpolateObject walks a nested map/slice/string structure, interpolating
// every string leaf via InterpolateString and leaving other value types
// untouched.
func (s *State) InterpolateObject(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return s.InterpolateString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			interpolated, err := s.InterpolateObject(val)
			if err != nil {
				return nil, err
			}
			out[k] = interpolated
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			interpolated, err := s.InterpolateObject(val)
			if err != nil {
				return nil, err
			}
			out[i] = interpolated
		}
		return out, nil
	default:
		return v, nil
	}
}

// Evaluate compiles and runs expression against the current variable
// environment, using expr-lang/expr's restricted VM: no host
// introspection, no I/O, just identifier/path lookups, comparisons,
// boolean/arithmetic operators, and a fixed function whitelist.
func (s *State) Evaluate(expression string) (any, error) {
	env := s.exprEnvironment()

	s.mu.Lock()
	program, cached := s.exprCache[expression]
	if !cached {
		var err error
		program, err = expr.Compile(expression, expr.Env(env))
		if err != nil {
			s.mu.Unlock()
			return nil, ConditionEvalFailed(fmt.Sprintf("invalid expression %q: %v", expression, err))
		}
		s.exprCache[expression] = program
	}
	s.mu.Unlock()

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, ConditionEvalFailed(fmt.Sprintf("expression %q failed: %v", expression, err))
	}
	return out, nil
}

// EvaluateCondition evaluates expression and coerces its result to a bool.
// A missing or nil value referenced by the expression surfaces as a
// CONDITION_EVAL_FAILED validation error rather than a silent false, per
// the edge-evaluation contract CONDITION/SWITCH/edge guards rely on.
func (s *State) EvaluateCondition(expression string) (bool, error) {
	out, err := s.Evaluate(expression)
	if err != nil {
		return false, err
	}
	if out == nil {
		return false, ConditionEvalFailed(fmt.Sprintf("expression %q evaluated to a null value", expression))
	}
	b, ok := out.(bool)
	if !ok {
		return false, ConditionEvalFailed(fmt.Sprintf("expression %q did not evaluate to a boolean, got %T", expression, out))
	}
	return b, nil
}

func (s *State) exprEnvironment() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env := make(map[string]any, len(s.variables)+len(s.nodeOutputs)+2)
	for k, v := range s.variables {
		env[k] = v
	}
	env["variables"] = s.variables
	env["node"] = s.nodeOutputs
	addSafeFunctions(env)
	return env
}

// addSafeFunctions installs the fixed whitelist of helper functions
// available to expressions: string/array/math helpers with no access to
// the filesystem, network, or process environment.
func addSafeFunctions(env map[string]any) {
	env["contains"] = strings.Contains
	env["hasPrefix"] = strings.HasPrefix
	env["hasSuffix"] = strings.HasSuffix
	env["upper"] = strings.ToUpper
	env["lower"] = strings.ToLower
	env["trim"] = strings.TrimSpace
	env["coalesce"] = func(args ...any) any {
		for _, a := range args {
			if a != nil {
				return a
			}
		}
		return nil
	}
	env["isNull"] = func(v any) bool { return v == nil }
}
