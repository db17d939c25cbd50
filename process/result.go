package process

// Status is the outcome of a single node execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusWaiting   Status = "waiting"
)

// NodeResult is what a node Executor returns from Execute. The engine uses
// it to decide what to persist, which node(s) to visit next, and whether to
// suspend the execution.
type NodeResult struct {
	Status Status

	// Output is usually a map[string]any, but AI_TASK's plain-text mode and
	// a handful of other executors return a scalar directly so it can flow
	// straight into output_variable/END interpolation without a wrapper key.
	Output any

	// NextNodeID overrides the edge-based next-node selection with a single
	// target (e.g. CONDITION/SWITCH branch resolution).
	NextNodeID string
	// NextNodeIDs lists multiple targets. The engine does not read it;
	// PARALLEL fan-out comes from the node's configured branches.
	NextNodeIDs []string

	// VariablesUpdate is merged into process state on success.
	VariablesUpdate map[string]any

	Error *Error

	DurationMS int64
	TokensUsed int

	Logs []string

	// WaitingFor/WaitingMetadata are set when Status == StatusWaiting: the
	// engine persists them and returns control to the caller.
	WaitingFor      WaitKindLike
	WaitingMetadata map[string]any
}

// WaitKindLike mirrors checkpoint.WaitKind as a type declared in this
// package.
type WaitKindLike string

const (
	WaitNone       WaitKindLike = ""
	WaitApproval   WaitKindLike = "approval"
	WaitHumanTask  WaitKindLike = "human_task"
	WaitDelay      WaitKindLike = "delay"
	WaitSchedule   WaitKindLike = "schedule"
	WaitEvent      WaitKindLike = "event"
	WaitSubProcess WaitKindLike = "subprocess"
)

// ExecutionStatus is the lifecycle status of a ProcessExecution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
)

// ProcessResult is what the engine's Run/Resume call returns to its caller.
type ProcessResult struct {
	Status ExecutionStatus

	// Output is the terminal process output: the END node's resolved
	// output config (a field map, or a single interpolated value such as a
	// bare "${y}" reference), or the full variable bag when the END node
	// declares no output config at all. It may be a scalar, not just a map.
	Output         any
	FinalVariables map[string]any
	NodesExecuted  int

	Error       *Error
	FailedNodeID string

	WaitingFor      WaitKindLike
	ResumeNodeID    string
	WaitingMetadata map[string]any

	ExecutionID string
}

// IsTerminal reports whether the result reflects a status the engine will
// not resume from on its own; pending, running, waiting and paused are not
// terminal.
func (r *ProcessResult) IsTerminal() bool {
	switch r.Status {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut:
		return true
	default:
		return false
	}
}
