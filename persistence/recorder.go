package persistence

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ahamdihussein-star/processforge/process"
)

// Recorder adapts a *Store to process.Recorder, translating node lifecycle
// callbacks and execution-status updates into row writes against
// process_node_executions and process_executions. A Recorder is safe for
// concurrent use across PARALLEL branches of the same execution.
type Recorder struct {
	store *Store

	mu      sync.Mutex
	pending map[string]string // "executionID/order" -> node execution row id
}

// NewRecorder wraps store as a process.Recorder.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, pending: make(map[string]string)}
}

var _ process.Recorder = (*Recorder)(nil)

// NodeStarted inserts the node's row in "running" status. Failures are
// logged rather than surfaced: a broken recorder must never abort an
// in-flight execution.
func (r *Recorder) NodeStarted(ctx context.Context, executionID string, node *process.ProcessNode, order int) {
	now := time.Now().UTC()
	ne := &ProcessNodeExecution{
		ProcessExecutionID: executionID,
		NodeID:             node.ID,
		NodeType:           string(node.Type),
		NodeName:           node.Name,
		ExecutionOrder:     order,
		Status:             "running",
		StartedAt:          &now,
	}
	if err := r.store.CreateNodeExecution(ctx, ne); err != nil {
		slog.Warn("persistence: failed to record node start", "execution_id", executionID, "node_id", node.ID, "error", err)
		return
	}
	r.mu.Lock()
	r.pending[pendingKey(executionID, order)] = ne.ID
	r.mu.Unlock()
}

// NodeFinished updates the node's row with its terminal status, output, and
// (when it failed) error detail.
func (r *Recorder) NodeFinished(ctx context.Context, executionID string, node *process.ProcessNode, order int, result process.NodeResult) {
	r.mu.Lock()
	id, ok := r.pending[pendingKey(executionID, order)]
	delete(r.pending, pendingKey(executionID, order))
	r.mu.Unlock()
	if !ok {
		slog.Warn("persistence: node finished with no matching start record", "execution_id", executionID, "node_id", node.ID)
		return
	}

	now := time.Now().UTC()
	duration := result.DurationMS
	ne := &ProcessNodeExecution{
		ID:             id,
		Status:         string(result.Status),
		OutputData:     result.Output,
		CompletedAt:    &now,
		DurationMS:     &duration,
		LLMTokensUsed:  result.TokensUsed,
	}
	if result.Status == process.StatusWaiting {
		ne.Status = "waiting"
	}
	if result.Error != nil {
		ne.ErrorMessage = result.Error.Message
		ne.ErrorType = string(result.Error.Category)
	}
	if node.Type == process.NodeAITask {
		ne.LLMResponse = stringifyOutput(result.Output)
	}
	if node.Type == process.NodeToolCall {
		ne.ToolResult = result.Output
	}

	if err := r.store.UpdateNodeExecution(ctx, ne); err != nil {
		slog.Warn("persistence: failed to record node finish", "execution_id", executionID, "node_id", node.ID, "error", err)
	}
}

// ExecutionUpdated persists the execution's current status, variables, and
// output. It assumes a process_executions row was already created by the
// caller (before invoking Engine.Run/Resume) and only updates mutable
// fields; it never changes org_id/agent_id.
func (r *Recorder) ExecutionUpdated(ctx context.Context, executionID string, result *process.ProcessResult, state *process.State) {
	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		slog.Warn("persistence: failed to load execution for update", "execution_id", executionID, "error", err)
		return
	}

	now := time.Now().UTC()
	exec.Status = result.Status
	exec.Variables = result.FinalVariables
	exec.Output = result.Output
	exec.NodeCountExecuted = result.NodesExecuted
	exec.CurrentNodeID = result.ResumeNodeID
	exec.CompletedNodes = state.CompletedNodes()
	exec.SkippedNodes = state.SkippedNodes()

	switch result.Status {
	case process.ExecutionCompleted, process.ExecutionFailed, process.ExecutionCancelled, process.ExecutionTimedOut:
		exec.CompletedAt = &now
		exec.CanResume = false
	case process.ExecutionWaiting, process.ExecutionPaused:
		exec.CanResume = true
		exec.CheckpointAt = &now
	}

	if result.Error != nil {
		exec.ErrorMessage = result.Error.Message
		exec.ErrorNodeID = result.FailedNodeID
		exec.ErrorDetails = result.Error.Details
	}

	if err := r.store.UpdateExecution(ctx, exec); err != nil {
		slog.Warn("persistence: failed to record execution update", "execution_id", executionID, "error", err)
	}
}

func pendingKey(executionID string, order int) string {
	return executionID + "/" + strconv.Itoa(order)
}

func stringifyOutput(output any) string {
	if output == nil {
		return ""
	}
	if str, ok := output.(string); ok {
		return str
	}
	s, err := toJSON(output)
	if err != nil {
		return ""
	}
	if str, ok := s.(string); ok {
		return str
	}
	return ""
}

// ApprovalRecorder adapts a *Store to process.ApprovalSink.
type ApprovalRecorder struct {
	store *Store
}

// NewApprovalRecorder wraps store as a process.ApprovalSink.
func NewApprovalRecorder(store *Store) *ApprovalRecorder {
	return &ApprovalRecorder{store: store}
}

var _ process.ApprovalSink = (*ApprovalRecorder)(nil)

// CreateApprovalRequest persists an APPROVAL/HUMAN_TASK node's pending
// request and returns its id for the node to record as WaitingMetadata.
func (a *ApprovalRecorder) CreateApprovalRequest(ctx context.Context, req process.ApprovalRequest) (string, error) {
	var deadline *time.Time
	if req.DeadlineSeconds > 0 {
		t := time.Now().UTC().Add(time.Duration(req.DeadlineSeconds) * time.Second)
		deadline = &t
	}

	minApprovals := req.MinApprovals
	if minApprovals <= 0 {
		minApprovals = 1
	}

	record := &ProcessApprovalRequest{
		OrgID:               req.OrgID,
		ProcessExecutionID:  req.ProcessExecutionID,
		NodeID:              req.NodeID,
		NodeName:            req.NodeName,
		Title:               req.Title,
		Description:         req.Description,
		ReviewData:          req.ReviewData,
		Priority:            req.Priority,
		AssigneeType:        req.AssigneeType,
		AssignedUserIDs:     req.AssignedUserIDs,
		AssignedRoleIDs:     req.AssignedRoleIDs,
		AssignedGroupIDs:    req.AssignedGroupIDs,
		MinApprovals:        minApprovals,
		DeadlineAt:          deadline,
		EscalateAfterHours:  req.EscalateAfterHours,
		EscalationUserIDs:   req.EscalationUserIDs,
	}

	if err := a.store.CreateApprovalRequest(ctx, record); err != nil {
		return "", err
	}
	return record.ID, nil
}
