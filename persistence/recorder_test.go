package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahamdihussein-star/processforge/process"
)

func TestRecorderNodeLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1"}
	require.NoError(t, store.CreateExecution(ctx, exec))

	rec := NewRecorder(store)
	node := &process.ProcessNode{ID: "n1", Type: process.NodeAITask, Name: "Summarize"}

	rec.NodeStarted(ctx, exec.ID, node, 0)
	rows, err := store.ListNodeExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "running", rows[0].Status)

	rec.NodeFinished(ctx, exec.ID, node, 0, process.NodeResult{
		Status:     process.StatusCompleted,
		Output:     map[string]any{"content": "done"},
		TokensUsed: 42,
	})

	rows, err = store.ListNodeExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "completed", rows[0].Status)
	assert.Equal(t, "done", rows[0].OutputData.(map[string]any)["content"])
	assert.Equal(t, 42, rows[0].LLMTokensUsed)
	assert.NotEmpty(t, rows[0].LLMResponse, "AI_TASK finish should stringify output into llm_response")
}

func TestRecorderNodeFinishedWithoutMatchingStartIsANoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1"}
	require.NoError(t, store.CreateExecution(ctx, exec))

	rec := NewRecorder(store)
	node := &process.ProcessNode{ID: "n1", Type: process.NodeScript}

	rec.NodeFinished(ctx, exec.ID, node, 0, process.NodeResult{Status: process.StatusCompleted})

	rows, err := store.ListNodeExecutions(ctx, exec.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecorderExecutionUpdated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1", Status: process.ExecutionRunning}
	require.NoError(t, store.CreateExecution(ctx, exec))

	rec := NewRecorder(store)
	state := process.NewState(nil)
	state.Set("x", "y")

	result := &process.ProcessResult{
		Status:         process.ExecutionCompleted,
		FinalVariables: map[string]any{"x": "y"},
		Output:         map[string]any{"done": true},
		NodesExecuted:  3,
	}
	rec.ExecutionUpdated(ctx, exec.ID, result, state)

	fetched, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, process.ExecutionCompleted, fetched.Status)
	assert.Equal(t, "y", fetched.Variables["x"])
	assert.Equal(t, true, fetched.Output.(map[string]any)["done"])
	assert.Equal(t, 3, fetched.NodeCountExecuted)
	assert.False(t, fetched.CanResume, "a completed execution must not be marked resumable")
}

func TestRecorderExecutionUpdatedWaitingIsResumable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1", Status: process.ExecutionRunning}
	require.NoError(t, store.CreateExecution(ctx, exec))

	rec := NewRecorder(store)
	state := process.NewState(nil)

	result := &process.ProcessResult{Status: process.ExecutionWaiting, FinalVariables: map[string]any{}, ResumeNodeID: "approve-1"}
	rec.ExecutionUpdated(ctx, exec.ID, result, state)

	fetched, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, process.ExecutionWaiting, fetched.Status)
	assert.True(t, fetched.CanResume)
	assert.Equal(t, "approve-1", fetched.CurrentNodeID)
}

func TestApprovalRecorderCreateApprovalRequest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1"}
	require.NoError(t, store.CreateExecution(ctx, exec))

	rec := NewApprovalRecorder(store)
	id, err := rec.CreateApprovalRequest(ctx, process.ApprovalRequest{
		OrgID:              "org-1",
		ProcessExecutionID: exec.ID,
		NodeID:             "approve-1",
		Title:              "Approve expense",
		MinApprovals:       0,
		DeadlineSeconds:    3600,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	fetched, err := store.GetApprovalRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, fetched.MinApprovals, "zero min_approvals defaults to 1")
	assert.NotNil(t, fetched.DeadlineAt)
}
