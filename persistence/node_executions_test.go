package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndUpdateNodeExecution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1"}
	require.NoError(t, store.CreateExecution(ctx, exec))

	started := time.Now().UTC()
	ne := &ProcessNodeExecution{
		ProcessExecutionID: exec.ID,
		NodeID:             "n1",
		NodeType:           "AI_TASK",
		ExecutionOrder:     0,
		Status:             "running",
		StartedAt:          &started,
	}
	require.NoError(t, store.CreateNodeExecution(ctx, ne))
	assert.NotEmpty(t, ne.ID)

	duration := int64(120)
	ne.Status = "completed"
	ne.OutputData = map[string]any{"content": "hi"}
	ne.DurationMS = &duration
	require.NoError(t, store.UpdateNodeExecution(ctx, ne))

	rows, err := store.ListNodeExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "completed", rows[0].Status)
	assert.Equal(t, "hi", rows[0].OutputData.(map[string]any)["content"])
	require.NotNil(t, rows[0].DurationMS)
	assert.Equal(t, duration, *rows[0].DurationMS)
}

func TestUpdateNodeExecutionNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateNodeExecution(context.Background(), &ProcessNodeExecution{ID: "missing", Status: "failed"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNodeExecutionsOrdersByExecutionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1"}
	require.NoError(t, store.CreateExecution(ctx, exec))

	for _, order := range []int{2, 0, 1} {
		ne := &ProcessNodeExecution{ProcessExecutionID: exec.ID, NodeID: "n", NodeType: "SCRIPT", ExecutionOrder: order, Status: "completed"}
		require.NoError(t, store.CreateNodeExecution(ctx, ne))
	}

	rows, err := store.ListNodeExecutions(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{rows[0].ExecutionOrder, rows[1].ExecutionOrder, rows[2].ExecutionOrder})
}
