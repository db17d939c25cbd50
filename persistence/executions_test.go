package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahamdihussein-star/processforge/process"
)

func TestCreateExecutionAssignsIDAndMonotonicNumber(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1", Status: process.ExecutionRunning, TriggerType: "manual"}
	require.NoError(t, store.CreateExecution(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 1, first.ExecutionNumber)

	second := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1", Status: process.ExecutionRunning}
	require.NoError(t, store.CreateExecution(ctx, second))
	assert.Equal(t, 2, second.ExecutionNumber)

	otherAgent := &ProcessExecution{OrgID: "org-1", AgentID: "agent-2", Status: process.ExecutionRunning}
	require.NoError(t, store.CreateExecution(ctx, otherAgent))
	assert.Equal(t, 1, otherAgent.ExecutionNumber, "execution numbering is scoped per agent_id")
}

func TestCreateAndGetExecutionRoundTripsJSONColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exec := &ProcessExecution{
		OrgID:          "org-1",
		AgentID:        "agent-1",
		Status:         process.ExecutionRunning,
		TriggerInput:   map[string]any{"amount": 500.0},
		Variables:      map[string]any{"x": "hello"},
		CompletedNodes: []string{"start", "n1"},
	}
	require.NoError(t, store.CreateExecution(ctx, exec))

	fetched, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.OrgID, fetched.OrgID)
	assert.Equal(t, exec.AgentID, fetched.AgentID)
	assert.Equal(t, process.ExecutionRunning, fetched.Status)
	assert.Equal(t, 500.0, fetched.TriggerInput["amount"])
	assert.Equal(t, "hello", fetched.Variables["x"])
	assert.Equal(t, []string{"start", "n1"}, fetched.CompletedNodes)
}

func TestGetExecutionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetExecution(context.Background(), "does-not-exist")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateExecutionPersistsMutableFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1", Status: process.ExecutionRunning}
	require.NoError(t, store.CreateExecution(ctx, exec))

	exec.Status = process.ExecutionCompleted
	exec.Output = map[string]any{"result": "ok"}
	exec.NodeCountExecuted = 4
	require.NoError(t, store.UpdateExecution(ctx, exec))

	fetched, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, process.ExecutionCompleted, fetched.Status)
	assert.Equal(t, "ok", fetched.Output.(map[string]any)["result"])
	assert.Equal(t, 4, fetched.NodeCountExecuted)
}

func TestUpdateExecutionNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateExecution(context.Background(), &ProcessExecution{ID: "missing", Status: process.ExecutionFailed})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListExecutionsFiltersAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	running := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1", Status: process.ExecutionRunning}
	completed := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1", Status: process.ExecutionCompleted}
	otherOrg := &ProcessExecution{OrgID: "org-2", AgentID: "agent-1", Status: process.ExecutionRunning}
	require.NoError(t, store.CreateExecution(ctx, running))
	require.NoError(t, store.CreateExecution(ctx, completed))
	require.NoError(t, store.CreateExecution(ctx, otherOrg))

	results, err := store.ListExecutions(ctx, ExecutionFilter{OrgID: "org-1", Status: process.ExecutionRunning})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, running.ID, results[0].ID)

	all, err := store.ListExecutions(ctx, ExecutionFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
