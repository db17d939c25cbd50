package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingApproval(t *testing.T, store *Store, orgID string, minApprovals int) *ProcessApprovalRequest {
	t.Helper()
	exec := &ProcessExecution{OrgID: orgID, AgentID: "agent-1"}
	require.NoError(t, store.CreateExecution(context.Background(), exec))

	req := &ProcessApprovalRequest{
		OrgID:              orgID,
		ProcessExecutionID: exec.ID,
		NodeID:             "approve-1",
		Title:              "Approve refund",
		AssigneeType:       "user",
		AssignedUserIDs:    []string{"user-1"},
		MinApprovals:       minApprovals,
	}
	require.NoError(t, store.CreateApprovalRequest(context.Background(), req))
	return req
}

func TestCreateAndGetApprovalRequest(t *testing.T) {
	store := newTestStore(t)
	req := newPendingApproval(t, store, "org-1", 1)

	fetched, err := store.GetApprovalRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, fetched.Status)
	assert.Equal(t, []string{"user-1"}, fetched.AssignedUserIDs)
}

func TestDecideApprovalSingleApproverApproves(t *testing.T) {
	store := newTestStore(t)
	req := newPendingApproval(t, store, "org-1", 1)

	decided, err := store.Decide(context.Background(), req.ID, true, "user-1", "looks good", nil)
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, decided.Status)
	assert.Equal(t, 1, decided.ApprovalCount)
}

func TestDecideApprovalRequiresMultipleApprovers(t *testing.T) {
	store := newTestStore(t)
	req := newPendingApproval(t, store, "org-1", 2)

	decided, err := store.Decide(context.Background(), req.ID, true, "user-1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, decided.Status, "one of two approvals should not yet flip to approved")

	decided, err = store.Decide(context.Background(), req.ID, true, "user-2", "", nil)
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, decided.Status)
	assert.Equal(t, 2, decided.ApprovalCount)
}

func TestDecideApprovalRejectionIsImmediateAndTerminal(t *testing.T) {
	store := newTestStore(t)
	req := newPendingApproval(t, store, "org-1", 2)

	decided, err := store.Decide(context.Background(), req.ID, false, "user-1", "not valid", nil)
	require.NoError(t, err)
	assert.Equal(t, ApprovalRejected, decided.Status)

	_, err = store.Decide(context.Background(), req.ID, true, "user-2", "", nil)
	assert.Error(t, err, "a rejected request must not accept a further decision")
}

func TestListPendingApprovalsForUserMatchesDirectAssignee(t *testing.T) {
	store := newTestStore(t)
	newPendingApproval(t, store, "org-1", 1)

	pending, err := store.ListPendingApprovalsForUser(context.Background(), "org-1", "user-1", nil, nil)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	none, err := store.ListPendingApprovalsForUser(context.Background(), "org-1", "someone-else", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListPendingApprovalsForUserMatchesRoleAndGroup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1"}
	require.NoError(t, store.CreateExecution(ctx, exec))

	req := &ProcessApprovalRequest{
		OrgID:              "org-1",
		ProcessExecutionID: exec.ID,
		NodeID:             "approve-1",
		Title:              "Approve",
		AssigneeType:       "role",
		AssignedRoleIDs:    []string{"finance-manager"},
		MinApprovals:       1,
	}
	require.NoError(t, store.CreateApprovalRequest(ctx, req))

	matched, err := store.ListPendingApprovalsForUser(ctx, "org-1", "user-x", []string{"finance-manager"}, nil)
	require.NoError(t, err)
	assert.Len(t, matched, 1)

	unmatched, err := store.ListPendingApprovalsForUser(ctx, "org-1", "user-x", []string{"other-role"}, nil)
	require.NoError(t, err)
	assert.Empty(t, unmatched)
}

func TestExpirePastDeadline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	exec := &ProcessExecution{OrgID: "org-1", AgentID: "agent-1"}
	require.NoError(t, store.CreateExecution(ctx, exec))

	past := time.Now().Add(-time.Hour)
	expired := &ProcessApprovalRequest{OrgID: "org-1", ProcessExecutionID: exec.ID, NodeID: "n1", Title: "t1", MinApprovals: 1, DeadlineAt: &past}
	require.NoError(t, store.CreateApprovalRequest(ctx, expired))

	future := time.Now().Add(time.Hour)
	notYet := &ProcessApprovalRequest{OrgID: "org-1", ProcessExecutionID: exec.ID, NodeID: "n2", Title: "t2", MinApprovals: 1, DeadlineAt: &future}
	require.NoError(t, store.CreateApprovalRequest(ctx, notYet))

	ids, err := store.ExpirePastDeadline(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, expired.ID, ids[0])

	fetched, err := store.GetApprovalRequest(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalExpired, fetched.Status)

	stillPending, err := store.GetApprovalRequest(ctx, notYet.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalPending, stillPending.Status)
}
