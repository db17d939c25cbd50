package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateApprovalRequest inserts a pending ProcessApprovalRequest, assigning
// an id and created_at if unset.
func (s *Store) CreateApprovalRequest(ctx context.Context, req *ProcessApprovalRequest) error {
	if req.ID == "" {
		req.ID = newID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = ApprovalPending
	}

	review, _ := toJSON(req.ReviewData)
	userIDs, _ := toJSON(req.AssignedUserIDs)
	roleIDs, _ := toJSON(req.AssignedRoleIDs)
	groupIDs, _ := toJSON(req.AssignedGroupIDs)
	escalationIDs, _ := toJSON(req.EscalationUserIDs)

	cols := []string{
		"id", "org_id", "process_execution_id", "node_id", "node_name", "status", "title", "description",
		"review_data", "priority", "assignee_type", "assigned_user_ids", "assigned_role_ids", "assigned_group_ids",
		"min_approvals", "approval_count", "deadline_at", "escalate_after_hours", "escalation_user_ids",
		"created_at",
	}
	vals := []any{
		req.ID, req.OrgID, req.ProcessExecutionID, req.NodeID, nullIfEmpty(req.NodeName), string(req.Status), req.Title, nullIfEmpty(req.Description),
		review, nullIfEmpty(req.Priority), nullIfEmpty(req.AssigneeType), userIDs, roleIDs, groupIDs,
		req.MinApprovals, req.ApprovalCount, req.DeadlineAt, req.EscalateAfterHours, escalationIDs,
		req.CreatedAt,
	}

	query := buildInsert(s.dialect, "process_approval_requests", cols)
	if _, err := s.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

// GetApprovalRequest fetches one approval request by id.
func (s *Store) GetApprovalRequest(ctx context.Context, id string) (*ProcessApprovalRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM process_approval_requests WHERE id = %s`, approvalColumns, s.placeholder(1))
	row := s.db.QueryRowContext(ctx, query, id)
	return scanApproval(row)
}

// ListPendingApprovalsForUser returns pending approvals assigned directly
// to userID, to any of roleIDs/groupIDs, or to assignee_type="any".
func (s *Store) ListPendingApprovalsForUser(ctx context.Context, orgID, userID string, roleIDs, groupIDs []string) ([]*ProcessApprovalRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM process_approval_requests WHERE org_id = %s AND status = %s ORDER BY created_at DESC`,
		approvalColumns, s.placeholder(1), s.placeholder(2))
	rows, err := s.db.QueryContext(ctx, query, orgID, string(ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	roleSet := toSet(roleIDs)
	groupSet := toSet(groupIDs)

	var out []*ProcessApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		if approvalMatchesAssignee(a, userID, roleSet, groupSet) {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

func approvalMatchesAssignee(a *ProcessApprovalRequest, userID string, roleSet, groupSet map[string]bool) bool {
	if a.AssigneeType == "any" {
		return true
	}
	for _, id := range a.AssignedUserIDs {
		if id == userID {
			return true
		}
	}
	for _, id := range a.AssignedRoleIDs {
		if roleSet[id] {
			return true
		}
	}
	for _, id := range a.AssignedGroupIDs {
		if groupSet[id] {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// Decide records an approval/rejection decision. approved increments
// ApprovalCount and flips status to ApprovalApproved once ApprovalCount
// reaches MinApprovals; a rejection is terminal immediately.
func (s *Store) Decide(ctx context.Context, id string, approved bool, decidedBy, comments string, decisionData map[string]any) (*ProcessApprovalRequest, error) {
	req, err := s.GetApprovalRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != ApprovalPending {
		return nil, fmt.Errorf("persistence: approval request %s is not pending (status=%s)", id, req.Status)
	}

	now := time.Now().UTC()
	req.DecidedBy = decidedBy
	req.DecidedAt = &now
	req.DecisionComments = comments
	req.DecisionData = decisionData

	if !approved {
		req.Status = ApprovalRejected
		req.Decision = "rejected"
	} else {
		req.ApprovalCount++
		req.Decision = "approved"
		if req.ApprovalCount >= req.MinApprovals {
			req.Status = ApprovalApproved
		}
	}

	decisionJSON, _ := toJSON(req.DecisionData)
	cols := []string{"status", "decided_by", "decided_at", "decision", "decision_comments", "decision_data", "approval_count", "updated_at"}
	vals := []any{string(req.Status), req.DecidedBy, req.DecidedAt, req.Decision, nullIfEmpty(req.DecisionComments), decisionJSON, req.ApprovalCount, now}

	query, args := buildUpdate(s.dialect, "process_approval_requests", cols, vals, "id", req.ID)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("decide approval: %w", err)
	}
	req.UpdatedAt = &now
	return req, nil
}

// ExpirePastDeadline flips every still-pending request whose deadline_at
// has passed to ApprovalExpired, returning the ids affected.
func (s *Store) ExpirePastDeadline(ctx context.Context, now time.Time) ([]string, error) {
	query := fmt.Sprintf(`SELECT id FROM process_approval_requests WHERE status = %s AND deadline_at IS NOT NULL AND deadline_at < %s`,
		s.placeholder(1), s.placeholder(2))
	rows, err := s.db.QueryContext(ctx, query, string(ApprovalPending), now)
	if err != nil {
		return nil, fmt.Errorf("expire past deadline: select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		update, args := buildUpdate(s.dialect, "process_approval_requests", []string{"status", "updated_at"}, []any{string(ApprovalExpired), now}, "id", id)
		if _, err := s.db.ExecContext(ctx, update, args...); err != nil {
			return nil, fmt.Errorf("expire past deadline: update %s: %w", id, err)
		}
	}
	return ids, nil
}

const approvalColumns = `id, org_id, process_execution_id, node_id, node_name, status, title, description,
	review_data, priority, assignee_type, assigned_user_ids, assigned_role_ids, assigned_group_ids,
	min_approvals, approval_count, decided_by, decided_at, decision, decision_comments, decision_data,
	deadline_at, escalate_after_hours, escalation_user_ids, escalated, escalated_at, reminder_sent,
	reminder_sent_at, created_at, updated_at`

func scanApproval(row rowScanner) (*ProcessApprovalRequest, error) {
	var a ProcessApprovalRequest
	var nodeName, status, description, priority, assigneeType, decidedBy, decision, decisionComments sql.NullString
	var reviewData, userIDs, roleIDs, groupIDs, decisionData, escalationIDs sql.NullString
	var decidedAt, deadlineAt, escalatedAt, reminderSentAt, updatedAt sql.NullTime
	var escalateAfterHours sql.NullInt64

	if err := row.Scan(
		&a.ID, &a.OrgID, &a.ProcessExecutionID, &a.NodeID, &nodeName, &status, &a.Title, &description,
		&reviewData, &priority, &assigneeType, &userIDs, &roleIDs, &groupIDs,
		&a.MinApprovals, &a.ApprovalCount, &decidedBy, &decidedAt, &decision, &decisionComments, &decisionData,
		&deadlineAt, &escalateAfterHours, &escalationIDs, &a.Escalated, &escalatedAt, &a.ReminderSent,
		&reminderSentAt, &a.CreatedAt, &updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan approval: %w", err)
	}

	a.NodeName = nodeName.String
	a.Status = ApprovalStatus(status.String)
	a.Description = description.String
	a.Priority = priority.String
	a.AssigneeType = assigneeType.String
	a.DecidedBy = decidedBy.String
	a.Decision = decision.String
	a.DecisionComments = decisionComments.String
	a.EscalateAfterHours = int(escalateAfterHours.Int64)

	a.ReviewData, _ = fromJSONMap(nullableString(reviewData))
	a.DecisionData, _ = fromJSONMap(nullableString(decisionData))
	a.AssignedUserIDs, _ = fromJSONStrings(nullableString(userIDs))
	a.AssignedRoleIDs, _ = fromJSONStrings(nullableString(roleIDs))
	a.AssignedGroupIDs, _ = fromJSONStrings(nullableString(groupIDs))
	a.EscalationUserIDs, _ = fromJSONStrings(nullableString(escalationIDs))

	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.Time
	}
	if deadlineAt.Valid {
		a.DeadlineAt = &deadlineAt.Time
	}
	if escalatedAt.Valid {
		a.EscalatedAt = &escalatedAt.Time
	}
	if reminderSentAt.Valid {
		a.ReminderSentAt = &reminderSentAt.Time
	}
	if updatedAt.Valid {
		a.UpdatedAt = &updatedAt.Time
	}
	return &a, nil
}
