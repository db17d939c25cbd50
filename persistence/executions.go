package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ahamdihussein-star/processforge/process"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("persistence: record not found")

// CreateExecution assigns exec.ID and exec.ExecutionNumber (monotonic per
// agent_id) if unset, then inserts the row.
func (s *Store) CreateExecution(ctx context.Context, exec *ProcessExecution) error {
	if exec.ID == "" {
		exec.ID = newID()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create execution: begin tx: %w", err)
	}
	defer tx.Rollback()

	if exec.ExecutionNumber == 0 {
		var maxNum sql.NullInt64
		row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(execution_number) FROM process_executions WHERE agent_id = %s`, s.placeholder(1)), exec.AgentID)
		if err := row.Scan(&maxNum); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("create execution: next number: %w", err)
		}
		exec.ExecutionNumber = int(maxNum.Int64) + 1
	}

	triggerInput, _ := toJSON(exec.TriggerInput)
	completed, _ := toJSON(exec.CompletedNodes)
	skipped, _ := toJSON(exec.SkippedNodes)
	variables, _ := toJSON(exec.Variables)
	output, _ := toJSON(exec.Output)
	checkpoint, _ := toJSON(exec.CheckpointData)
	errDetails, _ := toJSON(exec.ErrorDetails)
	snapshot, _ := toJSON(exec.DefinitionSnapshot)
	extra, _ := toJSON(exec.ExtraMetadata)

	cols := []string{
		"id", "org_id", "agent_id", "conversation_id", "execution_number", "correlation_id",
		"status", "trigger_type", "trigger_input", "current_node_id", "completed_nodes", "skipped_nodes",
		"variables", "output", "checkpoint_data", "can_resume", "error_message", "error_node_id",
		"error_details", "retry_count", "max_retries", "started_at", "node_count_executed",
		"tool_calls_count", "ai_calls_count", "tokens_used", "parent_execution_id", "parent_node_id",
		"execution_depth", "created_at", "created_by", "process_version", "process_definition_snapshot",
		"extra_metadata",
	}
	vals := []any{
		exec.ID, exec.OrgID, exec.AgentID, nullIfEmpty(exec.ConversationID), exec.ExecutionNumber, nullIfEmpty(exec.CorrelationID),
		string(exec.Status), exec.TriggerType, triggerInput, nullIfEmpty(exec.CurrentNodeID), completed, skipped,
		variables, output, checkpoint, exec.CanResume, nullIfEmpty(exec.ErrorMessage), nullIfEmpty(exec.ErrorNodeID),
		errDetails, exec.RetryCount, exec.MaxRetries, exec.StartedAt, exec.NodeCountExecuted,
		exec.ToolCallsCount, exec.AICallsCount, exec.TokensUsed, nullIfEmpty(exec.ParentExecutionID), nullIfEmpty(exec.ParentNodeID),
		exec.ExecutionDepth, exec.CreatedAt, nullIfEmpty(exec.CreatedBy), nullIfEmpty(exec.ProcessVersion), snapshot,
		extra,
	}

	query := buildInsert(s.dialect, "process_executions", cols)
	if _, err := tx.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("create execution: insert: %w", err)
	}
	return tx.Commit()
}

// UpdateExecution persists every mutable field of exec, called by the
// engine at every node transition and checkpoint.
func (s *Store) UpdateExecution(ctx context.Context, exec *ProcessExecution) error {
	now := time.Now().UTC()
	exec.UpdatedAt = &now

	triggerInput, _ := toJSON(exec.TriggerInput)
	completed, _ := toJSON(exec.CompletedNodes)
	skipped, _ := toJSON(exec.SkippedNodes)
	variables, _ := toJSON(exec.Variables)
	output, _ := toJSON(exec.Output)
	checkpoint, _ := toJSON(exec.CheckpointData)
	errDetails, _ := toJSON(exec.ErrorDetails)
	extra, _ := toJSON(exec.ExtraMetadata)

	cols := []string{
		"status", "current_node_id", "completed_nodes", "skipped_nodes", "variables", "output",
		"checkpoint_data", "can_resume", "checkpoint_at", "error_message", "error_node_id", "error_details",
		"retry_count", "last_retry_at", "started_at", "completed_at", "total_duration_ms",
		"node_count_executed", "tool_calls_count", "ai_calls_count", "tokens_used", "updated_at", "extra_metadata",
		"trigger_input",
	}
	vals := []any{
		string(exec.Status), nullIfEmpty(exec.CurrentNodeID), completed, skipped, variables, output,
		checkpoint, exec.CanResume, exec.CheckpointAt, nullIfEmpty(exec.ErrorMessage), nullIfEmpty(exec.ErrorNodeID), errDetails,
		exec.RetryCount, exec.LastRetryAt, exec.StartedAt, exec.CompletedAt, exec.TotalDurationMS,
		exec.NodeCountExecuted, exec.ToolCallsCount, exec.AICallsCount, exec.TokensUsed, exec.UpdatedAt, extra,
		triggerInput,
	}

	query, args := buildUpdate(s.dialect, "process_executions", cols, vals, "id", exec.ID)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecution fetches a ProcessExecution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*ProcessExecution, error) {
	query := fmt.Sprintf(`SELECT %s FROM process_executions WHERE id = %s`, executionColumns, s.placeholder(1))
	row := s.db.QueryRowContext(ctx, query, id)
	return scanExecution(row)
}

// ExecutionFilter narrows ListExecutions by the fields the query surface
// needs: org/agent/status.
type ExecutionFilter struct {
	OrgID   string
	AgentID string
	Status  process.ExecutionStatus
	Limit   int
}

// ListExecutions returns executions matching filter, most recent first.
func (s *Store) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ProcessExecution, error) {
	where := []string{}
	args := []any{}
	add := func(clause string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = %s", clause, s.placeholder(len(args))))
	}
	if filter.OrgID != "" {
		add("org_id", filter.OrgID)
	}
	if filter.AgentID != "" {
		add("agent_id", filter.AgentID)
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}

	query := fmt.Sprintf(`SELECT %s FROM process_executions`, executionColumns)
	if len(where) > 0 {
		query += " WHERE " + joinAnd(where)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*ProcessExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

const executionColumns = `id, org_id, agent_id, conversation_id, execution_number, correlation_id,
	status, trigger_type, trigger_input, current_node_id, completed_nodes, skipped_nodes,
	variables, output, checkpoint_data, can_resume, checkpoint_at, error_message, error_node_id,
	error_details, retry_count, max_retries, last_retry_at, started_at, completed_at, total_duration_ms,
	node_count_executed, tool_calls_count, ai_calls_count, tokens_used, parent_execution_id, parent_node_id,
	execution_depth, created_at, created_by, updated_at, process_version, process_definition_snapshot, extra_metadata`

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ProcessExecution, error) {
	var e ProcessExecution
	var status, conversationID, correlationID, currentNodeID, errMsg, errNodeID, parentExecID, parentNodeID, createdBy, processVersion sql.NullString
	var triggerInput, completedNodes, skippedNodes, variables, output, checkpointData, errorDetails, snapshot, extraMetadata sql.NullString
	var checkpointAt, lastRetryAt, startedAt, completedAt, updatedAt sql.NullTime
	var totalDuration sql.NullInt64

	if err := row.Scan(
		&e.ID, &e.OrgID, &e.AgentID, &conversationID, &e.ExecutionNumber, &correlationID,
		&status, &e.TriggerType, &triggerInput, &currentNodeID, &completedNodes, &skippedNodes,
		&variables, &output, &checkpointData, &e.CanResume, &checkpointAt, &errMsg, &errNodeID,
		&errorDetails, &e.RetryCount, &e.MaxRetries, &lastRetryAt, &startedAt, &completedAt, &totalDuration,
		&e.NodeCountExecuted, &e.ToolCallsCount, &e.AICallsCount, &e.TokensUsed, &parentExecID, &parentNodeID,
		&e.ExecutionDepth, &e.CreatedAt, &createdBy, &updatedAt, &processVersion, &snapshot, &extraMetadata,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	e.Status = process.ExecutionStatus(status.String)
	e.ConversationID = conversationID.String
	e.CorrelationID = correlationID.String
	e.CurrentNodeID = currentNodeID.String
	e.ErrorMessage = errMsg.String
	e.ErrorNodeID = errNodeID.String
	e.ParentExecutionID = parentExecID.String
	e.ParentNodeID = parentNodeID.String
	e.CreatedBy = createdBy.String
	e.ProcessVersion = processVersion.String
	e.TotalDurationMS = totalDuration.Int64

	e.TriggerInput, _ = fromJSONMap(nullableString(triggerInput))
	e.Variables, _ = fromJSONMap(nullableString(variables))
	e.Output, _ = fromJSONAny(nullableString(output))
	e.CheckpointData, _ = fromJSONMap(nullableString(checkpointData))
	e.ErrorDetails, _ = fromJSONMap(nullableString(errorDetails))
	e.DefinitionSnapshot, _ = fromJSONMap(nullableString(snapshot))
	e.ExtraMetadata, _ = fromJSONMap(nullableString(extraMetadata))
	e.CompletedNodes, _ = fromJSONStrings(nullableString(completedNodes))
	e.SkippedNodes, _ = fromJSONStrings(nullableString(skippedNodes))

	if checkpointAt.Valid {
		e.CheckpointAt = &checkpointAt.Time
	}
	if lastRetryAt.Valid {
		e.LastRetryAt = &lastRetryAt.Time
	}
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	if updatedAt.Valid {
		e.UpdatedAt = &updatedAt.Time
	}
	return &e, nil
}

func nullableString(n sql.NullString) any {
	if !n.Valid {
		return nil
	}
	return n.String
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
