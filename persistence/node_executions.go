package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateNodeExecution inserts a new node-step record, assigning an id if
// unset.
func (s *Store) CreateNodeExecution(ctx context.Context, ne *ProcessNodeExecution) error {
	if ne.ID == "" {
		ne.ID = newID()
	}

	input, _ := toJSON(ne.InputData)
	before, _ := toJSON(ne.VariablesBefore)
	toolArgs, _ := toJSON(ne.ToolArguments)

	cols := []string{
		"id", "process_execution_id", "node_id", "node_type", "node_name", "execution_order",
		"status", "input_data", "variables_before", "tool_name", "tool_arguments", "llm_model",
		"llm_prompt", "http_method", "http_url", "retry_count", "started_at",
	}
	vals := []any{
		ne.ID, ne.ProcessExecutionID, ne.NodeID, ne.NodeType, nullIfEmpty(ne.NodeName), ne.ExecutionOrder,
		ne.Status, input, before, nullIfEmpty(ne.ToolName), toolArgs, nullIfEmpty(ne.LLMModel),
		nullIfEmpty(ne.LLMPrompt), nullIfEmpty(ne.HTTPMethod), nullIfEmpty(ne.HTTPURL), ne.RetryCount, ne.StartedAt,
	}

	query := buildInsert(s.dialect, "process_node_executions", cols)
	_, err := s.db.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("create node execution: %w", err)
	}
	return nil
}

// UpdateNodeExecution persists a node step's terminal fields: status,
// output, timing, retry count, and any tool/LLM/HTTP detail it carries.
func (s *Store) UpdateNodeExecution(ctx context.Context, ne *ProcessNodeExecution) error {
	output, _ := toJSON(ne.OutputData)
	after, _ := toJSON(ne.VariablesAfter)
	toolResult, _ := toJSON(ne.ToolResult)

	cols := []string{
		"status", "output_data", "variables_after", "branch_taken", "loop_index", "loop_total",
		"tool_result", "llm_response", "llm_tokens_used", "http_status_code", "http_response_body",
		"error_message", "error_type", "error_stack", "retry_count", "completed_at", "duration_ms", "wait_duration_ms",
	}
	vals := []any{
		ne.Status, output, after, nullIfEmpty(ne.BranchTaken), ne.LoopIndex, ne.LoopTotal,
		toolResult, nullIfEmpty(ne.LLMResponse), ne.LLMTokensUsed, ne.HTTPStatusCode, nullIfEmpty(ne.HTTPResponseBody),
		nullIfEmpty(ne.ErrorMessage), nullIfEmpty(ne.ErrorType), nullIfEmpty(ne.ErrorStack), ne.RetryCount, ne.CompletedAt, ne.DurationMS, ne.WaitDurationMS,
	}

	query, args := buildUpdate(s.dialect, "process_node_executions", cols, vals, "id", ne.ID)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update node execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListNodeExecutions returns every node step of one execution, in
// execution_order.
func (s *Store) ListNodeExecutions(ctx context.Context, executionID string) ([]*ProcessNodeExecution, error) {
	query := fmt.Sprintf(`SELECT %s FROM process_node_executions WHERE process_execution_id = %s ORDER BY execution_order ASC`, nodeExecutionColumns, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list node executions: %w", err)
	}
	defer rows.Close()

	var out []*ProcessNodeExecution
	for rows.Next() {
		ne, err := scanNodeExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ne)
	}
	return out, rows.Err()
}

const nodeExecutionColumns = `id, process_execution_id, node_id, node_type, node_name, execution_order,
	status, input_data, output_data, variables_before, variables_after, branch_taken, loop_index, loop_total,
	tool_name, tool_arguments, tool_result, llm_model, llm_prompt, llm_response, llm_tokens_used,
	http_method, http_url, http_status_code, http_response_body, error_message, error_type, error_stack,
	retry_count, started_at, completed_at, duration_ms, wait_duration_ms`

func scanNodeExecution(row rowScanner) (*ProcessNodeExecution, error) {
	var ne ProcessNodeExecution
	var nodeName, branchTaken, toolName, llmModel, llmPrompt, llmResponse, httpMethod, httpURL, httpBody, errMsg, errType, errStack sql.NullString
	var input, output, before, after, toolArgs, toolResult sql.NullString
	var loopIndex, loopTotal, httpStatus sql.NullInt64
	var startedAt, completedAt sql.NullTime
	var durationMS, waitDurationMS sql.NullInt64

	if err := row.Scan(
		&ne.ID, &ne.ProcessExecutionID, &ne.NodeID, &ne.NodeType, &nodeName, &ne.ExecutionOrder,
		&ne.Status, &input, &output, &before, &after, &branchTaken, &loopIndex, &loopTotal,
		&toolName, &toolArgs, &toolResult, &llmModel, &llmPrompt, &llmResponse, &ne.LLMTokensUsed,
		&httpMethod, &httpURL, &httpStatus, &httpBody, &errMsg, &errType, &errStack,
		&ne.RetryCount, &startedAt, &completedAt, &durationMS, &waitDurationMS,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan node execution: %w", err)
	}

	ne.NodeName = nodeName.String
	ne.BranchTaken = branchTaken.String
	ne.ToolName = toolName.String
	ne.LLMModel = llmModel.String
	ne.LLMPrompt = llmPrompt.String
	ne.LLMResponse = llmResponse.String
	ne.HTTPMethod = httpMethod.String
	ne.HTTPURL = httpURL.String
	ne.HTTPResponseBody = httpBody.String
	ne.ErrorMessage = errMsg.String
	ne.ErrorType = errType.String
	ne.ErrorStack = errStack.String

	ne.InputData, _ = fromJSONMap(nullableString(input))
	ne.OutputData, _ = fromJSONAny(nullableString(output))
	ne.VariablesBefore, _ = fromJSONMap(nullableString(before))
	ne.VariablesAfter, _ = fromJSONMap(nullableString(after))
	ne.ToolArguments, _ = fromJSONMap(nullableString(toolArgs))
	ne.ToolResult, _ = fromJSONAny(nullableString(toolResult))

	if loopIndex.Valid {
		v := int(loopIndex.Int64)
		ne.LoopIndex = &v
	}
	if loopTotal.Valid {
		v := int(loopTotal.Int64)
		ne.LoopTotal = &v
	}
	if httpStatus.Valid {
		v := int(httpStatus.Int64)
		ne.HTTPStatusCode = &v
	}
	if startedAt.Valid {
		ne.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		ne.CompletedAt = &completedAt.Time
	}
	if durationMS.Valid {
		ne.DurationMS = &durationMS.Int64
	}
	if waitDurationMS.Valid {
		ne.WaitDurationMS = &waitDurationMS.Int64
	}
	return &ne, nil
}
