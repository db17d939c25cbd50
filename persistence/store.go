package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ahamdihussein-star/processforge/pkg/config"
)

// Store is the Persistence Service's handle on the three engine tables
// (process_executions, process_node_executions, process_approval_requests),
// dialect-aware over the same *sql.DB the rest of the module pools through
// pkg/config.DBPool.
type Store struct {
	db      *sql.DB
	dialect string
}

// NewStore wraps an already-opened *sql.DB. dialect must be one of
// "postgres", "mysql", "sqlite" and controls placeholder syntax; the DDL
// run by Migrate is the same for every dialect.
func NewStore(db *sql.DB, dialect string) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open resolves a DBPool connection for cfg and wraps it as a Store.
func Open(pool *config.DBPool, cfg *config.DatabaseConfig) (*Store, error) {
	db, err := pool.Get(cfg)
	if err != nil {
		return nil, fmt.Errorf("open persistence store: %w", err)
	}
	return NewStore(db, cfg.Dialect()), nil
}

// placeholder returns the dialect's bind-parameter syntax for the nth
// (1-indexed) parameter in a query: "$1" for postgres, "?" otherwise.
func (s *Store) placeholder(n int) string {
	return placeholderFor(s.dialect, n)
}

func newID() string {
	return uuid.NewString()
}

// Migrate creates the three engine tables if they do not already exist.
// Column types favor the lowest common denominator (TEXT for JSON-ish
// blobs) so the same DDL works across all three supported dialects.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		s.createExecutionsTable(),
		s.createNodeExecutionsTable(),
		s.createApprovalsTable(),
		`CREATE INDEX IF NOT EXISTS idx_process_executions_org_status ON process_executions(org_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_process_executions_agent_status ON process_executions(agent_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_process_node_executions_order ON process_node_executions(process_execution_id, execution_order)`,
		`CREATE INDEX IF NOT EXISTS idx_process_approval_requests_org_status ON process_approval_requests(org_id, status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) createExecutionsTable() string {
	return `CREATE TABLE IF NOT EXISTS process_executions (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		conversation_id TEXT,
		execution_number INTEGER NOT NULL,
		correlation_id TEXT,
		status TEXT NOT NULL,
		trigger_type TEXT,
		trigger_input TEXT,
		current_node_id TEXT,
		completed_nodes TEXT,
		skipped_nodes TEXT,
		variables TEXT,
		output TEXT,
		checkpoint_data TEXT,
		can_resume INTEGER NOT NULL DEFAULT 0,
		checkpoint_at TIMESTAMP,
		error_message TEXT,
		error_node_id TEXT,
		error_details TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 0,
		last_retry_at TIMESTAMP,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		total_duration_ms BIGINT,
		node_count_executed INTEGER NOT NULL DEFAULT 0,
		tool_calls_count INTEGER NOT NULL DEFAULT 0,
		ai_calls_count INTEGER NOT NULL DEFAULT 0,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		parent_execution_id TEXT,
		parent_node_id TEXT,
		execution_depth INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		created_by TEXT,
		updated_at TIMESTAMP,
		process_version TEXT,
		process_definition_snapshot TEXT,
		extra_metadata TEXT
	)`
}

func (s *Store) createNodeExecutionsTable() string {
	return `CREATE TABLE IF NOT EXISTS process_node_executions (
		id TEXT PRIMARY KEY,
		process_execution_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		node_type TEXT NOT NULL,
		node_name TEXT,
		execution_order INTEGER NOT NULL,
		status TEXT NOT NULL,
		input_data TEXT,
		output_data TEXT,
		variables_before TEXT,
		variables_after TEXT,
		branch_taken TEXT,
		loop_index INTEGER,
		loop_total INTEGER,
		tool_name TEXT,
		tool_arguments TEXT,
		tool_result TEXT,
		llm_model TEXT,
		llm_prompt TEXT,
		llm_response TEXT,
		llm_tokens_used INTEGER NOT NULL DEFAULT 0,
		http_method TEXT,
		http_url TEXT,
		http_status_code INTEGER,
		http_response_body TEXT,
		error_message TEXT,
		error_type TEXT,
		error_stack TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		duration_ms BIGINT,
		wait_duration_ms BIGINT
	)`
}

func (s *Store) createApprovalsTable() string {
	return `CREATE TABLE IF NOT EXISTS process_approval_requests (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		process_execution_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		node_name TEXT,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		review_data TEXT,
		priority TEXT,
		assignee_type TEXT,
		assigned_user_ids TEXT,
		assigned_role_ids TEXT,
		assigned_group_ids TEXT,
		min_approvals INTEGER NOT NULL DEFAULT 1,
		approval_count INTEGER NOT NULL DEFAULT 0,
		decided_by TEXT,
		decided_at TIMESTAMP,
		decision TEXT,
		decision_comments TEXT,
		decision_data TEXT,
		deadline_at TIMESTAMP,
		escalate_after_hours INTEGER,
		escalation_user_ids TEXT,
		escalated INTEGER NOT NULL DEFAULT 0,
		escalated_at TIMESTAMP,
		reminder_sent INTEGER NOT NULL DEFAULT 0,
		reminder_sent_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP
	)`
}
