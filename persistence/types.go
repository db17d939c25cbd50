// Package persistence implements the engine's Persistence Service: CRUD and
// querying for ProcessExecution, ProcessNodeExecution, and
// ProcessApprovalRequest records, backed by a database/sql connection over
// PostgreSQL, MySQL, or SQLite — the same three dialects
// pkg/config.DatabaseConfig already resolves for the rest of the module.
package persistence

import (
	"time"

	"github.com/ahamdihussein-star/processforge/process"
)

// ProcessExecution is the persisted record of one process run. JSON-ish
// fields (Variables, TriggerInput, CompletedNodes, ...) are stored as
// serialized JSON text regardless of dialect so the same schema works
// across all three.
type ProcessExecution struct {
	ID                string
	OrgID             string
	AgentID           string
	ConversationID    string
	ExecutionNumber   int
	CorrelationID     string
	Status            process.ExecutionStatus
	TriggerType       string
	TriggerInput      map[string]any
	CurrentNodeID     string
	CompletedNodes    []string
	SkippedNodes      []string
	Variables         map[string]any
	Output            any
	CheckpointData    map[string]any
	CanResume         bool
	CheckpointAt      *time.Time
	ErrorMessage      string
	ErrorNodeID       string
	ErrorDetails      map[string]any
	RetryCount        int
	MaxRetries        int
	LastRetryAt       *time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	TotalDurationMS   int64
	NodeCountExecuted int
	ToolCallsCount    int
	AICallsCount      int
	TokensUsed        int
	ParentExecutionID string
	ParentNodeID      string
	ExecutionDepth    int
	CreatedAt         time.Time
	CreatedBy         string
	UpdatedAt         *time.Time
	ProcessVersion    string
	DefinitionSnapshot map[string]any
	ExtraMetadata     map[string]any
}

// IsTerminal reports whether Status is one the engine will never resume
// from on its own.
func (e *ProcessExecution) IsTerminal() bool {
	switch e.Status {
	case process.ExecutionCompleted, process.ExecutionFailed, process.ExecutionCancelled, process.ExecutionTimedOut:
		return true
	default:
		return false
	}
}

// ProcessNodeExecution is one node step's persisted record.
type ProcessNodeExecution struct {
	ID                 string
	ProcessExecutionID string
	NodeID             string
	NodeType           string
	NodeName           string
	ExecutionOrder     int
	Status             string
	InputData          map[string]any
	OutputData         any
	VariablesBefore    map[string]any
	VariablesAfter     map[string]any
	BranchTaken        string
	LoopIndex          *int
	LoopTotal          *int
	ToolName           string
	ToolArguments      map[string]any
	ToolResult         any
	LLMModel           string
	LLMPrompt          string
	LLMResponse        string
	LLMTokensUsed      int
	HTTPMethod         string
	HTTPURL            string
	HTTPStatusCode     *int
	HTTPResponseBody   string
	ErrorMessage       string
	ErrorType          string
	ErrorStack         string
	RetryCount         int
	StartedAt          *time.Time
	CompletedAt        *time.Time
	DurationMS         *int64
	WaitDurationMS     *int64
}

// ApprovalStatus is the lifecycle status of a ProcessApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalExpired   ApprovalStatus = "expired"
	ApprovalEscalated ApprovalStatus = "escalated"
)

// ProcessApprovalRequest is a persisted APPROVAL/HUMAN_TASK waiting record.
type ProcessApprovalRequest struct {
	ID                  string
	OrgID               string
	ProcessExecutionID  string
	NodeID              string
	NodeName            string
	Status              ApprovalStatus
	Title               string
	Description         string
	ReviewData          map[string]any
	Priority            string
	AssigneeType        string
	AssignedUserIDs     []string
	AssignedRoleIDs     []string
	AssignedGroupIDs    []string
	MinApprovals        int
	ApprovalCount       int
	DecidedBy           string
	DecidedAt           *time.Time
	Decision            string
	DecisionComments    string
	DecisionData        map[string]any
	DeadlineAt          *time.Time
	EscalateAfterHours  int
	EscalationUserIDs   []string
	Escalated           bool
	EscalatedAt         *time.Time
	ReminderSent        bool
	ReminderSentAt      *time.Time
	CreatedAt           time.Time
	UpdatedAt           *time.Time
}
