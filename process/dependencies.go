package process

import (
	"context"

	"github.com/ahamdihussein-star/processforge/pkg/httpclient"
	"github.com/ahamdihussein-star/processforge/pkg/llms"
	"github.com/ahamdihussein-star/processforge/pkg/tool"
)

// DBConnection is the connection descriptor a DATABASE_QUERY node resolves
// by connection_id.
type DBConnection struct {
	Type string // postgres, mysql, sqlite
	URL  string
}

// NotificationRequest is the input to NotificationSender.Send.
type NotificationRequest struct {
	Channel      string
	Recipients   []string
	Title        string
	Message      string
	TemplateID   string
	TemplateData map[string]any
	Priority     string
	Config       map[string]any
}

// NotificationSender delivers a NOTIFICATION node's message through an
// external channel (email, Slack, SMS, webhook, ...).
type NotificationSender interface {
	Send(ctx context.Context, req NotificationRequest) error
}

// ProcessContext is the subset of execution metadata passed to assignee
// resolution, separate from State so resolvers don't depend on process
// internals.
type ProcessContext struct {
	ExecutionID string
	OrgID       string
	NodeID      string
	Variables   map[string]any
}

// User is the subset of directory data the engine needs to resolve
// APPROVAL/HUMAN_TASK/NOTIFICATION assignee shortcuts (manager, supervisor).
type User struct {
	ID           string
	Email        string
	ManagerID    string
	DepartmentID string
}

// UserDirectory resolves assignee descriptors (user/role/group/department)
// into concrete user ids, and looks up user records for shortcut
// resolution ("manager", "supervisor").
type UserDirectory interface {
	ResolveAssignees(ctx context.Context, descriptor map[string]any, pctx ProcessContext, orgID string) ([]string, error)
	GetUser(ctx context.Context, userID, orgID string) (*User, error)
}

// ApprovalSink records an APPROVAL node's request with the persistence
// layer and, optionally, notifies assignees. It is a convenience seam over
// direct persistence access; engines that don't need approvals may pass nil.
type ApprovalSink interface {
	CreateApprovalRequest(ctx context.Context, req ApprovalRequest) (string, error)
}

// ApprovalRequest is what the APPROVAL node asks the ApprovalSink to persist.
type ApprovalRequest struct {
	OrgID              string
	ProcessExecutionID string
	NodeID             string
	NodeName           string
	Title              string
	Description        string
	ReviewData         map[string]any
	Priority           string
	AssigneeType       string
	AssignedUserIDs    []string
	AssignedRoleIDs    []string
	AssignedGroupIDs   []string
	MinApprovals       int
	DeadlineSeconds    int
	EscalateAfterHours int
	EscalationUserIDs  []string
}

// QueuePublisher publishes a MESSAGE_QUEUE node's payload to an external
// broker (webhook, Redis, SQS, ...).
type QueuePublisher interface {
	Publish(ctx context.Context, queueType, target string, payload map[string]any) error
}

// Dependencies bundles every externally-provided capability a node
// Executor may need. The engine injects one Dependencies value per
// execution; it holds no package-level mutable singletons so every
// dependency must be concurrency-safe for use across PARALLEL branches.
type Dependencies struct {
	LLM           llms.Client
	Tools         tool.Registry
	HTTP          *httpclient.Client
	DBConnections map[string]DBConnection
	Notifications NotificationSender
	Directory     UserDirectory
	Approvals     ApprovalSink
	Queue         QueuePublisher

	// SubProcessRunner starts/awaits SUB_PROCESS child executions. Kept as
	// an interface here (rather than a direct *Engine reference) so a node
	// package never needs to import the engine that constructs it.
	SubProcessRunner SubProcessRunner
}

// SubProcessRunner starts a child process execution for a SUB_PROCESS node
// and, when waitForCompletion is true, blocks until it reaches a terminal
// status or ctx is done.
type SubProcessRunner interface {
	StartChild(ctx context.Context, definitionID string, input map[string]any, parentExecutionID, parentNodeID string, executionDepth int, waitForCompletion bool) (*ProcessResult, error)
}
