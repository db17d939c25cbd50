package nodes

import (
	"fmt"
	"time"

	"github.com/ahamdihussein-star/processforge/process"
)

// approvalExecutor suspends the execution pending a human decision,
// recording an ApprovalRequest through the injected ApprovalSink and
// resolving assignees through the injected UserDirectory.
type approvalExecutor struct{}

func (approvalExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "title") == "" {
		return process.ValidationError(process.CodeValidationError, "APPROVAL node requires type_config.title")
	}
	return nil
}

func (approvalExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	if ctx.Deps == nil || ctx.Deps.Approvals == nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ConfigurationError(process.CodeNoExecutor, "no approval sink configured")}
	}

	title, err := state.InterpolateString(process.GetConfigString(node, "title"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	description, _ := state.InterpolateString(process.GetConfigString(node, "description"))

	assigneeType := process.GetConfigStringDefault(node, "assignee_type", "user")
	userIDs, rerr := resolveAssignees(ctx, node, state)
	if rerr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: rerr}
	}

	minApprovals := 1
	if v, ok := process.GetConfigFloat(node, "min_approvals"); ok {
		minApprovals = int(v)
	}
	timeoutHours := 24
	if v, ok := process.GetConfigFloat(node, "timeout_hours"); ok {
		timeoutHours = int(v)
	}

	reqID, cerr := ctx.Deps.Approvals.CreateApprovalRequest(ctx, process.ApprovalRequest{
		ProcessExecutionID: ctx.ExecutionID,
		NodeID:             node.ID,
		NodeName:           node.Name,
		Title:              title,
		Description:        description,
		Priority:           process.GetConfigStringDefault(node, "priority", "normal"),
		AssigneeType:       assigneeType,
		AssignedUserIDs:    userIDs,
		MinApprovals:       minApprovals,
		DeadlineSeconds:    timeoutHours * 3600,
	})
	if cerr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "failed to create approval request", cerr)}
	}

	return process.NodeResult{
		Status:     process.StatusWaiting,
		WaitingFor: process.WaitApproval,
		WaitingMetadata: map[string]any{
			"approval_request_id": reqID,
			"deadline_at":         time.Now().Add(time.Duration(timeoutHours) * time.Hour).Format(time.RFC3339),
		},
	}
}

// assigneeShortcuts names the convenience assignee descriptors, which are
// resolved relative to the user id held in the requested_by variable.
var assigneeShortcuts = map[string]bool{"requester": true, "manager": true, "supervisor": true, "self": true}

func resolveAssignees(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) ([]string, *process.Error) {
	shortcut := process.GetConfigString(node, "assignee")
	if shortcut == "" || !assigneeShortcuts[shortcut] {
		descriptor, _ := rawMap(node, "assignee")
		if ctx.Deps == nil || ctx.Deps.Directory == nil {
			if raw, ok := descriptor["user_ids"]; ok {
				if ids, ok := rawSlice(raw); ok {
					return ids, nil
				}
			}
			return nil, process.ConfigurationError(process.CodeNoExecutor, "no user directory configured to resolve assignees")
		}
		ids, err := ctx.Deps.Directory.ResolveAssignees(ctx, descriptor, process.ProcessContext{ExecutionID: ctx.ExecutionID, OrgID: ctx.OrgID, NodeID: node.ID, Variables: state.Variables()}, ctx.OrgID)
		if err != nil {
			return nil, process.ExternalError(process.CodeInternalError, "failed to resolve approval assignees", err)
		}
		return ids, nil
	}

	if ctx.Deps == nil || ctx.Deps.Directory == nil {
		return nil, process.ConfigurationError(process.CodeNoExecutor, "no user directory configured to resolve assignee shortcut")
	}
	requesterID, _ := state.Get("requested_by")
	requesterIDStr, _ := requesterID.(string)
	if requesterIDStr == "" {
		return nil, process.NewError(process.CategoryConfiguration, process.CodeNoRecipients, "assignee shortcut requires a requested_by variable", nil)
	}

	switch shortcut {
	case "requester", "self":
		return []string{requesterIDStr}, nil
	case "manager", "supervisor":
		user, err := ctx.Deps.Directory.GetUser(ctx, requesterIDStr, ctx.OrgID)
		if err != nil || user == nil || user.ManagerID == "" {
			return nil, process.NewError(process.CategoryConfiguration, process.CodeNoRecipients, fmt.Sprintf("could not resolve %s for requester %s", shortcut, requesterIDStr), nil)
		}
		return []string{user.ManagerID}, nil
	default:
		return nil, process.ValidationError(process.CodeValidationError, fmt.Sprintf("unknown assignee shortcut %q", shortcut))
	}
}

func rawSlice(raw any) ([]string, bool) {
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// humanTaskExecutor suspends for a free-form human task, the same wait
// mechanism as APPROVAL but without the minimum-approvals quorum.
type humanTaskExecutor struct{}

func (humanTaskExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "title") == "" {
		return process.ValidationError(process.CodeValidationError, "HUMAN_TASK node requires type_config.title")
	}
	return nil
}

func (humanTaskExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	title, err := state.InterpolateString(process.GetConfigString(node, "title"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	userIDs, rerr := resolveAssignees(ctx, node, state)
	if rerr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: rerr}
	}
	return process.NodeResult{
		Status:          process.StatusWaiting,
		WaitingFor:      process.WaitHumanTask,
		WaitingMetadata: map[string]any{"title": title, "assigned_user_ids": userIDs},
	}
}

// notificationExecutor sends a non-blocking notification. Delivery
// failures are non-fatal except when no recipients could be resolved at
// all, which is a configuration error the process author needs to fix.
type notificationExecutor struct{}

func (notificationExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "message") == "" {
		return process.ValidationError(process.CodeValidationError, "NOTIFICATION node requires type_config.message")
	}
	return nil
}

func (notificationExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	message, err := state.InterpolateString(process.GetConfigString(node, "message"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	title, _ := state.InterpolateString(process.GetConfigString(node, "title"))

	recipients, rerr := resolveAssignees(ctx, node, state)
	if rerr != nil || len(recipients) == 0 {
		return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryConfiguration, process.CodeNoRecipients, "no recipients could be resolved for this notification", nil)}
	}

	if ctx.Deps == nil || ctx.Deps.Notifications == nil {
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"delivered": false, "reason": "no notification sender configured"}}
	}

	sendErr := ctx.Deps.Notifications.Send(ctx, process.NotificationRequest{
		Channel:    process.GetConfigStringDefault(node, "channel", "email"),
		Recipients: recipients,
		Title:      title,
		Message:    message,
		Priority:   process.GetConfigStringDefault(node, "priority", "normal"),
	})
	if sendErr != nil {
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"delivered": false, "error": sendErr.Error()}}
	}
	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"delivered": true, "recipients": recipients}}
}

// RegisterHuman adds APPROVAL, HUMAN_TASK, and NOTIFICATION to reg.
func RegisterHuman(reg *process.ExecutorRegistry) error {
	registrations := []struct {
		t    process.NodeType
		ctor process.Constructor
	}{
		{process.NodeApproval, func() process.Executor { return approvalExecutor{} }},
		{process.NodeHumanTask, func() process.Executor { return humanTaskExecutor{} }},
		{process.NodeNotification, func() process.Executor { return notificationExecutor{} }},
	}
	for _, r := range registrations {
		if err := reg.Register(r.t, r.ctor); err != nil {
			return err
		}
	}
	return nil
}
