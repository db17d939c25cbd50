package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ahamdihussein-star/processforge/pkg/llms"
	"github.com/ahamdihussein-star/processforge/process"
)

// stubLLMClient answers every Chat call with a canned reply so an AI_TASK
// node can be dry-run without network access or a configured provider.
type stubLLMClient struct {
	model string
}

func (s stubLLMClient) Model() string { return s.model }

func (s stubLLMClient) Chat(_ context.Context, req llms.ChatRequest) (*llms.ChatResponse, error) {
	var lastUser string
	for _, m := range req.Messages {
		if m.Role == "user" {
			lastUser = m.Content
		}
	}
	return &llms.ChatResponse{
		Content:      fmt.Sprintf("[dry-run stub response to %q]", truncate(lastUser, 80)),
		InputTokens:  len(lastUser) / 4,
		OutputTokens: 12,
		TotalTokens:  len(lastUser)/4 + 12,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// stubNotificationSender logs the notification it would have sent.
type stubNotificationSender struct{}

func (stubNotificationSender) Send(_ context.Context, req process.NotificationRequest) error {
	slog.Info("dry-run: would send notification", "channel", req.Channel, "recipients", req.Recipients, "title", req.Title)
	return nil
}

// stubUserDirectory resolves every assignee descriptor to itself, so
// APPROVAL/HUMAN_TASK nodes can dry-run without a real identity backend.
type stubUserDirectory struct{}

func (stubUserDirectory) ResolveAssignees(_ context.Context, descriptor map[string]any, _ process.ProcessContext, _ string) ([]string, error) {
	if id, ok := descriptor["user_id"].(string); ok {
		return []string{id}, nil
	}
	return []string{"dry-run-user"}, nil
}

func (stubUserDirectory) GetUser(_ context.Context, userID, _ string) (*process.User, error) {
	return &process.User{ID: userID, Email: userID + "@example.invalid"}, nil
}

// stubApprovalSink logs the approval request and returns a synthetic id
// instead of persisting it.
type stubApprovalSink struct{}

func (stubApprovalSink) CreateApprovalRequest(_ context.Context, req process.ApprovalRequest) (string, error) {
	slog.Info("dry-run: would create approval request", "node_id", req.NodeID, "title", req.Title)
	return "dry-run-approval", nil
}

// stubQueuePublisher logs the message it would have published.
type stubQueuePublisher struct{}

func (stubQueuePublisher) Publish(_ context.Context, queueType, target string, payload map[string]any) error {
	slog.Info("dry-run: would publish message", "queue_type", queueType, "target", target, "keys", len(payload))
	return nil
}
