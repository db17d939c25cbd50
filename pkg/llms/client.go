package llms

import "context"

// ChatRequest is the input to Client.Chat.
type ChatRequest struct {
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

// ChatResponse is the output of Client.Chat.
type ChatResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Client is the provider-agnostic LLM interface consumed by the AI_TASK
// node executor. Concrete provider clients (OpenAI, Anthropic, Gemini,
// local) implement this against their own wire protocol.
type Client interface {
	// Model returns the model identifier this client is configured for,
	// used for metrics and node-execution records.
	Model() string

	// Chat sends a message sequence and returns the assistant's reply.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
