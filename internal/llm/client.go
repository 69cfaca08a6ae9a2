package llm

import "context"

// Client is the provider-neutral chat interface used by the turn loop.
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Provider() string
	Model() string
}

type ChatRequest struct {
	// Model overrides the client's configured model when non-empty.
	Model       string
	Messages    []Message
	Tools       []*ToolDefinition
	Temperature float32
	MaxTokens   int
}

type ChatResponse struct {
	Message    Message
	StopReason StopReason
	Usage      Usage
}

// ToolDefinition is a tool schema in the function-calling shape the
// chat API expects.
type ToolDefinition struct {
	Type     string
	Function *FunctionDef
}

type FunctionDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}
