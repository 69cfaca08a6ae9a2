package llm

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation history. Content may be empty
// on assistant messages that only request tool calls. ToolCallID and
// Name are set on tool messages and tie the result back to the
// originating request.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []*ToolCall
	ToolCallID string
	Name       string
	Timestamp  time.Time
}

type ToolCall struct {
	ID       string
	Type     string
	Function *FunctionCall
}

type FunctionCall struct {
	Name      string
	Arguments string
}

type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonLength    StopReason = "length"
	StopReasonToolCalls StopReason = "tool_calls"
)

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
