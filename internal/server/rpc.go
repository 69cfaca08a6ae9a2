package server

import (
	"encoding/json"
	"strings"
)

// JSON-RPC error codes, following the A2A numbering for the
// task-specific conditions.
const (
	codeInvalidRequest       = -32600
	codeMethodNotFound       = -32601
	codeInvalidParams        = -32602
	codeTaskNotFound         = -32001
	codeUnsupportedOperation = -32004
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Part is one piece of message or artifact content.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Message is an A2A message: inbound user messages and agent-authored
// status messages share the shape.
type Message struct {
	Kind      string `json:"kind,omitempty"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	ContextID string `json:"contextId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
}

// Text joins the message's text parts.
func (m *Message) Text() string {
	var parts []string
	for _, p := range m.Parts {
		if p.Kind == "text" && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type sendParams struct {
	Message *Message `json:"message"`
}

type taskQueryParams struct {
	ID     string `json:"id"`
	TaskID string `json:"taskId"`
}

// taskID accepts both the A2A "id" field and the legacy "taskId" spelling.
func (p taskQueryParams) taskID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.TaskID
}
