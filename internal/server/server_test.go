package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"finagent/internal/agent"
	"finagent/internal/llm"
	"finagent/internal/logging"
	"finagent/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(io.Discard, "silent")
}

func newTestServer(t *testing.T, chat func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *httptest.Server {
	t.Helper()
	if chat == nil {
		chat = func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{
				Message:    llm.Message{Role: llm.RoleAssistant, Content: "Finance is..."},
				StopReason: llm.StopReasonStop,
			}, nil
		}
	}

	engine := agent.New(agent.Config{Model: "mock"}, &llm.MockClient{ChatFunc: chat}, report.New(silentLog()), silentLog())
	srv := New("127.0.0.1:0", "http://test.local/", engine, nil, silentLog())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func rpcCall(t *testing.T, ts *httptest.Server, method string, params any) map[string]any {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func sendParamsFor(text, contextID string) map[string]any {
	msg := map[string]any{
		"messageId": "msg-1",
		"role":      "user",
		"parts": []map[string]any{
			{"kind": "text", "text": text},
		},
	}
	if contextID != "" {
		msg["contextId"] = contextID
	}
	return map[string]any{"message": msg}
}

func TestAgentCardEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/card", "/.well-known/agent-card.json"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var card AgentCard
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
		resp.Body.Close()

		assert.Equal(t, "Finance Purple Agent", card.Name)
		assert.Equal(t, "0.1.0", card.Version)
		assert.Equal(t, "http://test.local/", card.URL)
		assert.True(t, card.Capabilities.Streaming)
		require.NotEmpty(t, card.Skills)
		assert.Contains(t, card.Skills[0].Tags, "finance")

		var methods []string
		for _, sig := range card.Signatures {
			methods = append(methods, sig.Signature)
		}
		assert.ElementsMatch(t, []string{"message/send", "message/stream", "tasks/get", "tasks/cancel"}, methods)
	}
}

func TestMessageSendBasic(t *testing.T) {
	ts := newTestServer(t, nil)

	decoded := rpcCall(t, ts, "message/send", sendParamsFor("What is finance?", ""))
	require.NotContains(t, decoded, "error")

	task := decoded["result"].(map[string]any)
	assert.NotEmpty(t, task["id"])
	assert.NotEmpty(t, task["contextId"])
	assert.Equal(t, "task", task["kind"])

	status := task["status"].(map[string]any)
	assert.Equal(t, "completed", status["state"])
	assert.NotEmpty(t, status["timestamp"])

	artifacts := task["artifacts"].([]any)
	require.Len(t, artifacts, 1)
	parts := artifacts[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "complete", parts[0].(map[string]any)["text"])
	data := parts[1].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "Finance is...", data["response"])
}

func TestMessageSendPreservesSessionHistory(t *testing.T) {
	var promptSizes []int
	ts := newTestServer(t, func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		promptSizes = append(promptSizes, len(req.Messages))
		return &llm.ChatResponse{
			Message:    llm.Message{Role: llm.RoleAssistant, Content: "answer"},
			StopReason: llm.StopReasonStop,
		}, nil
	})

	first := rpcCall(t, ts, "message/send", sendParamsFor("first question", "ctx-keep"))
	require.NotContains(t, first, "error")
	second := rpcCall(t, ts, "message/send", sendParamsFor("follow-up", "ctx-keep"))
	require.NotContains(t, second, "error")

	// system+user, then system+user+assistant+user.
	require.Equal(t, []int{2, 4}, promptSizes)
	assert.Equal(t, "ctx-keep", second["result"].(map[string]any)["contextId"])
}

func TestMessageSendBudgetExhaustionFailsTask(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []*llm.ToolCall{{
					ID:       "call-1",
					Type:     "function",
					Function: &llm.FunctionCall{Name: "lookup_revenue", Arguments: "{}"},
				}},
			},
			StopReason: llm.StopReasonToolCalls,
		}, nil
	})

	decoded := rpcCall(t, ts, "message/send", sendParamsFor("never answers", ""))
	require.NotContains(t, decoded, "error")

	task := decoded["result"].(map[string]any)
	status := task["status"].(map[string]any)
	assert.Equal(t, "failed", status["state"])

	msg := status["message"].(map[string]any)
	parts := msg["parts"].([]any)
	assert.Contains(t, parts[0].(map[string]any)["text"], "max iterations")
}

func TestMessageSendPanicFailsTask(t *testing.T) {
	ts := newTestServer(t, func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		panic("runtime error: index out of range [0] with length 0")
	})

	decoded := rpcCall(t, ts, "message/send", sendParamsFor("boom", ""))
	require.NotContains(t, decoded, "error")

	task := decoded["result"].(map[string]any)
	status := task["status"].(map[string]any)
	assert.Equal(t, "failed", status["state"])

	msg := status["message"].(map[string]any)
	parts := msg["parts"].([]any)
	assert.Contains(t, parts[0].(map[string]any)["text"], "Error:")
	assert.Contains(t, parts[0].(map[string]any)["text"], "index out of range")

	// The task must not be stuck in working state afterwards.
	fetched := rpcCall(t, ts, "tasks/get", map[string]any{"id": task["id"]})
	require.NotContains(t, fetched, "error")
	state := fetched["result"].(map[string]any)["status"].(map[string]any)["state"]
	assert.Equal(t, "failed", state)
}

func TestMessageSendContinuesWorkingTask(t *testing.T) {
	engine := agent.New(agent.Config{Model: "mock"}, &llm.MockClient{
		ChatFunc: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{
				Message:    llm.Message{Role: llm.RoleAssistant, Content: "done"},
				StopReason: llm.StopReasonStop,
			}, nil
		},
	}, report.New(silentLog()), silentLog())
	srv := New("127.0.0.1:0", "http://test.local/", engine, nil, silentLog())

	working := srv.tasks.Create("ctx-continue")

	params, err := json.Marshal(map[string]any{"message": map[string]any{
		"messageId": "msg-1",
		"role":      "user",
		"taskId":    working.ID,
		"parts":     []map[string]any{{"kind": "text", "text": "continue"}},
	}})
	require.NoError(t, err)

	result, rpcErr := srv.rpcMessageSend(context.Background(), params)
	require.Nil(t, rpcErr)

	task := result.(Task)
	assert.Equal(t, working.ID, task.ID)
	assert.Equal(t, "ctx-continue", task.ContextID)
	assert.Equal(t, TaskStateCompleted, task.Status.State)
}

func TestMessageSendMissingParams(t *testing.T) {
	decoded := rpcCall(t, newTestServer(t, nil), "message/send", map[string]any{})
	errObj := decoded["error"].(map[string]any)
	assert.NotZero(t, errObj["code"])
	assert.Contains(t, errObj["message"], "message")
}

func TestInvalidMethod(t *testing.T) {
	decoded := rpcCall(t, newTestServer(t, nil), "invalid/method", map[string]any{})
	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, float64(codeMethodNotFound), errObj["code"])
}

func TestTasksGet(t *testing.T) {
	ts := newTestServer(t, nil)

	sent := rpcCall(t, ts, "message/send", sendParamsFor("Test task", ""))
	taskID := sent["result"].(map[string]any)["id"].(string)

	for _, params := range []map[string]any{
		{"id": taskID},
		{"taskId": taskID},
	} {
		decoded := rpcCall(t, ts, "tasks/get", params)
		require.NotContains(t, decoded, "error")
		task := decoded["result"].(map[string]any)
		assert.Equal(t, taskID, task["id"])
		assert.Equal(t, "completed", task["status"].(map[string]any)["state"])
	}
}

func TestTasksGetUnknownID(t *testing.T) {
	decoded := rpcCall(t, newTestServer(t, nil), "tasks/get", map[string]any{"taskId": "invalid-task-id-12345"})
	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, float64(codeTaskNotFound), errObj["code"])
}

func TestTasksCancelUnsupported(t *testing.T) {
	decoded := rpcCall(t, newTestServer(t, nil), "tasks/cancel", map[string]any{"id": "whatever"})
	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, float64(codeUnsupportedOperation), errObj["code"])
}

func TestMessageSendToTerminalTaskRejected(t *testing.T) {
	ts := newTestServer(t, nil)

	sent := rpcCall(t, ts, "message/send", sendParamsFor("first", ""))
	result := sent["result"].(map[string]any)
	taskID := result["id"].(string)

	params := sendParamsFor("again", result["contextId"].(string))
	params["message"].(map[string]any)["taskId"] = taskID

	decoded := rpcCall(t, ts, "message/send", params)
	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, float64(codeInvalidRequest), errObj["code"])
	assert.Contains(t, errObj["message"], "already processed")
}

func TestTaskStoreLifecycle(t *testing.T) {
	store := NewTaskStore()

	task := store.Create("ctx-1")
	assert.Equal(t, TaskStateWorking, task.Status.State)
	assert.False(t, task.Terminal())

	completed, ok := store.Complete(task.ID, Artifact{ArtifactID: "a-1", Parts: []Part{{Kind: "text", Text: "complete"}}})
	require.True(t, ok)
	assert.True(t, completed.Terminal())
	require.Len(t, completed.Artifacts, 1)

	_, ok = store.Get("missing")
	assert.False(t, ok)

	failedTask := store.Create("ctx-2")
	failed, ok := store.Fail(failedTask.ID, "Error: it broke")
	require.True(t, ok)
	assert.Equal(t, TaskStateFailed, failed.Status.State)
	assert.Equal(t, "Error: it broke", failed.Status.Message.Parts[0].Text)
}
