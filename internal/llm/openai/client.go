// Package openai implements llm.Client against any OpenAI-compatible
// chat completion endpoint.
package openai

import (
	"context"
	"fmt"

	"finagent/internal/llm"

	openai "github.com/sashabaranov/go-openai"
)

type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a client for the given API key and model. An empty
// baseURL targets the default OpenAI endpoint; otherwise the custom
// endpoint is used (Nebius and other compatible providers).
func NewClient(apiKey, model, baseURL string) *Client {
	var client *openai.Client
	if baseURL != "" {
		config := openai.DefaultConfig(apiKey)
		config.BaseURL = baseURL
		client = openai.NewClientWithConfig(config)
	} else {
		client = openai.NewClient(apiKey)
	}

	return &Client{
		client: client,
		model:  model,
	}
}

func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	ocReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    c.convertMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	// Tool calls are dispatched one round at a time so the history
	// stays deterministic; parallel calls are disabled at the API level.
	if len(req.Tools) > 0 {
		ocReq.Tools = c.convertTools(req.Tools)
		ocReq.ToolChoice = "auto"
		ocReq.ParallelToolCalls = false
	}

	resp, err := c.client.CreateChatCompletion(ctx, ocReq)
	if err != nil {
		return nil, err
	}

	// Some compatible providers answer 200 with no choices; surface
	// that as an error so the turn loop treats it as a failed call.
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices (model %s)", model)
	}

	return c.convertResponse(resp), nil
}

func (c *Client) Provider() string {
	return "openai"
}

func (c *Client) Model() string {
	return c.model
}

// Helper method: message format conversion
func (c *Client) convertMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		ocMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			ocMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				ocMsg.ToolCalls[j] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
		}

		if msg.Role == llm.RoleTool {
			ocMsg.ToolCallID = msg.ToolCallID
			ocMsg.Name = msg.Name
		}

		result[i] = ocMsg
	}
	return result
}

// Helper method: tool definition conversion
func (c *Client) convertTools(tools []*llm.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		}
	}
	return result
}

// Helper method: response conversion
func (c *Client) convertResponse(resp openai.ChatCompletionResponse) *llm.ChatResponse {
	choice := resp.Choices[0]
	msg := choice.Message

	result := &llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.Role(msg.Role),
			Content: msg.Content,
		},
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	if len(msg.ToolCalls) > 0 {
		result.Message.ToolCalls = make([]*llm.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			result.Message.ToolCalls[i] = &llm.ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: &llm.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
		result.StopReason = llm.StopReasonToolCalls
	} else {
		result.StopReason = llm.StopReason(choice.FinishReason)
	}

	return result
}
