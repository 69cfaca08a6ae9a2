// Package agent implements the bounded turn loop that alternates
// between the LLM and the tool gateway until a final answer is
// produced or the iteration budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"finagent/internal/gateway"
	"finagent/internal/llm"
	"finagent/internal/logging"
	"finagent/internal/report"
	"finagent/internal/session"
)

// DefaultMaxIterations caps LLM round trips per inbound message.
const DefaultMaxIterations = 20

// DefaultSystemPrompt matches the deployed finance assistant persona.
const DefaultSystemPrompt = "You are a financial assistant providing faithful information regarding the questions posed by the user."

// StatusComplete tags an invocation that produced a final answer.
const StatusComplete = "complete"

// ToolDispatcher is the tool surface the engine needs: discovery plus
// dispatch. A nil dispatcher means tooling is disabled for the
// deployment.
type ToolDispatcher interface {
	ListTools(ctx context.Context) ([]*llm.ToolDefinition, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) *gateway.Result
}

// Config carries the per-deployment knobs of the turn loop.
type Config struct {
	Model         string
	Temperature   float32
	MaxIterations int
	SystemPrompt  string
}

// Result is the terminal outcome of a completed invocation.
type Result struct {
	Status    string
	Response  string
	LLMCalls  int
	ToolCalls int
}

// Engine drives the turn loop. It holds no per-session state; each
// invocation receives a session by reference. Callers must not invoke
// the loop concurrently for the same session.
type Engine struct {
	cfg      Config
	client   llm.Client
	reporter *report.Reporter
	log      *logging.Logger
}

// New creates an engine. Zero config fields fall back to defaults.
func New(cfg Config, client llm.Client, reporter *report.Reporter, log *logging.Logger) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Engine{
		cfg:      cfg,
		client:   client,
		reporter: reporter,
		log:      log.Sub("engine"),
	}
}

// ProcessMessage runs one turn: appends the inbound text, loops
// against the LLM dispatching requested tool calls sequentially, and
// returns the final answer. Budget exhaustion and tool discovery
// failures return an error with no result; the session keeps whatever
// was appended before the failure.
func (e *Engine) ProcessMessage(ctx context.Context, sess *session.Session, tools ToolDispatcher, text string, reset bool) (*Result, error) {
	if reset {
		sess.History.Reset()
	}

	sess.History.Append(llm.Message{
		Role:      llm.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})

	// Tool schemas are fetched once per invocation and reused for
	// every iteration; the provider may change its offering between
	// turns, so nothing is cached beyond this call.
	var toolDefs []*llm.ToolDefinition
	if tools != nil {
		defs, err := tools.ListTools(ctx)
		if err != nil {
			e.reporter.Failure("tool discovery failed", sess.ContextID, "", err.Error())
			return nil, fmt.Errorf("tool discovery: %w", err)
		}
		toolDefs = defs
	}

	res := &Result{}

	for iteration := 0; iteration < e.cfg.MaxIterations; iteration++ {
		resp, err := e.client.Chat(ctx, &llm.ChatRequest{
			Model:       e.cfg.Model,
			Messages:    e.prompt(sess),
			Tools:       toolDefs,
			Temperature: e.cfg.Temperature,
		})
		res.LLMCalls++
		if err != nil {
			// Transient by policy: the iteration is spent, the loop
			// goes on until the budget runs out.
			e.log.Error().Err(err).Int("iteration", iteration+1).Msg("LLM call failed")
			continue
		}

		assistant := resp.Message
		assistant.Timestamp = time.Now()
		sess.History.Append(assistant)

		if len(assistant.ToolCalls) == 0 {
			e.log.Debug().Int("iteration", iteration+1).Msg("final answer produced")
			e.reporter.Success(sess.ContextID, "", assistant.Content)
			res.Status = StatusComplete
			res.Response = assistant.Content
			return res, nil
		}

		for _, tc := range assistant.ToolCalls {
			result := e.dispatch(ctx, tools, tc)
			res.ToolCalls++
			sess.History.Append(llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
				Content:    result.JSON(),
				Timestamp:  time.Now(),
			})
		}
	}

	detail := fmt.Sprintf("no final answer after %d iterations", e.cfg.MaxIterations)
	e.log.Warn().Int("max_iterations", e.cfg.MaxIterations).Str("context_id", sess.ContextID).Msg("iteration budget exhausted")
	e.reporter.Failure("max iterations reached", sess.ContextID, "", detail)
	return nil, fmt.Errorf("max iterations (%d) reached without a final answer", e.cfg.MaxIterations)
}

// prompt builds the request messages: fixed system instructions
// followed by the full session history.
func (e *Engine) prompt(sess *session.Session) []llm.Message {
	history := sess.History.Snapshot()
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleSystem,
		Content: e.cfg.SystemPrompt,
	})
	return append(msgs, history...)
}

// dispatch runs a single requested tool call. Failures become payloads,
// never errors; the model sees them on the next iteration.
func (e *Engine) dispatch(ctx context.Context, tools ToolDispatcher, tc *llm.ToolCall) *gateway.Result {
	if tools == nil {
		return &gateway.Result{Err: fmt.Sprintf("tool '%s' is not available: tooling is disabled", tc.Function.Name)}
	}

	var args map[string]any
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return &gateway.Result{Err: fmt.Sprintf("malformed tool arguments: %v", err)}
		}
	}

	return tools.CallTool(ctx, tc.Function.Name, args)
}
