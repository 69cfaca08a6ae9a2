// Package gateway maintains the connection to the remote MCP tool
// provider for one session: tool discovery in the function-calling
// schema the LLM expects, bounded tool execution, and normalization of
// the provider's result shapes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"finagent/internal/llm"
	"finagent/internal/logging"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// contextIDKey is the reserved argument carrying the session identity.
// Any caller-supplied value is discarded before dispatch; a leaked
// value would alias tool state across sessions.
const contextIDKey = "context_id"

const (
	defaultCallTimeout = 60 * time.Second
	finalCallTimeout   = 120 * time.Second
	endpointSuffix     = "/mcp"
)

var (
	// ErrUnreachable reports that the tool provider could not be reached.
	ErrUnreachable = errors.New("tool provider unreachable")
	// ErrNoTools reports a provider with an empty catalogue, which is a
	// fatal misconfiguration rather than an empty result.
	ErrNoTools = errors.New("tool provider returned no tools")
)

// Dialer establishes a connected MCP client session.
type Dialer func(ctx context.Context) (*mcp.ClientSession, error)

// Gateway is the per-session tool provider connection. Instances are
// never shared across sessions, so the only lock guards the lazy
// connect path.
type Gateway struct {
	endpoint        string
	contextID       string
	finalAnswerTool string
	callTimeout     time.Duration
	finalTimeout    time.Duration
	dial            Dialer
	log             *logging.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
}

// Option adjusts gateway construction.
type Option func(*Gateway)

// WithDialer overrides how the gateway connects, used by tests to wire
// an in-memory transport.
func WithDialer(d Dialer) Option {
	return func(g *Gateway) { g.dial = d }
}

// WithFinalAnswerTool names the tool granted the longer call timeout.
func WithFinalAnswerTool(name string) Option {
	return func(g *Gateway) { g.finalAnswerTool = name }
}

// WithTimeouts overrides the per-call wait bounds.
func WithTimeouts(call, final time.Duration) Option {
	return func(g *Gateway) {
		g.callTimeout = call
		g.finalTimeout = final
	}
}

// New creates a gateway for one session identity. The standard MCP
// path suffix is appended to the endpoint when absent.
func New(endpoint, contextID string, log *logging.Logger, opts ...Option) *Gateway {
	if !strings.HasSuffix(endpoint, endpointSuffix) {
		endpoint += endpointSuffix
	}

	g := &Gateway{
		endpoint:        endpoint,
		contextID:       contextID,
		finalAnswerTool: "submit_answer",
		callTimeout:     defaultCallTimeout,
		finalTimeout:    finalCallTimeout,
		log:             log.Sub("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.dial == nil {
		g.dial = g.dialHTTP
	}
	return g
}

// Endpoint returns the resolved provider endpoint.
func (g *Gateway) Endpoint() string {
	return g.endpoint
}

func (g *Gateway) dialHTTP(ctx context.Context) (*mcp.ClientSession, error) {
	impl := &mcp.Implementation{
		Name:    "finagent",
		Version: "0.1.0",
	}
	client := mcp.NewClient(impl, nil)
	transport := &mcp.StreamableClientTransport{Endpoint: g.endpoint}
	return client.Connect(ctx, transport, nil)
}

// ensureSession connects lazily. A second call on a connected gateway
// is a no-op.
func (g *Gateway) ensureSession(ctx context.Context) (*mcp.ClientSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.session != nil {
		return g.session, nil
	}

	session, err := g.dial(ctx)
	if err != nil {
		g.log.Error().Err(err).Str("endpoint", g.endpoint).Msg("failed to connect to tool provider")
		return nil, fmt.Errorf("%w at %s: %v", ErrUnreachable, g.endpoint, err)
	}

	g.session = session
	return session, nil
}

// ListTools retrieves the provider catalogue and maps it into the
// schema shape the LLM invocation expects. An empty catalogue is fatal.
func (g *Gateway) ListTools(ctx context.Context) ([]*llm.ToolDefinition, error) {
	session, err := g.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	var defs []*llm.ToolDefinition
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("%w: listing tools: %v", ErrUnreachable, err)
		}
		defs = append(defs, &llm.ToolDefinition{
			Type: "function",
			Function: &llm.FunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaToMap(tool.InputSchema),
			},
		})
	}

	if len(defs) == 0 {
		return nil, ErrNoTools
	}

	g.log.Debug().Int("count", len(defs)).Msg("tool catalogue fetched")
	return defs, nil
}

// CallTool invokes a named tool with a bounded wait and returns a
// normalized result. It never returns an error: timeouts and provider
// failures become failure payloads the model can react to.
func (g *Gateway) CallTool(ctx context.Context, name string, arguments map[string]any) *Result {
	session, err := g.ensureSession(ctx)
	if err != nil {
		return failure("MCP tool call failed: %v", err)
	}

	args := make(map[string]any, len(arguments)+1)
	for k, v := range arguments {
		if k == contextIDKey {
			continue
		}
		args[k] = v
	}
	args[contextIDKey] = g.contextID

	timeout := g.callTimeout
	if name == g.finalAnswerTool {
		timeout = g.finalTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g.log.Debug().Str("tool", name).Int("args", len(args)).Msg("calling tool")

	result, err := session.CallTool(callCtx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			g.log.Error().Str("tool", name).Dur("timeout", timeout).Msg("tool call timed out")
			return failure("Tool '%s' timed out", name)
		}
		g.log.Error().Err(err).Str("tool", name).Msg("tool call failed")
		return failure("MCP tool call failed: %v", err)
	}

	if result.IsError {
		return failure("%s", errorText(result))
	}

	return &Result{Value: Normalize(rawValue(result))}
}

// Close shuts down the provider session if one was established.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.session == nil {
		return nil
	}
	err := g.session.Close()
	g.session = nil
	return err
}

// rawValue converts an MCP call result into the loose shape Normalize
// operates on: structured content verbatim when present, otherwise the
// content list as text/data wrappers.
func rawValue(result *mcp.CallToolResult) any {
	if result.StructuredContent != nil {
		return map[string]any{"data": jsonRoundTrip(result.StructuredContent)}
	}

	items := make([]any, 0, len(result.Content))
	for _, item := range result.Content {
		switch c := item.(type) {
		case *mcp.TextContent:
			items = append(items, map[string]any{"text": c.Text})
		case *mcp.ImageContent:
			items = append(items, fmt.Sprintf("[image: %s]", c.MIMEType))
		case *mcp.AudioContent:
			items = append(items, fmt.Sprintf("[audio: %s]", c.MIMEType))
		default:
			items = append(items, jsonRoundTrip(item))
		}
	}
	return items
}

// jsonRoundTrip coerces an arbitrary value into generic JSON types.
func jsonRoundTrip(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}

// errorText extracts a human-readable message from a provider-side
// tool error.
func errorText(result *mcp.CallToolResult) string {
	var parts []string
	for _, item := range result.Content {
		if c, ok := item.(*mcp.TextContent); ok {
			parts = append(parts, c.Text)
		}
	}
	if len(parts) == 0 {
		return "tool returned an error"
	}
	return strings.Join(parts, "\n")
}

// schemaToMap converts a tool input schema into the map shape expected
// by the chat API, falling back to an empty object schema.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return emptyObjectSchema()
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return emptyObjectSchema()
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return emptyObjectSchema()
	}
	return m
}

func emptyObjectSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
