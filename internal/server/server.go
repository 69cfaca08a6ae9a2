// Package server is the A2A-style transport adapter: JSON-RPC message
// intake, in-memory task lifecycle, and the agent card endpoint. It
// holds the per-identity session registry and hands each inbound
// message to the turn-loop engine.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"finagent/internal/agent"
	"finagent/internal/logging"
	"finagent/internal/session"

	"github.com/google/uuid"
)

// DispatcherFactory creates the tool dispatcher for a session identity.
// A nil factory disables tooling for the whole deployment.
type DispatcherFactory func(contextID string) agent.ToolDispatcher

// Server hosts the transport. It serializes nothing across identities;
// concurrent requests for distinct sessions run independently, and the
// caller contract of one invocation per identity at a time is not
// enforced here.
type Server struct {
	addr          string
	card          AgentCard
	engine        *agent.Engine
	sessions      *session.Registry
	newDispatcher DispatcherFactory
	dispatchMu    sync.Mutex
	dispatchers   map[string]agent.ToolDispatcher
	tasks         *TaskStore
	log           *logging.Logger

	httpServer *http.Server
}

// New creates a server. cardURL is the externally visible base URL
// advertised on the agent card.
func New(addr, cardURL string, engine *agent.Engine, newDispatcher DispatcherFactory, log *logging.Logger) *Server {
	return &Server{
		addr:          addr,
		card:          NewAgentCard(cardURL),
		engine:        engine,
		sessions:      session.NewRegistry(),
		newDispatcher: newDispatcher,
		dispatchers:   make(map[string]agent.ToolDispatcher),
		tasks:         NewTaskStore(),
		log:           log.Sub("server"),
	}
}

// Handler returns the HTTP handler, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /card", s.handleCard)
	mux.HandleFunc("GET /.well-known/agent-card.json", s.handleCard)
	mux.HandleFunc("POST /", s.handleRPC)
	return mux
}

// ListenAndServe runs the server until the context is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.card)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeInvalidRequest, Message: "malformed JSON-RPC request"},
		})
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "message/send":
		resp.Result, resp.Error = s.rpcMessageSend(r.Context(), req.Params)
	case "tasks/get":
		resp.Result, resp.Error = s.rpcTasksGet(req.Params)
	case "tasks/cancel", "message/stream":
		resp.Error = &rpcError{Code: codeUnsupportedOperation, Message: "This operation is not supported"}
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)}
	}

	writeRPC(w, resp)
}

// rpcMessageSend runs one full turn synchronously and returns the
// terminal task.
func (s *Server) rpcMessageSend(ctx context.Context, params json.RawMessage) (result any, rpcErr *rpcError) {
	var p sendParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
	}
	if p.Message == nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "Missing message in request"}
	}

	text := p.Message.Text()
	if text == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "message has no text parts"}
	}

	// A message addressed at a finished task is a client error; a
	// known in-flight task is continued instead of replaced.
	var task Task
	haveTask := false
	if p.Message.TaskID != "" {
		prior, ok := s.tasks.Get(p.Message.TaskID)
		if !ok {
			return nil, &rpcError{Code: codeTaskNotFound, Message: "task not found: " + p.Message.TaskID}
		}
		if prior.Terminal() {
			return nil, &rpcError{
				Code:    codeInvalidRequest,
				Message: fmt.Sprintf("Task %s already processed (state: %s)", prior.ID, prior.Status.State),
			}
		}
		task = prior
		haveTask = true
	}

	contextID := p.Message.ContextID
	if contextID == "" {
		if haveTask {
			contextID = task.ContextID
		} else {
			contextID = uuid.New().String()
		}
	}

	if !haveTask {
		task = s.tasks.Create(contextID)
	}

	// A panic anywhere in the turn must still land the task in a
	// terminal state and produce a JSON-RPC response.
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Str("task_id", task.ID).Msg("agent panic")
			failed, _ := s.tasks.Fail(task.ID, fmt.Sprintf("Error: %v", rec))
			result, rpcErr = failed, nil
		}
	}()

	sess := s.sessions.GetOrCreate(contextID)
	isNew := sess.History.Len() == 0

	s.log.Info().
		Str("task_id", task.ID).
		Str("context_id", contextID).
		Bool("new_conversation", isNew).
		Msg("processing message")

	res, err := s.engine.ProcessMessage(ctx, sess, s.dispatcherFor(contextID), text, isNew)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Msg("agent error")
		failed, _ := s.tasks.Fail(task.ID, fmt.Sprintf("Error: %v", err))
		return failed, nil
	}

	artifact := Artifact{
		ArtifactID: uuid.New().String(),
		Name:       "Response",
		Parts: []Part{
			{Kind: "text", Text: res.Status},
			{Kind: "data", Data: map[string]any{"response": res.Response}},
		},
	}
	completed, _ := s.tasks.Complete(task.ID, artifact)
	return completed, nil
}

func (s *Server) rpcTasksGet(params json.RawMessage) (any, *rpcError) {
	var p taskQueryParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
	}

	id := p.taskID()
	if id == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "task id is required"}
	}

	task, ok := s.tasks.Get(id)
	if !ok {
		return nil, &rpcError{Code: codeTaskNotFound, Message: "task not found: " + id}
	}
	return task, nil
}

// dispatcherFor returns the session's tool dispatcher, creating it on
// miss. Gateways are one-per-session and never shared.
func (s *Server) dispatcherFor(contextID string) agent.ToolDispatcher {
	if s.newDispatcher == nil {
		return nil
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if d, ok := s.dispatchers[contextID]; ok {
		return d
	}
	d := s.newDispatcher(contextID)
	s.dispatchers[contextID] = d
	return d
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
