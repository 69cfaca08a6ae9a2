// Package session holds per-conversation state: an ordered message
// history scoped to one context identity. State lives only in memory
// for the lifetime of the owning process.
package session

import (
	"sync"

	"finagent/internal/llm"
)

// Session is one logical conversation: an opaque context identity and
// its message history. Histories are never shared between identities.
type Session struct {
	ContextID string
	History   *History
}

// History is an append-only ordered message sequence. Messages are
// never reordered or mutated after insertion; callers uphold the
// tool-call-id invariant when appending tool messages.
type History struct {
	mu   sync.RWMutex
	msgs []llm.Message
}

func NewHistory() *History {
	return &History{}
}

// Append adds a message at the end of the history.
func (h *History) Append(msg llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

// Snapshot returns a copy of the history for prompt construction.
func (h *History) Snapshot() []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]llm.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Reset clears the history for a fresh conversation.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// Registry maps context identities to live sessions. At most one
// session exists per identity. The registry does not serialize
// invocations against the same identity; that is the hosting layer's
// contract.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for the identity, creating it on miss.
func (r *Registry) GetOrCreate(contextID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[contextID]; ok {
		return sess
	}

	sess := &Session{
		ContextID: contextID,
		History:   NewHistory(),
	}
	r.sessions[contextID] = sess
	return sess
}

// Get returns the session for the identity, or nil if none is live.
func (r *Registry) Get(contextID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[contextID]
}

// Remove evicts a session. Its history is gone for good.
func (r *Registry) Remove(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, contextID)
}

// List returns the identities of all live sessions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
