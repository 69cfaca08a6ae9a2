package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateCanceled  TaskState = "canceled"
	TaskStateFailed    TaskState = "failed"
	TaskStateRejected  TaskState = "rejected"
)

// terminalStates are the states a task never leaves.
var terminalStates = map[TaskState]bool{
	TaskStateCompleted: true,
	TaskStateCanceled:  true,
	TaskStateFailed:    true,
	TaskStateRejected:  true,
}

type TaskStatus struct {
	State     TaskState `json:"state"`
	Timestamp string    `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
}

type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Kind      string     `json:"kind"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Terminal reports whether the task has finished processing.
func (t *Task) Terminal() bool {
	return terminalStates[t.Status.State]
}

type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// TaskStore keeps tasks in memory for the process lifetime.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*Task)}
}

// Create registers a new working task bound to a context identity.
func (s *TaskStore) Create(contextID string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &Task{
		ID:        uuid.New().String(),
		ContextID: contextID,
		Kind:      "task",
		Status: TaskStatus{
			State:     TaskStateWorking,
			Timestamp: nowStamp(),
		},
	}
	s.tasks[task.ID] = task
	return *task
}

// Get returns a copy of the task, or false when unknown.
func (s *TaskStore) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Complete marks the task completed and attaches the response artifact.
func (s *TaskStore) Complete(id string, artifacts ...Artifact) (Task, bool) {
	return s.update(id, func(t *Task) {
		t.Status = TaskStatus{State: TaskStateCompleted, Timestamp: nowStamp()}
		t.Artifacts = append(t.Artifacts, artifacts...)
	})
}

// Fail marks the task failed with an agent-authored error message.
func (s *TaskStore) Fail(id, errText string) (Task, bool) {
	return s.update(id, func(t *Task) {
		t.Status = TaskStatus{
			State:     TaskStateFailed,
			Timestamp: nowStamp(),
			Message: &Message{
				MessageID: uuid.New().String(),
				Role:      "agent",
				Parts:     []Part{{Kind: "text", Text: errText}},
			},
		}
	})
}

func (s *TaskStore) update(id string, fn func(*Task)) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	fn(task)
	return *task, true
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
