// Package executor implements the two Executor variants a worker can lend
// out through its ExecutionProvider: a reusable process-backed executor and
// a one-shot container-backed executor.
package executor

import (
	"context"
	"sync"
	"time"

	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// OutputChunk is one piece of captured stdout/stderr, emitted as it arrives
// so the caller can stream it without buffering the whole run.
type OutputChunk struct {
	Data      string
	Timestamp time.Time
}

// Executor is a single-task-capable runtime: either a reusable child
// process or a one-shot container. At most one task is ever bound to an
// executor at a time.
type Executor interface {
	// ID returns the executor's opaque identifier.
	ID() string

	// Mode reports which backend this executor wraps.
	Mode() v1.ExecutionMode

	// Execute runs task to completion, exclusive: returns ErrNotIdle if
	// called while the executor is not idle. Output chunks are pushed to
	// out as they arrive; out is never closed by Execute.
	Execute(ctx context.Context, task *v1.Task, out chan<- OutputChunk) (*v1.TaskResult, error)

	// Terminate releases OS resources and transitions to terminated.
	// Idempotent after the first call.
	Terminate(ctx context.Context) error

	// IsHealthy is a cheap synchronous liveness predicate.
	IsHealthy() bool

	// Status returns a snapshot of the executor's observable fields.
	Status() v1.ExecutorStatus
}

// stateBox guards the mutable fields shared by both executor variants so
// Status() snapshots never race with a concurrent Execute()/Terminate().
type stateBox struct {
	mu             sync.Mutex
	state          v1.ExecutorState
	currentTaskID  string
	startedAt      time.Time
	tasksCompleted int
	lastActivity   time.Time
	usage          v1.ResourceUsage
}

func newStateBox() *stateBox {
	now := time.Now().UTC()
	return &stateBox{
		state:        v1.ExecutorStateInitializing,
		startedAt:    now,
		lastActivity: now,
	}
}

func (s *stateBox) setState(state v1.ExecutorState) {
	s.mu.Lock()
	s.state = state
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *stateBox) get() v1.ExecutorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stateBox) beginTask(taskID string) {
	s.mu.Lock()
	s.state = v1.ExecutorStateExecuting
	s.currentTaskID = taskID
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *stateBox) endTask(nextState v1.ExecutorState) {
	s.mu.Lock()
	s.state = nextState
	s.currentTaskID = ""
	s.tasksCompleted++
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *stateBox) snapshot(id string, mode v1.ExecutionMode) v1.ExecutorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return v1.ExecutorStatus{
		ID:             id,
		Mode:           mode,
		State:          s.state,
		CurrentTaskID:  s.currentTaskID,
		StartedAt:      s.startedAt,
		TasksCompleted: s.tasksCompleted,
		LastActivity:   s.lastActivity,
		Usage:          s.usage,
	}
}

// ErrNotIdle is returned by Execute when the executor is not idle.
type ErrNotIdle struct{ State v1.ExecutorState }

func (e *ErrNotIdle) Error() string {
	return "executor not idle, current state: " + string(e.State)
}
