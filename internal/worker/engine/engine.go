// Package engine implements the worker-side TaskExecutionEngine: it accepts
// task submissions, acquires an executor from the UnifiedProvider, runs the
// task under a timeout guard, streams output into a per-task event buffer,
// and always releases the executor before marking the task terminal.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/claudecluster/claudecluster/internal/common/errors"
	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/worker/executor"
	"github.com/claudecluster/claudecluster/internal/worker/provider"
	"github.com/claudecluster/claudecluster/internal/worker/session"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// Config controls the engine's capacity and timeout bounds.
type Config struct {
	WorkerID           string
	MaxConcurrentTasks int
	DefaultTimeout     time.Duration
	MaxTimeout         time.Duration
}

// AcceptedTask is the response contract for a successful submission.
type AcceptedTask struct {
	TaskID             string
	AcceptedAt         time.Time
	EstimatedDurationMs int64
}

// trackedTask holds everything the engine keeps about one in-flight or
// recently completed task.
type trackedTask struct {
	mu     sync.Mutex
	task   *v1.Task
	sess   *session.Session
	events *eventBuffer
}

// Engine is the worker-side task execution engine.
type Engine struct {
	cfg      Config
	unified  *provider.UnifiedProvider
	log      *logger.Logger

	mu    sync.RWMutex
	tasks map[string]*trackedTask
}

// New returns an Engine bound to the given UnifiedProvider.
func New(cfg Config, unified *provider.UnifiedProvider, log *logger.Logger) *Engine {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 5
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 30 * time.Minute
	}
	return &Engine{
		cfg:     cfg,
		unified: unified,
		log:     log.WithFields(zap.String("component", "execution_engine")),
		tasks:   make(map[string]*trackedTask),
	}
}

// runningCount returns the number of tasks currently in the running state.
func (e *Engine) runningCount() int {
	count := 0
	for _, tt := range e.tasks {
		tt.mu.Lock()
		if tt.task.Status == v1.TaskStatusRunning {
			count++
		}
		tt.mu.Unlock()
	}
	return count
}

// Submit accepts a task for execution. Submission is bounded by
// MaxConcurrentTasks; once accepted, the task runs asynchronously.
func (e *Engine) Submit(task *v1.Task, requestedMode v1.ExecutionMode) (*AcceptedTask, error) {
	e.mu.Lock()
	inFlight := 0
	for _, other := range e.tasks {
		other.mu.Lock()
		if !other.task.Status.IsTerminal() {
			inFlight++
		}
		other.mu.Unlock()
	}
	if inFlight >= e.cfg.MaxConcurrentTasks {
		e.mu.Unlock()
		return nil, apperrors.CapacityExceeded(e.cfg.WorkerID)
	}

	now := time.Now().UTC()
	task.Status = v1.TaskStatusPending
	task.CreatedAt = now

	tt := &trackedTask{task: task, events: newEventBuffer()}
	e.tasks[task.ID] = tt
	e.mu.Unlock()

	timeout := e.taskTimeout(task)
	sess := session.New(context.Background(), task, timeout)
	tt.mu.Lock()
	tt.sess = sess
	tt.mu.Unlock()

	go e.run(sess, tt, requestedMode)

	return &AcceptedTask{TaskID: task.ID, AcceptedAt: now}, nil
}

func (e *Engine) taskTimeout(task *v1.Task) time.Duration {
	if task.TimeoutMs <= 0 {
		return e.cfg.DefaultTimeout
	}
	requested := time.Duration(task.TimeoutMs) * time.Millisecond
	if requested > e.cfg.MaxTimeout {
		return e.cfg.MaxTimeout
	}
	return requested
}

func (e *Engine) run(sess *session.Session, tt *trackedTask, requestedMode v1.ExecutionMode) {
	ctx := sess.Context()
	taskID := tt.task.ID

	// Guarantees the executor is released exactly once no matter which
	// branch below returns: normal completion, timeout, executor error,
	// or external cancellation via Cancel().
	release := func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer releaseCancel()
		if err := sess.Release(releaseCtx); err != nil {
			e.log.Warn("failed to release executor", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	defer release()

	exec, err := e.unified.Acquire(ctx, tt.task, requestedMode)
	if err != nil {
		e.log.Error("failed to acquire executor", zap.String("task_id", taskID), zap.Error(err))
		e.fail(tt, "no-executor", err.Error(), false)
		return
	}
	sess.Bind(exec, func(ctx context.Context, bound interface{ ID() string }) error {
		return e.unified.Release(ctx, bound.(executor.Executor))
	})

	e.setRunning(tt)

	out := make(chan executor.OutputChunk, 64)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for chunk := range out {
			tt.events.publish(v1.Envelope{
				TaskID:    taskID,
				Timestamp: chunk.Timestamp,
				Source:    v1.EventSourceWorker,
				Type:      v1.SSEEventProgress,
				Progress:  &v1.ProgressPayload{Message: chunk.Data},
			})
		}
	}()

	result, execErr := exec.Execute(ctx, tt.task, out)
	close(out)
	<-relayDone

	// Release cancels the session context, so read its state first; the
	// executor is then back with its provider before any terminal status.
	ctxErr := ctx.Err()
	release()

	if execErr != nil {
		e.log.Error("executor returned an error", zap.String("task_id", taskID), zap.Error(execErr))
		e.fail(tt, "executor-error", execErr.Error(), false)
		return
	}

	if ctxErr == context.Canceled {
		e.cancelled(tt)
		return
	}
	if ctxErr != nil && (result == nil || !result.Status.IsTerminal()) {
		e.fail(tt, "timeout", "task exceeded its deadline", false)
		return
	}

	e.complete(tt, result)
}

func (e *Engine) cancelled(tt *trackedTask) {
	now := time.Now().UTC()
	tt.mu.Lock()
	tt.task.Status = v1.TaskStatusCancelled
	tt.task.CompletedAt = &now
	tt.mu.Unlock()

	tt.events.publish(v1.Envelope{
		TaskID:    tt.task.ID,
		Timestamp: now,
		Source:    v1.EventSourceWorker,
		Type:      v1.SSEEventStatus,
		Status:    &v1.StatusPayload{Status: v1.TaskStatusCancelled},
	})
	tt.events.close()
}

func (e *Engine) setRunning(tt *trackedTask) {
	now := time.Now().UTC()
	tt.mu.Lock()
	tt.task.Status = v1.TaskStatusRunning
	tt.task.StartedAt = &now
	tt.mu.Unlock()

	tt.events.publish(v1.Envelope{
		TaskID:    tt.task.ID,
		Timestamp: now,
		Source:    v1.EventSourceWorker,
		Type:      v1.SSEEventStatus,
		Status:    &v1.StatusPayload{Status: v1.TaskStatusRunning},
	})
}

func (e *Engine) complete(tt *trackedTask, result *v1.TaskResult) {
	now := time.Now().UTC()
	tt.mu.Lock()
	tt.task.CompletedAt = &now
	tt.task.Result = result
	if result != nil {
		tt.task.Status = result.Status
	} else {
		tt.task.Status = v1.TaskStatusFailed
	}
	status := tt.task.Status
	tt.mu.Unlock()

	if status == v1.TaskStatusCompleted {
		tt.events.publish(v1.Envelope{
			TaskID:    tt.task.ID,
			Timestamp: now,
			Source:    v1.EventSourceWorker,
			Type:      v1.SSEEventComplete,
			Complete:  &v1.CompletePayload{Result: *result},
		})
	} else {
		errMsg := "task failed"
		retryable := false
		if result != nil {
			errMsg = result.Error
			retryable = result.Retryable
		}
		tt.events.publish(v1.Envelope{
			TaskID:    tt.task.ID,
			Timestamp: now,
			Source:    v1.EventSourceWorker,
			Type:      v1.SSEEventFailed,
			Failed:    &v1.FailedPayload{Error: errMsg, Retryable: retryable},
		})
	}
	tt.events.close()
}

func (e *Engine) fail(tt *trackedTask, reason string, detail string, retryable bool) {
	now := time.Now().UTC()
	errMsg := fmt.Sprintf("%s: %s", reason, detail)

	tt.mu.Lock()
	tt.task.Status = v1.TaskStatusFailed
	tt.task.CompletedAt = &now
	tt.task.Result = &v1.TaskResult{
		Status:    v1.TaskStatusFailed,
		Error:     errMsg,
		Retryable: retryable,
		EndedAt:   now,
	}
	tt.mu.Unlock()

	tt.events.publish(v1.Envelope{
		TaskID:    tt.task.ID,
		Timestamp: now,
		Source:    v1.EventSourceWorker,
		Type:      v1.SSEEventFailed,
		Failed:    &v1.FailedPayload{Error: errMsg, Retryable: retryable},
	})
	tt.events.close()
}

// Get returns a snapshot of the task's current state.
func (e *Engine) Get(taskID string) (*v1.Task, bool) {
	e.mu.RLock()
	tt, ok := e.tasks[taskID]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	snap := *tt.task
	return &snap, true
}

// Cancel requests cancellation of a running task. Idempotent: cancelling an
// already-terminal or unknown task is a no-op that returns false.
func (e *Engine) Cancel(taskID string) bool {
	e.mu.RLock()
	tt, ok := e.tasks[taskID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	tt.mu.Lock()
	if tt.task.Status.IsTerminal() {
		tt.mu.Unlock()
		return false
	}
	sess := tt.sess
	tt.mu.Unlock()

	if sess == nil {
		return false
	}
	sess.Cancel()
	return true
}

// Subscribe returns a channel of events for taskID, replaying any events
// already buffered, plus a function to release the subscription.
func (e *Engine) Subscribe(taskID string) (<-chan v1.Envelope, func(), bool) {
	e.mu.RLock()
	tt, ok := e.tasks[taskID]
	e.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	ch, unsub := tt.events.subscribe()
	return ch, unsub, true
}

// ActiveTaskCount reports the number of tasks currently running.
func (e *Engine) ActiveTaskCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runningCount()
}

// TotalTasksExecuted reports every task ever submitted to this engine.
func (e *Engine) TotalTasksExecuted() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tasks)
}
