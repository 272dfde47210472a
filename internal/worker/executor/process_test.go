package executor

import (
	"context"
	"testing"
	"time"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	return log
}

func TestProcessExecutorEchoesPromptAndReturnsToIdle(t *testing.T) {
	cfg := ProcessConfig{
		Command:     "cat",
		IdleTimeout: 200 * time.Millisecond,
	}
	exec, err := NewProcessExecutor("exec-1", cfg, newTestLogger(t))
	if err != nil {
		t.Fatalf("NewProcessExecutor failed: %v", err)
	}
	defer exec.Terminate(context.Background())

	if exec.Status().State != v1.ExecutorStateIdle {
		t.Fatalf("expected idle state after construction, got %s", exec.Status().State)
	}

	task := &v1.Task{ID: "task-1", Prompt: "hello world"}
	out := make(chan OutputChunk, 16)

	result, err := exec.Execute(context.Background(), task, out)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != v1.TaskStatusCompleted {
		t.Fatalf("expected completed status, got %s (error=%s)", result.Status, result.Error)
	}
	if result.Output == "" {
		t.Fatal("expected non-empty output from echoed prompt")
	}
	if exec.Status().State != v1.ExecutorStateIdle {
		t.Fatalf("expected executor to return to idle, got %s", exec.Status().State)
	}
	if exec.Status().TasksCompleted != 1 {
		t.Fatalf("expected tasksCompleted=1, got %d", exec.Status().TasksCompleted)
	}
}

func TestProcessExecutorRejectsConcurrentExecute(t *testing.T) {
	cfg := ProcessConfig{Command: "cat", IdleTimeout: 500 * time.Millisecond}
	exec, err := NewProcessExecutor("exec-2", cfg, newTestLogger(t))
	if err != nil {
		t.Fatalf("NewProcessExecutor failed: %v", err)
	}
	defer exec.Terminate(context.Background())

	out := make(chan OutputChunk, 16)
	go exec.Execute(context.Background(), &v1.Task{ID: "t1", Prompt: "x"}, out)
	time.Sleep(20 * time.Millisecond)

	_, err = exec.Execute(context.Background(), &v1.Task{ID: "t2", Prompt: "y"}, out)
	if err == nil {
		t.Fatal("expected ErrNotIdle while a task is already executing")
	}
	if _, ok := err.(*ErrNotIdle); !ok {
		t.Fatalf("expected *ErrNotIdle, got %T", err)
	}
}

func TestProcessExecutorTimeoutProducesFailedResult(t *testing.T) {
	cfg := ProcessConfig{Command: "sleep", Args: []string{"5"}, IdleTimeout: 2 * time.Second}
	exec, err := NewProcessExecutor("exec-3", cfg, newTestLogger(t))
	if err != nil {
		t.Fatalf("NewProcessExecutor failed: %v", err)
	}
	defer exec.Terminate(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := make(chan OutputChunk, 16)
	result, err := exec.Execute(ctx, &v1.Task{ID: "t3", Prompt: "irrelevant"}, out)
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if result.Status != v1.TaskStatusFailed {
		t.Fatalf("expected failed status on timeout, got %s", result.Status)
	}
	if result.Retryable {
		t.Fatal("expected a timed-out task to be non-retryable")
	}
	if exec.IsHealthy() {
		t.Fatal("expected a timed-out executor to report unhealthy, not be silently recycled")
	}
	if exec.Status().State != v1.ExecutorStateError {
		t.Fatalf("expected ExecutorStateError after a kill on timeout, got %s", exec.Status().State)
	}
}

func TestProcessExecutorProcessTimeoutOverridesCallerDeadline(t *testing.T) {
	cfg := ProcessConfig{
		Command:        "sleep",
		Args:           []string{"5"},
		IdleTimeout:    2 * time.Second,
		ProcessTimeout: 50 * time.Millisecond,
	}
	exec, err := NewProcessExecutor("exec-4", cfg, newTestLogger(t))
	if err != nil {
		t.Fatalf("NewProcessExecutor failed: %v", err)
	}
	defer exec.Terminate(context.Background())

	out := make(chan OutputChunk, 16)
	result, err := exec.Execute(context.Background(), &v1.Task{ID: "t4", Prompt: "irrelevant"}, out)
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if result.Status != v1.TaskStatusFailed {
		t.Fatalf("expected ProcessTimeout to fail the task even with no caller deadline, got %s", result.Status)
	}
}
