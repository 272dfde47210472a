package engine

import (
	"testing"
	"time"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/worker/executor"
	"github.com/claudecluster/claudecluster/internal/worker/provider"
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

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	log := newTestLogger(t)

	pool, err := provider.NewProcessPoolProvider(provider.ProcessPoolConfig{
		Min: 1,
		Max: 1,
		ExecutorFactory: func(id string) (*executor.ProcessExecutor, error) {
			return executor.NewProcessExecutor(id, executor.ProcessConfig{
				Command:     "cat",
				IdleTimeout: 200 * time.Millisecond,
			}, log)
		},
	}, log)
	if err != nil {
		t.Fatalf("failed to build process pool: %v", err)
	}

	unified := provider.NewUnifiedProvider(provider.UnifiedConfig{
		DefaultMode: v1.ExecutionModeProcessPool,
	}, map[v1.ExecutionMode]provider.ExecutionProvider{
		v1.ExecutionModeProcessPool: pool,
	}, log)

	return New(Config{WorkerID: "worker-test", MaxConcurrentTasks: 1, DefaultTimeout: 2 * time.Second}, unified, log)
}

func TestEngineSubmitCompletesTask(t *testing.T) {
	e := newTestEngine(t)

	task := &v1.Task{ID: "task-1", Prompt: "hello"}
	accepted, err := e.Submit(task, "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if accepted.TaskID != "task-1" {
		t.Fatalf("expected taskId echoed back, got %s", accepted.TaskID)
	}

	deadline := time.After(2 * time.Second)
	for {
		snap, ok := e.Get("task-1")
		if !ok {
			t.Fatal("expected task to be tracked")
		}
		if snap.Status.IsTerminal() {
			if snap.Status != v1.TaskStatusCompleted {
				t.Fatalf("expected completed, got %s (result=%+v)", snap.Status, snap.Result)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task completion")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEngineSubmitRejectsOverCapacity(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.Submit(&v1.Task{ID: "t1", Prompt: "x"}, ""); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	_, err := e.Submit(&v1.Task{ID: "t2", Prompt: "y"}, "")
	if err == nil {
		t.Fatal("expected capacity-exceeded error for second concurrent submission")
	}
}

func TestEngineSubscribeReplaysEvents(t *testing.T) {
	e := newTestEngine(t)

	task := &v1.Task{ID: "task-2", Prompt: "hi"}
	if _, err := e.Submit(task, ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var ch <-chan v1.Envelope
	var unsub func()
	var ok bool
	deadline := time.After(2 * time.Second)
	for {
		ch, unsub, ok = e.Subscribe("task-2")
		if ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting to subscribe")
		case <-time.After(5 * time.Millisecond):
		}
	}
	defer unsub()

	sawComplete := false
	for env := range ch {
		if env.Type == v1.SSEEventComplete || env.Type == v1.SSEEventFailed {
			sawComplete = true
			break
		}
	}
	if !sawComplete {
		t.Fatal("expected a terminal event before channel closed")
	}
}
