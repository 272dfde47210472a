package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/claudecluster/claudecluster/internal/worker/executor"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

type fakeExecutor struct {
	id   string
	mode v1.ExecutionMode
}

func (f *fakeExecutor) ID() string             { return f.id }
func (f *fakeExecutor) Mode() v1.ExecutionMode { return f.mode }
func (f *fakeExecutor) Execute(ctx context.Context, task *v1.Task, out chan<- executor.OutputChunk) (*v1.TaskResult, error) {
	return &v1.TaskResult{}, nil
}
func (f *fakeExecutor) Terminate(ctx context.Context) error { return nil }
func (f *fakeExecutor) IsHealthy() bool                     { return true }
func (f *fakeExecutor) Status() v1.ExecutorStatus           { return v1.ExecutorStatus{ID: f.id, Mode: f.mode} }

type fakeProvider struct {
	mode       v1.ExecutionMode
	acquireErr error
	released   []string
}

func (f *fakeProvider) Mode() v1.ExecutionMode { return f.mode }
func (f *fakeProvider) Acquire(ctx context.Context, task *v1.Task) (executor.Executor, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &fakeExecutor{id: task.ID + "-" + string(f.mode), mode: f.mode}, nil
}
func (f *fakeProvider) Release(ctx context.Context, exec executor.Executor) error {
	f.released = append(f.released, exec.ID())
	return nil
}
func (f *fakeProvider) Cleanup(ctx context.Context) error { return nil }
func (f *fakeProvider) Stats() v1.ProviderStats           { return v1.ProviderStats{Mode: f.mode} }
func (f *fakeProvider) IsHealthy() bool                   { return true }

func TestUnifiedProviderResolvesTaskRequestedModeOverDefault(t *testing.T) {
	process := &fakeProvider{mode: v1.ExecutionModeProcessPool}
	container := &fakeProvider{mode: v1.ExecutionModeContainerAgentic}
	u := NewUnifiedProvider(UnifiedConfig{DefaultMode: v1.ExecutionModeProcessPool}, map[v1.ExecutionMode]ExecutionProvider{
		v1.ExecutionModeProcessPool:      process,
		v1.ExecutionModeContainerAgentic: container,
	}, newTestLogger(t))

	task := &v1.Task{ID: "t1", RequestedMode: v1.ExecutionModeContainerAgentic}
	exec, err := u.Acquire(context.Background(), task, "")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if exec.Mode() != v1.ExecutionModeContainerAgentic {
		t.Fatalf("expected container mode honored over default, got %s", exec.Mode())
	}
}

func TestUnifiedProviderFallsBackOnTransientFailureWhenAllowed(t *testing.T) {
	process := &fakeProvider{mode: v1.ExecutionModeProcessPool, acquireErr: ErrNoCapacity}
	container := &fakeProvider{mode: v1.ExecutionModeContainerAgentic}
	u := NewUnifiedProvider(UnifiedConfig{DefaultMode: v1.ExecutionModeProcessPool, AllowModeOverride: true}, map[v1.ExecutionMode]ExecutionProvider{
		v1.ExecutionModeProcessPool:      process,
		v1.ExecutionModeContainerAgentic: container,
	}, newTestLogger(t))

	task := &v1.Task{ID: "t1"}
	exec, err := u.Acquire(context.Background(), task, "")
	if err != nil {
		t.Fatalf("expected fallback to succeed, got error: %v", err)
	}
	if exec.Mode() != v1.ExecutionModeContainerAgentic {
		t.Fatalf("expected fallback to container mode, got %s", exec.Mode())
	}
}

func TestUnifiedProviderDoesNotFallBackWhenDisallowed(t *testing.T) {
	process := &fakeProvider{mode: v1.ExecutionModeProcessPool, acquireErr: ErrNoCapacity}
	container := &fakeProvider{mode: v1.ExecutionModeContainerAgentic}
	u := NewUnifiedProvider(UnifiedConfig{DefaultMode: v1.ExecutionModeProcessPool, AllowModeOverride: false}, map[v1.ExecutionMode]ExecutionProvider{
		v1.ExecutionModeProcessPool:      process,
		v1.ExecutionModeContainerAgentic: container,
	}, newTestLogger(t))

	task := &v1.Task{ID: "t1"}
	if _, err := u.Acquire(context.Background(), task, ""); !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("expected ErrNoCapacity with fallback disabled, got %v", err)
	}
}

func TestUnifiedProviderReleaseRoutesToOwningProvider(t *testing.T) {
	process := &fakeProvider{mode: v1.ExecutionModeProcessPool}
	u := NewUnifiedProvider(UnifiedConfig{DefaultMode: v1.ExecutionModeProcessPool}, map[v1.ExecutionMode]ExecutionProvider{
		v1.ExecutionModeProcessPool: process,
	}, newTestLogger(t))

	task := &v1.Task{ID: "t1"}
	exec, err := u.Acquire(context.Background(), task, "")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := u.Release(context.Background(), exec); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if len(process.released) != 1 || process.released[0] != exec.ID() {
		t.Fatalf("expected the process provider to have released %s, got %v", exec.ID(), process.released)
	}
}

func TestUnifiedProviderAcquireFailsWithNoProvidersConfigured(t *testing.T) {
	u := NewUnifiedProvider(UnifiedConfig{}, map[v1.ExecutionMode]ExecutionProvider{}, newTestLogger(t))

	if _, err := u.Acquire(context.Background(), &v1.Task{ID: "t1"}, ""); err == nil {
		t.Fatal("expected an error when no provider is configured")
	}
}
