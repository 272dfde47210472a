package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/worker/executor"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// UnifiedConfig configures the routing façade.
type UnifiedConfig struct {
	DefaultMode       v1.ExecutionMode
	AllowModeOverride bool
}

// UnifiedProvider routes each acquire to the provider whose mode the task
// requests (or the worker's default), falling back to the other provider
// once on a transient failure when AllowModeOverride is enabled.
type UnifiedProvider struct {
	cfg UnifiedConfig
	log *logger.Logger

	byMode map[v1.ExecutionMode]ExecutionProvider

	mu      sync.Mutex
	ownerOf map[string]v1.ExecutionMode // executor id -> owning provider mode
}

// NewUnifiedProvider wires the given per-mode providers behind one façade.
// providers with a nil value for their mode are treated as uninitialized.
func NewUnifiedProvider(cfg UnifiedConfig, providers map[v1.ExecutionMode]ExecutionProvider, log *logger.Logger) *UnifiedProvider {
	byMode := make(map[v1.ExecutionMode]ExecutionProvider, len(providers))
	for mode, p := range providers {
		if p != nil {
			byMode[mode] = p
		}
	}
	return &UnifiedProvider{
		cfg:     cfg,
		log:     log.WithFields(zap.String("component", "unified_provider")),
		byMode:  byMode,
		ownerOf: make(map[string]v1.ExecutionMode),
	}
}

// resolveMode implements the precedence order: task's explicit mode, then
// the call-site requested mode, then the worker default, then any
// initialized provider.
func (u *UnifiedProvider) resolveMode(task *v1.Task, requested v1.ExecutionMode) (v1.ExecutionMode, error) {
	if task.RequestedMode != "" {
		if _, ok := u.byMode[task.RequestedMode]; ok {
			return task.RequestedMode, nil
		}
	}
	if requested != "" {
		if _, ok := u.byMode[requested]; ok {
			return requested, nil
		}
	}
	if u.cfg.DefaultMode != "" {
		if _, ok := u.byMode[u.cfg.DefaultMode]; ok {
			return u.cfg.DefaultMode, nil
		}
	}
	for mode := range u.byMode {
		return mode, nil
	}
	return "", fmt.Errorf("no execution provider available for task %s", task.ID)
}

// Acquire resolves the target provider, attempts it, and on a transient
// failure falls back to the other initialized provider once, if
// AllowModeOverride is enabled.
func (u *UnifiedProvider) Acquire(ctx context.Context, task *v1.Task, requested v1.ExecutionMode) (executor.Executor, error) {
	mode, err := u.resolveMode(task, requested)
	if err != nil {
		return nil, err
	}

	exec, err := u.tryAcquire(ctx, mode, task)
	if err == nil {
		return exec, nil
	}
	if !u.cfg.AllowModeOverride || isConfigurationError(err) || ctx.Err() != nil {
		return nil, err
	}

	for otherMode := range u.byMode {
		if otherMode == mode {
			continue
		}
		u.log.Warn("falling back to alternate execution provider",
			zap.String("task_id", task.ID),
			zap.String("primary_mode", string(mode)),
			zap.String("fallback_mode", string(otherMode)),
			zap.Error(err))
		return u.tryAcquire(ctx, otherMode, task)
	}

	return nil, err
}

func (u *UnifiedProvider) tryAcquire(ctx context.Context, mode v1.ExecutionMode, task *v1.Task) (executor.Executor, error) {
	p, ok := u.byMode[mode]
	if !ok {
		return nil, &ErrConfigurationError{Reason: fmt.Sprintf("provider for mode %s not initialized", mode)}
	}
	exec, err := p.Acquire(ctx, task)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.ownerOf[exec.ID()] = mode
	u.mu.Unlock()
	return exec, nil
}

// Release routes the executor back to its originating provider.
func (u *UnifiedProvider) Release(ctx context.Context, exec executor.Executor) error {
	u.mu.Lock()
	mode, ok := u.ownerOf[exec.ID()]
	if ok {
		delete(u.ownerOf, exec.ID())
	}
	u.mu.Unlock()

	if !ok {
		mode = exec.Mode()
	}
	p, ok := u.byMode[mode]
	if !ok {
		return fmt.Errorf("release: no provider owns executor %s (mode %s)", exec.ID(), mode)
	}
	return p.Release(ctx, exec)
}

// Cleanup tears down every initialized provider. Errors are logged and
// never prevent the remaining providers from being cleaned up.
func (u *UnifiedProvider) Cleanup(ctx context.Context) error {
	for mode, p := range u.byMode {
		if err := p.Cleanup(ctx); err != nil {
			u.log.Warn("cleanup: provider failed to clean up", zap.String("mode", string(mode)), zap.Error(err))
		}
	}
	return nil
}

// Stats returns the stats of every initialized provider, keyed by mode.
func (u *UnifiedProvider) Stats() map[v1.ExecutionMode]v1.ProviderStats {
	out := make(map[v1.ExecutionMode]v1.ProviderStats, len(u.byMode))
	for mode, p := range u.byMode {
		out[mode] = p.Stats()
	}
	return out
}

// IsHealthy reports whether at least one underlying provider is healthy.
func (u *UnifiedProvider) IsHealthy() bool {
	for _, p := range u.byMode {
		if p.IsHealthy() {
			return true
		}
	}
	return false
}

func isConfigurationError(err error) bool {
	_, ok := err.(*ErrConfigurationError)
	return ok
}
